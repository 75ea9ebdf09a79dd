package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neosign/neoauth/httpapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		embedded    bool
		devLogCodes bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if embedded {
				cfg.EmbeddedRedis = true
			}
			if devLogCodes {
				cfg.Delivery.DevLogCodes = true
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			if !cfg.Delivery.configured() {
				return errNoDelivery
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			srv := &http.Server{
				Addr: cfg.Listen,
				Handler: httpapi.NewRouter(rt.engine, httpapi.Options{
					AllowedOrigins: cfg.AllowedOrigins,
					Logger:         rt.logger.Named("http"),
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("listening", zap.String("addr", cfg.Listen))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			rt.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&embedded, "embedded-redis", false, "Run against an in-process Redis (development only)")
	cmd.Flags().BoolVar(&devLogCodes, "dev-log-codes", false, "Write one-time codes to the log instead of delivering them (development only)")
	return cmd
}
