package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/neosign/neoauth/compliance"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "report <signature.json>",
		Short: "Print the eIDAS compliance report of a signature document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = parsed
			}
			return writeReport(cmd.OutOrStdout(), args[0], now)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Evaluate at this RFC 3339 time instead of now")
	return cmd
}

func writeReport(w io.Writer, path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	sig, err := compliance.ParseSignature(data)
	if err != nil {
		return err
	}
	report, err := compliance.GenerateReport(sig, now)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
