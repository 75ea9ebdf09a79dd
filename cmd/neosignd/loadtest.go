package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neosign/neoauth"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	subjects    int
	concurrency int
	attempts    int
	embedded    bool
}

func newLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Verify codes concurrently and check that each is accepted at most once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.subjects <= 0 || opts.concurrency <= 0 || opts.attempts <= 0 {
				return errors.New("subjects, concurrency and attempts must be > 0")
			}

			run := cfg
			run.EmbeddedRedis = opts.embedded
			run.PostgresDSN = ""
			run.LogLevel = "error"
			run.Code.MaxIssuePerWindow = 0
			run.Code.SweepInterval = 0
			run.Audit.Enabled = false

			rt, err := newRuntime(cmd.Context(), run)
			if err != nil {
				return err
			}
			defer rt.close()

			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), rt.engine, opts)
		},
	}

	cmd.Flags().IntVar(&opts.subjects, "subjects", 1000, "Number of subjects to issue codes for")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 8, "Verify attempts per subject, all with the correct code")
	cmd.Flags().BoolVar(&opts.embedded, "embedded-redis", true, "Run against an in-process Redis")
	return cmd
}

type loadStats struct {
	total     time.Duration
	ops       int
	accepted  int64
	rejected  int64
	failures  int64
	violation int
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
	opsPerS   float64
}

func runLoadtest(ctx context.Context, w io.Writer, engine *neoauth.Engine, opts loadtestOptions) error {
	subjects := make([]string, opts.subjects)
	codes := make([]string, opts.subjects)

	fmt.Fprintf(w, "issuing %d codes...\n", opts.subjects)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("loadtest-%d@neosign.test", i)
		code, err := engine.IssueCode(ctx, subjects[i], neoauth.PurposeTwoFactor, 0)
		if err != nil {
			return fmt.Errorf("issue code: %w", err)
		}
		codes[i] = code
	}

	stats := verifyPhase(ctx, engine, subjects, codes, opts)
	printLoadStats(w, stats)

	if stats.violation > 0 {
		return fmt.Errorf("%d subjects accepted a code more than once", stats.violation)
	}
	return nil
}

func verifyPhase(ctx context.Context, engine *neoauth.Engine, subjects, codes []string, opts loadtestOptions) loadStats {
	ops := len(subjects) * opts.attempts
	var (
		wg        sync.WaitGroup
		cursor    int64
		accepted  int64
		rejected  int64
		failures  int64
		perCode   = make([]int32, len(subjects))
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for worker := 0; worker < opts.concurrency; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := i % len(subjects)

				t0 := time.Now()
				err := engine.VerifyCode(ctx, subjects[idx], neoauth.PurposeTwoFactor, codes[idx])
				d := time.Since(t0)

				switch {
				case err == nil:
					atomic.AddInt64(&accepted, 1)
					atomic.AddInt32(&perCode[idx], 1)
				case errors.Is(err, neoauth.ErrInvalidOrExpiredCode):
					atomic.AddInt64(&rejected, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	stats := computeStats(total, latencies)
	stats.accepted, stats.rejected, stats.failures = accepted, rejected, failures
	for _, n := range perCode {
		if n > 1 {
			stats.violation++
		}
	}
	return stats
}

func computeStats(total time.Duration, samples []time.Duration) loadStats {
	if len(samples) == 0 {
		return loadStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return loadStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects samples sorted ascending.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printLoadStats(w io.Writer, s loadStats) {
	fmt.Fprintln(w, "---- results ----")
	fmt.Fprintf(w, "verify: ops=%d accepted=%d rejected=%d failures=%d violations=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		s.ops,
		s.accepted,
		s.rejected,
		s.failures,
		s.violation,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
