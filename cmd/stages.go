package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outbound-cli/internal/advisor"
	"github.com/sells-group/outbound-cli/internal/aggregate"
	"github.com/sells-group/outbound-cli/internal/enrich"
	"github.com/sells-group/outbound-cli/internal/orchestrator"
	"github.com/sells-group/outbound-cli/internal/report"
)

// withEnv opens the store and calendar, builds the shared env and calls fn.
func withEnv(ctx context.Context, fn func(ctx context.Context, e *env) error) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	cal, err := newCalendar()
	if err != nil {
		return err
	}
	return fn(ctx, newEnv(cfg, st, cal))
}

// runOne runs a single stage outside the schedule and prints its metrics.
func runOne(ctx context.Context, s orchestrator.Stage) error {
	start := time.Now()
	m, err := s.Run(ctx)
	if m != nil {
		printMetrics(os.Stdout, s.Name(), m, time.Since(start))
	}
	if err != nil {
		return eris.Wrap(err, s.Name())
	}
	return nil
}

func printMetrics(out io.Writer, name string, m orchestrator.Metrics, elapsed time.Duration) {
	b, err := json.Marshal(m)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", map[string]any(m)))
	}
	_, _ = fmt.Fprintf(out, "%s (%s): %s\n", name, elapsed.Round(time.Millisecond), b)
}

// -- sync --

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one activity source into the store",
}

func syncSub(use, short string, build func(e *env) orchestrator.Stage) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				return runOne(ctx, build(e))
			})
		},
	}
}

// -- aggregate --

var aggregateWeek int

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute weekly channel snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			agg := aggregate.New(e.store, e.cal)
			if aggregateWeek == 0 {
				return runOne(ctx, orchestrator.Adapt(agg.Name(), agg.Run))
			}
			snaps, err := agg.Week(ctx, aggregateWeek)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snaps)
		})
	},
}

// -- advise --

var adviseReset bool

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Generate today's insights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			adv := advisor.New(e.store, e.cal, e.cfg.Advisor)
			reset := e.cfg.Advisor.Reset
			if cmd.Flags().Changed("reset") {
				reset = adviseReset
			}
			return runOne(ctx, orchestrator.Adapt(adv.Name(), func(ctx context.Context) (advisor.Result, error) {
				return adv.Generate(ctx, reset)
			}))
		})
	},
}

// -- enrich --

var enrichDryRun bool

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fold call intel into company CRM fields",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			enr := enrich.New(e.store, enrich.WithDryRun(enrichDryRun))
			res, err := enr.Run(ctx)
			if err != nil {
				return err
			}
			for _, c := range res.Changes {
				_, _ = fmt.Fprintf(os.Stdout, "%s: %v", c.Name, c.Fields)
				if c.Status != "" {
					_, _ = fmt.Fprintf(os.Stdout, " status=%s", c.Status)
				}
				_, _ = fmt.Fprintln(os.Stdout)
			}
			printMetrics(os.Stdout, enr.Name(), res.Metrics(), 0)
			return nil
		})
	},
}

// -- report --

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the dashboard artifact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			rep := report.New(e.store, e.cfg.Campaign, e.cfg.Report)
			return runOne(ctx, orchestrator.Adapt(rep.Name(), rep.Run))
		})
	},
}

// -- publish --

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the dashboard artifact if it changed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			pub := e.publisher()
			return runOne(ctx, orchestrator.Adapt(pub.Name(), pub.Run))
		})
	},
}

// -- health --

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check stage freshness and send alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			chk := e.checker()
			return runOne(ctx, orchestrator.Adapt(chk.Name(), chk.Run))
		})
	},
}

// -- migrate --

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		fmt.Fprintf(os.Stderr, "%s store migrated\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(
		syncSub("calls", "Sync calls from HubSpot", func(e *env) orchestrator.Stage {
			s := e.callSync()
			return orchestrator.Adapt(s.Name(), s.Run)
		}),
		syncSub("email", "Sync sequence stats from Apollo", func(e *env) orchestrator.Stage {
			s := e.emailSync()
			return orchestrator.Adapt(s.Name(), s.Run)
		}),
		syncSub("linkedin", "Import InMails from the scraper export", func(e *env) orchestrator.Stage {
			s := e.linkedInSync()
			return orchestrator.Adapt(s.Name(), s.Run)
		}),
		syncSub("deals", "Sync deals from HubSpot", func(e *env) orchestrator.Stage {
			s := e.dealSync()
			return orchestrator.Adapt(s.Name(), s.Run)
		}),
	)

	aggregateCmd.Flags().IntVar(&aggregateWeek, "week", 0, "recompute this campaign week instead of the current one")
	adviseCmd.Flags().BoolVar(&adviseReset, "reset", true, "replace today's unacknowledged insights (default from advisor.reset)")
	enrichCmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "print planned changes without writing")

	rootCmd.AddCommand(syncCmd, aggregateCmd, adviseCmd, enrichCmd, reportCmd, publishCmd, healthCmd, migrateCmd)
}
