package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/orchestrator"
	"github.com/sells-group/outbound-cli/internal/store"
)

var (
	runForce bool
	runAt    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled stage sequence once",
	Long:  "Checks business hours, takes the run lock and runs every stage planned for the current hour. Meant to be invoked by cron every ten minutes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		now, err := parseAt(runAt)
		if err != nil {
			return err
		}

		runner, err := newTickRunner()
		if err != nil {
			return err
		}
		out, err := runner.Tick(ctx, now, runForce)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		formatOutcome(os.Stdout, out)
		if failed := out.Failed(); len(failed) > 0 {
			zap.L().Warn("run finished with failed stages", zap.Strings("failed", failed))
			return eris.Errorf("run: %d stage(s) failed", len(failed))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even outside business hours")
	runCmd.Flags().StringVar(&runAt, "at", "", "pretend the current time is this RFC 3339 timestamp")
	rootCmd.AddCommand(runCmd)
}

// newTickRunner builds a runner that checks the guard and takes the run
// lock before it opens the store, so off-hours ticks need no database.
func newTickRunner() (*orchestrator.Runner, error) {
	cal, err := newCalendar()
	if err != nil {
		return nil, err
	}
	guard, err := orchestrator.NewGuard(cfg.Schedule, cal.Location())
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (store.RunStore, *orchestrator.Schedule, func() error, error) {
		st, err := openStore(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		reg, err := newEnv(cfg, st, cal).registry()
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, nil, nil, err
		}
		schedule, err := orchestrator.NewSchedule(cfg.Schedule, reg)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, nil, nil, err
		}
		return st, schedule, st.Close, nil
	}
	return orchestrator.NewLazyRunner(guard, &orchestrator.FileLocker{Path: cfg.Lock.Path}, open), nil
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse --at %q", s)
	}
	return t, nil
}

// formatOutcome writes one line per stage to w.
func formatOutcome(out io.Writer, o *orchestrator.Outcome) {
	if o.Reason != "" {
		_, _ = fmt.Fprintf(out, "%s: %s\n", o.Status, o.Reason)
		return
	}
	_, _ = fmt.Fprintf(out, "run %s %s\n", truncateID(o.RunID), o.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tERROR")
	for _, s := range o.Stages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Name,
			s.Status,
			s.Duration.Round(time.Millisecond),
			firstLine(s.Err),
		)
	}
	_ = w.Flush()
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
