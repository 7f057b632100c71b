package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outbound-cli/internal/cadence"
)

var calllistDryRun bool

var calllistCmd = &cobra.Command{
	Use:   "calllist",
	Short: "Build today's call list and do-not-call list",
	Long:  "Applies the dial cadence to the call history: retired and blocked contacts go on the do-not-call list, recently dialed contacts cool down, and the rest are ranked into today's sheet.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
			p := cadence.New(e.store, e.cal, e.cfg.Cadence, cadence.WithDryRun(calllistDryRun))
			res, err := p.Run(ctx)
			if err != nil {
				return err
			}
			formatSheet(os.Stdout, res.Sheet)
			if res.Written {
				_, _ = fmt.Fprintf(os.Stdout, "wrote %s\n", res.Path)
			}
			return nil
		})
	},
}

func init() {
	calllistCmd.Flags().BoolVar(&calllistDryRun, "dry-run", false, "print the list without writing it")
	rootCmd.AddCommand(calllistCmd)
}

// formatSheet prints the call list followed by the do-not-call list.
func formatSheet(out io.Writer, s cadence.Sheet) {
	_, _ = fmt.Fprintf(out, "call list %s: %d to call, %d deferred, %d cooling\n",
		s.Date, len(s.Call), s.Deferred, len(s.Cooling))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRIORITY\tCOMPANY\tCONTACT\tATTEMPTS\tLAST")
	for _, c := range s.Call {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s %s\n",
			c.Priority, c.Company, c.Name, c.Attempts, c.LastCalledAt.Format(time.DateOnly), c.LastCategory)
	}
	_ = w.Flush()

	if len(s.DoNotCall) == 0 && len(s.Blocked) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "\ndo not call:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, b := range s.Blocked {
		_, _ = fmt.Fprintf(w, "%s\t*\t%s\n", b.Name, b.Reason)
	}
	for _, c := range s.DoNotCall {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Company, c.Name, c.Reason)
	}
	_ = w.Flush()
}
