package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outbound-cli/internal/model"
)

var weekDate string

var weekCmd = &cobra.Command{
	Use:   "week",
	Short: "Print the campaign week of a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cal, err := newCalendar()
		if err != nil {
			return err
		}
		d := time.Now()
		if weekDate != "" {
			d, err = time.ParseInLocation(time.DateOnly, weekDate, cal.Location())
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", weekDate)
			}
		}
		formatWeek(os.Stdout, cal, d)
		return nil
	},
}

func init() {
	weekCmd.Flags().StringVar(&weekDate, "date", "", "date as YYYY-MM-DD (default today)")
	rootCmd.AddCommand(weekCmd)
}

func formatWeek(w io.Writer, cal *model.Calendar, d time.Time) {
	week := cal.WeekNum(d)
	if week < 1 {
		_, _ = fmt.Fprintf(w, "%s is before the campaign start (week %d)\n", cal.Date(d).Format(time.DateOnly), week)
		return
	}
	from, to := cal.Window(week)
	_, _ = fmt.Fprintf(w, "week %d: %s to %s\n", week, from.Format(time.DateOnly), to.AddDate(0, 0, -1).Format(time.DateOnly))
}
