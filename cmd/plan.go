package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/orchestrator"
)

var planAt string

// planView is the printed form of the effective schedule.
type planView struct {
	Timezone string      `yaml:"timezone"`
	Days     []string    `yaml:"days"`
	Hours    string      `yaml:"hours"`
	Entries  []entryView `yaml:"entries"`
	At       *atView     `yaml:"at,omitempty"`
}

type entryView struct {
	Name   string   `yaml:"name"`
	Hours  []int    `yaml:"hours,flow,omitempty"`
	Stages []string `yaml:"stages,flow"`
}

type atView struct {
	Time     string   `yaml:"time"`
	Week     int      `yaml:"week"`
	InWindow bool     `yaml:"in_window"`
	Reason   string   `yaml:"reason,omitempty"`
	Stages   []string `yaml:"stages,flow"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the effective schedule",
	Long:  "Prints the business-hours window and stage plan as YAML. With --at, also shows whether a run at that time would fire and which stages it would run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cal, err := newCalendar()
		if err != nil {
			return err
		}
		// Stages are only named here, never run, so no store is opened.
		reg, err := newEnv(cfg, nil, cal).registry()
		if err != nil {
			return err
		}
		schedule, err := orchestrator.NewSchedule(cfg.Schedule, reg)
		if err != nil {
			return err
		}
		guard, err := orchestrator.NewGuard(cfg.Schedule, cal.Location())
		if err != nil {
			return err
		}

		var at *time.Time
		if planAt != "" {
			t, err := parseAt(planAt)
			if err != nil {
				return err
			}
			at = &t
		}
		return writePlan(os.Stdout, cfg.Schedule, cal, schedule, guard, at)
	},
}

func init() {
	planCmd.Flags().StringVar(&planAt, "at", "", "evaluate the plan at this RFC 3339 timestamp")
	rootCmd.AddCommand(planCmd)
}

func writePlan(w io.Writer, sc config.ScheduleConfig, cal *model.Calendar, schedule *orchestrator.Schedule, guard *orchestrator.Guard, at *time.Time) error {
	v := planView{
		Timezone: cal.Location().String(),
		Days:     sc.Days,
		Hours:    hourRange(sc.StartHour, sc.EndHour),
	}
	for _, e := range schedule.Entries() {
		v.Entries = append(v.Entries, entryView{Name: e.Name, Hours: e.Hours, Stages: stageNames(e.Stages)})
	}
	if at != nil {
		local := guard.Local(*at)
		ok, reason := guard.Check(*at)
		v.At = &atView{
			Time:     local.Format(time.RFC3339),
			Week:     cal.WeekNum(local),
			InWindow: ok,
			Reason:   reason,
			Stages:   stageNames(schedule.Plan(local.Hour())),
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func hourRange(start, end int) string {
	return time.Date(0, 1, 1, start, 0, 0, 0, time.UTC).Format("15:04") + "-" +
		time.Date(0, 1, 1, end%24, 0, 0, 0, time.UTC).Format("15:04")
}

func stageNames(stages []orchestrator.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name()
	}
	return out
}
