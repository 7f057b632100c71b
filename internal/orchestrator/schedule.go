package orchestrator

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/config"
)

// Entry is one (predicate, stages) pair of a schedule.
type Entry struct {
	Name   string
	Hours  []int // empty means every run
	Stages []Stage
}

func (e Entry) fires(hour int) bool {
	if len(e.Hours) == 0 {
		return true
	}
	for _, h := range e.Hours {
		if h == hour {
			return true
		}
	}
	return false
}

// Schedule is an ordered list of entries evaluated against the run hour.
type Schedule struct {
	entries []Entry
}

// NewSchedule builds the plan from config, resolving every stage name
// against reg. Unknown names are rejected here rather than at run time.
func NewSchedule(cfg config.ScheduleConfig, reg *Registry) (*Schedule, error) {
	resolve := func(names []string) ([]Stage, error) {
		out := make([]Stage, 0, len(names))
		for _, n := range names {
			s, err := reg.Get(n)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}

	every, err := resolve(cfg.EveryRun)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: schedule every_run")
	}
	sch := &Schedule{entries: []Entry{{Name: "every_run", Stages: every}}}
	for _, x := range cfg.Extra {
		if len(x.Hours) == 0 {
			return nil, eris.Errorf("orchestrator: schedule extra %q has no hours", x.Name)
		}
		stages, err := resolve(x.Stages)
		if err != nil {
			return nil, eris.Wrapf(err, "orchestrator: schedule extra %q", x.Name)
		}
		sch.entries = append(sch.entries, Entry{Name: x.Name, Hours: x.Hours, Stages: stages})
	}
	return sch, nil
}

// Plan returns the stages to run at the given local hour, in order. The
// same stage may appear more than once when a later entry repeats it.
func (s *Schedule) Plan(hour int) []Stage {
	var out []Stage
	for _, e := range s.entries {
		if e.fires(hour) {
			out = append(out, e.Stages...)
		}
	}
	return out
}

// Entries returns the schedule entries.
func (s *Schedule) Entries() []Entry {
	return s.entries
}

// Guard decides whether a tick falls inside the business-hours window.
type Guard struct {
	loc       *time.Location
	days      map[time.Weekday]bool
	startHour int
	endHour   int
}

// NewGuard builds a guard for the configured window in loc.
func NewGuard(cfg config.ScheduleConfig, loc *time.Location) (*Guard, error) {
	wds, err := cfg.Weekdays()
	if err != nil {
		return nil, err
	}
	if cfg.StartHour < 0 || cfg.EndHour > 24 || cfg.StartHour >= cfg.EndHour {
		return nil, eris.Errorf("orchestrator: invalid hours %d-%d", cfg.StartHour, cfg.EndHour)
	}
	g := &Guard{loc: loc, days: make(map[time.Weekday]bool), startHour: cfg.StartHour, endHour: cfg.EndHour}
	for _, d := range wds {
		g.days[d] = true
	}
	return g, nil
}

// Local converts t to the guard's timezone.
func (g *Guard) Local(t time.Time) time.Time {
	return t.In(g.loc)
}

// Check reports whether now is inside the window. When it is not, the
// reason says why.
func (g *Guard) Check(now time.Time) (bool, string) {
	local := now.In(g.loc)
	if !g.days[local.Weekday()] {
		return false, "outside business days: " + local.Weekday().String()
	}
	if h := local.Hour(); h < g.startHour || h >= g.endHour {
		return false, "outside business hours: " + local.Format("15:04")
	}
	return true, ""
}
