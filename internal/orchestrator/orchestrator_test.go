package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func la(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func scheduleConfig() config.ScheduleConfig {
	return config.ScheduleConfig{
		Days:      []string{"mon", "tue", "wed", "thu", "fri"},
		StartHour: 7,
		EndHour:   19,
		EveryRun:  []string{"calls", "email", "report", "publish"},
		Extra: []config.ExtraStages{
			{Name: "morning", Hours: []int{8}, Stages: []string{"advise", "report", "publish"}},
			{Name: "evening", Hours: []int{17}, Stages: []string{"health"}},
		},
	}
}

// recorder collects stage invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) stage(name string, err error) Stage {
	return Func(name, func(context.Context) (Metrics, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return Metrics{"ok": err == nil}, err
	})
}

func newRegistry(t *testing.T, rec *recorder, extra ...Stage) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, n := range []string{"calls", "email", "report", "publish", "advise", "health"} {
		require.NoError(t, reg.Register(rec.stage(n, nil)))
	}
	for _, s := range extra {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

type fakeRuns struct {
	store.RunStore
	startErr error
	runs     []model.Run
	stages   []model.StageRun
}

func (f *fakeRuns) StartRun(_ context.Context, r *model.Run) error {
	if f.startErr != nil {
		return f.startErr
	}
	r.ID = "run-1"
	r.Status = model.RunRunning
	f.runs = append(f.runs, *r)
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, id string, status model.RunStatus, summary string) error {
	for i := range f.runs {
		if f.runs[i].ID == id {
			f.runs[i].Status = status
			f.runs[i].Summary = summary
			return nil
		}
	}
	return errors.New("no such run")
}

func (f *fakeRuns) RecordStageRun(_ context.Context, sr *model.StageRun) error {
	f.stages = append(f.stages, *sr)
	return nil
}

type fakeLocker struct {
	busy     bool
	released int
}

func (l *fakeLocker) TryLock() (func() error, bool, error) {
	if l.busy {
		return nil, false, nil
	}
	return func() error { l.released++; return nil }, true, nil
}

func newRunner(t *testing.T, reg *Registry, runs store.RunStore, locker Locker) *Runner {
	t.Helper()
	cfg := scheduleConfig()
	guard, err := NewGuard(cfg, la(t))
	require.NoError(t, err)
	sch, err := NewSchedule(cfg, reg)
	require.NoError(t, err)
	return NewRunner(runs, guard, sch, locker)
}

func TestGuard_Check(t *testing.T) {
	cfg := scheduleConfig()
	loc := la(t)
	g, err := NewGuard(cfg, loc)
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"saturday morning", time.Date(2026, 2, 7, 10, 0, 0, 0, loc), false},
		{"saturday in hours", time.Date(2026, 2, 7, 9, 0, 0, 0, loc), false},
		{"tuesday 3am", time.Date(2026, 2, 3, 3, 0, 0, 0, loc), false},
		{"wednesday 9am", time.Date(2026, 2, 4, 9, 0, 0, 0, loc), true},
		{"first hour", time.Date(2026, 2, 2, 7, 0, 0, 0, loc), true},
		{"end hour is exclusive", time.Date(2026, 2, 6, 19, 0, 0, 0, loc), false},
		{"utc input is localized", time.Date(2026, 2, 4, 17, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Check(tt.at)
			assert.Equal(t, tt.want, ok)
			if !ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestNewGuard_InvalidHours(t *testing.T) {
	cfg := scheduleConfig()
	cfg.StartHour, cfg.EndHour = 19, 7
	_, err := NewGuard(cfg, time.UTC)
	assert.Error(t, err)
}

func TestSchedule_Plan(t *testing.T) {
	reg := newRegistry(t, &recorder{})
	sch, err := NewSchedule(scheduleConfig(), reg)
	require.NoError(t, err)

	names := func(ss []Stage) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Name())
		}
		return out
	}
	assert.Equal(t, []string{"calls", "email", "report", "publish"}, names(sch.Plan(9)))
	assert.Equal(t, []string{"calls", "email", "report", "publish", "advise", "report", "publish"}, names(sch.Plan(8)))
	assert.Equal(t, []string{"calls", "email", "report", "publish", "health"}, names(sch.Plan(17)))
}

func TestSchedule_RejectsUnknownStage(t *testing.T) {
	reg := newRegistry(t, &recorder{})
	cfg := scheduleConfig()
	cfg.Extra[0].Stages = append(cfg.Extra[0].Stages, "fax")
	_, err := NewSchedule(cfg, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"fax"`)
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Func("calls", nil)))
	assert.Error(t, reg.Register(Func("calls", nil)))
	assert.Equal(t, []string{"calls"}, reg.Names())
}

func TestTick_RunsEveryRunSequence(t *testing.T) {
	defer goleak.VerifyNone(t)
	rec := &recorder{}
	runs := &fakeRuns{}
	locker := &fakeLocker{}
	r := newRunner(t, newRegistry(t, rec), runs, locker)

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, out.Status)
	assert.Equal(t, []string{"calls", "email", "report", "publish"}, rec.calls)
	assert.Equal(t, 1, locker.released)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "schedule", runs.runs[0].Trigger)
	assert.Equal(t, model.RunCompleted, runs.runs[0].Status)
	assert.Equal(t, "4/4 stages succeeded", runs.runs[0].Summary)
	assert.Len(t, runs.stages, 4)
}

func TestTick_SkipsOutsideWindow(t *testing.T) {
	defer goleak.VerifyNone(t)
	loc := la(t)

	for _, now := range []time.Time{
		time.Date(2026, 2, 7, 12, 0, 0, 0, loc), // Saturday
		time.Date(2026, 2, 3, 3, 0, 0, 0, loc),  // Tuesday 03:00
	} {
		rec := &recorder{}
		runs := &fakeRuns{}
		locker := &fakeLocker{}
		r := newRunner(t, newRegistry(t, rec), runs, locker)

		out, err := r.Tick(context.Background(), now, false)
		require.NoError(t, err)
		assert.Equal(t, model.RunSkipped, out.Status)
		assert.Empty(t, rec.calls)
		assert.Empty(t, runs.runs)
		assert.Zero(t, locker.released, "lock is never taken")
	}
}

func TestTick_ForceOverridesGuard(t *testing.T) {
	defer goleak.VerifyNone(t)
	rec := &recorder{}
	runs := &fakeRuns{}
	r := newRunner(t, newRegistry(t, rec), runs, &fakeLocker{})

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 7, 3, 0, 0, 0, la(t)), true)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, out.Status)
	assert.Len(t, rec.calls, 4)
	assert.Equal(t, "force", runs.runs[0].Trigger)
}

func TestTick_Locked(t *testing.T) {
	defer goleak.VerifyNone(t)
	rec := &recorder{}
	runs := &fakeRuns{}
	r := newRunner(t, newRegistry(t, rec), runs, &fakeLocker{busy: true})

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)
	assert.Equal(t, model.RunLocked, out.Status)
	assert.Empty(t, rec.calls)
	assert.Empty(t, runs.runs)
}

func TestTick_StageFailuresAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(rec.stage("calls", errors.New("hubspot: 401 unauthorized"))))
	require.NoError(t, reg.Register(Func("email", func(context.Context) (Metrics, error) {
		var m map[string]int
		m["boom"]++ // nil map write
		return nil, nil
	})))
	for _, n := range []string{"report", "publish", "advise", "health"} {
		require.NoError(t, reg.Register(rec.stage(n, nil)))
	}
	runs := &fakeRuns{}
	locker := &fakeLocker{}
	r := newRunner(t, reg, runs, locker)

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)

	assert.Equal(t, model.RunFailed, out.Status)
	assert.Equal(t, []string{"calls", "email"}, out.Failed())
	assert.Equal(t, []string{"calls", "report", "publish"}, rec.calls, "later stages still run")
	assert.Equal(t, 1, locker.released)

	got := make([]model.StageStatus, 0, len(runs.stages))
	for _, s := range runs.stages {
		got = append(got, s.Status)
	}
	want := []model.StageStatus{model.StageFailed, model.StageFailed, model.StageSucceeded, model.StageSucceeded}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stage statuses mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, runs.stages[0].Error, "401")
	assert.Contains(t, runs.stages[1].Error, "panic")
	assert.Equal(t, "2/4 stages succeeded", runs.runs[0].Summary)
}

func TestTick_CancelledContextStopsSequence(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := NewRegistry()
	var ran []string
	for _, n := range []string{"calls", "email", "report", "publish", "advise", "health"} {
		require.NoError(t, reg.Register(Func(n, func(context.Context) (Metrics, error) {
			ran = append(ran, n)
			if n == "email" {
				cancel()
			}
			return nil, nil
		})))
	}
	runs := &fakeRuns{}
	r := newRunner(t, reg, runs, &fakeLocker{})

	out, err := r.Tick(ctx, time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"calls", "email"}, ran)
	assert.Equal(t, model.RunFailed, out.Status)
	assert.Equal(t, model.RunFailed, runs.runs[0].Status)
}

func TestTick_StartRunFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	rec := &recorder{}
	runs := &fakeRuns{startErr: errors.New("database is locked")}
	locker := &fakeLocker{}
	r := newRunner(t, newRegistry(t, rec), runs, locker)

	_, err := r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start force run at 2026-02-04 09:00")
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, rec.calls)
	assert.Equal(t, 1, locker.released)

	entries := logs.FilterMessage("failed to record run start").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "force", fields["trigger"])
	assert.Equal(t, "orchestrator", fields["component"])
}

func TestLazyRunner_SkippedTickNeverOpens(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := scheduleConfig()
	guard, err := NewGuard(cfg, la(t))
	require.NoError(t, err)

	opened := 0
	locker := &fakeLocker{}
	r := NewLazyRunner(guard, locker, func(context.Context) (store.RunStore, *Schedule, func() error, error) {
		opened++
		return nil, nil, nil, errors.New("unable to open database file")
	})

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 7, 12, 0, 0, 0, la(t)), false)
	require.NoError(t, err)
	assert.Equal(t, model.RunSkipped, out.Status)
	assert.Zero(t, opened)
	assert.Zero(t, locker.released)

	locker.busy = true
	out, err = r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)
	assert.Equal(t, model.RunLocked, out.Status)
	assert.Zero(t, opened)
}

func TestLazyRunner_OpensInsideWindow(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := scheduleConfig()
	guard, err := NewGuard(cfg, la(t))
	require.NoError(t, err)
	rec := &recorder{}
	sch, err := NewSchedule(cfg, newRegistry(t, rec))
	require.NoError(t, err)

	runs := &fakeRuns{}
	closed := 0
	locker := &fakeLocker{}
	r := NewLazyRunner(guard, locker, func(context.Context) (store.RunStore, *Schedule, func() error, error) {
		return runs, sch, func() error { closed++; return nil }, nil
	})

	out, err := r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, out.Status)
	assert.Equal(t, []string{"calls", "email", "report", "publish"}, rec.calls)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, locker.released)
	require.Len(t, runs.runs, 1)

	r = NewLazyRunner(guard, locker, func(context.Context) (store.RunStore, *Schedule, func() error, error) {
		return nil, nil, nil, errors.New("unable to open database file")
	})
	_, err = r.Tick(context.Background(), time.Date(2026, 2, 4, 9, 0, 0, 0, la(t)), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open store")
	assert.Equal(t, 2, locker.released)
}

type metricResult struct{ n int }

func (m metricResult) Metrics() map[string]any { return map[string]any{"n": m.n} }

func TestAdapt(t *testing.T) {
	s := Adapt("sync", func(context.Context) (metricResult, error) { return metricResult{n: 3}, nil })
	m, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sync", s.Name())
	assert.Equal(t, Metrics{"n": 3}, m)
}

func TestFileLocker(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "locks", "run.lock")
	l := FileLocker{Path: path}

	release, ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = FileLocker{Path: path}.TryLock()
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused")

	require.NoError(t, release())

	release, ok, err = l.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release())
}

func TestExecStage(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	_, err := NewExecStage("empty", config.CommandConfig{})
	assert.Error(t, err)

	ok, err := NewExecStage("linkedin_scrape", config.CommandConfig{Args: []string{"sh", "-c", "echo scraped 3 replies"}})
	require.NoError(t, err)
	m, err := ok.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m["exit_code"])

	bad, err := NewExecStage("linkedin_scrape", config.CommandConfig{Args: []string{"sh", "-c", "echo session expired >&2; exit 3"}})
	require.NoError(t, err)
	m, err = bad.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
	assert.Equal(t, 3, m["exit_code"])

	slow, err := NewExecStage("slow", config.CommandConfig{Args: []string{"sleep", "5"}})
	require.NoError(t, err)
	slow.timeout = 50 * time.Millisecond
	_, err = slow.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
