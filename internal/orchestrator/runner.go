package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Locker provides cross-process mutual exclusion for runs.
type Locker interface {
	// TryLock acquires the lock without blocking. ok is false when another
	// holder has it. release must be called once when ok is true.
	TryLock() (release func() error, ok bool, err error)
}

// StageOutcome is the result of one stage in a run.
type StageOutcome struct {
	Name     string
	Status   model.StageStatus
	Err      string
	Metrics  Metrics
	Duration time.Duration
}

// Outcome is the result of one tick.
type Outcome struct {
	RunID  string
	Status model.RunStatus
	Reason string // why a tick was skipped
	Stages []StageOutcome
}

// Failed returns the names of stages that failed.
func (o *Outcome) Failed() []string {
	var out []string
	for _, s := range o.Stages {
		if s.Status == model.StageFailed {
			out = append(out, s.Name)
		}
	}
	return out
}

// Opener prepares the run store and schedule for a tick that passed the
// guard and holds the lock. closeFn is called when the tick ends.
type Opener func(ctx context.Context) (runs store.RunStore, schedule *Schedule, closeFn func() error, err error)

// Runner drives one scheduled tick end to end.
type Runner struct {
	runs     store.RunStore
	guard    *Guard
	schedule *Schedule
	locker   Locker
	open     Opener
	log      *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(runs store.RunStore, guard *Guard, schedule *Schedule, locker Locker) *Runner {
	return &Runner{
		runs:     runs,
		guard:    guard,
		schedule: schedule,
		locker:   locker,
		log:      zap.L().With(zap.String("component", "orchestrator")),
	}
}

// NewLazyRunner creates a Runner that calls open only after a tick has
// passed the guard and acquired the lock, so skipped ticks never touch
// the store.
func NewLazyRunner(guard *Guard, locker Locker, open Opener) *Runner {
	return &Runner{
		guard:  guard,
		locker: locker,
		open:   open,
		log:    zap.L().With(zap.String("component", "orchestrator")),
	}
}

// Tick checks the business-hours guard, takes the run lock and runs the
// planned stages in order. A tick outside the window or while another run
// holds the lock is not an error. Stage failures are recorded and the
// sequence continues; they mark the run failed but are not returned.
func (r *Runner) Tick(ctx context.Context, now time.Time, force bool) (*Outcome, error) {
	if !force {
		if ok, reason := r.guard.Check(now); !ok {
			r.log.Info("run skipped", zap.String("reason", reason))
			return &Outcome{Status: model.RunSkipped, Reason: reason}, nil
		}
	}

	release, ok, err := r.locker.TryLock()
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: acquire run lock")
	}
	if !ok {
		r.log.Warn("previous run still active, exiting")
		return &Outcome{Status: model.RunLocked, Reason: "run lock held"}, nil
	}
	defer func() {
		if err := release(); err != nil {
			r.log.Error("failed to release run lock", zap.Error(err))
		}
	}()

	runs, schedule := r.runs, r.schedule
	if r.open != nil {
		var closeStore func() error
		runs, schedule, closeStore, err = r.open(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: open store")
		}
		defer func() {
			if err := closeStore(); err != nil {
				r.log.Error("failed to close store", zap.Error(err))
			}
		}()
	}
	return r.runSequence(ctx, runs, schedule, now, force)
}

func (r *Runner) runSequence(ctx context.Context, runs store.RunStore, schedule *Schedule, now time.Time, force bool) (*Outcome, error) {
	local := r.guard.Local(now)
	stages := schedule.Plan(local.Hour())
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}

	trigger := "schedule"
	if force {
		trigger = "force"
	}
	run := &model.Run{Trigger: trigger, Stages: names, StartedAt: now.UTC()}
	if err := runs.StartRun(ctx, run); err != nil {
		r.log.Error("failed to record run start",
			zap.String("trigger", trigger),
			zap.Strings("stages", names),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "orchestrator: start %s run at %s", trigger, local.Format("2006-01-02 15:04"))
	}
	log := r.log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.Strings("stages", names), zap.String("trigger", trigger), zap.Int("hour", local.Hour()))

	out := &Outcome{RunID: run.ID, Status: model.RunCompleted}
	for _, s := range stages {
		if ctx.Err() != nil {
			log.Warn("run cancelled", zap.String("next_stage", s.Name()), zap.Error(ctx.Err()))
			out.Stages = append(out.Stages, StageOutcome{Name: s.Name(), Status: model.StageFailed, Err: ctx.Err().Error()})
			out.Status = model.RunFailed
			break
		}

		so := r.runStage(ctx, runs, run.ID, s)
		out.Stages = append(out.Stages, so)
		if so.Status == model.StageFailed {
			out.Status = model.RunFailed
		}
	}

	summary := fmt.Sprintf("%d/%d stages succeeded", len(out.Stages)-len(out.Failed()), len(stages))
	if err := runs.FinishRun(context.WithoutCancel(ctx), run.ID, out.Status, summary); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	log.Info("run finished",
		zap.String("status", string(out.Status)),
		zap.String("summary", summary),
		zap.Strings("failed", out.Failed()),
	)
	return out, nil
}

// runStage runs one stage, converting a panic into a stage failure.
func (r *Runner) runStage(ctx context.Context, runs store.RunStore, runID string, s Stage) (so StageOutcome) {
	log := r.log.With(zap.String("run_id", runID), zap.String("stage", s.Name()))
	start := time.Now()
	so = StageOutcome{Name: s.Name(), Status: model.StageSucceeded}

	func() {
		defer func() {
			if p := recover(); p != nil {
				so.Status = model.StageFailed
				so.Err = fmt.Sprintf("panic: %v", p)
				log.Error("stage panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			}
		}()
		m, err := s.Run(ctx)
		so.Metrics = m
		if err != nil {
			so.Status = model.StageFailed
			so.Err = err.Error()
			log.Error("stage failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		}
	}()

	finished := time.Now()
	so.Duration = finished.Sub(start)
	if so.Status == model.StageSucceeded {
		log.Info("stage complete", zap.Any("metrics", so.Metrics), zap.Duration("elapsed", so.Duration))
	}

	rec := &model.StageRun{
		RunID:      runID,
		Stage:      s.Name(),
		Status:     so.Status,
		StartedAt:  start.UTC(),
		FinishedAt: finished.UTC(),
		Error:      so.Err,
		Metrics:    so.Metrics,
	}
	if err := runs.RecordStageRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("failed to record stage run", zap.Error(err))
	}
	return so
}
