// Package advisor derives daily advisory insights from the entity store with
// rule-based pattern detection.
package advisor

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Advisor generates insights.
type Advisor struct {
	store store.Store
	cal   *model.Calendar
	cfg   config.AdvisorConfig
	now   func() time.Time
	log   *zap.Logger
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithClock overrides the clock that decides "today".
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// New creates an Advisor. Zero config values fall back to defaults.
func New(st store.Store, cal *model.Calendar, cfg config.AdvisorConfig, opts ...Option) *Advisor {
	if cfg.MaxInsights <= 0 {
		cfg.MaxInsights = 10
	}
	if cfg.LookbackWeeks <= 0 {
		cfg.LookbackWeeks = 4
	}
	if cfg.ObjectionStreak <= 0 {
		cfg.ObjectionStreak = 3
	}
	if cfg.StaleMeetingDays <= 0 {
		cfg.StaleMeetingDays = 3
	}
	if cfg.ContactRateDrop <= 0 {
		cfg.ContactRateDrop = 0.25
	}
	if cfg.LowReplyRate <= 0 {
		cfg.LowReplyRate = 0.01
	}
	if cfg.MinEmailsForTrend <= 0 {
		cfg.MinEmailsForTrend = 100
	}
	a := &Advisor{
		store: st,
		cal:   cal,
		cfg:   cfg,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "advisor")),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements the orchestrator stage contract.
func (a *Advisor) Name() string { return "advise" }

// Result summarizes one advisory run.
type Result struct {
	Date        time.Time
	Candidates  int
	Stored      int
	Dropped     int // references cleared because the entity no longer exists
	Experiments int
	Insights    []model.Insight
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	return map[string]any{
		"date":        r.Date.Format(time.DateOnly),
		"candidates":  r.Candidates,
		"stored":      r.Stored,
		"dropped_ref": r.Dropped,
		"experiments": r.Experiments,
	}
}

// Run generates today's insights using the configured reset mode.
func (a *Advisor) Run(ctx context.Context) (Result, error) {
	return a.Generate(ctx, a.cfg.Reset)
}

// Generate evaluates every rule against the current store state and
// persists the top insights. With reset, today's unacknowledged insights
// are replaced so reruns converge on the same set; without it the new
// insights are appended.
func (a *Advisor) Generate(ctx context.Context, reset bool) (Result, error) {
	start := time.Now()
	c, err := a.load(ctx, a.now())
	if err != nil {
		return Result{}, err
	}
	res := Result{Date: c.Today}

	findings := a.evaluate(c)
	res.Candidates = len(findings)
	findings = rank(findings, a.cfg.MaxInsights)

	insights := make([]model.Insight, 0, len(findings))
	for i := range findings {
		in := &findings[i].insight
		in.Date = c.Today
		dropped, err := a.checkRefs(ctx, in)
		if err != nil {
			return res, err
		}
		res.Dropped += dropped
		insights = append(insights, *in)
	}

	if reset {
		res.Stored, err = a.store.ReplaceInsights(ctx, c.Today, insights)
	} else {
		res.Stored, err = a.store.AppendInsights(ctx, insights)
	}
	if err != nil {
		return res, eris.Wrap(err, "advisor: store insights")
	}
	res.Insights = insights

	for _, f := range findings {
		if f.experiment == nil {
			continue
		}
		outcome, err := a.store.UpsertExperiment(ctx, f.experiment)
		if err != nil {
			return res, eris.Wrapf(err, "advisor: upsert experiment %q", f.experiment.Name)
		}
		if outcome == store.Inserted {
			res.Experiments++
		}
	}

	a.log.Info("insights generated",
		zap.String("date", c.Today.Format(time.DateOnly)),
		zap.Int("candidates", res.Candidates),
		zap.Int("stored", res.Stored),
		zap.Int("dropped_refs", res.Dropped),
		zap.Int("experiments", res.Experiments),
		zap.Bool("reset", reset),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// evaluate runs every rule over c. It does not touch the store.
func (a *Advisor) evaluate(c *Context) []finding {
	var out []finding
	for _, r := range rules {
		found := r.eval(a, c)
		if len(found) > 0 {
			a.log.Debug("rule fired", zap.String("rule", r.name), zap.Int("findings", len(found)))
		}
		out = append(out, found...)
	}
	return out
}

// rank orders findings by type then severity, keeping rule order for ties,
// and keeps at most limit.
func rank(fs []finding, limit int) []finding {
	sort.SliceStable(fs, func(i, j int) bool {
		ti, tj := fs[i].insight.Type.Order(), fs[j].insight.Type.Order()
		if ti != tj {
			return ti < tj
		}
		return fs[i].insight.Severity.Order() < fs[j].insight.Severity.Order()
	})
	if len(fs) > limit {
		fs = fs[:limit]
	}
	return fs
}

// checkRefs clears company and call references that no longer resolve.
func (a *Advisor) checkRefs(ctx context.Context, in *model.Insight) (int, error) {
	dropped := 0
	if in.CompanyID != nil {
		ok, err := a.store.CompanyExists(ctx, *in.CompanyID)
		if err != nil {
			return 0, eris.Wrap(err, "advisor: check company ref")
		}
		if !ok {
			a.log.Warn("insight company no longer exists", zap.String("title", in.Title), zap.Int64("company_id", *in.CompanyID))
			in.CompanyID = nil
			dropped++
		}
	}
	if in.CallID != nil {
		ok, err := a.store.CallExists(ctx, *in.CallID)
		if err != nil {
			return 0, eris.Wrap(err, "advisor: check call ref")
		}
		if !ok {
			a.log.Warn("insight call no longer exists", zap.String("title", in.Title), zap.Int64("call_id", *in.CallID))
			in.CallID = nil
			dropped++
		}
	}
	return dropped, nil
}
