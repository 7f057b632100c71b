// Package health checks that sync stages keep succeeding and the store is
// reachable, and raises alerts when they do not.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/notify"
)

// Alert types.
const (
	AlertStaleStage       = "stale_stage"
	AlertNeverSucceeded   = "stage_never_succeeded"
	AlertStoreUnreachable = "store_unreachable"
)

// Store is what the checker reads.
type Store interface {
	Ping(ctx context.Context) error
	LastStageSuccess(ctx context.Context, stage string) (*time.Time, error)
}

// Alerter delivers alerts.
type Alerter interface {
	SendAlerts(ctx context.Context, alerts []notify.Alert) int
}

// StageStatus is the freshness of one stage.
type StageStatus struct {
	Stage       string     `json:"stage"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	AgeHours    float64    `json:"age_hours"`
	Stale       bool       `json:"stale"`
}

// Report is the outcome of one check.
type Report struct {
	Healthy   bool           `json:"healthy"`
	StoreOK   bool           `json:"store_ok"`
	Stages    []StageStatus  `json:"stages"`
	Alerts    []notify.Alert `json:"alerts,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Metrics flattens the report for the run log.
func (r Report) Metrics() map[string]any {
	return map[string]any{
		"healthy":  r.Healthy,
		"store_ok": r.StoreOK,
		"alerts":   len(r.Alerts),
	}
}

// Checker evaluates stage freshness.
type Checker struct {
	store   Store
	alerter Alerter
	cfg     config.HealthConfig
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides the checker's clock.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a Checker. alerter may be nil.
func NewChecker(st Store, alerter Alerter, cfg config.HealthConfig, opts ...Option) *Checker {
	if cfg.StaleHours <= 0 {
		cfg.StaleHours = 26
	}
	c := &Checker{
		store:   st,
		alerter: alerter,
		cfg:     cfg,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "health")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements the orchestrator stage contract.
func (c *Checker) Name() string { return "health" }

// Run checks and sends any alerts. An unhealthy system is reported in the
// result, not as an error.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	r := c.Check(ctx)
	if len(r.Alerts) == 0 {
		c.log.Debug("health check passed")
		return r, nil
	}
	sent := 0
	if c.alerter != nil {
		sent = c.alerter.SendAlerts(ctx, r.Alerts)
	}
	c.log.Warn("health check found problems",
		zap.Int("alerts_triggered", len(r.Alerts)),
		zap.Int("alerts_sent", sent),
	)
	return r, nil
}

// Check evaluates health without sending anything.
func (c *Checker) Check(ctx context.Context) Report {
	now := c.now().UTC()
	r := Report{StoreOK: true, CheckedAt: now, Stages: []StageStatus{}}
	limit := time.Duration(c.cfg.StaleHours) * time.Hour

	if err := c.store.Ping(ctx); err != nil {
		r.StoreOK = false
		r.Alerts = append(r.Alerts, notify.Alert{
			Type:      AlertStoreUnreachable,
			Severity:  "high",
			Message:   fmt.Sprintf("Entity store ping failed: %v", err),
			Timestamp: now,
		})
		r.Healthy = false
		return r
	}

	for _, stage := range c.cfg.Stages {
		st := StageStatus{Stage: stage}
		last, err := c.store.LastStageSuccess(ctx, stage)
		if err != nil {
			c.log.Error("failed to read stage history", zap.String("stage", stage), zap.Error(err))
			st.Stale = true
			r.Stages = append(r.Stages, st)
			continue
		}
		if last == nil {
			st.Stale = true
			r.Alerts = append(r.Alerts, notify.Alert{
				Type:      AlertNeverSucceeded,
				Severity:  "medium",
				Message:   fmt.Sprintf("%s has never completed successfully", stage),
				Details:   map[string]any{"stage": stage},
				Timestamp: now,
			})
			r.Stages = append(r.Stages, st)
			continue
		}
		age := now.Sub(*last)
		st.LastSuccess = last
		st.AgeHours = float64(int(age.Hours()*10)) / 10
		if age > limit {
			st.Stale = true
			r.Alerts = append(r.Alerts, notify.Alert{
				Type:     AlertStaleStage,
				Severity: "high",
				Message: fmt.Sprintf("%s last succeeded %.0fh ago (limit %dh)",
					stage, age.Hours(), c.cfg.StaleHours),
				Details: map[string]any{
					"stage":        stage,
					"last_success": last.Format(time.RFC3339),
					"stale_hours":  c.cfg.StaleHours,
				},
				Timestamp: now,
			})
		}
		r.Stages = append(r.Stages, st)
	}

	r.Healthy = len(r.Alerts) == 0
	for _, s := range r.Stages {
		if s.Stale {
			r.Healthy = false
		}
	}
	return r
}

// Watch runs the check every interval until ctx is cancelled. The status
// API runs it in the background between scheduled runs.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	c.log.Info("starting health watcher", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("health watcher stopped")
			return
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil {
				c.log.Error("health check failed", zap.Error(err))
			}
		}
	}
}
