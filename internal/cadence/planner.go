package cadence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Store is the read surface the planner needs.
type Store interface {
	ListCompanies(ctx context.Context, f store.CompanyFilter) ([]model.Company, error)
	ListCalls(ctx context.Context, r store.TimeRange) ([]model.Call, error)
}

// Planner is the call-list stage.
type Planner struct {
	store  Store
	cal    *model.Calendar
	cfg    config.CadenceConfig
	dryRun bool
	now    func() time.Time
	log    *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithDryRun builds the sheet without writing it.
func WithDryRun(v bool) Option {
	return func(p *Planner) { p.dryRun = v }
}

// WithClock overrides the clock that decides "today".
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner.
func New(st Store, cal *model.Calendar, cfg config.CadenceConfig, opts ...Option) *Planner {
	p := &Planner{
		store: st,
		cal:   cal,
		cfg:   Rules(cfg),
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "cadence")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements the orchestrator stage contract.
func (p *Planner) Name() string { return "calllist" }

// Result is one planning run.
type Result struct {
	Sheet   Sheet
	Path    string
	Written bool
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	return map[string]any{
		"date":              r.Sheet.Date,
		"call":              len(r.Sheet.Call),
		"deferred":          r.Sheet.Deferred,
		"cooling":           len(r.Sheet.Cooling),
		"do_not_call":       len(r.Sheet.DoNotCall),
		"blocked_companies": len(r.Sheet.Blocked),
		"written":           r.Written,
	}
}

// Build reads the full call history and plans today's sheet.
func (p *Planner) Build(ctx context.Context) (Sheet, error) {
	now := p.now()
	companies, err := p.store.ListCompanies(ctx, store.CompanyFilter{})
	if err != nil {
		return Sheet{}, eris.Wrap(err, "cadence: list companies")
	}
	calls, err := p.store.ListCalls(ctx, store.TimeRange{To: now.Add(time.Second)})
	if err != nil {
		return Sheet{}, eris.Wrap(err, "cadence: list calls")
	}
	return Plan(p.cfg, p.cal, companies, calls, now), nil
}

// Run builds the sheet and writes it to the configured path unless the
// planner is in dry-run mode.
func (p *Planner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	sheet, err := p.Build(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Sheet: sheet, Path: p.cfg.Path}
	if !p.dryRun && p.cfg.Path != "" {
		data, err := json.MarshalIndent(sheet, "", "  ")
		if err != nil {
			return res, eris.Wrap(err, "cadence: marshal sheet")
		}
		if err := writeAtomic(p.cfg.Path, append(data, '\n')); err != nil {
			return res, err
		}
		res.Written = true
	}

	p.log.Info("call list planned",
		zap.String("date", sheet.Date),
		zap.Int("call", len(sheet.Call)),
		zap.Int("deferred", sheet.Deferred),
		zap.Int("cooling", len(sheet.Cooling)),
		zap.Int("do_not_call", len(sheet.DoNotCall)),
		zap.Int("blocked_companies", len(sheet.Blocked)),
		zap.Bool("written", res.Written),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "cadence: create output dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".call-list-*.json")
	if err != nil {
		return eris.Wrap(err, "cadence: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "cadence: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cadence: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "cadence: replace %s", path)
}
