// Package syncer pulls activity from each outreach channel's source system
// into the entity store. Every stage is idempotent: rerunning it over the
// same window changes nothing.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Result tallies one stage run.
type Result struct {
	Fetched   int
	Inserted  int
	Updated   int
	Skipped   int
	Ambiguous int
	Warnings  []string

	// Extra holds stage-specific counters (promotions, classifications...).
	Extra map[string]int
}

func (r *Result) warnf(log *zap.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	log.Warn(msg)
}

func (r *Result) count(key string) {
	if r.Extra == nil {
		r.Extra = make(map[string]int)
	}
	r.Extra[key]++
}

func (r *Result) tally(o store.UpsertOutcome) {
	switch o {
	case store.Inserted:
		r.Inserted++
	case store.Updated:
		r.Updated++
	}
}

// link counts the company effects of an activity upsert.
func (r *Result) link(log *zap.Logger, lr store.LinkResult, to model.CompanyStatus) {
	if lr.Linked {
		r.count("touched")
	}
	if !lr.Promoted {
		return
	}
	r.count("promoted")
	log.Info("promoted company",
		zap.Int64("company_id", lr.CompanyID),
		zap.String("from", string(lr.From)),
		zap.String("to", string(to)),
	)
}

// upsertRows writes rows in one batch. When the batch violates a store
// constraint it retries row by row, skipping and reporting only the rows
// that fail. It returns the rows written and the store's change count.
func upsertRows[T any](
	ctx context.Context,
	rows []T,
	write func(context.Context, []T) (int64, error),
	key func(T) string,
	res *Result,
	log *zap.Logger,
) ([]T, int64, error) {
	n, err := write(ctx, rows)
	if err == nil {
		return rows, n, nil
	}
	if !store.IsConstraint(err) {
		return nil, 0, err
	}

	log.Warn("batch upsert violated a constraint, retrying row by row", zap.Int("rows", len(rows)), zap.Error(err))
	written := make([]T, 0, len(rows))
	var total int64
	for _, r := range rows {
		n, err := write(ctx, []T{r})
		if err == nil {
			written = append(written, r)
			total += n
			continue
		}
		if !store.IsConstraint(err) {
			return written, total, err
		}
		res.Skipped++
		res.warnf(log, "%s: %v", key(r), err)
	}
	return written, total, nil
}

// maxReportedWarnings bounds the warnings kept in stage metrics.
const maxReportedWarnings = 20

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	m := map[string]any{
		"fetched":   r.Fetched,
		"inserted":  r.Inserted,
		"updated":   r.Updated,
		"skipped":   r.Skipped,
		"ambiguous": r.Ambiguous,
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	if n := len(r.Warnings); n > 0 {
		m["warning_count"] = n
		if n > maxReportedWarnings {
			m["warnings"] = r.Warnings[:maxReportedWarnings]
		} else {
			m["warnings"] = r.Warnings
		}
	}
	return m
}

// LogFields returns zap fields summarizing the result.
func (r Result) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("fetched", r.Fetched),
		zap.Int("inserted", r.Inserted),
		zap.Int("updated", r.Updated),
		zap.Int("skipped", r.Skipped),
		zap.Int("ambiguous", r.Ambiguous),
		zap.Int("warnings", len(r.Warnings)),
	}
}

// Clock returns the current time. Stages take one so tests can pin "today".
type Clock func() time.Time
