package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// SequenceRecord carries the cumulative counters of one email sequence.
type SequenceRecord struct {
	ID        string
	Name      string
	Active    bool
	Sent      int
	Delivered int
	Opened    int
	Replied   int
	Clicked   int
}

// EmailSource lists every sequence with its current counters.
type EmailSource interface {
	Sequences(ctx context.Context) ([]SequenceRecord, error)
}

// EmailSync is the email stage. Sequences are campaign-level, so no
// company is resolved or touched.
type EmailSync struct {
	src   EmailSource
	store store.ActivityStore
	cal   *model.Calendar
	now   Clock
	log   *zap.Logger
}

// NewEmailSync creates the email stage.
func NewEmailSync(src EmailSource, st store.ActivityStore, cal *model.Calendar, now Clock) *EmailSync {
	if now == nil {
		now = time.Now
	}
	return &EmailSync{src: src, store: st, cal: cal, now: now, log: zap.L().With(zap.String("component", "sync.email"))}
}

// Name implements the orchestrator stage contract.
func (s *EmailSync) Name() string { return "email" }

// Run writes today's snapshot of every sequence. A rerun on the same day
// replaces that day's rows; earlier days are never touched.
func (s *EmailSync) Run(ctx context.Context) (Result, error) {
	var res Result
	seqs, err := s.src.Sequences(ctx)
	if err != nil {
		return res, eris.Wrap(err, "sync email: fetch")
	}
	res.Fetched = len(seqs)

	today := s.cal.Date(s.now())
	snaps := make([]model.EmailSequence, 0, len(seqs))
	for _, q := range seqs {
		if strings.TrimSpace(q.ID) == "" {
			res.Skipped++
			res.warnf(s.log, "sequence %q: missing id", q.Name)
			continue
		}
		if q.Sent < 0 || q.Delivered < 0 || q.Opened < 0 || q.Replied < 0 || q.Clicked < 0 {
			res.Skipped++
			res.warnf(s.log, "sequence %s: negative counters", q.ID)
			continue
		}
		status := "paused"
		if q.Active {
			status = "active"
		}
		snaps = append(snaps, model.EmailSequence{
			SequenceID:   q.ID,
			Name:         q.Name,
			Status:       status,
			Sent:         q.Sent,
			Delivered:    q.Delivered,
			Opened:       q.Opened,
			Replied:      q.Replied,
			Clicked:      q.Clicked,
			OpenRate:     model.Rate(q.Opened, q.Delivered),
			ReplyRate:    model.Rate(q.Replied, q.Delivered),
			ClickRate:    model.Rate(q.Clicked, q.Delivered),
			SnapshotDate: today,
		})
	}

	written, n, err := upsertRows(ctx, snaps, s.store.UpsertEmailSnapshots,
		func(e model.EmailSequence) string { return "sequence " + e.SequenceID }, &res, s.log)
	if err != nil {
		return res, eris.Wrap(err, "sync email: store snapshots")
	}
	// Rows inserted or changed; identical reruns write nothing.
	res.Inserted = int(n)

	s.log.Info("email synced", append(res.LogFields(), zap.Time("snapshot_date", today))...)
	if rejected := len(snaps) - len(written); rejected > 0 {
		return res, eris.Errorf("sync email: %d records violated store constraints", rejected)
	}
	return res, nil
}
