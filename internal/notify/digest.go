package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// DigestStore is the read surface of the digest.
type DigestStore interface {
	ListInsights(ctx context.Context, f store.InsightFilter) ([]model.Insight, error)
	ListWeeklySnapshots(ctx context.Context, f store.SnapshotFilter) ([]model.WeeklySnapshot, error)
}

// Digest posts today's open insights and the current week's numbers.
type Digest struct {
	store    DigestStore
	cal      *model.Calendar
	notifier *Notifier
	now      func() time.Time
	log      *zap.Logger
}

// DigestOption configures a Digest.
type DigestOption func(*Digest)

// WithDigestClock overrides the clock that decides "today".
func WithDigestClock(now func() time.Time) DigestOption {
	return func(d *Digest) { d.now = now }
}

// NewDigest creates the notify stage.
func NewDigest(st DigestStore, cal *model.Calendar, n *Notifier, opts ...DigestOption) *Digest {
	d := &Digest{
		store:    st,
		cal:      cal,
		notifier: n,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "notify")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements the orchestrator stage contract.
func (d *Digest) Name() string { return "notify" }

// DigestResult summarizes one digest.
type DigestResult struct {
	Insights int
	Sent     bool
}

// Metrics flattens the result for the run log.
func (r DigestResult) Metrics() map[string]any {
	return map[string]any{"insights": r.Insights, "sent": r.Sent}
}

// Run builds and posts the digest.
func (d *Digest) Run(ctx context.Context) (DigestResult, error) {
	now := d.now()
	today := d.cal.Date(now)
	week := d.cal.WeekNum(now)

	insights, err := d.store.ListInsights(ctx, store.InsightFilter{Date: &today, OpenOnly: true})
	if err != nil {
		return DigestResult{}, eris.Wrap(err, "notify: list insights")
	}
	var snaps []model.WeeklySnapshot
	if week >= 1 {
		if snaps, err = d.store.ListWeeklySnapshots(ctx, store.SnapshotFilter{FromWeek: week, ToWeek: week}); err != nil {
			return DigestResult{}, eris.Wrap(err, "notify: list snapshots")
		}
	}

	res := DigestResult{Insights: len(insights)}
	if !d.notifier.Enabled() {
		d.log.Debug("no webhook configured, digest not sent")
		return res, nil
	}
	if res.Sent, err = d.notifier.Send(ctx, Message{Text: FormatDigest(today, week, snaps, insights)}); err != nil {
		return res, err
	}
	d.log.Info("digest sent", zap.Int("insights", res.Insights), zap.Int("week", week))
	return res, nil
}

// FormatDigest renders the digest text.
func FormatDigest(today time.Time, week int, snaps []model.WeeklySnapshot, insights []model.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Outbound digest %s* (week %d)\n", today.Format("Mon Jan 2"), week)

	for _, s := range snaps {
		switch {
		case s.Calls != nil:
			fmt.Fprintf(&b, "Calls: %d dials, %d human contacts (%.1f%%), %d meetings\n",
				s.Calls.Dials, s.Calls.HumanContacts, s.Calls.HumanContactRate*100, s.Calls.MeetingsBooked)
		case s.Email != nil:
			fmt.Fprintf(&b, "Email: %d sent, %.1f%% opened, %.1f%% replied\n",
				s.Email.Sent, s.Email.OpenRate*100, s.Email.ReplyRate*100)
		case s.LinkedIn != nil:
			fmt.Fprintf(&b, "LinkedIn: %d InMails, %d replies, %d interested\n",
				s.LinkedIn.Sent, s.LinkedIn.Replied, s.LinkedIn.Interested)
		}
	}

	if len(insights) == 0 {
		b.WriteString("No new insights today.")
		return b.String()
	}
	fmt.Fprintf(&b, "%d insight(s):\n", len(insights))
	for _, in := range insights {
		fmt.Fprintf(&b, "• [%s/%s] %s\n", in.Type, in.Severity, in.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
