// Package aggregate rolls stored activity up into one weekly snapshot per
// channel. Every metric is recomputed from the activity rows on each run.
package aggregate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Store is the slice of the entity store the aggregator reads and writes.
type Store interface {
	ListCalls(ctx context.Context, r store.TimeRange) ([]model.Call, error)
	ListEmailSnapshots(ctx context.Context, before time.Time) ([]model.EmailSequence, error)
	ListInMails(ctx context.Context, r store.TimeRange) ([]model.InMail, error)
	UpsertWeeklySnapshot(ctx context.Context, s *model.WeeklySnapshot) error
}

// Aggregator computes weekly snapshots.
type Aggregator struct {
	store Store
	cal   *model.Calendar
	now   func() time.Time
	log   *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used to pick the current week.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator.
func New(st Store, cal *model.Calendar, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: st,
		cal:   cal,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "aggregate")),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements the orchestrator stage contract.
func (a *Aggregator) Name() string { return "aggregate" }

// Result lists the weeks recomputed by Run.
type Result struct {
	Weeks     []int
	Snapshots []model.WeeklySnapshot
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	return map[string]any{
		"weeks":     r.Weeks,
		"snapshots": len(r.Snapshots),
	}
}

// Run recomputes the current week. On Mondays the previous week is
// recomputed first so that late-arriving activity settles its final
// numbers.
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	var res Result
	now := a.now()
	week := a.cal.WeekNum(now)
	if week < 1 {
		a.log.Info("before campaign start, nothing to aggregate", zap.Time("now", now))
		return res, nil
	}

	weeks := []int{week}
	if now.In(a.cal.Location()).Weekday() == time.Monday && week > 1 {
		weeks = []int{week - 1, week}
	}
	for _, w := range weeks {
		snaps, err := a.Week(ctx, w)
		if err != nil {
			return res, err
		}
		res.Weeks = append(res.Weeks, w)
		res.Snapshots = append(res.Snapshots, snaps...)
	}
	return res, nil
}

// Week computes and upserts the snapshot of every channel for week.
func (a *Aggregator) Week(ctx context.Context, week int) ([]model.WeeklySnapshot, error) {
	if week < 1 {
		return nil, eris.Errorf("aggregate: invalid week %d", week)
	}
	from, to := a.cal.Window(week)
	window := store.TimeRange{From: from, To: to}
	start := time.Now()

	calls, err := a.calls(ctx, window)
	if err != nil {
		return nil, err
	}
	email, err := a.email(ctx, window)
	if err != nil {
		return nil, err
	}
	linkedin, err := a.linkedin(ctx, window)
	if err != nil {
		return nil, err
	}

	snaps := []model.WeeklySnapshot{
		{WeekNum: week, Monday: from, Channel: model.ChannelCalls, Calls: calls},
		{WeekNum: week, Monday: from, Channel: model.ChannelEmail, Email: email},
		{WeekNum: week, Monday: from, Channel: model.ChannelLinkedIn, LinkedIn: linkedin},
	}
	for i := range snaps {
		if err := a.store.UpsertWeeklySnapshot(ctx, &snaps[i]); err != nil {
			return nil, eris.Wrapf(err, "aggregate: upsert week %d %s", week, snaps[i].Channel)
		}
	}

	a.log.Info("week aggregated",
		zap.Int("week", week),
		zap.String("monday", from.Format(time.DateOnly)),
		zap.Int("dials", calls.Dials),
		zap.Int("emails_sent", email.Sent),
		zap.Int("inmails_sent", linkedin.Sent),
		zap.Duration("elapsed", time.Since(start)),
	)
	return snaps, nil
}

func (a *Aggregator) calls(ctx context.Context, window store.TimeRange) (*model.CallMetrics, error) {
	calls, err := a.store.ListCalls(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list calls")
	}
	return CallMetrics(calls), nil
}

// CallMetrics computes the calls-channel metrics of calls.
func CallMetrics(calls []model.Call) *model.CallMetrics {
	m := &model.CallMetrics{Categories: make(map[string]int)}
	for _, c := range calls {
		m.Dials++
		m.Categories[c.Category]++
		if model.IsHumanContact(c.Category) {
			m.HumanContacts++
		}
		if c.Category == model.CategoryMeetingBooked {
			m.MeetingsBooked++
		}
	}
	m.HumanContactRate = model.Rate(m.HumanContacts, m.Dials)
	return m
}

func (a *Aggregator) email(ctx context.Context, window store.TimeRange) (*model.EmailMetrics, error) {
	snaps, err := a.store.ListEmailSnapshots(ctx, window.To)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list email snapshots")
	}
	return EmailMetrics(snaps, window.From.Format(time.DateOnly)), nil
}

// EmailMetrics derives a week's email activity from cumulative sequence
// snapshots. snaps must hold only snapshots dated before the end of the
// week; from is the week's Monday as YYYY-MM-DD. Each sequence contributes
// the growth between its last snapshot before the week and its last
// snapshot inside it. Counter resets never produce negative activity.
func EmailMetrics(snaps []model.EmailSequence, from string) *model.EmailMetrics {
	type span struct {
		base, last *model.EmailSequence
	}
	bySeq := make(map[string]*span)
	var order []string
	for i := range snaps {
		s := &snaps[i]
		sp, ok := bySeq[s.SequenceID]
		if !ok {
			sp = &span{}
			bySeq[s.SequenceID] = sp
			order = append(order, s.SequenceID)
		}
		day := s.SnapshotDate.Format(time.DateOnly)
		if day < from {
			if sp.base == nil || day >= sp.base.SnapshotDate.Format(time.DateOnly) {
				sp.base = s
			}
			continue
		}
		if sp.last == nil || day >= sp.last.SnapshotDate.Format(time.DateOnly) {
			sp.last = s
		}
	}

	var sent, delivered, opened, replied int
	for _, id := range order {
		sp := bySeq[id]
		if sp.last == nil {
			continue
		}
		var base model.EmailSequence
		if sp.base != nil {
			base = *sp.base
		}
		sent += growth(sp.last.Sent, base.Sent)
		delivered += growth(sp.last.Delivered, base.Delivered)
		opened += growth(sp.last.Opened, base.Opened)
		replied += growth(sp.last.Replied, base.Replied)
	}

	den := delivered
	if den == 0 {
		den = sent
	}
	return &model.EmailMetrics{
		Sent:      sent,
		Opened:    opened,
		OpenRate:  model.Rate(opened, den),
		Replied:   replied,
		ReplyRate: model.Rate(replied, den),
	}
}

func growth(cur, prev int) int {
	if d := cur - prev; d > 0 {
		return d
	}
	return 0
}

func (a *Aggregator) linkedin(ctx context.Context, window store.TimeRange) (*model.LinkedInMetrics, error) {
	ims, err := a.store.ListInMails(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list inmails")
	}
	return LinkedInMetrics(ims), nil
}

// LinkedInMetrics computes the LinkedIn-channel metrics of ims.
func LinkedInMetrics(ims []model.InMail) *model.LinkedInMetrics {
	m := &model.LinkedInMetrics{}
	for _, im := range ims {
		m.Sent++
		if im.Replied {
			m.Replied++
		}
		if im.Sentiment == model.SentimentInterested {
			m.Interested++
		}
	}
	m.ReplyRate = model.Rate(m.Replied, m.Sent)
	return m
}
