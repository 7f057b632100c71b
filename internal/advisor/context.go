package advisor

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Context is the store state the rules read. It is loaded once per run so
// every rule sees the same snapshot.
type Context struct {
	Now   time.Time
	Today time.Time // midnight in the campaign timezone
	Week  int

	Companies map[int64]model.Company
	Calls     []model.Call      // lookback window, oldest first
	Intel     []model.CallIntel // lookback window, oldest first
	InMails   []model.InMail    // lookback window, oldest first
	CallWeeks []model.WeeklySnapshot
	Sequences []model.EmailSequence // latest snapshot of each active sequence

	callsByID        map[int64]model.Call
	callsByCompany   map[int64][]time.Time
	sortedCompanyIDs []int64
}

func (a *Advisor) load(ctx context.Context, now time.Time) (*Context, error) {
	today := a.cal.Date(now)
	c := &Context{
		Now:   now,
		Today: today,
		Week:  a.cal.WeekNum(now),
	}
	since := today.AddDate(0, 0, -7*a.cfg.LookbackWeeks)
	window := store.TimeRange{From: since, To: today.AddDate(0, 0, 1)}

	companies, err := a.store.ListCompanies(ctx, store.CompanyFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "advisor: load companies")
	}
	c.Companies = make(map[int64]model.Company, len(companies))
	for _, co := range companies {
		c.Companies[co.ID] = co
		c.sortedCompanyIDs = append(c.sortedCompanyIDs, co.ID)
	}
	sort.Slice(c.sortedCompanyIDs, func(i, j int) bool { return c.sortedCompanyIDs[i] < c.sortedCompanyIDs[j] })

	if c.Calls, err = a.store.ListCalls(ctx, window); err != nil {
		return nil, eris.Wrap(err, "advisor: load calls")
	}
	c.callsByID = make(map[int64]model.Call, len(c.Calls))
	c.callsByCompany = make(map[int64][]time.Time)
	for _, call := range c.Calls {
		c.callsByID[call.ID] = call
		if call.CompanyID != nil {
			c.callsByCompany[*call.CompanyID] = append(c.callsByCompany[*call.CompanyID], call.CalledAt)
		}
	}

	if c.Intel, err = a.store.ListCallIntel(ctx, since); err != nil {
		return nil, eris.Wrap(err, "advisor: load call intel")
	}
	if c.InMails, err = a.store.ListInMails(ctx, window); err != nil {
		return nil, eris.Wrap(err, "advisor: load inmails")
	}

	from := c.Week - 1
	if from < 1 {
		from = 1
	}
	if c.CallWeeks, err = a.store.ListWeeklySnapshots(ctx, store.SnapshotFilter{
		Channel: model.ChannelCalls, FromWeek: from, ToWeek: c.Week,
	}); err != nil {
		return nil, eris.Wrap(err, "advisor: load call snapshots")
	}

	snaps, err := a.store.ListEmailSnapshots(ctx, window.To)
	if err != nil {
		return nil, eris.Wrap(err, "advisor: load email snapshots")
	}
	c.Sequences = latestActive(snaps)
	return c, nil
}

// latestActive keeps the newest snapshot of each sequence whose newest
// snapshot is active. snaps are ordered by sequence then date.
func latestActive(snaps []model.EmailSequence) []model.EmailSequence {
	var out []model.EmailSequence
	for i, s := range snaps {
		if i+1 < len(snaps) && snaps[i+1].SequenceID == s.SequenceID {
			continue
		}
		if s.Status == "active" {
			out = append(out, s)
		}
	}
	return out
}

// companyName returns the name of a company, or fallback.
func (c *Context) companyName(id *int64, fallback string) string {
	if id != nil {
		if co, ok := c.Companies[*id]; ok {
			return co.Name
		}
	}
	if fallback != "" {
		return fallback
	}
	return "Unknown company"
}

// calledSince reports whether the company has a call strictly after t.
func (c *Context) calledSince(companyID int64, t time.Time) bool {
	for _, at := range c.callsByCompany[companyID] {
		if at.After(t) {
			return true
		}
	}
	return false
}

// recent reports whether a campaign week is the current or previous one.
func (c *Context) recent(week int) bool {
	return week >= c.Week-1
}
