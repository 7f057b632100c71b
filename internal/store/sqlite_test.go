package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func mustCompany(t *testing.T, st Store, name string) *model.Company {
	t.Helper()
	c := &model.Company{Name: name, NameKey: name}
	require.NoError(t, st.CreateCompany(context.Background(), c))
	return c
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

// --- Companies ---

func TestSQLite_Company_CreateAndFind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Company{Name: "Acme Grain LLC", NameKey: "acme grain", CRMID: "hs-1"}
	require.NoError(t, st.CreateCompany(ctx, c))
	assert.NotZero(t, c.ID)
	assert.Equal(t, model.StatusProspect, c.Status)

	got, err := st.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Grain LLC", got.Name)
	assert.Equal(t, "hs-1", got.CRMID)
	assert.Empty(t, got.ChannelsTouched)
	assert.Nil(t, got.FirstTouchAt)

	byCRM, err := st.FindCompanyByCRMID(ctx, "hs-1")
	require.NoError(t, err)
	require.NotNil(t, byCRM)
	assert.Equal(t, c.ID, byCRM.ID)

	missing, err := st.FindCompanyByCRMID(ctx, "hs-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byName, err := st.FindCompaniesByNameKey(ctx, "acme grain")
	require.NoError(t, err)
	assert.Len(t, byName, 1)
}

func TestSQLite_Company_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetCompany(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Company_DuplicateCRMID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCompany(ctx, &model.Company{Name: "A", NameKey: "a", CRMID: "dup"}))
	err := st.CreateCompany(ctx, &model.Company{Name: "B", NameKey: "b", CRMID: "dup"})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestSQLite_Company_InvalidStatusRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	c := mustCompany(t, st, "acme")
	err := st.SetCompanyStatus(context.Background(), c.ID, model.CompanyStatus("bogus"))
	assert.True(t, IsConstraint(err))
}

func TestSQLite_Company_SetStatusMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.SetCompanyStatus(context.Background(), 99, model.StatusContacted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_RecordTouch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := mustCompany(t, st, "acme")

	require.NoError(t, st.RecordTouch(ctx, c.ID, model.ChannelCalls, ts("2026-02-03T15:00:00Z")))
	require.NoError(t, st.RecordTouch(ctx, c.ID, model.ChannelCalls, ts("2026-02-04T15:00:00Z")))
	require.NoError(t, st.RecordTouch(ctx, c.ID, model.ChannelEmail, ts("2026-01-30T09:00:00Z")))

	got, err := st.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"calls", "email"}, got.ChannelsTouched)
	assert.Equal(t, 3, got.TotalTouches)
	require.NotNil(t, got.FirstTouchAt)
	require.NotNil(t, got.LastTouchAt)
	assert.True(t, got.FirstTouchAt.Equal(ts("2026-01-30T09:00:00Z")))
	assert.True(t, got.LastTouchAt.Equal(ts("2026-02-04T15:00:00Z")))
}

func TestSQLite_UpsertCallWithTouch_TouchesOnFirstLink(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	acme := mustCompany(t, st, "acme")
	other := mustCompany(t, st, "other")
	touch := Touch{Channel: model.ChannelCalls, At: ts("2026-02-03T17:00:00Z"), Status: model.StatusContacted}

	call := func(company *int64) *model.Call {
		return &model.Call{ExternalID: "c1", CompanyID: company, ContactName: "Dana", Category: model.CategoryVoicemail,
			CalledAt: ts("2026-02-03T17:00:00Z"), WeekNum: 3}
	}

	res, err := st.UpsertCallWithTouch(ctx, call(nil), touch)
	require.NoError(t, err)
	assert.Equal(t, LinkResult{Outcome: Inserted}, res)

	res, err = st.UpsertCallWithTouch(ctx, call(&acme.ID), touch)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)
	assert.True(t, res.Linked)
	assert.True(t, res.Promoted)
	assert.Equal(t, model.StatusProspect, res.From)
	assert.Equal(t, acme.ID, res.CompanyID)

	res, err = st.UpsertCallWithTouch(ctx, call(&acme.ID), touch)
	require.NoError(t, err)
	assert.Equal(t, LinkResult{Outcome: Unchanged}, res)

	// A stored link wins; a different incoming company is not touched.
	res, err = st.UpsertCallWithTouch(ctx, call(&other.ID), touch)
	require.NoError(t, err)
	assert.False(t, res.Linked)

	got, err := st.GetCompany(ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalTouches)
	assert.Equal(t, []string{"calls"}, got.ChannelsTouched)
	assert.Equal(t, model.StatusContacted, got.Status)

	got, err = st.GetCompany(ctx, other.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalTouches)
}

func TestSQLite_UpsertWithTouch_RollsBackTogether(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	acme := mustCompany(t, st, "acme")

	_, err := st.db.ExecContext(ctx, `CREATE TRIGGER fail_touch BEFORE UPDATE OF total_touches ON companies
		BEGIN SELECT RAISE(ABORT, 'touch unavailable'); END`)
	require.NoError(t, err)

	sent := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	m := &model.InMail{ExternalKey: "k1", CompanyID: &acme.ID, ContactName: "Pat", CompanyName: "Acme", SentDate: sent, WeekNum: 3}
	_, err = st.UpsertInMailWithTouch(ctx, m, Touch{Channel: model.ChannelLinkedIn, At: sent})
	require.Error(t, err)
	c := &model.Call{ExternalID: "c1", CompanyID: &acme.ID, Category: model.CategoryNoAnswer, CalledAt: sent, WeekNum: 3}
	_, err = st.UpsertCallWithTouch(ctx, c, Touch{Channel: model.ChannelCalls, At: sent})
	require.Error(t, err)

	list, err := st.ListInMails(ctx, TimeRange{From: sent, To: sent.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Empty(t, list)
	got, err := st.GetCallByExternalID(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = st.db.ExecContext(ctx, `DROP TRIGGER fail_touch`)
	require.NoError(t, err)
	res, err := st.UpsertInMailWithTouch(ctx, m, Touch{Channel: model.ChannelLinkedIn, At: sent})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.True(t, res.Linked)

	co, err := st.GetCompany(ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, co.TotalTouches)
}

func TestLinkEffect(t *testing.T) {
	a, b := int64(1), int64(2)
	tests := []struct {
		name     string
		outcome  UpsertOutcome
		prior    *int64
		incoming *int64
		id       int64
		linked   bool
		ok       bool
	}{
		{"insert linked", Inserted, nil, &a, 1, true, true},
		{"insert unlinked", Inserted, nil, nil, 0, false, false},
		{"late link", Updated, nil, &a, 1, true, true},
		{"update keeps stored link", Updated, &a, &b, 1, false, true},
		{"unchanged", Unchanged, &a, &a, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, linked, ok := linkEffect(tt.outcome, tt.prior, tt.incoming)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.linked, linked)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSQLite_UpdateCompanyCRM(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := mustCompany(t, st, "acme")

	renewal := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateCompanyCRM(ctx, c.ID, model.CRMFields{
		CurrentProvider: "BNSF",
		Commodities:     "grain",
		RenewalDate:     &renewal,
	}))

	got, err := st.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "BNSF", got.CRM.CurrentProvider)
	require.NotNil(t, got.CRM.RenewalDate)
	assert.True(t, got.CRM.RenewalDate.Equal(renewal))
	assert.Nil(t, got.CRM.NextActionDate)
}

func TestSQLite_UpsertContact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := mustCompany(t, st, "acme")

	ct := &model.Contact{CompanyID: &c.ID, CRMID: "ct-1", Name: "Dana", Title: "Logistics Manager"}
	out, err := st.UpsertContact(ctx, ct)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = st.UpsertContact(ctx, &model.Contact{CompanyID: &c.ID, CRMID: "ct-1", Name: "Dana", Title: "Logistics Manager"})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	out, err = st.UpsertContact(ctx, &model.Contact{CRMID: "ct-1", Name: "Dana", Title: "VP Logistics"})
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	_, err = st.UpsertContact(ctx, &model.Contact{Name: "no id"})
	assert.Error(t, err)
}

// --- Calls ---

func TestSQLite_UpsertCall_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	c := mustCompany(t, st, "acme")

	call := model.Call{
		ExternalID:   "call-1",
		CompanyID:    &c.ID,
		Category:     model.CategoryInterested,
		DurationSecs: 240,
		CalledAt:     ts("2026-02-03T17:30:00Z"),
		WeekNum:      3,
	}
	first := call
	out, err := st.UpsertCall(ctx, &first)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	second := call
	out, err = st.UpsertCall(ctx, &second)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)
	assert.Equal(t, first.ID, second.ID)

	got, err := st.GetCallByExternalID(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 240, got.DurationSecs)
	assert.True(t, got.CalledAt.Equal(call.CalledAt))
}

func TestSQLite_UpsertCall_LateSummaryUpdatesInPlace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	call := &model.Call{ExternalID: "call-2", Category: model.CategoryNoAnswer, CalledAt: ts("2026-02-03T17:30:00Z"), WeekNum: 3}
	_, err := st.UpsertCall(ctx, call)
	require.NoError(t, err)

	late := &model.Call{
		ExternalID:    "call-2",
		Category:      model.CategoryInterested,
		DurationSecs:  999,
		Summary:       "Asked for pricing on unit trains",
		HasTranscript: true,
		CalledAt:      ts("2026-02-05T17:30:00Z"),
		WeekNum:       3,
	}
	out, err := st.UpsertCall(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, Updated, out)
	assert.Equal(t, call.ID, late.ID)

	got, err := st.GetCallByExternalID(ctx, "call-2")
	require.NoError(t, err)
	assert.Equal(t, "Asked for pricing on unit trains", got.Summary)
	assert.True(t, got.HasTranscript)
	assert.Equal(t, model.CategoryNoAnswer, got.Category, "category is immutable")
	assert.Equal(t, 0, got.DurationSecs)
	assert.True(t, got.CalledAt.Equal(ts("2026-02-03T17:30:00Z")))

	// A later sparse record never erases the summary.
	sparse := &model.Call{ExternalID: "call-2", Category: model.CategoryNoAnswer, CalledAt: call.CalledAt, WeekNum: 3}
	out, err = st.UpsertCall(ctx, sparse)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)
}

func TestSQLite_UpsertCall_DanglingCompany(t *testing.T) {
	st := newTestSQLiteStore(t)
	missing := int64(404)
	_, err := st.UpsertCall(context.Background(), &model.Call{
		ExternalID: "call-3", CompanyID: &missing, Category: model.CategoryNoAnswer,
		CalledAt: ts("2026-02-03T17:30:00Z"), WeekNum: 3,
	})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
}

func TestSQLite_ListCalls_HalfOpenRange(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, at := range []string{"2026-01-26T08:00:00Z", "2026-01-30T12:00:00Z", "2026-02-02T08:00:00Z"} {
		_, err := st.UpsertCall(ctx, &model.Call{
			ExternalID: "c" + string(rune('a'+i)), Category: model.CategoryNoAnswer, CalledAt: ts(at), WeekNum: 2,
		})
		require.NoError(t, err)
	}

	calls, err := st.ListCalls(ctx, TimeRange{From: ts("2026-01-26T08:00:00Z"), To: ts("2026-02-02T08:00:00Z")})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "ca", calls[0].ExternalID)
	assert.Equal(t, "cb", calls[1].ExternalID)
}

func TestSQLite_CallIntel(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	call := &model.Call{ExternalID: "call-i", Category: model.CategoryInterested, Summary: "talked rates",
		CalledAt: ts("2026-02-03T17:30:00Z"), WeekNum: 3}
	_, err := st.UpsertCall(ctx, call)
	require.NoError(t, err)
	_, err = st.UpsertCall(ctx, &model.Call{ExternalID: "call-j", Category: model.CategoryNoAnswer,
		CalledAt: ts("2026-02-03T18:00:00Z"), WeekNum: 3})
	require.NoError(t, err)

	pending, err := st.ListCallsWithoutIntel(ctx, ts("2026-01-01T00:00:00Z"), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "call-i", pending[0].ExternalID)

	ci := &model.CallIntel{CallID: call.ID, InterestLevel: model.InterestHigh, Objection: "price"}
	require.NoError(t, st.UpsertCallIntel(ctx, ci))
	ci2 := &model.CallIntel{CallID: call.ID, InterestLevel: model.InterestMedium, Objection: "timing"}
	require.NoError(t, st.UpsertCallIntel(ctx, ci2))
	assert.Equal(t, ci.ID, ci2.ID)

	pending, err = st.ListCallsWithoutIntel(ctx, ts("2026-01-01T00:00:00Z"), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	intel, err := st.ListCallIntel(ctx, ts("2026-01-01T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, intel, 1)
	assert.Equal(t, model.InterestMedium, intel[0].InterestLevel)
	assert.Equal(t, "timing", intel[0].Objection)
	assert.True(t, intel[0].CalledAt.Equal(call.CalledAt))

	err = st.UpsertCallIntel(ctx, &model.CallIntel{CallID: 9999, InterestLevel: model.InterestLow})
	assert.True(t, IsConstraint(err))
}

// --- Email / InMail / Deals ---

func TestSQLite_EmailSnapshots(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	snap := model.EmailSequence{SequenceID: "seq-1", Name: "Shippers Q1", Sent: 100, Opened: 40, Replied: 2,
		OpenRate: 0.4, ReplyRate: 0.02, SnapshotDate: day}
	n, err := st.UpsertEmailSnapshots(ctx, []model.EmailSequence{snap})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.UpsertEmailSnapshots(ctx, []model.EmailSequence{snap})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "unchanged snapshot is a no-op")

	snap.Sent = 120
	n, err = st.UpsertEmailSnapshots(ctx, []model.EmailSequence{snap})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := st.ListEmailSnapshots(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 120, list[0].Sent)
	assert.True(t, list[0].SnapshotDate.Equal(day))

	list, err = st.ListEmailSnapshots(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLite_UpsertInMail_ReplyNeverRegresses(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sent := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	m := &model.InMail{ExternalKey: "k1", ContactName: "Pat", CompanyName: "Acme", SentDate: sent, WeekNum: 3}
	out, err := st.UpsertInMail(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	replied := *m
	replied.Replied = true
	replied.Sentiment = model.SentimentInterested
	out, err = st.UpsertInMail(ctx, &replied)
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	stale := &model.InMail{ExternalKey: "k1", ContactName: "Pat", CompanyName: "Acme", SentDate: sent, WeekNum: 3}
	out, err = st.UpsertInMail(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	list, err := st.ListInMails(ctx, TimeRange{From: sent, To: sent.AddDate(0, 0, 7)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Replied)
	assert.Equal(t, model.SentimentInterested, list[0].Sentiment)
}

func TestSQLite_UpsertDeals(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	amount := 25000.0

	deals := []model.Deal{
		{ExternalID: "d1", Name: "Acme pilot", Amount: &amount, Stage: "contractsent", StageLabel: "Pilot"},
		{ExternalID: "d2", Name: "Beta intro", Stage: "appointmentscheduled", StageLabel: "Introductory Call"},
	}
	n, err := st.UpsertDeals(ctx, deals)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.UpsertDeals(ctx, deals)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	deals[1].StageLabel = "Demo"
	n, err = st.UpsertDeals(ctx, deals)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := st.ListDeals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Amount)
	assert.InDelta(t, 25000.0, *list[0].Amount, 0.001)
	assert.Equal(t, "Demo", list[1].StageLabel)
}

// --- Snapshots ---

func TestSQLite_WeeklySnapshot_UniquePerWeekChannel(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)

	snap := &model.WeeklySnapshot{
		WeekNum: 2, Monday: monday, Channel: model.ChannelCalls,
		Calls: &model.CallMetrics{Dials: 50, HumanContacts: 10, HumanContactRate: 0.2, MeetingsBooked: 1,
			Categories: map[string]int{model.CategoryInterested: 3}},
	}
	require.NoError(t, st.UpsertWeeklySnapshot(ctx, snap))

	again := &model.WeeklySnapshot{
		WeekNum: 2, Monday: monday, Channel: model.ChannelCalls,
		Calls: &model.CallMetrics{Dials: 60, HumanContacts: 12, HumanContactRate: 0.2, MeetingsBooked: 1},
	}
	require.NoError(t, st.UpsertWeeklySnapshot(ctx, again))
	assert.Equal(t, snap.ID, again.ID)

	require.NoError(t, st.UpsertWeeklySnapshot(ctx, &model.WeeklySnapshot{
		WeekNum: 2, Monday: monday, Channel: model.ChannelEmail,
		Email: &model.EmailMetrics{Sent: 10, Opened: 5, OpenRate: 0.5},
	}))

	got, err := st.GetWeeklySnapshot(ctx, 2, model.ChannelCalls)
	require.NoError(t, err)
	require.NotNil(t, got.Calls)
	assert.Equal(t, 60, got.Calls.Dials)
	assert.Empty(t, got.Calls.Categories)
	assert.Nil(t, got.Email)

	list, err := st.ListWeeklySnapshots(ctx, SnapshotFilter{FromWeek: 2, ToWeek: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	none, err := st.GetWeeklySnapshot(ctx, 9, model.ChannelLinkedIn)
	require.NoError(t, err)
	assert.Nil(t, none)
}

// --- Insights ---

func TestSQLite_ReplaceInsights(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	batch := func() []model.Insight {
		return []model.Insight{
			{Type: model.InsightAlert, Severity: model.SeverityHigh, Title: "Contact rate dropped", Body: "b"},
			{Type: model.InsightWin, Severity: model.SeverityLow, Title: "2 meetings booked", Body: "b"},
		}
	}
	n, err := st.ReplaceInsights(ctx, day, batch())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.ReplaceInsights(ctx, day, batch())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := st.ListInsights(ctx, InsightFilter{Date: &day})
	require.NoError(t, err)
	require.Len(t, list, 2, "replace does not accumulate")

	require.NoError(t, st.AcknowledgeInsight(ctx, list[0].ID))
	n, err = st.ReplaceInsights(ctx, day, batch())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "acknowledged title is kept, not recreated")

	list, err = st.ListInsights(ctx, InsightFilter{Date: &day})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	open, err := st.ListInsights(ctx, InsightFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	assert.ErrorIs(t, st.AcknowledgeInsight(ctx, 9999), ErrNotFound)
}

func TestSQLite_AppendInsights(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	in := []model.Insight{{Date: day, Type: model.InsightCoaching, Severity: model.SeverityMedium, Title: "t", Body: "b"}}
	for range 2 {
		n, err := st.AppendInsights(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	list, err := st.ListInsights(ctx, InsightFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSQLite_UpsertExperiment(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	e := &model.Experiment{Name: "Shorter subject lines", Hypothesis: "h1", Channel: "email", StartDate: start, AutoDetected: true}
	out, err := st.UpsertExperiment(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.Equal(t, model.ExperimentActive, e.Status)

	out, err = st.UpsertExperiment(ctx, &model.Experiment{Name: "Shorter subject lines", Hypothesis: "h1", Channel: "email", StartDate: start})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, out)

	out, err = st.UpsertExperiment(ctx, &model.Experiment{Name: "Shorter subject lines", Hypothesis: "h2", StartDate: start})
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	list, err := st.ListExperiments(ctx, model.ExperimentActive)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "h2", list[0].Hypothesis)
	assert.Equal(t, "email", list[0].Channel)
	assert.True(t, list[0].AutoDetected)
}

// --- Runs ---

func TestSQLite_RunLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r := &model.Run{Trigger: "schedule", Stages: []string{"calls", "aggregate"}}
	require.NoError(t, st.StartRun(ctx, r))
	assert.NotEmpty(t, r.ID)

	started := ts("2026-02-03T16:00:00Z")
	require.NoError(t, st.RecordStageRun(ctx, &model.StageRun{
		RunID: r.ID, Stage: "calls", Status: model.StageSucceeded,
		StartedAt: started, FinishedAt: started.Add(3 * time.Second),
		Metrics: map[string]any{"inserted": 4},
	}))
	require.NoError(t, st.RecordStageRun(ctx, &model.StageRun{
		RunID: r.ID, Stage: "aggregate", Status: model.StageFailed,
		StartedAt: started, FinishedAt: started.Add(time.Second), Error: "boom",
	}))
	require.NoError(t, st.FinishRun(ctx, r.ID, model.RunFailed, "1 of 2 stages failed"))

	got, err := st.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Equal(t, []string{"calls", "aggregate"}, got.Stages)
	assert.NotNil(t, got.FinishedAt)

	stages, err := st.ListStageRuns(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 3*time.Second, stages[0].Duration())
	assert.InDelta(t, 4, stages[0].Metrics["inserted"], 0)
	assert.Equal(t, "boom", stages[1].Error)

	last, err := st.LastStageSuccess(ctx, "calls")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(started.Add(3*time.Second)))

	last, err = st.LastStageSuccess(ctx, "aggregate")
	require.NoError(t, err)
	assert.Nil(t, last)

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = st.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.FinishRun(ctx, "nope", model.RunCompleted, ""), ErrNotFound)
}

func TestSQLite_Publications(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p, err := st.LastPublication(ctx, "dashboard.json")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, st.RecordPublication(ctx, model.Publication{Artifact: "dashboard.json", SHA256: "aaa"}))
	require.NoError(t, st.RecordPublication(ctx, model.Publication{Artifact: "dashboard.json", SHA256: "bbb"}))

	p, err = st.LastPublication(ctx, "dashboard.json")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "bbb", p.SHA256)
}
