package enrich

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newCompany(t *testing.T, st store.Store, name string, status model.CompanyStatus) int64 {
	t.Helper()
	c := &model.Company{Name: name, NameKey: company.NormalizeName(name), Status: status}
	require.NoError(t, st.CreateCompany(context.Background(), c))
	return c.ID
}

var callSeq int

func addIntel(t *testing.T, st store.Store, companyID int64, at time.Time, ci model.CallIntel) {
	t.Helper()
	ctx := context.Background()
	callSeq++
	call := &model.Call{
		ExternalID: fmt.Sprintf("call-%d", callSeq),
		CompanyID:  &companyID,
		Category:   model.CategoryInterested,
		CalledAt:   at,
		WeekNum:    1,
	}
	_, err := st.UpsertCall(ctx, call)
	require.NoError(t, err)
	ci.CallID = call.ID
	ci.CompanyID = &companyID
	ci.ExtractedAt = at
	if ci.InterestLevel == "" {
		ci.InterestLevel = model.InterestNone
	}
	require.NoError(t, st.UpsertCallIntel(ctx, &ci))
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	acme := newCompany(t, st, "Acme Rail", model.StatusProspect)
	beta := newCompany(t, st, "Beta Foods", model.StatusMeetingBooked)
	newCompany(t, st, "Quiet Co", model.StatusProspect)

	day := func(d int) time.Time { return time.Date(2026, 2, d, 17, 0, 0, 0, time.UTC) }
	addIntel(t, st, acme, day(2), model.CallIntel{
		Competitor: "CSX", Commodities: "grain, lumber", InterestLevel: model.InterestLow,
		Objection: "rates: too expensive",
	})
	addIntel(t, st, acme, day(3), model.CallIntel{
		Competitor: "BNSF", Commodities: "steel,grain", ReferralName: "Maria Lopez", ReferralRole: "Logistics Director",
	})
	addIntel(t, st, acme, day(4), model.CallIntel{
		Competitor: "CSX", NextAction: "Send rate sheet", InterestLevel: model.InterestHigh,
	})
	addIntel(t, st, beta, day(4), model.CallIntel{InterestLevel: model.InterestHigh, NextAction: "Confirm agenda"})

	res, err := New(st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Intel)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Promoted, "beta is already past interested")

	got, err := st.GetCompany(ctx, acme)
	require.NoError(t, err)
	want := model.CRMFields{
		CurrentProvider: "CSX",
		Commodities:     "grain, lumber, steel",
		NextAction:      "Send rate sheet",
		ContactName:     "Maria Lopez",
		ContactRole:     "Logistics Director",
		Notes:           "objection: rates",
	}
	if diff := cmp.Diff(want, got.CRM); diff != "" {
		t.Errorf("crm fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, model.StatusInterested, got.Status)

	got, err = st.GetCompany(ctx, beta)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMeetingBooked, got.Status)
	assert.Equal(t, "Confirm agenda", got.CRM.NextAction)

	// Nothing new to fold in.
	res, err = New(st).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Promoted)
	assert.Empty(t, res.Changes)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	id := newCompany(t, st, "Acme Rail", model.StatusProspect)
	addIntel(t, st, id, time.Date(2026, 2, 2, 17, 0, 0, 0, time.UTC), model.CallIntel{
		Competitor: "CSX", InterestLevel: model.InterestMedium,
	})

	res, err := New(st, WithDryRun(true)).Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, []string{"current_provider"}, res.Changes[0].Fields)
	assert.Equal(t, model.StatusContacted, res.Changes[0].Status)
	assert.Zero(t, res.Updated)

	got, err := st.GetCompany(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.CRM.CurrentProvider)
	assert.Equal(t, model.StatusProspect, got.Status)
}

func TestPlan_KeepsManualNotes(t *testing.T) {
	id := int64(7)
	companies := []model.Company{{
		ID: id, Name: "Acme", Status: model.StatusContacted,
		CRM: model.CRMFields{Notes: "Prefers email, call after 3pm"},
	}}
	intel := []model.CallIntel{{CompanyID: &id, Objection: "Happy with trucking"}}

	assert.Empty(t, Plan(companies, intel))

	companies[0].CRM.Notes = "objection: timing"
	changes := Plan(companies, intel)
	require.Len(t, changes, 1)
	assert.Equal(t, "objection: Happy with trucking", changes[0].CRM.Notes)
}

func TestMostFrequentCompetitor(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"none", []string{"", " "}, ""},
		{"majority", []string{"CSX", "BNSF", "CSX"}, "CSX"},
		{"tie goes to latest", []string{"CSX", "BNSF"}, "BNSF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []model.CallIntel
			for _, c := range tt.in {
				recs = append(recs, model.CallIntel{Competitor: c})
			}
			assert.Equal(t, tt.want, mostFrequentCompetitor(recs))
		})
	}
}
