package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/pkg/hubspot"
)

type mockHubSpot struct {
	mock.Mock
}

func (m *mockHubSpot) SearchCalls(ctx context.Context, q hubspot.CallQuery) ([]hubspot.Call, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]hubspot.Call), args.Error(1)
}

func (m *mockHubSpot) CallParty(ctx context.Context, callID string) (*hubspot.Party, error) {
	args := m.Called(ctx, callID)
	p, _ := args.Get(0).(*hubspot.Party)
	return p, args.Error(1)
}

func (m *mockHubSpot) SearchDeals(ctx context.Context, ownerID string) ([]hubspot.Deal, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).([]hubspot.Deal), args.Error(1)
}

func (m *mockHubSpot) DealCompanies(ctx context.Context, dealIDs []string) (map[string]string, error) {
	args := m.Called(ctx, dealIDs)
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *mockHubSpot) CompanyName(ctx context.Context, companyID string) (string, error) {
	args := m.Called(ctx, companyID)
	return args.String(0), args.Error(1)
}

func TestHubSpotCalls(t *testing.T) {
	from := at("2026-02-01T00:00:00Z")
	to := at("2026-02-08T00:00:00Z")
	hs := &mockHubSpot{}
	hs.On("SearchCalls", mock.Anything, hubspot.CallQuery{OwnerID: "77", From: from, To: to}).Return([]hubspot.Call{
		{ID: "1", Timestamp: at("2026-02-03T17:00:00Z"), DurationMS: 95500, Disposition: hubspot.DispositionConnected,
			Body: "talk to Maria", Summary: "Referral to Maria."},
		{ID: "2", Timestamp: at("2026-02-03T18:00:00Z"), DurationMS: 4000},
	}, nil)
	hs.On("CallParty", mock.Anything, "1").Return(&hubspot.Party{
		ContactID: "c-1", ContactName: "Dana Reyes", CompanyID: "9001", CompanyName: "Acme Rail Inc",
	}, nil)
	hs.On("CallParty", mock.Anything, "2").Return(nil, errors.New("429"))

	recs, err := (&HubSpotCalls{Client: hs, OwnerID: "77", Concurrency: 2}).Calls(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, 95, recs[0].DurationSecs)
	assert.Equal(t, "talk to Maria", recs[0].Notes)
	assert.Equal(t, "Dana Reyes", recs[0].ContactName)
	assert.Equal(t, company.Ref{CRMID: "9001", Name: "Acme Rail Inc"}, recs[0].Company)

	// A failed party lookup leaves the call unlinked.
	assert.Equal(t, company.Ref{}, recs[1].Company)
	assert.Empty(t, recs[1].ContactName)
	hs.AssertExpectations(t)
}

func TestHubSpotCalls_SearchError(t *testing.T) {
	hs := &mockHubSpot{}
	hs.On("SearchCalls", mock.Anything, mock.Anything).Return([]hubspot.Call(nil), errors.New("unauthorized"))

	_, err := (&HubSpotCalls{Client: hs}).Calls(context.Background(), time.Time{}, time.Time{})
	assert.EqualError(t, err, "unauthorized")
}

func TestHubSpotDeals(t *testing.T) {
	amount := 5000.0
	hs := &mockHubSpot{}
	hs.On("SearchDeals", mock.Anything, "77").Return([]hubspot.Deal{
		{ID: "d1", Name: "Acme pilot", Amount: &amount, Stage: "contractsent"},
		{ID: "d2", Name: "Acme renewal", Stage: "appointmentscheduled"},
		{ID: "d3", Name: "Orphan", Stage: "closedlost"},
	}, nil)
	hs.On("DealCompanies", mock.Anything, []string{"d1", "d2", "d3"}).Return(map[string]string{"d1": "9001", "d2": "9001"}, nil)
	hs.On("CompanyName", mock.Anything, "9001").Return("Acme Rail Inc", nil).Once()

	recs, err := (&HubSpotDeals{Client: hs, OwnerID: "77"}).Deals(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, company.Ref{CRMID: "9001", Name: "Acme Rail Inc"}, recs[0].Company)
	assert.Equal(t, company.Ref{CRMID: "9001", Name: "Acme Rail Inc"}, recs[1].Company)
	assert.Equal(t, company.Ref{}, recs[2].Company)
	assert.Equal(t, &amount, recs[0].Amount)
	hs.AssertExpectations(t)
}
