package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outbound-cli/internal/resilience"
)

func fastRetry() Option {
	return WithRetryPolicy(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func newTestClient(srv *httptest.Server, opts ...Option) Client {
	return NewClient("pat-test", append([]Option{WithBaseURL(srv.URL), WithRateLimit(1000), fastRetry()}, opts...)...)
}

func TestSearchCalls_PagesAndParses(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	var pages int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/calls/search", r.URL.Path)
		assert.Equal(t, "Bearer pat-test", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.FilterGroups, 1)
		assert.Equal(t, 100, req.Limit)
		fs := req.FilterGroups[0].Filters
		require.Len(t, fs, 3)
		assert.Equal(t, filter{"hs_timestamp", "GTE", "1770019200000"}, fs[0])
		assert.Equal(t, "LT", fs[1].Operator)
		assert.Equal(t, filter{"hubspot_owner_id", "EQ", "87407439"}, fs[2])

		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&pages, 1) == 1 {
			assert.Empty(t, req.After)
			w.Write([]byte(`{"results":[
				{"id":"101","properties":{"hs_timestamp":"2026-02-03T17:04:05.123Z","hs_call_duration":"185000",
				 "hs_call_disposition":"f240bbac-87c9-4f6e-bf70-924b57d47db7",
				 "hs_call_body":"<p>Talked to Jim &amp; Sue</p><p>they don't ship rail</p>",
				 "hs_body_preview":null,"hs_call_has_transcript":"true"}},
				{"id":"102","properties":{"hs_timestamp":"not-a-time"}}
			],"paging":{"next":{"after":"cursor-2"}}}`))
			return
		}
		assert.Equal(t, "cursor-2", req.After)
		w.Write([]byte(`{"results":[
			{"id":"103","properties":{"hs_timestamp":"2026-02-04T10:00:00Z","hs_call_summary":"Left a voicemail"}},
			{"id":"104","properties":{"hs_timestamp":"2026-03-01T10:00:00Z"}}
		]}`))
	}))
	defer srv.Close()

	calls, err := newTestClient(srv).SearchCalls(context.Background(), CallQuery{OwnerID: "87407439", From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pages)
	require.Len(t, calls, 2)

	assert.Equal(t, "101", calls[0].ID)
	assert.Equal(t, 185000, calls[0].DurationMS)
	assert.Equal(t, "Talked to Jim & Sue they don't ship rail", calls[0].Body)
	assert.True(t, calls[0].HasTranscript)
	assert.Equal(t, time.Date(2026, 2, 3, 17, 4, 5, 123000000, time.UTC), calls[0].Timestamp)

	assert.Equal(t, "103", calls[1].ID)
	assert.Equal(t, "Left a voicemail", calls[1].Summary)
}

func TestSearchCalls_PageLimit(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"results":[{"id":"1","properties":{"hs_timestamp":"2026-02-03T17:00:00Z"}}],
			"paging":{"next":{"after":"again"}}}`))
	}))
	defer srv.Close()

	from := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	calls, err := newTestClient(srv, WithMaxPages(3)).SearchCalls(context.Background(),
		CallQuery{From: from, To: from.Add(7 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits)
	assert.Len(t, calls, 3)
}

func TestSearchCalls_RetriesRateLimit(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"status":"error","message":"secondly limit"}`))
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	calls, err := newTestClient(srv).SearchCalls(context.Background(), CallQuery{From: time.Now().Add(-time.Hour), To: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, calls)
	assert.Equal(t, int32(2), hits)
}

func TestSearchCalls_Unauthorized(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"expired token"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SearchCalls(context.Background(), CallQuery{From: time.Now().Add(-time.Hour), To: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), hits)
}

func TestCallParty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crm/v3/objects/calls/101/associations/contacts":
			w.Write([]byte(`{"results":[{"id":"c-1"}]}`))
		case "/crm/v3/objects/contacts/c-1":
			assert.Equal(t, "firstname,lastname,company", r.URL.Query().Get("properties"))
			w.Write([]byte(`{"id":"c-1","properties":{"firstname":"Dana","lastname":"Reyes","company":"Acme typed"}}`))
		case "/crm/v3/objects/contacts/c-1/associations/companies":
			w.Write([]byte(`{"results":[{"id":"9001"}]}`))
		case "/crm/v3/objects/companies/9001":
			w.Write([]byte(`{"id":"9001","properties":{"name":"Acme Rail Inc"}}`))
		case "/crm/v3/objects/calls/102/associations/contacts":
			w.Write([]byte(`{"results":[]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	p, err := c.CallParty(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, &Party{ContactID: "c-1", ContactName: "Dana Reyes", CompanyID: "9001", CompanyName: "Acme Rail Inc"}, p)

	empty, err := c.CallParty(context.Background(), "102")
	require.NoError(t, err)
	assert.Equal(t, &Party{}, empty)
}

func TestSearchDealsAndCompanies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crm/v3/objects/deals/search":
			w.Write([]byte(`{"results":[
				{"id":"d1","properties":{"dealname":"Acme pilot","amount":"12000.5","dealstage":"contractsent",
				 "closedate":"2026-04-01T00:00:00Z","pipeline":"default"}},
				{"id":"d2","properties":{"dealname":"Beta","amount":"","dealstage":"26949515"}}
			]}`))
		case "/crm/v4/associations/deals/companies/batch/read":
			var body struct {
				Inputs []batchInput `json:"inputs"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Inputs, 2)
			w.Write([]byte(`{"results":[{"from":{"id":"d1"},"to":[{"toObjectId":9001}]},{"from":{"id":"d2"},"to":[]}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	deals, err := c.SearchDeals(context.Background(), "83627643")
	require.NoError(t, err)
	require.Len(t, deals, 2)
	require.NotNil(t, deals[0].Amount)
	assert.InDelta(t, 12000.5, *deals[0].Amount, 0.001)
	require.NotNil(t, deals[0].CloseDate)
	assert.Nil(t, deals[1].Amount)
	assert.Nil(t, deals[1].CloseDate)

	m, err := c.DealCompanies(context.Background(), []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "9001"}, m)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain", StripHTML("  plain "))
	assert.Equal(t, "a b", StripHTML("<div>a</div><br/>b"))
	assert.Equal(t, "R&D call", StripHTML("R&amp;D <b>call</b>"))
	assert.Equal(t, "", StripHTML(""))
}
