package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newServer(t *testing.T, st Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(st, time.UTC).Router(nil))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, newStore(t))
	var body map[string]string
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

type downStore struct{ Store }

func (downStore) Ping(context.Context) error { return errors.New("disk I/O error") }

func TestHealthz_StoreDown(t *testing.T) {
	srv := newServer(t, downStore{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.URL+"/healthz", nil))
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	run := &model.Run{Trigger: "schedule", Stages: []string{"calls", "report"}}
	require.NoError(t, st.StartRun(ctx, run))
	require.NoError(t, st.RecordStageRun(ctx, &model.StageRun{
		RunID: run.ID, Stage: "calls", Status: model.StageSucceeded,
		StartedAt: time.Now(), FinishedAt: time.Now(), Metrics: map[string]any{"fetched": 12},
	}))
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunCompleted, "1/1 stages succeeded"))
	srv := newServer(t, st)

	var runs []model.Run
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/runs?limit=5", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunCompleted, runs[0].Status)

	var detail struct {
		model.Run
		StageRuns []model.StageRun `json:"stage_runs"`
	}
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/runs/"+run.ID, &detail))
	assert.Equal(t, run.ID, detail.ID)
	require.Len(t, detail.StageRuns, 1)
	assert.Equal(t, "calls", detail.StageRuns[0].Stage)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/runs/nope", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/runs?limit=-1", nil))
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	for week := 1; week <= 3; week++ {
		monday := time.Date(2026, 1, 19+7*(week-1), 0, 0, 0, 0, time.UTC)
		require.NoError(t, st.UpsertWeeklySnapshot(ctx, &model.WeeklySnapshot{
			WeekNum: week, Monday: monday, Channel: model.ChannelCalls, Calls: &model.CallMetrics{Dials: week * 10},
		}))
		require.NoError(t, st.UpsertWeeklySnapshot(ctx, &model.WeeklySnapshot{
			WeekNum: week, Monday: monday, Channel: model.ChannelLinkedIn, LinkedIn: &model.LinkedInMetrics{Sent: week},
		}))
	}
	srv := newServer(t, st)

	var snaps []model.WeeklySnapshot
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/snapshots?limit=2", &snaps))
	require.Len(t, snaps, 4)
	assert.Equal(t, 2, snaps[0].WeekNum)
	assert.Equal(t, 3, snaps[3].WeekNum)

	snaps = nil
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/snapshots?channel=calls", &snaps))
	require.Len(t, snaps, 3)
	assert.Equal(t, 30, snaps[2].Calls.Dials)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/snapshots?channel=fax", nil))
}

func TestInsights_ListAndAck(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	day := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	_, err := st.AppendInsights(ctx, []model.Insight{
		{Date: day, Type: model.InsightActionRequired, Severity: model.SeverityHigh, Title: "Reach Maria Lopez at Beta Foods"},
		{Date: day, Type: model.InsightWin, Severity: model.SeverityLow, Title: "1 meeting booked in week 4"},
		{Date: day.AddDate(0, 0, -1), Type: model.InsightCoaching, Severity: model.SeverityMedium, Title: "older"},
	})
	require.NoError(t, err)
	srv := newServer(t, st)

	var insights []model.Insight
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/insights?date=2026-02-11", &insights))
	require.Len(t, insights, 2)
	first := insights[0]

	resp, err := http.Post(srv.URL+"/api/insights/"+strconv.FormatInt(first.ID, 10)+"/ack", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	insights = nil
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/insights?date=2026-02-11&open=true", &insights))
	require.Len(t, insights, 1)
	assert.Equal(t, "1 meeting booked in week 4", insights[0].Title)

	resp, err = http.Post(srv.URL+"/api/insights/9999/ack", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/insights?date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/insights?open=maybe", nil))
}

func TestCORS(t *testing.T) {
	srv := httptest.NewServer(New(newStore(t), time.UTC).Router([]string{"https://dash.example.com"}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLastWeeks(t *testing.T) {
	snaps := []model.WeeklySnapshot{{WeekNum: 1}, {WeekNum: 2}, {WeekNum: 2}, {WeekNum: 3}}
	got := lastWeeks(snaps, 2)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].WeekNum)
	assert.Empty(t, lastWeeks(nil, 3))
}
