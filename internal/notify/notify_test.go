package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
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

// webhook records every posted message.
type webhook struct {
	mu     sync.Mutex
	msgs   []Message
	status int
}

func (w *webhook) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var m Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		w.mu.Lock()
		w.msgs = append(w.msgs, m)
		status := w.status
		w.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		rw.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend(t *testing.T) {
	hook := &webhook{}
	srv := hook.server(t)

	sent, err := New(srv.URL).Send(context.Background(), Message{Text: "hello"})
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, hook.msgs, 1)
	assert.Equal(t, "hello", hook.msgs[0].Text)
}

func TestSend_ErrorStatus(t *testing.T) {
	hook := &webhook{status: http.StatusForbidden}
	srv := hook.server(t)

	sent, err := New(srv.URL).Send(context.Background(), Message{Text: "hello"})
	require.Error(t, err)
	assert.False(t, sent)
	assert.Contains(t, err.Error(), "403")
}

func TestSend_Disabled(t *testing.T) {
	sent, err := New("").Send(context.Background(), Message{Text: "hello"})
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSendAlerts(t *testing.T) {
	hook := &webhook{}
	srv := hook.server(t)

	n := New(srv.URL)
	got := n.SendAlerts(context.Background(), []Alert{
		{Type: "stale_stage", Severity: "high", Message: "calls has not succeeded in 30h"},
		{Type: "store_unreachable", Severity: "medium", Message: "ping failed"},
	})
	assert.Equal(t, 2, got)
	require.Len(t, hook.msgs, 2)
	assert.Equal(t, ":rotating_light: *stale stage* calls has not succeeded in 30h", hook.msgs[0].Text)
	assert.Contains(t, hook.msgs[1].Text, ":warning:")

	assert.Zero(t, New("").SendAlerts(context.Background(), []Alert{{Type: "x"}}))
}

func TestDigest_Run(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	cal, err := model.NewCalendar("2026-01-19", "America/Los_Angeles")
	require.NoError(t, err)
	now := time.Date(2026, 2, 11, 8, 30, 0, 0, cal.Location())
	today := cal.Date(now)

	require.NoError(t, st.UpsertWeeklySnapshot(ctx, &model.WeeklySnapshot{
		WeekNum: 4, Monday: cal.Monday(4), Channel: model.ChannelCalls,
		Calls: &model.CallMetrics{Dials: 60, HumanContacts: 9, HumanContactRate: 0.15, MeetingsBooked: 2},
	}))
	_, err = st.AppendInsights(ctx, []model.Insight{
		{Date: today, Type: model.InsightActionRequired, Severity: model.SeverityHigh, Title: "Reach Maria Lopez at Beta Foods"},
		{Date: today.AddDate(0, 0, -1), Type: model.InsightWin, Severity: model.SeverityLow, Title: "yesterday"},
	})
	require.NoError(t, err)

	hook := &webhook{}
	srv := hook.server(t)
	d := NewDigest(st, cal, New(srv.URL), WithDigestClock(func() time.Time { return now }))

	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, res.Insights)

	require.Len(t, hook.msgs, 1)
	text := hook.msgs[0].Text
	assert.Contains(t, text, "*Outbound digest Wed Feb 11* (week 4)")
	assert.Contains(t, text, "Calls: 60 dials, 9 human contacts (15.0%), 2 meetings")
	assert.Contains(t, text, "[action_required/high] Reach Maria Lopez at Beta Foods")
	assert.NotContains(t, text, "yesterday")
}

func TestFormatDigest_NoInsights(t *testing.T) {
	text := FormatDigest(time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), 4, nil, nil)
	assert.Equal(t, "*Outbound digest Mon Feb 9* (week 4)\nNo new insights today.", text)
}
