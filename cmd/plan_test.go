package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/orchestrator"
)

func testSchedule(t *testing.T) (config.ScheduleConfig, *orchestrator.Registry) {
	t.Helper()
	reg := orchestrator.NewRegistry()
	for _, name := range []string{"calls", "aggregate", "report", "advise", "notify"} {
		require.NoError(t, reg.Register(orchestrator.Func(name, func(context.Context) (orchestrator.Metrics, error) {
			return nil, nil
		})))
	}
	sc := config.ScheduleConfig{
		Days:      []string{"mon", "tue", "wed", "thu", "fri"},
		StartHour: 7,
		EndHour:   19,
		EveryRun:  []string{"calls", "aggregate", "report"},
		Extra: []config.ExtraStages{
			{Name: "morning", Hours: []int{8}, Stages: []string{"advise", "notify"}},
		},
	}
	return sc, reg
}

func TestWritePlan(t *testing.T) {
	sc, reg := testSchedule(t)
	cal, err := model.NewCalendar("2026-01-19", "America/Los_Angeles")
	require.NoError(t, err)
	schedule, err := orchestrator.NewSchedule(sc, reg)
	require.NoError(t, err)
	guard, err := orchestrator.NewGuard(sc, cal.Location())
	require.NoError(t, err)

	at := time.Date(2026, 2, 11, 16, 30, 0, 0, time.UTC) // 08:30 Pacific
	var buf bytes.Buffer
	require.NoError(t, writePlan(&buf, sc, cal, schedule, guard, &at))

	var got planView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "America/Los_Angeles", got.Timezone)
	assert.Equal(t, "07:00-19:00", got.Hours)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, []string{"calls", "aggregate", "report"}, got.Entries[0].Stages)
	assert.Equal(t, []int{8}, got.Entries[1].Hours)

	require.NotNil(t, got.At)
	assert.True(t, got.At.InWindow)
	assert.Equal(t, 4, got.At.Week)
	assert.Equal(t, []string{"calls", "aggregate", "report", "advise", "notify"}, got.At.Stages)
}

func TestWritePlan_OutsideWindow(t *testing.T) {
	sc, reg := testSchedule(t)
	cal, err := model.NewCalendar("2026-01-19", "UTC")
	require.NoError(t, err)
	schedule, err := orchestrator.NewSchedule(sc, reg)
	require.NoError(t, err)
	guard, err := orchestrator.NewGuard(sc, cal.Location())
	require.NoError(t, err)

	at := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC) // Saturday
	var buf bytes.Buffer
	require.NoError(t, writePlan(&buf, sc, cal, schedule, guard, &at))

	var got planView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.NotNil(t, got.At)
	assert.False(t, got.At.InWindow)
	assert.Contains(t, got.At.Reason, "Saturday")
}

func TestHourRange(t *testing.T) {
	assert.Equal(t, "07:00-19:00", hourRange(7, 19))
	assert.Equal(t, "00:00-00:00", hourRange(0, 24))
}

func TestFormatWeek(t *testing.T) {
	cal, err := model.NewCalendar("2026-01-19", "America/Los_Angeles")
	require.NoError(t, err)

	var buf bytes.Buffer
	formatWeek(&buf, cal, time.Date(2026, 2, 11, 12, 0, 0, 0, cal.Location()))
	assert.Equal(t, "week 4: 2026-02-09 to 2026-02-15\n", buf.String())

	buf.Reset()
	formatWeek(&buf, cal, time.Date(2026, 1, 10, 12, 0, 0, 0, cal.Location()))
	assert.Contains(t, buf.String(), "before the campaign start")
}
