package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "outbound.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "2026-01-19", cfg.Campaign.StartDate)
	assert.Equal(t, "America/Los_Angeles", cfg.Campaign.Timezone)
	assert.Equal(t, []string{"mon", "tue", "wed", "thu", "fri"}, cfg.Schedule.Days)
	assert.Equal(t, 7, cfg.Schedule.StartHour)
	assert.Equal(t, 19, cfg.Schedule.EndHour)
	assert.Equal(t, []string{"calls", "email", "linkedin", "deals", "aggregate", "report", "publish"}, cfg.Schedule.EveryRun)
	require.Len(t, cfg.Schedule.Extra, 2)
	assert.Equal(t, []int{8}, cfg.Schedule.Extra[0].Hours)
	assert.Contains(t, cfg.Schedule.Extra[0].Stages, "advise")
	assert.Equal(t, []int{17}, cfg.Schedule.Extra[1].Hours)
	assert.Contains(t, cfg.Schedule.Extra[1].Stages, "health")
	assert.Equal(t, "https://api.hubapi.com", cfg.HubSpot.BaseURL)
	assert.Equal(t, 7, cfg.HubSpot.LookbackDays)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 10, cfg.Advisor.MaxInsights)
	assert.Equal(t, 3, cfg.Advisor.StaleMeetingDays)
	assert.InDelta(t, 0.25, cfg.Advisor.ContactRateDrop, 0.001)
	assert.True(t, cfg.Advisor.Reset)
	assert.Contains(t, cfg.Schedule.Extra[0].Stages, "calllist")
	assert.Equal(t, 5, cfg.Cadence.CooldownDays)
	assert.Equal(t, 50, cfg.Cadence.DailyTarget)
	assert.Empty(t, cfg.Cadence.DoNotCall)
	assert.Equal(t, 8, cfg.Report.Weeks)
	assert.False(t, cfg.Publish.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Server.HealthEvery)
	require.Contains(t, cfg.Commands, "linkedin_scrape")
	assert.Equal(t, 15*time.Minute, cfg.Commands["linkedin_scrape"].Timeout())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/outbound
log:
  level: debug
  format: console
schedule:
  days: [mon, wed]
  extra:
    - name: lunch
      hours: [12]
      stages: [advise]
commands:
  linkedin_scrape:
    args: [python3, scrape.py]
    timeout_secs: 300
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"mon", "wed"}, cfg.Schedule.Days)
	require.Len(t, cfg.Schedule.Extra, 1)
	assert.Equal(t, "lunch", cfg.Schedule.Extra[0].Name)
	assert.Equal(t, []int{12}, cfg.Schedule.Extra[0].Hours)

	cmd, ok := cfg.Commands["linkedin_scrape"]
	require.True(t, ok)
	assert.Equal(t, []string{"python3", "scrape.py"}, cmd.Args)
	assert.Equal(t, 5*time.Minute, cmd.Timeout())

	// Defaults still apply for unset values
	assert.Equal(t, 7, cfg.Schedule.StartHour)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
hubspot:
  owner_id: "111"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("OUTBOUND_HUBSPOT_OWNER_ID", "87407439")
	t.Setenv("OUTBOUND_HUBSPOT_TOKEN", "pat-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "87407439", cfg.HubSpot.OwnerID)
	assert.Equal(t, "pat-test", cfg.HubSpot.Token)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults run", mode: "run"},
		{name: "defaults serve", mode: "serve"},
		{name: "bad driver", mode: "sync", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "unknown store driver"},
		{name: "no database", mode: "sync", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "database_url"},
		{name: "bad timezone", mode: "sync", mutate: func(c *Config) { c.Campaign.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "bad start", mode: "sync", mutate: func(c *Config) { c.Campaign.StartDate = "19/01/2026" }, wantErr: "start_date"},
		{name: "run needs lock", mode: "run", mutate: func(c *Config) { c.Lock.Path = "" }, wantErr: "lock.path"},
		{name: "plan ignores lock", mode: "plan", mutate: func(c *Config) { c.Lock.Path = "" }},
		{name: "bad weekday", mode: "run", mutate: func(c *Config) { c.Schedule.Days = []string{"funday"} }, wantErr: "unknown weekday"},
		{name: "inverted hours", mode: "run", mutate: func(c *Config) { c.Schedule.StartHour = 19; c.Schedule.EndHour = 7 }, wantErr: "business hours"},
		{name: "extra hour out of range", mode: "run", mutate: func(c *Config) {
			c.Schedule.Extra = []ExtraStages{{Name: "x", Hours: []int{24}}}
		}, wantErr: "invalid hour"},
		{name: "bad port", mode: "serve", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWeekdays(t *testing.T) {
	s := ScheduleConfig{Days: []string{"Monday", " fri ", "SAT"}}
	days, err := s.Weekdays()
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday, time.Saturday}, days)
}

func TestCommandTimeoutDefault(t *testing.T) {
	assert.Equal(t, 10*time.Minute, CommandConfig{}.Timeout())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
