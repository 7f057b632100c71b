package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig              `yaml:"store" mapstructure:"store"`
	Log       LogConfig                `yaml:"log" mapstructure:"log"`
	Campaign  CampaignConfig           `yaml:"campaign" mapstructure:"campaign"`
	Schedule  ScheduleConfig           `yaml:"schedule" mapstructure:"schedule"`
	Lock      LockConfig               `yaml:"lock" mapstructure:"lock"`
	HubSpot   HubSpotConfig            `yaml:"hubspot" mapstructure:"hubspot"`
	Apollo    ApolloConfig             `yaml:"apollo" mapstructure:"apollo"`
	LinkedIn  LinkedInConfig           `yaml:"linkedin" mapstructure:"linkedin"`
	Anthropic AnthropicConfig          `yaml:"anthropic" mapstructure:"anthropic"`
	Advisor   AdvisorConfig            `yaml:"advisor" mapstructure:"advisor"`
	Cadence   CadenceConfig            `yaml:"cadence" mapstructure:"cadence"`
	Report    ReportConfig             `yaml:"report" mapstructure:"report"`
	Publish   PublishConfig            `yaml:"publish" mapstructure:"publish"`
	Notify    NotifyConfig             `yaml:"notify" mapstructure:"notify"`
	Health    HealthConfig             `yaml:"health" mapstructure:"health"`
	Commands  map[string]CommandConfig `yaml:"commands" mapstructure:"commands"`
	Server    ServerConfig             `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CampaignConfig anchors campaign week numbering.
type CampaignConfig struct {
	StartDate string `yaml:"start_date" mapstructure:"start_date"`
	Timezone  string `yaml:"timezone" mapstructure:"timezone"`
}

// ScheduleConfig is the business-hours window and the stage plan.
type ScheduleConfig struct {
	Days      []string      `yaml:"days" mapstructure:"days"`
	StartHour int           `yaml:"start_hour" mapstructure:"start_hour"`
	EndHour   int           `yaml:"end_hour" mapstructure:"end_hour"`
	EveryRun  []string      `yaml:"every_run" mapstructure:"every_run"`
	Extra     []ExtraStages `yaml:"extra" mapstructure:"extra"`
}

// ExtraStages are appended to a run when its hour matches.
type ExtraStages struct {
	Name   string   `yaml:"name" mapstructure:"name"`
	Hours  []int    `yaml:"hours" mapstructure:"hours"`
	Stages []string `yaml:"stages" mapstructure:"stages"`
}

// LockConfig configures the run lock.
type LockConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// HubSpotConfig holds HubSpot CRM API settings.
type HubSpotConfig struct {
	Token        string            `yaml:"token" mapstructure:"token"`
	BaseURL      string            `yaml:"base_url" mapstructure:"base_url"`
	OwnerID      string            `yaml:"owner_id" mapstructure:"owner_id"`
	LookbackDays int               `yaml:"lookback_days" mapstructure:"lookback_days"`
	RatePerSec   float64           `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Concurrency  int               `yaml:"concurrency" mapstructure:"concurrency"`
	Pipeline     string            `yaml:"pipeline" mapstructure:"pipeline"`
	StageLabels  map[string]string `yaml:"stage_labels" mapstructure:"stage_labels"`
}

// ApolloConfig holds Apollo.io API settings.
type ApolloConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// LinkedInConfig locates the InMail export produced by the scraper.
type LinkedInConfig struct {
	ExportPath string `yaml:"export_path" mapstructure:"export_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxPerRun int    `yaml:"max_per_run" mapstructure:"max_per_run"`
}

// AdvisorConfig tunes the advisory rules.
type AdvisorConfig struct {
	MaxInsights       int     `yaml:"max_insights" mapstructure:"max_insights"`
	LookbackWeeks     int     `yaml:"lookback_weeks" mapstructure:"lookback_weeks"`
	ObjectionStreak   int     `yaml:"objection_streak" mapstructure:"objection_streak"`
	StaleMeetingDays  int     `yaml:"stale_meeting_days" mapstructure:"stale_meeting_days"`
	ContactRateDrop   float64 `yaml:"contact_rate_drop" mapstructure:"contact_rate_drop"`
	LowReplyRate      float64 `yaml:"low_reply_rate" mapstructure:"low_reply_rate"`
	MinEmailsForTrend int     `yaml:"min_emails_for_trend" mapstructure:"min_emails_for_trend"`
	Reset             bool    `yaml:"reset" mapstructure:"reset"`
}

// CadenceConfig tunes the daily call list.
type CadenceConfig struct {
	Path             string   `yaml:"path" mapstructure:"path"`
	CooldownDays     int      `yaml:"cooldown_days" mapstructure:"cooldown_days"` // business days
	MaxVoicemails    int      `yaml:"max_voicemails" mapstructure:"max_voicemails"`
	MaxNoAnswers     int      `yaml:"max_no_answers" mapstructure:"max_no_answers"`
	MaxAttempts      int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxContacts      int      `yaml:"max_contacts" mapstructure:"max_contacts"`
	DailyTarget      int      `yaml:"daily_target" mapstructure:"daily_target"`
	PerCompanyPerDay int      `yaml:"per_company_per_day" mapstructure:"per_company_per_day"`
	DoNotCall        []string `yaml:"do_not_call" mapstructure:"do_not_call"`
}

// ReportConfig configures the dashboard artifact.
type ReportConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Weeks int    `yaml:"weeks" mapstructure:"weeks"`
}

// PublishConfig configures pushing the dashboard artifact to a git remote.
type PublishConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	RepoDir string `yaml:"repo_dir" mapstructure:"repo_dir"`
	Remote  string `yaml:"remote" mapstructure:"remote"`
	Branch  string `yaml:"branch" mapstructure:"branch"`
}

// NotifyConfig holds the chat webhook for run digests and alerts.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// HealthConfig configures stage freshness checks.
type HealthConfig struct {
	StaleHours int      `yaml:"stale_hours" mapstructure:"stale_hours"`
	Stages     []string `yaml:"stages" mapstructure:"stages"`
}

// CommandConfig defines an external command run as a stage.
type CommandConfig struct {
	Args        []string `yaml:"args" mapstructure:"args"`
	Dir         string   `yaml:"dir" mapstructure:"dir"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the command timeout, defaulting to ten minutes.
func (c CommandConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	HealthEvery    time.Duration `yaml:"health_every" mapstructure:"health_every"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outbound.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("campaign.start_date", "2026-01-19")
	v.SetDefault("campaign.timezone", "America/Los_Angeles")
	v.SetDefault("schedule.days", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("schedule.start_hour", 7)
	v.SetDefault("schedule.end_hour", 19)
	v.SetDefault("schedule.every_run", []string{"calls", "email", "linkedin", "deals", "aggregate", "report", "publish"})
	v.SetDefault("schedule.extra", []map[string]any{
		{
			"name":   "morning",
			"hours":  []int{8},
			"stages": []string{"linkedin_scrape", "linkedin", "enrich", "calllist", "advise", "aggregate", "report", "publish", "notify"},
		},
		{
			"name":   "evening",
			"hours":  []int{17},
			"stages": []string{"advise", "report", "publish", "notify", "health"},
		},
	})
	v.SetDefault("lock.path", "/tmp/outbound-run.lock")
	v.SetDefault("commands", map[string]any{
		"linkedin_scrape": map[string]any{
			"args":         []string{"./bin/linkedin-scrape"},
			"timeout_secs": 900,
		},
	})
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.lookback_days", 7)
	v.SetDefault("hubspot.rate_per_sec", 8)
	v.SetDefault("hubspot.concurrency", 4)
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.rate_per_sec", 2)
	v.SetDefault("linkedin.export_path", "data/inmails.xlsx")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_per_run", 50)
	v.SetDefault("advisor.max_insights", 10)
	v.SetDefault("advisor.lookback_weeks", 4)
	v.SetDefault("advisor.objection_streak", 3)
	v.SetDefault("advisor.stale_meeting_days", 3)
	v.SetDefault("advisor.contact_rate_drop", 0.25)
	v.SetDefault("advisor.low_reply_rate", 0.01)
	v.SetDefault("advisor.min_emails_for_trend", 100)
	v.SetDefault("advisor.reset", true)
	v.SetDefault("cadence.path", "data/call_list.json")
	v.SetDefault("cadence.cooldown_days", 5)
	v.SetDefault("cadence.max_voicemails", 3)
	v.SetDefault("cadence.max_no_answers", 5)
	v.SetDefault("cadence.max_attempts", 4)
	v.SetDefault("cadence.max_contacts", 5)
	v.SetDefault("cadence.daily_target", 50)
	v.SetDefault("cadence.per_company_per_day", 3)
	v.SetDefault("report.path", "site/data/dashboard.json")
	v.SetDefault("report.weeks", 8)
	v.SetDefault("publish.remote", "origin")
	v.SetDefault("publish.branch", "main")
	v.SetDefault("health.stale_hours", 26)
	v.SetDefault("health.stages", []string{"calls", "email", "deals"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_every", "15m")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Weekdays parses the configured day names.
func (s ScheduleConfig) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(s.Days))
	for _, d := range s.Days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return nil, eris.Errorf("config: unknown weekday %q", d)
		}
		out = append(out, wd)
	}
	return out, nil
}

// Location loads the campaign timezone.
func (c CampaignConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Timezone)
	}
	return loc, nil
}

// Validate checks the settings a given command needs. mode is the cobra
// command name; unknown modes only get the common checks.
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if _, err := c.Campaign.Location(); err != nil {
		return err
	}
	if _, err := time.Parse(time.DateOnly, c.Campaign.StartDate); err != nil {
		return eris.Wrapf(err, "config: campaign.start_date %q", c.Campaign.StartDate)
	}

	switch mode {
	case "run", "plan":
		if mode == "run" && c.Lock.Path == "" {
			return eris.New("config: lock.path is required")
		}
		if _, err := c.Schedule.Weekdays(); err != nil {
			return err
		}
		if c.Schedule.StartHour < 0 || c.Schedule.EndHour > 24 || c.Schedule.StartHour >= c.Schedule.EndHour {
			return eris.Errorf("config: invalid business hours %d-%d", c.Schedule.StartHour, c.Schedule.EndHour)
		}
		for _, x := range c.Schedule.Extra {
			for _, h := range x.Hours {
				if h < 0 || h > 23 {
					return eris.Errorf("config: schedule extra %q has invalid hour %d", x.Name, h)
				}
			}
		}
	case "serve":
		if c.Server.Port <= 0 {
			return eris.Errorf("config: invalid server port %d", c.Server.Port)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
