// Package report renders the dashboard data file from the entity store.
// The output depends only on store contents, so an unchanged store renders
// byte-identical JSON.
package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

const maxOpenInsights = 50

// Store is the read surface the report needs.
type Store interface {
	ListWeeklySnapshots(ctx context.Context, f store.SnapshotFilter) ([]model.WeeklySnapshot, error)
	ListCompanies(ctx context.Context, f store.CompanyFilter) ([]model.Company, error)
	ListInsights(ctx context.Context, f store.InsightFilter) ([]model.Insight, error)
	ListExperiments(ctx context.Context, status model.ExperimentStatus) ([]model.Experiment, error)
	ListDeals(ctx context.Context) ([]model.Deal, error)
}

// Dashboard is the document served to the static dashboard.
type Dashboard struct {
	Campaign    Campaign         `json:"campaign"`
	LatestWeek  int              `json:"latest_week"`
	Overview    Overview         `json:"overview"`
	Weeks       []Week           `json:"weeks"`
	Insights    []InsightRow     `json:"insights"`
	Experiments []ExperimentRow  `json:"experiments"`
	Deals       map[string]Stage `json:"deals_by_stage"`
}

// Campaign identifies the week numbering.
type Campaign struct {
	StartDate string `json:"start_date"`
	Timezone  string `json:"timezone"`
}

// Overview is the headline block.
type Overview struct {
	TotalCompanies int            `json:"total_companies"`
	Pipeline       map[string]int `json:"pipeline"`
	ByChannel      map[string]int `json:"companies_by_channel"`
	ThisWeek       Headline       `json:"this_week"`
	LastWeek       Headline       `json:"last_week"`
	Deltas         Headline       `json:"wow_deltas"`
}

// Headline is the per-week scorecard.
type Headline struct {
	Week             int     `json:"week_num"`
	Dials            int     `json:"dials"`
	HumanContacts    int     `json:"human_contacts"`
	ContactRate      float64 `json:"contact_rate"`
	MeetingsBooked   int     `json:"meetings_booked"`
	EmailsSent       int     `json:"emails_sent"`
	EmailReplyRate   float64 `json:"email_reply_rate"`
	InMailsSent      int     `json:"inmails_sent"`
	InMailReplyRate  float64 `json:"inmail_reply_rate"`
	InMailInterested int     `json:"inmail_interested"`
}

// Week is one week's per-channel metrics.
type Week struct {
	Week     int                    `json:"week_num"`
	Monday   string                 `json:"monday"`
	Calls    *model.CallMetrics     `json:"calls,omitempty"`
	Email    *model.EmailMetrics    `json:"email,omitempty"`
	LinkedIn *model.LinkedInMetrics `json:"linkedin,omitempty"`
}

// InsightRow is an open insight with its company resolved to a name.
type InsightRow struct {
	ID          int64  `json:"id"`
	Date        string `json:"insight_date"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Channel     string `json:"channel,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// ExperimentRow is a tracked experiment.
type ExperimentRow struct {
	Name          string `json:"name"`
	Hypothesis    string `json:"hypothesis"`
	Channel       string `json:"channel,omitempty"`
	Status        string `json:"status"`
	Metric        string `json:"metric,omitempty"`
	StartDate     string `json:"start_date"`
	ResultSummary string `json:"result_summary,omitempty"`
	AutoDetected  bool   `json:"auto_detected"`
}

// Stage counts deals in one stage.
type Stage struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Generator builds and writes the dashboard.
type Generator struct {
	store    Store
	campaign config.CampaignConfig
	cfg      config.ReportConfig
	log      *zap.Logger
}

// New creates a Generator.
func New(st Store, campaign config.CampaignConfig, cfg config.ReportConfig) *Generator {
	if cfg.Weeks <= 0 {
		cfg.Weeks = 8
	}
	return &Generator{
		store:    st,
		campaign: campaign,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "report")),
	}
}

// Name implements the orchestrator stage contract.
func (g *Generator) Name() string { return "report" }

// Result describes a written report.
type Result struct {
	Path    string
	Bytes   int
	SHA256  string
	Changed bool // content differs from the file previously on disk
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	return map[string]any{
		"path":    r.Path,
		"bytes":   r.Bytes,
		"sha256":  r.SHA256,
		"changed": r.Changed,
	}
}

// Run renders the dashboard and writes it to the configured path.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	d, err := g.Build(ctx)
	if err != nil {
		return Result{}, err
	}
	data, err := Render(d)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: g.cfg.Path, Bytes: len(data), SHA256: Hash(data)}

	prev, err := os.ReadFile(g.cfg.Path)
	switch {
	case err == nil:
		res.Changed = !bytes.Equal(prev, data)
	case os.IsNotExist(err):
		res.Changed = true
	default:
		return res, eris.Wrapf(err, "report: read %s", g.cfg.Path)
	}
	if res.Changed {
		if err := writeAtomic(g.cfg.Path, data); err != nil {
			return res, err
		}
	}
	g.log.Info("report written",
		zap.String("path", res.Path),
		zap.Int("bytes", res.Bytes),
		zap.Bool("changed", res.Changed),
		zap.Int("latest_week", d.LatestWeek),
	)
	return res, nil
}

// Build assembles the dashboard from the store.
func (g *Generator) Build(ctx context.Context) (*Dashboard, error) {
	snaps, err := g.store.ListWeeklySnapshots(ctx, store.SnapshotFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "report: list snapshots")
	}
	companies, err := g.store.ListCompanies(ctx, store.CompanyFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "report: list companies")
	}
	insights, err := g.store.ListInsights(ctx, store.InsightFilter{OpenOnly: true, Limit: maxOpenInsights})
	if err != nil {
		return nil, eris.Wrap(err, "report: list insights")
	}
	experiments, err := g.store.ListExperiments(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "report: list experiments")
	}
	deals, err := g.store.ListDeals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: list deals")
	}

	d := &Dashboard{
		Campaign:    Campaign{StartDate: g.campaign.StartDate, Timezone: g.campaign.Timezone},
		Weeks:       []Week{},
		Insights:    []InsightRow{},
		Experiments: []ExperimentRow{},
		Deals:       map[string]Stage{},
	}
	d.Weeks = weeks(snaps, g.cfg.Weeks)
	if n := len(d.Weeks); n > 0 {
		d.LatestWeek = d.Weeks[n-1].Week
	}
	d.Overview = overview(companies, d.Weeks)

	names := make(map[int64]string, len(companies))
	for _, c := range companies {
		names[c.ID] = c.Name
	}
	for _, in := range insights {
		row := InsightRow{
			ID:       in.ID,
			Date:     in.Date.Format(time.DateOnly),
			Type:     string(in.Type),
			Severity: string(in.Severity),
			Title:    in.Title,
			Body:     in.Body,
			Channel:  in.Channel,
		}
		if in.CompanyID != nil {
			row.CompanyName = names[*in.CompanyID]
		}
		d.Insights = append(d.Insights, row)
	}
	for _, e := range experiments {
		d.Experiments = append(d.Experiments, ExperimentRow{
			Name:          e.Name,
			Hypothesis:    e.Hypothesis,
			Channel:       e.Channel,
			Status:        string(e.Status),
			Metric:        e.Metric,
			StartDate:     e.StartDate.Format(time.DateOnly),
			ResultSummary: e.ResultSummary,
			AutoDetected:  e.AutoDetected,
		})
	}
	for _, deal := range deals {
		label := deal.StageLabel
		if label == "" {
			label = deal.Stage
		}
		s := d.Deals[label]
		s.Count++
		if deal.Amount != nil {
			s.Amount = round(s.Amount+*deal.Amount, 2)
		}
		d.Deals[label] = s
	}
	return d, nil
}

// weeks folds per-channel snapshots into the last n weeks, oldest first.
func weeks(snaps []model.WeeklySnapshot, n int) []Week {
	byWeek := make(map[int]*Week)
	for _, s := range snaps {
		w, ok := byWeek[s.WeekNum]
		if !ok {
			w = &Week{Week: s.WeekNum, Monday: s.Monday.Format(time.DateOnly)}
			byWeek[s.WeekNum] = w
		}
		switch s.Channel {
		case model.ChannelCalls:
			w.Calls = s.Calls
		case model.ChannelEmail:
			w.Email = s.Email
		case model.ChannelLinkedIn:
			w.LinkedIn = s.LinkedIn
		}
	}
	nums := make([]int, 0, len(byWeek))
	for k := range byWeek {
		nums = append(nums, k)
	}
	sort.Ints(nums)
	if len(nums) > n {
		nums = nums[len(nums)-n:]
	}
	out := make([]Week, 0, len(nums))
	for _, k := range nums {
		out = append(out, *byWeek[k])
	}
	return out
}

func overview(companies []model.Company, ws []Week) Overview {
	o := Overview{
		TotalCompanies: len(companies),
		Pipeline:       make(map[string]int),
		ByChannel:      make(map[string]int),
	}
	for _, s := range model.AllStatuses {
		o.Pipeline[string(s)] = 0
	}
	for _, c := range companies {
		o.Pipeline[string(c.Status)]++
		for _, ch := range c.ChannelsTouched {
			o.ByChannel[ch]++
		}
	}
	if n := len(ws); n > 0 {
		o.ThisWeek = headline(ws[n-1])
		if n > 1 {
			o.LastWeek = headline(ws[n-2])
		}
	}
	o.Deltas = Headline{
		Week:             o.ThisWeek.Week,
		Dials:            o.ThisWeek.Dials - o.LastWeek.Dials,
		HumanContacts:    o.ThisWeek.HumanContacts - o.LastWeek.HumanContacts,
		ContactRate:      round(o.ThisWeek.ContactRate-o.LastWeek.ContactRate, 4),
		MeetingsBooked:   o.ThisWeek.MeetingsBooked - o.LastWeek.MeetingsBooked,
		EmailsSent:       o.ThisWeek.EmailsSent - o.LastWeek.EmailsSent,
		EmailReplyRate:   round(o.ThisWeek.EmailReplyRate-o.LastWeek.EmailReplyRate, 4),
		InMailsSent:      o.ThisWeek.InMailsSent - o.LastWeek.InMailsSent,
		InMailReplyRate:  round(o.ThisWeek.InMailReplyRate-o.LastWeek.InMailReplyRate, 4),
		InMailInterested: o.ThisWeek.InMailInterested - o.LastWeek.InMailInterested,
	}
	return o
}

func headline(w Week) Headline {
	h := Headline{Week: w.Week}
	if c := w.Calls; c != nil {
		h.Dials = c.Dials
		h.HumanContacts = c.HumanContacts
		h.ContactRate = round(c.HumanContactRate, 4)
		h.MeetingsBooked = c.MeetingsBooked
	}
	if e := w.Email; e != nil {
		h.EmailsSent = e.Sent
		h.EmailReplyRate = round(e.ReplyRate, 4)
	}
	if l := w.LinkedIn; l != nil {
		h.InMailsSent = l.Sent
		h.InMailReplyRate = round(l.ReplyRate, 4)
		h.InMailInterested = l.Interested
	}
	return h
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Render encodes d as indented JSON with a trailing newline.
func Render(d *Dashboard) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "report: encode dashboard")
	}
	return append(data, '\n'), nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "report: create output dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*.json")
	if err != nil {
		return eris.Wrap(err, "report: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "report: write temp file")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "report: chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "report: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "report: replace %s", path)
}
