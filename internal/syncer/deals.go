package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// DealRecord is a CRM deal with its associated company, if any.
type DealRecord struct {
	ExternalID string
	Name       string
	Amount     *float64
	Stage      string
	CloseDate  *time.Time
	Pipeline   string
	OwnerID    string
	Company    company.Ref
}

// DealSource lists the deals of the configured owner.
type DealSource interface {
	Deals(ctx context.Context) ([]DealRecord, error)
}

// DefaultStageLabels names the pipeline stages by id.
var DefaultStageLabels = map[string]string{
	"appointmentscheduled":  "Introductory Call",
	"decisionmakerboughtin": "Demo",
	"contractsent":          "Pilot",
	"30701462":              model.DealNurture,
	"32931384":              model.DealBacklog,
	"32383652":              "Qualified",
	"167386809":             "Proposal",
	"26949515":              model.DealClosedWon,
	"closedlost":            model.DealClosedLost,
}

// DealSync is the CRM deals stage. Deals only attach to companies that
// already exist; they never create one.
type DealSync struct {
	src      DealSource
	store    store.Store
	resolver *company.Resolver
	toucher  *company.Toucher
	labels   map[string]string
	log      *zap.Logger
}

// NewDealSync creates the deals stage. labels extend or override
// DefaultStageLabels.
func NewDealSync(src DealSource, st store.Store, labels map[string]string) *DealSync {
	merged := make(map[string]string, len(DefaultStageLabels)+len(labels))
	for k, v := range DefaultStageLabels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return &DealSync{
		src:      src,
		store:    st,
		resolver: company.NewResolver(st),
		toucher:  company.NewToucher(st),
		labels:   merged,
		log:      zap.L().With(zap.String("component", "sync.deals")),
	}
}

// Name implements the orchestrator stage contract.
func (s *DealSync) Name() string { return "deals" }

// StageLabel returns the display label of a stage id, or the id itself.
func (s *DealSync) StageLabel(stage string) string {
	if l, ok := s.labels[stage]; ok {
		return l
	}
	return stage
}

// Run upserts every deal and promotes linked companies.
func (s *DealSync) Run(ctx context.Context) (Result, error) {
	var res Result
	recs, err := s.src.Deals(ctx)
	if err != nil {
		return res, eris.Wrap(err, "sync deals: fetch")
	}
	res.Fetched = len(recs)

	deals := make([]model.Deal, 0, len(recs))
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.ExternalID == "" {
			res.Skipped++
			res.warnf(s.log, "deal %q: missing id", r.Name)
			continue
		}
		if seen[r.ExternalID] {
			res.Skipped++
			res.warnf(s.log, "deal %s: duplicate in batch", r.ExternalID)
			continue
		}
		seen[r.ExternalID] = true

		d := model.Deal{
			ExternalID:  r.ExternalID,
			Name:        strings.TrimSpace(r.Name),
			Amount:      r.Amount,
			Stage:       r.Stage,
			StageLabel:  s.StageLabel(r.Stage),
			CloseDate:   r.CloseDate,
			CompanyName: strings.TrimSpace(r.Company.Name),
			Pipeline:    r.Pipeline,
			OwnerID:     r.OwnerID,
		}
		if d.CompanyName == "" {
			d.CompanyName = d.Name
		}
		if r.Company.CRMID != "" || strings.TrimSpace(r.Company.Name) != "" {
			rsl, err := s.resolver.Resolve(ctx, r.Company, false)
			if err != nil {
				return res, eris.Wrapf(err, "sync deals: resolve %s", r.ExternalID)
			}
			switch rsl.Outcome {
			case company.Ambiguous:
				res.Ambiguous++
			case company.NoMatch:
				res.count("unmatched")
			}
			d.CompanyID = rsl.ID()
		}
		deals = append(deals, d)
	}

	written, n, err := upsertRows(ctx, deals, s.store.UpsertDeals,
		func(d model.Deal) string { return "deal " + d.ExternalID }, &res, s.log)
	if err != nil {
		return res, eris.Wrap(err, "sync deals: store")
	}
	res.Inserted = int(n)
	rejected := len(deals) - len(written)

	for _, d := range written {
		if d.CompanyID == nil {
			continue
		}
		status, ok := model.StatusForDealStage(d.StageLabel)
		if !ok {
			continue
		}
		promoted, err := s.toucher.Promote(ctx, *d.CompanyID, status)
		if err != nil {
			return res, eris.Wrapf(err, "sync deals: promote for %s", d.ExternalID)
		}
		if promoted {
			res.count("promoted")
		}
	}

	s.log.Info("deals synced", res.LogFields()...)
	if rejected > 0 {
		return res, eris.Errorf("sync deals: %d records violated store constraints", rejected)
	}
	return res, nil
}
