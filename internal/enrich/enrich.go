// Package enrich folds extracted call intelligence up to the company level.
package enrich

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

const objectionNotePrefix = "objection: "

// Enricher writes intel-derived CRM fields onto companies.
type Enricher struct {
	store   store.Store
	toucher *company.Toucher
	dryRun  bool
	log     *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithDryRun computes changes without writing them.
func WithDryRun(v bool) Option {
	return func(e *Enricher) { e.dryRun = v }
}

// New creates an Enricher.
func New(st store.Store, opts ...Option) *Enricher {
	e := &Enricher{
		store:   st,
		toucher: company.NewToucher(st),
		log:     zap.L().With(zap.String("component", "enrich")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name implements the orchestrator stage contract.
func (e *Enricher) Name() string { return "enrich" }

// Change is the update planned for one company.
type Change struct {
	CompanyID int64
	Name      string
	Fields    []string
	CRM       model.CRMFields
	Status    model.CompanyStatus // empty when the status is unchanged
}

// Result summarizes one enrichment run.
type Result struct {
	Intel    int
	Updated  int
	Promoted int
	Changes  []Change
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	return map[string]any{
		"intel":    r.Intel,
		"updated":  r.Updated,
		"promoted": r.Promoted,
	}
}

// Run reads every intel record with a company, plans the CRM changes and
// applies them unless the enricher is in dry-run mode.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	intel, err := e.store.ListCallIntel(ctx, time.Time{})
	if err != nil {
		return Result{}, eris.Wrap(err, "enrich: list call intel")
	}
	companies, err := e.store.ListCompanies(ctx, store.CompanyFilter{})
	if err != nil {
		return Result{}, eris.Wrap(err, "enrich: list companies")
	}

	res := Result{Intel: len(intel)}
	res.Changes = Plan(companies, intel)
	if e.dryRun {
		e.log.Info("enrichment planned (dry run)", zap.Int("companies", len(res.Changes)))
		return res, nil
	}

	for _, ch := range res.Changes {
		if len(ch.Fields) > 0 {
			if err := e.store.UpdateCompanyCRM(ctx, ch.CompanyID, ch.CRM); err != nil {
				return res, eris.Wrapf(err, "enrich: update company %d", ch.CompanyID)
			}
			res.Updated++
			e.log.Debug("company enriched", zap.String("company", ch.Name), zap.Strings("fields", ch.Fields))
		}
		if ch.Status != "" {
			promoted, err := e.toucher.Promote(ctx, ch.CompanyID, ch.Status)
			if err != nil {
				return res, eris.Wrap(err, "enrich")
			}
			if promoted {
				res.Promoted++
			}
		}
	}

	e.log.Info("companies enriched",
		zap.Int("intel", res.Intel),
		zap.Int("updated", res.Updated),
		zap.Int("promoted", res.Promoted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Plan computes per-company changes from intel ordered oldest first.
// Companies without intel, or whose fields already match, produce no change.
func Plan(companies []model.Company, intel []model.CallIntel) []Change {
	byCompany := make(map[int64][]model.CallIntel)
	for _, ci := range intel {
		if ci.CompanyID != nil {
			byCompany[*ci.CompanyID] = append(byCompany[*ci.CompanyID], ci)
		}
	}

	var out []Change
	for _, c := range companies {
		records := byCompany[c.ID]
		if len(records) == 0 {
			continue
		}
		ch := fold(c, records)
		if len(ch.Fields) > 0 || ch.Status != "" {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out
}

func fold(c model.Company, records []model.CallIntel) Change {
	ch := Change{CompanyID: c.ID, Name: c.Name, CRM: c.CRM}
	set := func(field string, dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			ch.Fields = append(ch.Fields, field)
		}
	}

	set("current_provider", &ch.CRM.CurrentProvider, mostFrequentCompetitor(records))
	set("commodities", &ch.CRM.Commodities, mergeCommodities(records))

	latest := records[len(records)-1]
	set("next_action", &ch.CRM.NextAction, latest.NextAction)

	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ReferralName != "" {
			set("contact_name", &ch.CRM.ContactName, records[i].ReferralName)
			set("contact_role", &ch.CRM.ContactRole, records[i].ReferralRole)
			break
		}
	}

	// Manual notes win over the derived objection note.
	if obj := latestObjection(records); obj != "" {
		if c.CRM.Notes == "" || strings.HasPrefix(c.CRM.Notes, objectionNotePrefix) {
			set("notes", &ch.CRM.Notes, objectionNotePrefix+obj)
		}
	}

	var target model.CompanyStatus
	switch latest.InterestLevel {
	case model.InterestHigh:
		target = model.StatusInterested
	case model.InterestMedium, model.InterestLow:
		target = model.StatusContacted
	}
	if target != "" && target.Promotes(c.Status) {
		ch.Status = target
	}
	return ch
}

// mostFrequentCompetitor picks the competitor named most often, breaking
// ties in favor of the most recent mention.
func mostFrequentCompetitor(records []model.CallIntel) string {
	counts := make(map[string]int)
	lastSeen := make(map[string]int)
	for i, r := range records {
		name := strings.TrimSpace(r.Competitor)
		if name == "" {
			continue
		}
		counts[name]++
		lastSeen[name] = i
	}
	best := ""
	for name, n := range counts {
		switch {
		case best == "":
			best = name
		case n > counts[best]:
			best = name
		case n == counts[best] && lastSeen[name] > lastSeen[best]:
			best = name
		}
	}
	return best
}

// mergeCommodities returns the sorted union of comma-separated commodities.
func mergeCommodities(records []model.CallIntel) string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for _, part := range strings.Split(r.Commodities, ",") {
			if part = strings.TrimSpace(part); part != "" {
				seen[part] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return ""
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)
	return strings.Join(all, ", ")
}

// latestObjection returns the category of the most recent objection.
// "category: detail" objections keep only the category.
func latestObjection(records []model.CallIntel) string {
	for i := len(records) - 1; i >= 0; i-- {
		obj := strings.TrimSpace(records[i].Objection)
		if obj == "" {
			continue
		}
		if cat, _, ok := strings.Cut(obj, ":"); ok {
			return strings.TrimSpace(cat)
		}
		return obj
	}
	return ""
}
