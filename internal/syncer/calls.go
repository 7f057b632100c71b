package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/company"
	"github.com/sells-group/outbound-cli/internal/intel"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// CallRecord is a call as reported by the CRM, before categorization.
type CallRecord struct {
	ExternalID    string
	CalledAt      time.Time
	DurationSecs  int
	Disposition   string
	Category      string // explicit override; usually empty
	Notes         string
	Summary       string
	RecordingURL  string
	HasTranscript bool

	ContactName  string
	ContactCRMID string
	Company      company.Ref
}

// CallSource lists calls placed in [from, to).
type CallSource interface {
	Calls(ctx context.Context, from, to time.Time) ([]CallRecord, error)
}

// CallExtractor produces call intel from a stored call.
type CallExtractor interface {
	ExtractCall(ctx context.Context, c model.Call, companyName string) (*model.CallIntel, error)
	LogUsage(task string)
}

// CallSync is the CRM calls stage.
type CallSync struct {
	src      CallSource
	store    store.Store
	resolver *company.Resolver
	cal      *model.Calendar
	lookback time.Duration
	intel    CallExtractor
	maxIntel int
	now      Clock
	log      *zap.Logger
}

// CallOption configures a CallSync.
type CallOption func(*CallSync)

// WithLookback sets how far back each run re-reads calls.
func WithLookback(d time.Duration) CallOption {
	return func(s *CallSync) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithIntel enables intel extraction for up to limit calls per run.
func WithIntel(x CallExtractor, limit int) CallOption {
	return func(s *CallSync) {
		s.intel = x
		s.maxIntel = limit
	}
}

// WithCallClock overrides the clock.
func WithCallClock(c Clock) CallOption {
	return func(s *CallSync) { s.now = c }
}

// NewCallSync creates the calls stage.
func NewCallSync(src CallSource, st store.Store, cal *model.Calendar, opts ...CallOption) *CallSync {
	s := &CallSync{
		src:      src,
		store:    st,
		resolver: company.NewResolver(st),
		cal:      cal,
		lookback: 7 * 24 * time.Hour,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "sync.calls")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements the orchestrator stage contract.
func (s *CallSync) Name() string { return "calls" }

// Run syncs the lookback window.
func (s *CallSync) Run(ctx context.Context) (Result, error) {
	to := s.now()
	from := to.Add(-s.lookback)
	return s.Sync(ctx, from, to)
}

// Sync fetches calls in [from, to) and upserts them.
func (s *CallSync) Sync(ctx context.Context, from, to time.Time) (Result, error) {
	var res Result
	recs, err := s.src.Calls(ctx, from, to)
	if err != nil {
		return res, eris.Wrap(err, "sync calls: fetch")
	}
	res.Fetched = len(recs)

	var constraintErrs int
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "sync calls")
		}
		err := s.apply(ctx, r, &res)
		if err == nil {
			continue
		}
		if !store.IsConstraint(err) {
			return res, eris.Wrapf(err, "sync calls: call %s", r.ExternalID)
		}
		constraintErrs++
		res.Skipped++
		res.warnf(s.log, "call %s: %v", r.ExternalID, err)
	}

	if s.intel != nil && s.maxIntel > 0 {
		if err := s.extractIntel(ctx, from, &res); err != nil {
			return res, err
		}
	}

	s.log.Info("calls synced", res.LogFields()...)
	if constraintErrs > 0 {
		return res, eris.Errorf("sync calls: %d records violated store constraints", constraintErrs)
	}
	return res, nil
}

func (s *CallSync) apply(ctx context.Context, r CallRecord, res *Result) error {
	if r.ExternalID == "" || r.CalledAt.IsZero() {
		res.Skipped++
		res.warnf(s.log, "call %q: missing id or timestamp", r.ExternalID)
		return nil
	}

	c := &model.Call{
		ExternalID:    r.ExternalID,
		ContactName:   strings.TrimSpace(r.ContactName),
		Category:      Categorize(r),
		DurationSecs:  r.DurationSecs,
		Notes:         r.Notes,
		Summary:       r.Summary,
		RecordingURL:  r.RecordingURL,
		HasTranscript: r.HasTranscript,
		CalledAt:      r.CalledAt.UTC(),
		WeekNum:       s.cal.WeekNum(r.CalledAt),
	}
	if c.ContactName == "" {
		c.ContactName = "Unknown"
	}

	if r.Company.CRMID != "" || strings.TrimSpace(r.Company.Name) != "" {
		rsl, err := s.resolver.Resolve(ctx, r.Company, true)
		if err != nil {
			return err
		}
		switch rsl.Outcome {
		case company.Ambiguous:
			res.Ambiguous++
		case company.Created:
			res.count("companies_created")
		}
		c.CompanyID = rsl.ID()
	}

	touch := store.Touch{Channel: model.ChannelCalls, At: c.CalledAt}
	if status, ok := model.StatusForCategory(c.Category); ok {
		touch.Status = status
	}
	// Upsert, touch and promotion commit together, so a failed run leaves
	// the call unlinked and the next run touches it.
	lr, err := s.store.UpsertCallWithTouch(ctx, c, touch)
	if err != nil {
		return err
	}
	res.tally(lr.Outcome)
	res.link(s.log, lr, touch.Status)

	if r.ContactCRMID != "" {
		co, err := s.store.UpsertContact(ctx, &model.Contact{CRMID: r.ContactCRMID, Name: c.ContactName, CompanyID: c.CompanyID})
		if err != nil {
			return err
		}
		if co == store.Inserted {
			res.count("contacts_created")
		}
	}
	return nil
}

// intelScanLimit bounds how many intel-less calls are inspected per run.
const intelScanLimit = 1000

func (s *CallSync) extractIntel(ctx context.Context, since time.Time, res *Result) error {
	calls, err := s.store.ListCallsWithoutIntel(ctx, since, intelScanLimit)
	if err != nil {
		return eris.Wrap(err, "sync calls: list calls without intel")
	}
	defer s.intel.LogUsage("call_intel")

	done := 0
	for _, c := range calls {
		if done >= s.maxIntel {
			break
		}
		if !intel.Extractable(c) {
			continue
		}
		name := ""
		if c.CompanyID != nil {
			co, err := s.store.GetCompany(ctx, *c.CompanyID)
			if err != nil {
				return eris.Wrap(err, "sync calls: intel company")
			}
			name = co.Name
		}
		done++
		ci, err := s.intel.ExtractCall(ctx, c, name)
		if err != nil {
			res.warnf(s.log, "intel for call %s: %v", c.ExternalID, err)
			continue
		}
		if err := s.store.UpsertCallIntel(ctx, ci); err != nil {
			return eris.Wrapf(err, "sync calls: store intel for %s", c.ExternalID)
		}
		res.count("intel_extracted")
	}
	return nil
}
