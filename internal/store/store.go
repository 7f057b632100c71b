// Package store persists the outbound-sales entity model in SQLite or
// Postgres behind a single interface.
package store

import (
	"context"
	"time"

	"github.com/sells-group/outbound-cli/internal/model"
)

// UpsertOutcome reports what an idempotent upsert did to the target row.
type UpsertOutcome int

const (
	Unchanged UpsertOutcome = iota
	Inserted
	Updated
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "unchanged"
}

// Touch is the company-side effect of one activity row: a touch on Channel
// at At, recorded once when the row is first linked to its company, and,
// when Status is set, a promotion to that status whenever the upsert
// changes a linked row.
type Touch struct {
	Channel model.Channel
	At      time.Time
	Status  model.CompanyStatus
}

// LinkResult reports what an activity upsert with touch did.
type LinkResult struct {
	Outcome   UpsertOutcome
	CompanyID int64 // company touched or promoted, zero for none
	// Linked is true when the row gained its company link in this upsert,
	// either on insert or when a stored row's company went from unset to
	// set. The touch is recorded exactly then.
	Linked    bool
	Promoted  bool
	From      model.CompanyStatus // status before promotion
}

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// CompanyFilter narrows ListCompanies.
type CompanyFilter struct {
	Status model.CompanyStatus
	Limit  int
}

// SnapshotFilter narrows ListWeeklySnapshots. Zero weeks are unbounded.
type SnapshotFilter struct {
	Channel  model.Channel
	FromWeek int
	ToWeek   int
}

// InsightFilter narrows ListInsights.
type InsightFilter struct {
	Date     *time.Time
	OpenOnly bool
	Limit    int
}

// CompanyStore holds companies and their contacts.
type CompanyStore interface {
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	FindCompanyByCRMID(ctx context.Context, crmID string) (*model.Company, error)
	FindCompaniesByNameKey(ctx context.Context, key string) ([]model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	SetCompanyCRMID(ctx context.Context, id int64, crmID string) error
	SetCompanyStatus(ctx context.Context, id int64, status model.CompanyStatus) error
	RecordTouch(ctx context.Context, id int64, ch model.Channel, at time.Time) error
	UpdateCompanyCRM(ctx context.Context, id int64, f model.CRMFields) error
	ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error)
	CompanyExists(ctx context.Context, id int64) (bool, error)
	UpsertContact(ctx context.Context, c *model.Contact) (UpsertOutcome, error)
}

// ActivityStore holds per-channel activity rows.
type ActivityStore interface {
	UpsertCall(ctx context.Context, c *model.Call) (UpsertOutcome, error)
	// UpsertCallWithTouch upserts c and applies t to the call's company in
	// the same transaction.
	UpsertCallWithTouch(ctx context.Context, c *model.Call, t Touch) (LinkResult, error)
	GetCallByExternalID(ctx context.Context, externalID string) (*model.Call, error)
	ListCalls(ctx context.Context, r TimeRange) ([]model.Call, error)
	ListCallsWithoutIntel(ctx context.Context, since time.Time, limit int) ([]model.Call, error)
	CallExists(ctx context.Context, id int64) (bool, error)

	UpsertCallIntel(ctx context.Context, ci *model.CallIntel) error
	ListCallIntel(ctx context.Context, since time.Time) ([]model.CallIntel, error)

	UpsertEmailSnapshots(ctx context.Context, snaps []model.EmailSequence) (int64, error)
	ListEmailSnapshots(ctx context.Context, before time.Time) ([]model.EmailSequence, error)

	UpsertInMail(ctx context.Context, m *model.InMail) (UpsertOutcome, error)
	UpsertInMailWithTouch(ctx context.Context, m *model.InMail, t Touch) (LinkResult, error)
	ListInMails(ctx context.Context, r TimeRange) ([]model.InMail, error)

	UpsertDeals(ctx context.Context, deals []model.Deal) (int64, error)
	ListDeals(ctx context.Context) ([]model.Deal, error)
}

// SnapshotStore holds weekly rollups.
type SnapshotStore interface {
	UpsertWeeklySnapshot(ctx context.Context, s *model.WeeklySnapshot) error
	GetWeeklySnapshot(ctx context.Context, week int, ch model.Channel) (*model.WeeklySnapshot, error)
	ListWeeklySnapshots(ctx context.Context, f SnapshotFilter) ([]model.WeeklySnapshot, error)
}

// InsightStore holds advisory output and experiments.
type InsightStore interface {
	ReplaceInsights(ctx context.Context, date time.Time, insights []model.Insight) (int, error)
	AppendInsights(ctx context.Context, insights []model.Insight) (int, error)
	ListInsights(ctx context.Context, f InsightFilter) ([]model.Insight, error)
	AcknowledgeInsight(ctx context.Context, id int64) error
	UpsertExperiment(ctx context.Context, e *model.Experiment) (UpsertOutcome, error)
	ListExperiments(ctx context.Context, status model.ExperimentStatus) ([]model.Experiment, error)
}

// RunStore holds the orchestrator run log and publication history.
type RunStore interface {
	StartRun(ctx context.Context, r *model.Run) error
	FinishRun(ctx context.Context, id string, status model.RunStatus, summary string) error
	RecordStageRun(ctx context.Context, sr *model.StageRun) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	ListStageRuns(ctx context.Context, runID string) ([]model.StageRun, error)
	LastStageSuccess(ctx context.Context, stage string) (*time.Time, error)
	LastPublication(ctx context.Context, artifact string) (*model.Publication, error)
	RecordPublication(ctx context.Context, p model.Publication) error
}

// Store is the full entity store.
type Store interface {
	CompanyStore
	ActivityStore
	SnapshotStore
	InsightStore
	RunStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// linkEffect returns the company an activity upsert affects and whether
// the row gained its link. ok is false when the company is untouched. A
// stored link wins over the incoming one.
func linkEffect(outcome UpsertOutcome, prior, incoming *int64) (id int64, linked, ok bool) {
	switch {
	case prior == nil && incoming != nil:
		return *incoming, true, true
	case prior != nil && outcome != Unchanged:
		return *prior, false, true
	}
	return 0, false, false
}

// dateOnly strips the clock from t, keeping its calendar date in its own
// location, and returns UTC midnight of that date.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
