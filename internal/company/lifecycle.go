package company

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Toucher maintains the pipeline status of companies. Activity touches
// are recorded by the store together with the activity row.
type Toucher struct {
	store store.CompanyStore
	log   *zap.Logger
}

// NewToucher creates a Toucher.
func NewToucher(st store.CompanyStore) *Toucher {
	return &Toucher{store: st, log: zap.L().With(zap.String("component", "company"))}
}

// Promote raises the company status to status when that is an upgrade.
// It never downgrades and never leaves a terminal status. It reports
// whether the status changed.
func (t *Toucher) Promote(ctx context.Context, companyID int64, status model.CompanyStatus) (bool, error) {
	c, err := t.store.GetCompany(ctx, companyID)
	if err != nil {
		return false, eris.Wrap(err, "company: promote")
	}
	if !status.Promotes(c.Status) {
		return false, nil
	}
	if err := t.store.SetCompanyStatus(ctx, companyID, status); err != nil {
		return false, eris.Wrap(err, "company: promote")
	}
	t.log.Info("promoted company",
		zap.Int64("company_id", companyID),
		zap.String("from", string(c.Status)),
		zap.String("to", string(status)),
	)
	return true, nil
}
