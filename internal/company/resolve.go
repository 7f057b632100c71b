// Package company resolves vendor company references to a single identity
// and maintains the touch and lifecycle fields of the company record.
package company

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

// Outcome is the result class of a resolution.
type Outcome int

const (
	NoMatch Outcome = iota
	Matched
	Created
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Created:
		return "created"
	case Ambiguous:
		return "ambiguous"
	}
	return "no_match"
}

// Ref is how a vendor record names a company.
type Ref struct {
	CRMID string
	Name  string
}

// Resolution is the outcome of Resolve. Company is set for Matched and
// Created.
type Resolution struct {
	Outcome Outcome
	Company *model.Company
}

// ID returns the resolved company id, or nil.
func (r Resolution) ID() *int64 {
	if r.Company == nil {
		return nil
	}
	id := r.Company.ID
	return &id
}

// Resolver handles company deduplication and identity resolution.
type Resolver struct {
	store store.CompanyStore
	log   *zap.Logger
}

// NewResolver creates a company resolver.
func NewResolver(st store.CompanyStore) *Resolver {
	return &Resolver{store: st, log: zap.L().With(zap.String("component", "company"))}
}

// Resolve looks up an existing company or, when create is set, creates one.
// Uses a two-pass cascade:
//  1. Exact CRM id match
//  2. Normalized name match, ignoring companies bound to another CRM id
//
// A name match with more than one candidate is Ambiguous and nothing is
// written.
func (r *Resolver) Resolve(ctx context.Context, ref Ref, create bool) (Resolution, error) {
	ref.CRMID = strings.TrimSpace(ref.CRMID)
	ref.Name = strings.TrimSpace(ref.Name)

	// Pass 1: CRM id.
	if ref.CRMID != "" {
		c, err := r.store.FindCompanyByCRMID(ctx, ref.CRMID)
		if err != nil {
			return Resolution{}, eris.Wrap(err, "company: resolve by crm id")
		}
		if c != nil {
			return Resolution{Outcome: Matched, Company: c}, nil
		}
	}

	key := NormalizeName(ref.Name)
	if key == "" {
		return Resolution{Outcome: NoMatch}, nil
	}

	// Pass 2: normalized name.
	found, err := r.store.FindCompaniesByNameKey(ctx, key)
	if err != nil {
		return Resolution{}, eris.Wrap(err, "company: resolve by name")
	}
	candidates := found[:0]
	for _, c := range found {
		if ref.CRMID != "" && c.CRMID != "" && c.CRMID != ref.CRMID {
			continue
		}
		candidates = append(candidates, c)
	}

	switch len(candidates) {
	case 0:
		if !create {
			return Resolution{Outcome: NoMatch}, nil
		}
		return r.create(ctx, ref, key)
	case 1:
		c := candidates[0]
		if ref.CRMID != "" && c.CRMID == "" {
			if err := r.store.SetCompanyCRMID(ctx, c.ID, ref.CRMID); err != nil {
				if !store.IsConstraint(err) {
					return Resolution{}, eris.Wrap(err, "company: backfill crm id")
				}
				r.log.Warn("crm id already bound elsewhere",
					zap.String("crm_id", ref.CRMID), zap.Int64("company_id", c.ID))
			} else {
				c.CRMID = ref.CRMID
			}
		}
		r.log.Debug("matched by name", zap.String("name_key", key), zap.Int64("company_id", c.ID))
		return Resolution{Outcome: Matched, Company: &c}, nil
	default:
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		r.log.Warn("ambiguous company name",
			zap.String("name", ref.Name), zap.String("name_key", key), zap.Int64s("candidates", ids))
		return Resolution{Outcome: Ambiguous}, nil
	}
}

func (r *Resolver) create(ctx context.Context, ref Ref, key string) (Resolution, error) {
	c := &model.Company{Name: ref.Name, NameKey: key, CRMID: ref.CRMID}
	if err := r.store.CreateCompany(ctx, c); err != nil {
		if ref.CRMID != "" && store.IsConstraint(err) {
			existing, ferr := r.store.FindCompanyByCRMID(ctx, ref.CRMID)
			if ferr == nil && existing != nil {
				return Resolution{Outcome: Matched, Company: existing}, nil
			}
		}
		return Resolution{}, eris.Wrapf(err, "company: create %q", ref.Name)
	}
	r.log.Info("created company",
		zap.String("name", c.Name), zap.String("crm_id", c.CRMID), zap.Int64("company_id", c.ID))
	return Resolution{Outcome: Created, Company: c}, nil
}
