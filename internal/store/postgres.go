package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/db"
	"github.com/sells-group/outbound-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to url and returns a store that owns the pool.
func NewPostgres(ctx context.Context, url string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, url, maxConns)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) exists(ctx context.Context, table string, id int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check %s %d", table, id)
	}
	return ok, nil
}

// returningOutcome reads the (id, inserted) pair an upsert RETURNING clause
// yields. No row means the conflict update was skipped as a no-op.
func returningOutcome(row pgx.Row, id *int64) (UpsertOutcome, bool, error) {
	var inserted bool
	err := row.Scan(id, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unchanged, false, nil
	}
	if err != nil {
		return Unchanged, false, err
	}
	if inserted {
		return Inserted, true, nil
	}
	return Updated, true, nil
}

// --- Companies ---

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	c, err := scanPGCompany(s.pool.QueryRow(ctx, `SELECT `+companyCols+` FROM companies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	return c, err
}

func (s *PostgresStore) FindCompanyByCRMID(ctx context.Context, crmID string) (*model.Company, error) {
	c, err := scanPGCompany(s.pool.QueryRow(ctx, `SELECT `+companyCols+` FROM companies WHERE crm_id = $1`, crmID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) FindCompaniesByNameKey(ctx context.Context, key string) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+companyCols+` FROM companies WHERE name_key = $1 ORDER BY id`, key)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find companies by name")
	}
	return collectPGCompanies(rows)
}

func (s *PostgresStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyCols+` FROM companies
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY id
		 LIMIT CASE WHEN $2 > 0 THEN $2 END`,
		string(f.Status), f.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	return collectPGCompanies(rows)
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if c.NameKey == "" {
		return eris.New("postgres: create company: name key required")
	}
	if c.Status == "" {
		c.Status = model.StatusProspect
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, name_key, crm_id, industry, status) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		c.Name, c.NameKey, nullStr(c.CRMID), nullStr(c.Industry), string(c.Status),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return classify(err, "postgres: create company")
	}
	if c.ChannelsTouched == nil {
		c.ChannelsTouched = []string{}
	}
	return nil
}

func (s *PostgresStore) SetCompanyCRMID(ctx context.Context, id int64, crmID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE companies SET crm_id = $1 WHERE id = $2`, crmID, id)
	if err != nil {
		return classify(err, "postgres: set company crm id")
	}
	return checkTag(tag.RowsAffected(), "company", id)
}

func (s *PostgresStore) SetCompanyStatus(ctx context.Context, id int64, status model.CompanyStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE companies SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return classify(err, "postgres: set company status")
	}
	return checkTag(tag.RowsAffected(), "company", id)
}

func (s *PostgresStore) RecordTouch(ctx context.Context, id int64, ch model.Channel, at time.Time) error {
	return recordPGTouch(ctx, s.pool, id, ch, at)
}

// pgConn is satisfied by db.Pool and pgx.Tx.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func recordPGTouch(ctx context.Context, conn pgConn, id int64, ch model.Channel, at time.Time) error {
	tag, err := conn.Exec(ctx,
		`UPDATE companies SET
			channels_touched = CASE WHEN $2::text = ANY(channels_touched) THEN channels_touched
				ELSE array_append(channels_touched, $2::text) END,
			total_touches = total_touches + 1,
			first_touch_at = LEAST(COALESCE(first_touch_at, $3), $3),
			last_touch_at = GREATEST(COALESCE(last_touch_at, $3), $3)
		 WHERE id = $1`,
		id, string(ch), at.UTC(),
	)
	if err != nil {
		return classify(err, "postgres: record touch")
	}
	return checkTag(tag.RowsAffected(), "company", id)
}

// applyPGTouch records t on company id inside tx when linked is set and
// promotes the company when t.Status is an upgrade.
func applyPGTouch(ctx context.Context, tx pgx.Tx, id int64, linked bool, t Touch, res *LinkResult) error {
	res.CompanyID = id
	if linked {
		if err := recordPGTouch(ctx, tx, id, t.Channel, t.At); err != nil {
			return err
		}
		res.Linked = true
	}
	if t.Status == "" {
		return nil
	}
	var cur string
	if err := tx.QueryRow(ctx, `SELECT status FROM companies WHERE id = $1 FOR UPDATE`, id).Scan(&cur); err != nil {
		return eris.Wrapf(err, "postgres: read company %d status", id)
	}
	if !t.Status.Promotes(model.CompanyStatus(cur)) {
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE companies SET status = $1 WHERE id = $2`, string(t.Status), id); err != nil {
		return classify(err, "postgres: promote company")
	}
	res.Promoted, res.From = true, model.CompanyStatus(cur)
	return nil
}

// priorLink reads the company link of an existing activity row, locking
// the row for the rest of tx. A missing row reads as unlinked.
func priorLink(ctx context.Context, tx pgx.Tx, query, key string) (*int64, error) {
	var company *int64
	err := tx.QueryRow(ctx, query, key).Scan(&company)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup activity link")
	}
	return company, nil
}

func (s *PostgresStore) UpdateCompanyCRM(ctx context.Context, id int64, f model.CRMFields) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET current_provider = $1, commodities = $2, renewal_date = $3, next_action = $4,
			next_action_date = $5, notes = $6, contact_name = $7, contact_role = $8
		 WHERE id = $9`,
		nullStr(f.CurrentProvider), nullStr(f.Commodities), pgDatePtr(f.RenewalDate), nullStr(f.NextAction),
		pgDatePtr(f.NextActionDate), nullStr(f.Notes), nullStr(f.ContactName), nullStr(f.ContactRole), id,
	)
	if err != nil {
		return classify(err, "postgres: update company crm fields")
	}
	return checkTag(tag.RowsAffected(), "company", id)
}

func (s *PostgresStore) CompanyExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "companies", id)
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c *model.Contact) (UpsertOutcome, error) {
	if c.CRMID == "" {
		return Unchanged, eris.New("postgres: upsert contact: crm id required")
	}
	outcome, ok, err := returningOutcome(s.pool.QueryRow(ctx,
		`INSERT INTO contacts (company_id, crm_id, name, title, email, phone, linkedin_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (crm_id) DO UPDATE SET
			company_id = COALESCE(EXCLUDED.company_id, contacts.company_id),
			name = EXCLUDED.name, title = EXCLUDED.title, email = EXCLUDED.email,
			phone = EXCLUDED.phone, linkedin_url = EXCLUDED.linkedin_url
		 WHERE (EXCLUDED.company_id IS NOT NULL AND contacts.company_id IS DISTINCT FROM EXCLUDED.company_id)
			OR (contacts.name, contacts.title, contacts.email, contacts.phone, contacts.linkedin_url)
			IS DISTINCT FROM (EXCLUDED.name, EXCLUDED.title, EXCLUDED.email, EXCLUDED.phone, EXCLUDED.linkedin_url)
		 RETURNING id, (xmax = 0)`,
		c.CompanyID, c.CRMID, c.Name, nullStr(c.Title), nullStr(c.Email), nullStr(c.Phone), nullStr(c.LinkedInURL),
	), &c.ID)
	if err != nil {
		return Unchanged, classify(err, "postgres: upsert contact")
	}
	if !ok {
		err = s.pool.QueryRow(ctx, `SELECT id FROM contacts WHERE crm_id = $1`, c.CRMID).Scan(&c.ID)
	}
	return outcome, eris.Wrap(err, "postgres: read contact id")
}

func collectPGCompanies(rows pgx.Rows) ([]model.Company, error) {
	defer rows.Close()
	var out []model.Company
	for rows.Next() {
		c, err := scanPGCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func scanPGCompany(row pgx.Row) (*model.Company, error) {
	var (
		c                                                         model.Company
		crmID, industry, provider, commodities, nextAction, notes *string
		contactName, contactRole                                  *string
	)
	err := row.Scan(&c.ID, &c.Name, &c.NameKey, &crmID, &industry, &c.Status, &c.ChannelsTouched, &c.TotalTouches,
		&c.FirstTouchAt, &c.LastTouchAt, &provider, &commodities, &c.CRM.RenewalDate, &nextAction,
		&c.CRM.NextActionDate, &notes, &contactName, &contactRole, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan company")
	}
	c.CRMID = deref(crmID)
	c.Industry = deref(industry)
	c.CRM.CurrentProvider = deref(provider)
	c.CRM.Commodities = deref(commodities)
	c.CRM.NextAction = deref(nextAction)
	c.CRM.Notes = deref(notes)
	c.CRM.ContactName = deref(contactName)
	c.CRM.ContactRole = deref(contactRole)
	if c.ChannelsTouched == nil {
		c.ChannelsTouched = []string{}
	}
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func checkTag(n int64, entity string, id any) error {
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}
