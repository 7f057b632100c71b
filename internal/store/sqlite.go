package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // driver

	"github.com/sells-group/outbound-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at path with WAL and foreign keys on.
// A single connection serializes all writes.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) exists(ctx context.Context, table string, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check %s %d", table, id)
	}
	return true, nil
}

// --- Companies ---

const companyCols = `id, name, name_key, crm_id, industry, status, channels_touched, total_touches,
	first_touch_at, last_touch_at, current_provider, commodities, renewal_date, next_action,
	next_action_date, notes, contact_name, contact_role, created_at, updated_at`

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyCols+` FROM companies WHERE id = ?`, id)
	c, err := scanSQLiteCompany(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	return c, err
}

func (s *SQLiteStore) FindCompanyByCRMID(ctx context.Context, crmID string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyCols+` FROM companies WHERE crm_id = ?`, crmID)
	c, err := scanSQLiteCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) FindCompaniesByNameKey(ctx context.Context, key string) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyCols+` FROM companies WHERE name_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find companies by name")
	}
	return collectSQLiteCompanies(rows)
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error) {
	q := `SELECT ` + companyCols + ` FROM companies`
	var args []any
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	return collectSQLiteCompanies(rows)
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if c.NameKey == "" {
		return eris.New("sqlite: create company: name key required")
	}
	if c.Status == "" {
		c.Status = model.StatusProspect
	}
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO companies (name, name_key, crm_id, industry, status) VALUES (?, ?, ?, ?, ?)
		 RETURNING id, created_at, updated_at`,
		c.Name, c.NameKey, nullStr(c.CRMID), nullStr(c.Industry), string(c.Status),
	).Scan(&c.ID, &created, &updated)
	if err != nil {
		return classify(err, "sqlite: create company")
	}
	if c.ChannelsTouched == nil {
		c.ChannelsTouched = []string{}
	}
	if c.CreatedAt, err = parseTS(created); err != nil {
		return err
	}
	c.UpdatedAt, err = parseTS(updated)
	return err
}

func (s *SQLiteStore) SetCompanyCRMID(ctx context.Context, id int64, crmID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET crm_id = ? WHERE id = ?`, crmID, id)
	if err != nil {
		return classify(err, "sqlite: set company crm id")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) SetCompanyStatus(ctx context.Context, id int64, status model.CompanyStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return classify(err, "sqlite: set company status")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) RecordTouch(ctx context.Context, id int64, ch model.Channel, at time.Time) error {
	return recordSQLiteTouch(ctx, s.db, id, ch, at)
}

// sqliteConn is satisfied by *sql.DB and *sql.Tx.
type sqliteConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func recordSQLiteTouch(ctx context.Context, conn sqliteConn, id int64, ch model.Channel, at time.Time) error {
	ts := tsArg(at)
	res, err := conn.ExecContext(ctx,
		`UPDATE companies SET
			channels_touched = CASE
				WHEN EXISTS (SELECT 1 FROM json_each(companies.channels_touched) WHERE value = ?)
				THEN channels_touched
				ELSE json_insert(channels_touched, '$[#]', ?) END,
			total_touches = total_touches + 1,
			first_touch_at = CASE WHEN first_touch_at IS NULL OR first_touch_at > ? THEN ? ELSE first_touch_at END,
			last_touch_at = CASE WHEN last_touch_at IS NULL OR last_touch_at < ? THEN ? ELSE last_touch_at END
		 WHERE id = ?`,
		string(ch), string(ch), ts, ts, ts, ts, id,
	)
	if err != nil {
		return classify(err, "sqlite: record touch")
	}
	return checkRowsAffected(res, "company", id)
}

// applySQLiteTouch records t on company id inside tx when linked is set
// and promotes the company when t.Status is an upgrade.
func applySQLiteTouch(ctx context.Context, tx *sql.Tx, id int64, linked bool, t Touch, res *LinkResult) error {
	res.CompanyID = id
	if linked {
		if err := recordSQLiteTouch(ctx, tx, id, t.Channel, t.At); err != nil {
			return err
		}
		res.Linked = true
	}
	if t.Status == "" {
		return nil
	}
	var cur string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM companies WHERE id = ?`, id).Scan(&cur); err != nil {
		return eris.Wrapf(err, "sqlite: read company %d status", id)
	}
	if !t.Status.Promotes(model.CompanyStatus(cur)) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE companies SET status = ? WHERE id = ?`, string(t.Status), id); err != nil {
		return classify(err, "sqlite: promote company")
	}
	res.Promoted, res.From = true, model.CompanyStatus(cur)
	return nil
}

func (s *SQLiteStore) UpdateCompanyCRM(ctx context.Context, id int64, f model.CRMFields) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET current_provider = ?, commodities = ?, renewal_date = ?, next_action = ?,
			next_action_date = ?, notes = ?, contact_name = ?, contact_role = ?
		 WHERE id = ?`,
		nullStr(f.CurrentProvider), nullStr(f.Commodities), datePtrArg(f.RenewalDate), nullStr(f.NextAction),
		datePtrArg(f.NextActionDate), nullStr(f.Notes), nullStr(f.ContactName), nullStr(f.ContactRole), id,
	)
	if err != nil {
		return classify(err, "sqlite: update company crm fields")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) CompanyExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "companies", id)
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, c *model.Contact) (UpsertOutcome, error) {
	if c.CRMID == "" {
		return Unchanged, eris.New("sqlite: upsert contact: crm id required")
	}
	outcome := Unchanged
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM contacts WHERE crm_id = ?`, c.CRMID).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return eris.Wrap(err, "sqlite: lookup contact")
		}
		found := err == nil

		res, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (company_id, crm_id, name, title, email, phone, linkedin_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (crm_id) DO UPDATE SET
				company_id = COALESCE(excluded.company_id, contacts.company_id),
				name = excluded.name, title = excluded.title, email = excluded.email,
				phone = excluded.phone, linkedin_url = excluded.linkedin_url
			 WHERE contacts.company_id IS NOT excluded.company_id AND excluded.company_id IS NOT NULL
				OR contacts.name IS NOT excluded.name OR contacts.title IS NOT excluded.title
				OR contacts.email IS NOT excluded.email OR contacts.phone IS NOT excluded.phone
				OR contacts.linkedin_url IS NOT excluded.linkedin_url`,
			nullID(c.CompanyID), c.CRMID, c.Name, nullStr(c.Title), nullStr(c.Email), nullStr(c.Phone), nullStr(c.LinkedInURL),
		)
		if err != nil {
			return classify(err, "sqlite: upsert contact")
		}
		n, _ := res.RowsAffected()
		switch {
		case !found:
			outcome = Inserted
		case n > 0:
			outcome = Updated
		}
		if found {
			c.ID = existing
			return nil
		}
		return eris.Wrap(tx.QueryRowContext(ctx, `SELECT id FROM contacts WHERE crm_id = ?`, c.CRMID).Scan(&c.ID), "sqlite: read contact id")
	})
	return outcome, err
}

func collectSQLiteCompanies(rows *sql.Rows) ([]model.Company, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.Company
	for rows.Next() {
		c, err := scanSQLiteCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func scanSQLiteCompany(row scannable) (*model.Company, error) {
	var (
		c                                                         model.Company
		crmID, industry, provider, commodities, nextAction, notes sql.NullString
		contactName, contactRole, first, last, renewal, nextDate  sql.NullString
		channels, created, updated                                string
	)
	err := row.Scan(&c.ID, &c.Name, &c.NameKey, &crmID, &industry, &c.Status, &channels, &c.TotalTouches,
		&first, &last, &provider, &commodities, &renewal, &nextAction,
		&nextDate, &notes, &contactName, &contactRole, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan company")
	}

	c.CRMID = crmID.String
	c.Industry = industry.String
	c.CRM = model.CRMFields{
		CurrentProvider: provider.String,
		Commodities:     commodities.String,
		NextAction:      nextAction.String,
		Notes:           notes.String,
		ContactName:     contactName.String,
		ContactRole:     contactRole.String,
	}
	if err := json.Unmarshal([]byte(channels), &c.ChannelsTouched); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal channels")
	}
	if c.FirstTouchAt, err = parseTSPtr(first); err != nil {
		return nil, err
	}
	if c.LastTouchAt, err = parseTSPtr(last); err != nil {
		return nil, err
	}
	if c.CRM.RenewalDate, err = parseDatePtr(renewal); err != nil {
		return nil, err
	}
	if c.CRM.NextActionDate, err = parseDatePtr(nextDate); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	return &c, nil
}
