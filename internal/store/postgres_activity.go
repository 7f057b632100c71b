package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/db"
	"github.com/sells-group/outbound-cli/internal/model"
)

// --- Calls ---

func (s *PostgresStore) UpsertCall(ctx context.Context, c *model.Call) (UpsertOutcome, error) {
	return upsertPGCall(ctx, s.pool, c)
}

func (s *PostgresStore) UpsertCallWithTouch(ctx context.Context, c *model.Call, t Touch) (LinkResult, error) {
	var res LinkResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		prior, err := priorLink(ctx, tx, `SELECT company_id FROM calls WHERE external_id = $1 FOR UPDATE`, c.ExternalID)
		if err != nil {
			return err
		}
		if res.Outcome, err = upsertPGCall(ctx, tx, c); err != nil {
			return err
		}
		id, linked, ok := linkEffect(res.Outcome, prior, c.CompanyID)
		if !ok {
			return nil
		}
		return applyPGTouch(ctx, tx, id, linked, t, &res)
	})
	if err != nil {
		return LinkResult{}, err
	}
	return res, nil
}

func upsertPGCall(ctx context.Context, conn pgConn, c *model.Call) (UpsertOutcome, error) {
	outcome, ok, err := returningOutcome(conn.QueryRow(ctx,
		`INSERT INTO calls (external_id, company_id, contact_name, category, duration_s, notes,
			summary, recording_url, has_transcript, called_at, week_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (external_id) DO UPDATE SET
			notes = COALESCE(EXCLUDED.notes, calls.notes),
			summary = COALESCE(EXCLUDED.summary, calls.summary),
			recording_url = COALESCE(EXCLUDED.recording_url, calls.recording_url),
			has_transcript = calls.has_transcript OR EXCLUDED.has_transcript,
			company_id = COALESCE(calls.company_id, EXCLUDED.company_id)
		 WHERE (EXCLUDED.notes IS NOT NULL AND EXCLUDED.notes IS DISTINCT FROM calls.notes)
			OR (EXCLUDED.summary IS NOT NULL AND EXCLUDED.summary IS DISTINCT FROM calls.summary)
			OR (EXCLUDED.recording_url IS NOT NULL AND EXCLUDED.recording_url IS DISTINCT FROM calls.recording_url)
			OR (EXCLUDED.has_transcript AND NOT calls.has_transcript)
			OR (calls.company_id IS NULL AND EXCLUDED.company_id IS NOT NULL)
		 RETURNING id, (xmax = 0)`,
		c.ExternalID, c.CompanyID, nullStr(c.ContactName), c.Category, c.DurationSecs, nullStr(c.Notes),
		nullStr(c.Summary), nullStr(c.RecordingURL), c.HasTranscript, c.CalledAt.UTC(), c.WeekNum,
	), &c.ID)
	if err != nil {
		return Unchanged, classify(err, "postgres: upsert call")
	}
	if !ok {
		err = conn.QueryRow(ctx, `SELECT id FROM calls WHERE external_id = $1`, c.ExternalID).Scan(&c.ID)
	}
	return outcome, eris.Wrap(err, "postgres: read call id")
}

func (s *PostgresStore) GetCallByExternalID(ctx context.Context, externalID string) (*model.Call, error) {
	c, err := scanPGCall(s.pool.QueryRow(ctx, `SELECT `+callCols+` FROM calls WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListCalls(ctx context.Context, r TimeRange) ([]model.Call, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+callCols+` FROM calls WHERE called_at >= $1 AND called_at < $2 ORDER BY called_at, id`,
		r.From.UTC(), r.To.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list calls")
	}
	return collectPGCalls(rows)
}

func (s *PostgresStore) ListCallsWithoutIntel(ctx context.Context, since time.Time, limit int) ([]model.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.external_id, c.company_id, c.contact_name, c.category, c.duration_s, c.notes, c.summary,
			c.recording_url, c.has_transcript, c.called_at, c.week_num, c.created_at
		 FROM calls c LEFT JOIN call_intel i ON i.call_id = c.id
		 WHERE i.id IS NULL AND c.summary IS NOT NULL AND c.summary <> '' AND c.called_at >= $1
		 ORDER BY c.called_at, c.id LIMIT $2`,
		since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list calls without intel")
	}
	return collectPGCalls(rows)
}

func (s *PostgresStore) CallExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "calls", id)
}

func collectPGCalls(rows pgx.Rows) ([]model.Call, error) {
	defer rows.Close()
	var out []model.Call
	for rows.Next() {
		c, err := scanPGCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate calls")
}

func scanPGCall(row pgx.Row) (*model.Call, error) {
	var (
		c                                  model.Call
		contact, notes, summary, recording *string
	)
	err := row.Scan(&c.ID, &c.ExternalID, &c.CompanyID, &contact, &c.Category, &c.DurationSecs, &notes, &summary,
		&recording, &c.HasTranscript, &c.CalledAt, &c.WeekNum, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan call")
	}
	c.ContactName = deref(contact)
	c.Notes = deref(notes)
	c.Summary = deref(summary)
	c.RecordingURL = deref(recording)
	return &c, nil
}

// --- Call intel ---

func (s *PostgresStore) UpsertCallIntel(ctx context.Context, ci *model.CallIntel) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO call_intel (call_id, company_id, interest_level, qualified, next_action, objection, competitor,
			commodities, referral_name, referral_role, key_quote)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (call_id) DO UPDATE SET
			company_id = EXCLUDED.company_id, interest_level = EXCLUDED.interest_level,
			qualified = EXCLUDED.qualified, next_action = EXCLUDED.next_action, objection = EXCLUDED.objection,
			competitor = EXCLUDED.competitor, commodities = EXCLUDED.commodities,
			referral_name = EXCLUDED.referral_name, referral_role = EXCLUDED.referral_role,
			key_quote = EXCLUDED.key_quote, extracted_at = now()
		 RETURNING id`,
		ci.CallID, ci.CompanyID, string(ci.InterestLevel), ci.Qualified, nullStr(ci.NextAction),
		nullStr(ci.Objection), nullStr(ci.Competitor), nullStr(ci.Commodities), nullStr(ci.ReferralName),
		nullStr(ci.ReferralRole), nullStr(ci.KeyQuote),
	).Scan(&ci.ID)
	return classify(err, "postgres: upsert call intel")
}

func (s *PostgresStore) ListCallIntel(ctx context.Context, since time.Time) ([]model.CallIntel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.call_id, i.company_id, i.interest_level, i.qualified, i.next_action, i.objection,
			i.competitor, i.commodities, i.referral_name, i.referral_role, i.key_quote, i.extracted_at, c.called_at
		 FROM call_intel i JOIN calls c ON c.id = i.call_id
		 WHERE c.called_at >= $1
		 ORDER BY c.called_at, i.id`,
		since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list call intel")
	}
	defer rows.Close()

	var out []model.CallIntel
	for rows.Next() {
		var (
			ci                                       model.CallIntel
			next, objection, competitor, commodities *string
			refName, refRole, quote                  *string
		)
		if err := rows.Scan(&ci.ID, &ci.CallID, &ci.CompanyID, &ci.InterestLevel, &ci.Qualified, &next, &objection,
			&competitor, &commodities, &refName, &refRole, &quote, &ci.ExtractedAt, &ci.CalledAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call intel")
		}
		ci.NextAction = deref(next)
		ci.Objection = deref(objection)
		ci.Competitor = deref(competitor)
		ci.Commodities = deref(commodities)
		ci.ReferralName = deref(refName)
		ci.ReferralRole = deref(refRole)
		ci.KeyQuote = deref(quote)
		out = append(out, ci)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate call intel")
}

// --- Email sequences ---

var emailSnapshotColumns = []string{
	"sequence_id", "name", "status", "sent", "delivered", "opened", "replied", "clicked",
	"open_rate", "reply_rate", "click_rate", "snapshot_date",
}

// UpsertEmailSnapshots stages the batch with COPY and merges it on
// (sequence_id, snapshot_date). Rows whose values are unchanged are skipped.
func (s *PostgresStore) UpsertEmailSnapshots(ctx context.Context, snaps []model.EmailSequence) (int64, error) {
	rows := make([][]any, 0, len(snaps))
	for _, e := range snaps {
		rows = append(rows, []any{
			e.SequenceID, e.Name, nullStr(e.Status), e.Sent, e.Delivered, e.Opened, e.Replied, e.Clicked,
			e.OpenRate, e.ReplyRate, e.ClickRate, dateOnly(e.SnapshotDate),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "email_sequences",
		Columns:      emailSnapshotColumns,
		ConflictKeys: []string{"sequence_id", "snapshot_date"},
	}, rows)
	return n, classify(err, "postgres: upsert email snapshots")
}

func (s *PostgresStore) ListEmailSnapshots(ctx context.Context, before time.Time) ([]model.EmailSequence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sequence_id, name, status, sent, delivered, opened, replied, clicked,
			open_rate, reply_rate, click_rate, snapshot_date, created_at
		 FROM email_sequences WHERE snapshot_date < $1 ORDER BY sequence_id, snapshot_date`,
		dateOnly(before))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list email snapshots")
	}
	defer rows.Close()

	var out []model.EmailSequence
	for rows.Next() {
		var (
			e      model.EmailSequence
			status *string
		)
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.Name, &status, &e.Sent, &e.Delivered, &e.Opened, &e.Replied,
			&e.Clicked, &e.OpenRate, &e.ReplyRate, &e.ClickRate, &e.SnapshotDate, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan email snapshot")
		}
		e.Status = deref(status)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate email snapshots")
}

// --- InMails ---

func (s *PostgresStore) UpsertInMail(ctx context.Context, m *model.InMail) (UpsertOutcome, error) {
	return upsertPGInMail(ctx, s.pool, m)
}

func (s *PostgresStore) UpsertInMailWithTouch(ctx context.Context, m *model.InMail, t Touch) (LinkResult, error) {
	var res LinkResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		prior, err := priorLink(ctx, tx, `SELECT company_id FROM inmails WHERE external_key = $1 FOR UPDATE`, m.ExternalKey)
		if err != nil {
			return err
		}
		if res.Outcome, err = upsertPGInMail(ctx, tx, m); err != nil {
			return err
		}
		id, linked, ok := linkEffect(res.Outcome, prior, m.CompanyID)
		if !ok {
			return nil
		}
		return applyPGTouch(ctx, tx, id, linked, t, &res)
	})
	if err != nil {
		return LinkResult{}, err
	}
	return res, nil
}

func upsertPGInMail(ctx context.Context, conn pgConn, m *model.InMail) (UpsertOutcome, error) {
	outcome, ok, err := returningOutcome(conn.QueryRow(ctx,
		`INSERT INTO inmails (external_key, company_id, contact_name, contact_title, company_name,
			sent_date, replied, reply_sentiment, reply_text, week_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (external_key) DO UPDATE SET
			company_id = COALESCE(inmails.company_id, EXCLUDED.company_id),
			contact_title = COALESCE(EXCLUDED.contact_title, inmails.contact_title),
			replied = inmails.replied OR EXCLUDED.replied,
			reply_sentiment = COALESCE(EXCLUDED.reply_sentiment, inmails.reply_sentiment),
			reply_text = COALESCE(EXCLUDED.reply_text, inmails.reply_text)
		 WHERE (inmails.company_id IS NULL AND EXCLUDED.company_id IS NOT NULL)
			OR (EXCLUDED.contact_title IS NOT NULL AND EXCLUDED.contact_title IS DISTINCT FROM inmails.contact_title)
			OR (EXCLUDED.replied AND NOT inmails.replied)
			OR (EXCLUDED.reply_sentiment IS NOT NULL AND EXCLUDED.reply_sentiment IS DISTINCT FROM inmails.reply_sentiment)
			OR (EXCLUDED.reply_text IS NOT NULL AND EXCLUDED.reply_text IS DISTINCT FROM inmails.reply_text)
		 RETURNING id, (xmax = 0)`,
		m.ExternalKey, m.CompanyID, m.ContactName, nullStr(m.ContactTitle), m.CompanyName,
		dateOnly(m.SentDate), m.Replied, nullStr(string(m.Sentiment)), nullStr(m.ReplyText), m.WeekNum,
	), &m.ID)
	if err != nil {
		return Unchanged, classify(err, "postgres: upsert inmail")
	}
	if !ok {
		err = conn.QueryRow(ctx, `SELECT id FROM inmails WHERE external_key = $1`, m.ExternalKey).Scan(&m.ID)
	}
	return outcome, eris.Wrap(err, "postgres: read inmail id")
}

func (s *PostgresStore) ListInMails(ctx context.Context, r TimeRange) ([]model.InMail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_key, company_id, contact_name, contact_title, company_name, sent_date, replied,
			reply_sentiment, reply_text, week_num, created_at
		 FROM inmails WHERE sent_date >= $1 AND sent_date < $2 ORDER BY sent_date, id`,
		dateOnly(r.From), dateOnly(r.To))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list inmails")
	}
	defer rows.Close()

	var out []model.InMail
	for rows.Next() {
		var (
			m                       model.InMail
			title, sentiment, reply *string
		)
		if err := rows.Scan(&m.ID, &m.ExternalKey, &m.CompanyID, &m.ContactName, &title, &m.CompanyName,
			&m.SentDate, &m.Replied, &sentiment, &reply, &m.WeekNum, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan inmail")
		}
		m.ContactTitle = deref(title)
		m.Sentiment = model.Sentiment(deref(sentiment))
		m.ReplyText = deref(reply)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate inmails")
}

// --- Deals ---

var dealColumns = []string{
	"external_id", "name", "amount", "stage", "stage_label", "close_date", "company_id",
	"company_name", "pipeline", "owner_id",
}

// UpsertDeals mirrors the CRM pipeline with one COPY-staged merge keyed on
// the deal's external id.
func (s *PostgresStore) UpsertDeals(ctx context.Context, deals []model.Deal) (int64, error) {
	rows := make([][]any, 0, len(deals))
	for _, d := range deals {
		rows = append(rows, []any{
			d.ExternalID, d.Name, d.Amount, nullStr(d.Stage), nullStr(d.StageLabel), pgDatePtr(d.CloseDate),
			d.CompanyID, nullStr(d.CompanyName), nullStr(d.Pipeline), nullStr(d.OwnerID),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "deals",
		Columns:      dealColumns,
		ConflictKeys: []string{"external_id"},
	}, rows)
	return n, classify(err, "postgres: upsert deals")
}

func (s *PostgresStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, name, amount, stage, stage_label, close_date, company_id, company_name,
			pipeline, owner_id, created_at, updated_at
		 FROM deals ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		var (
			d                                          model.Deal
			stage, label, companyName, pipeline, owner *string
		)
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Name, &d.Amount, &stage, &label, &d.CloseDate, &d.CompanyID,
			&companyName, &pipeline, &owner, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		d.Stage = deref(stage)
		d.StageLabel = deref(label)
		d.CompanyName = deref(companyName)
		d.Pipeline = deref(pipeline)
		d.OwnerID = deref(owner)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate deals")
}
