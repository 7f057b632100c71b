package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
)

// --- Calls ---

// callUpsertSQL treats category, duration and timestamp as immutable;
// only late-arriving notes, summary, recording, transcript flag and a
// previously missing company reference are applied to an existing row.
const callUpsertSQL = `INSERT INTO calls (external_id, company_id, contact_name, category, duration_s, notes,
		summary, recording_url, has_transcript, called_at, week_num)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (external_id) DO UPDATE SET
		notes = COALESCE(excluded.notes, calls.notes),
		summary = COALESCE(excluded.summary, calls.summary),
		recording_url = COALESCE(excluded.recording_url, calls.recording_url),
		has_transcript = calls.has_transcript OR excluded.has_transcript,
		company_id = COALESCE(calls.company_id, excluded.company_id)
	WHERE (excluded.notes IS NOT NULL AND excluded.notes IS NOT calls.notes)
		OR (excluded.summary IS NOT NULL AND excluded.summary IS NOT calls.summary)
		OR (excluded.recording_url IS NOT NULL AND excluded.recording_url IS NOT calls.recording_url)
		OR (excluded.has_transcript AND NOT calls.has_transcript)
		OR (calls.company_id IS NULL AND excluded.company_id IS NOT NULL)`

const callCols = `id, external_id, company_id, contact_name, category, duration_s, notes, summary,
	recording_url, has_transcript, called_at, week_num, created_at`

func (s *SQLiteStore) UpsertCall(ctx context.Context, c *model.Call) (UpsertOutcome, error) {
	var outcome UpsertOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		outcome, _, err = upsertSQLiteCall(ctx, tx, c)
		return err
	})
	return outcome, err
}

func (s *SQLiteStore) UpsertCallWithTouch(ctx context.Context, c *model.Call, t Touch) (LinkResult, error) {
	var res LinkResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			prior *int64
			err   error
		)
		if res.Outcome, prior, err = upsertSQLiteCall(ctx, tx, c); err != nil {
			return err
		}
		id, linked, ok := linkEffect(res.Outcome, prior, c.CompanyID)
		if !ok {
			return nil
		}
		return applySQLiteTouch(ctx, tx, id, linked, t, &res)
	})
	if err != nil {
		return LinkResult{}, err
	}
	return res, nil
}

// upsertSQLiteCall upserts c inside tx and returns the row's company link
// as it was before the upsert.
func upsertSQLiteCall(ctx context.Context, tx *sql.Tx, c *model.Call) (UpsertOutcome, *int64, error) {
	var (
		existing int64
		company  sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `SELECT id, company_id FROM calls WHERE external_id = ?`, c.ExternalID).
		Scan(&existing, &company)
	if err != nil && err != sql.ErrNoRows {
		return Unchanged, nil, eris.Wrap(err, "sqlite: lookup call")
	}
	found := err == nil
	prior := idPtr(company)

	res, err := tx.ExecContext(ctx, callUpsertSQL,
		c.ExternalID, nullID(c.CompanyID), nullStr(c.ContactName), c.Category, c.DurationSecs, nullStr(c.Notes),
		nullStr(c.Summary), nullStr(c.RecordingURL), c.HasTranscript, tsArg(c.CalledAt), c.WeekNum,
	)
	if err != nil {
		return Unchanged, nil, classify(err, "sqlite: upsert call")
	}
	outcome := Unchanged
	n, _ := res.RowsAffected()
	switch {
	case !found:
		outcome = Inserted
	case n > 0:
		outcome = Updated
	}
	if found {
		c.ID = existing
		return outcome, prior, nil
	}
	err = tx.QueryRowContext(ctx, `SELECT id FROM calls WHERE external_id = ?`, c.ExternalID).Scan(&c.ID)
	return outcome, prior, eris.Wrap(err, "sqlite: read call id")
}

func (s *SQLiteStore) GetCallByExternalID(ctx context.Context, externalID string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callCols+` FROM calls WHERE external_id = ?`, externalID)
	c, err := scanSQLiteCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListCalls(ctx context.Context, r TimeRange) ([]model.Call, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callCols+` FROM calls WHERE called_at >= ? AND called_at < ? ORDER BY called_at, id`,
		tsArg(r.From), tsArg(r.To))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list calls")
	}
	return collectSQLiteCalls(rows)
}

func (s *SQLiteStore) ListCallsWithoutIntel(ctx context.Context, since time.Time, limit int) ([]model.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.external_id, c.company_id, c.contact_name, c.category, c.duration_s, c.notes, c.summary,
			c.recording_url, c.has_transcript, c.called_at, c.week_num, c.created_at
		 FROM calls c LEFT JOIN call_intel i ON i.call_id = c.id
		 WHERE i.id IS NULL AND c.summary IS NOT NULL AND c.summary <> '' AND c.called_at >= ?
		 ORDER BY c.called_at, c.id LIMIT ?`,
		tsArg(since), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list calls without intel")
	}
	return collectSQLiteCalls(rows)
}

func (s *SQLiteStore) CallExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "calls", id)
}

func collectSQLiteCalls(rows *sql.Rows) ([]model.Call, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.Call
	for rows.Next() {
		c, err := scanSQLiteCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate calls")
}

func scanSQLiteCall(row scannable) (*model.Call, error) {
	var (
		c                                  model.Call
		companyID                          sql.NullInt64
		contact, notes, summary, recording sql.NullString
		calledAt, created                  string
	)
	err := row.Scan(&c.ID, &c.ExternalID, &companyID, &contact, &c.Category, &c.DurationSecs, &notes, &summary,
		&recording, &c.HasTranscript, &calledAt, &c.WeekNum, &created)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan call")
	}
	c.CompanyID = idPtr(companyID)
	c.ContactName = contact.String
	c.Notes = notes.String
	c.Summary = summary.String
	c.RecordingURL = recording.String
	if c.CalledAt, err = parseTS(calledAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Call intel ---

func (s *SQLiteStore) UpsertCallIntel(ctx context.Context, ci *model.CallIntel) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO call_intel (call_id, company_id, interest_level, qualified, next_action, objection, competitor,
			commodities, referral_name, referral_role, key_quote)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET
			company_id = excluded.company_id, interest_level = excluded.interest_level,
			qualified = excluded.qualified, next_action = excluded.next_action, objection = excluded.objection,
			competitor = excluded.competitor, commodities = excluded.commodities,
			referral_name = excluded.referral_name, referral_role = excluded.referral_role,
			key_quote = excluded.key_quote, extracted_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 RETURNING id`,
		ci.CallID, nullID(ci.CompanyID), string(ci.InterestLevel), ci.Qualified, nullStr(ci.NextAction),
		nullStr(ci.Objection), nullStr(ci.Competitor), nullStr(ci.Commodities), nullStr(ci.ReferralName),
		nullStr(ci.ReferralRole), nullStr(ci.KeyQuote),
	).Scan(&ci.ID)
	return classify(err, "sqlite: upsert call intel")
}

func (s *SQLiteStore) ListCallIntel(ctx context.Context, since time.Time) ([]model.CallIntel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.call_id, i.company_id, i.interest_level, i.qualified, i.next_action, i.objection,
			i.competitor, i.commodities, i.referral_name, i.referral_role, i.key_quote, i.extracted_at, c.called_at
		 FROM call_intel i JOIN calls c ON c.id = i.call_id
		 WHERE c.called_at >= ?
		 ORDER BY c.called_at, i.id`,
		tsArg(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list call intel")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CallIntel
	for rows.Next() {
		var (
			ci                                       model.CallIntel
			companyID                                sql.NullInt64
			next, objection, competitor, commodities sql.NullString
			refName, refRole, quote                  sql.NullString
			extracted, calledAt                      string
		)
		if err := rows.Scan(&ci.ID, &ci.CallID, &companyID, &ci.InterestLevel, &ci.Qualified, &next, &objection,
			&competitor, &commodities, &refName, &refRole, &quote, &extracted, &calledAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call intel")
		}
		ci.CompanyID = idPtr(companyID)
		ci.NextAction = next.String
		ci.Objection = objection.String
		ci.Competitor = competitor.String
		ci.Commodities = commodities.String
		ci.ReferralName = refName.String
		ci.ReferralRole = refRole.String
		ci.KeyQuote = quote.String
		if ci.ExtractedAt, err = parseTS(extracted); err != nil {
			return nil, err
		}
		if ci.CalledAt, err = parseTS(calledAt); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate call intel")
}

// --- Email sequences ---

func (s *SQLiteStore) UpsertEmailSnapshots(ctx context.Context, snaps []model.EmailSequence) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range snaps {
			e := &snaps[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO email_sequences (sequence_id, name, status, sent, delivered, opened, replied, clicked,
					open_rate, reply_rate, click_rate, snapshot_date)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (sequence_id, snapshot_date) DO UPDATE SET
					name = excluded.name, status = excluded.status, sent = excluded.sent,
					delivered = excluded.delivered, opened = excluded.opened, replied = excluded.replied,
					clicked = excluded.clicked, open_rate = excluded.open_rate,
					reply_rate = excluded.reply_rate, click_rate = excluded.click_rate
				 WHERE email_sequences.name IS NOT excluded.name OR email_sequences.status IS NOT excluded.status
					OR email_sequences.sent <> excluded.sent OR email_sequences.delivered <> excluded.delivered
					OR email_sequences.opened <> excluded.opened OR email_sequences.replied <> excluded.replied
					OR email_sequences.clicked <> excluded.clicked`,
				e.SequenceID, e.Name, nullStr(e.Status), e.Sent, e.Delivered, e.Opened, e.Replied, e.Clicked,
				e.OpenRate, e.ReplyRate, e.ClickRate, dateArg(e.SnapshotDate),
			)
			if err != nil {
				return classify(err, "sqlite: upsert email snapshot "+e.SequenceID)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

func (s *SQLiteStore) ListEmailSnapshots(ctx context.Context, before time.Time) ([]model.EmailSequence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sequence_id, name, status, sent, delivered, opened, replied, clicked,
			open_rate, reply_rate, click_rate, snapshot_date, created_at
		 FROM email_sequences WHERE snapshot_date < ? ORDER BY sequence_id, snapshot_date`,
		dateArg(before))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list email snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EmailSequence
	for rows.Next() {
		var (
			e             model.EmailSequence
			status        sql.NullString
			date, created string
		)
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.Name, &status, &e.Sent, &e.Delivered, &e.Opened, &e.Replied,
			&e.Clicked, &e.OpenRate, &e.ReplyRate, &e.ClickRate, &date, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email snapshot")
		}
		e.Status = status.String
		if e.SnapshotDate, err = parseDate(date); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate email snapshots")
}

// --- InMails ---

// inmailUpsertSQL only moves replies forward: a reply flag never clears and
// a known sentiment or reply text is never erased by a sparser export.
const inmailUpsertSQL = `INSERT INTO inmails (external_key, company_id, contact_name, contact_title, company_name,
		sent_date, replied, reply_sentiment, reply_text, week_num)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (external_key) DO UPDATE SET
		company_id = COALESCE(inmails.company_id, excluded.company_id),
		contact_title = COALESCE(excluded.contact_title, inmails.contact_title),
		replied = inmails.replied OR excluded.replied,
		reply_sentiment = COALESCE(excluded.reply_sentiment, inmails.reply_sentiment),
		reply_text = COALESCE(excluded.reply_text, inmails.reply_text)
	WHERE (inmails.company_id IS NULL AND excluded.company_id IS NOT NULL)
		OR (excluded.contact_title IS NOT NULL AND excluded.contact_title IS NOT inmails.contact_title)
		OR (excluded.replied AND NOT inmails.replied)
		OR (excluded.reply_sentiment IS NOT NULL AND excluded.reply_sentiment IS NOT inmails.reply_sentiment)
		OR (excluded.reply_text IS NOT NULL AND excluded.reply_text IS NOT inmails.reply_text)`

func (s *SQLiteStore) UpsertInMail(ctx context.Context, m *model.InMail) (UpsertOutcome, error) {
	var outcome UpsertOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		outcome, _, err = upsertSQLiteInMail(ctx, tx, m)
		return err
	})
	return outcome, err
}

func (s *SQLiteStore) UpsertInMailWithTouch(ctx context.Context, m *model.InMail, t Touch) (LinkResult, error) {
	var res LinkResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			prior *int64
			err   error
		)
		if res.Outcome, prior, err = upsertSQLiteInMail(ctx, tx, m); err != nil {
			return err
		}
		id, linked, ok := linkEffect(res.Outcome, prior, m.CompanyID)
		if !ok {
			return nil
		}
		return applySQLiteTouch(ctx, tx, id, linked, t, &res)
	})
	if err != nil {
		return LinkResult{}, err
	}
	return res, nil
}

func upsertSQLiteInMail(ctx context.Context, tx *sql.Tx, m *model.InMail) (UpsertOutcome, *int64, error) {
	var (
		existing int64
		company  sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `SELECT id, company_id FROM inmails WHERE external_key = ?`, m.ExternalKey).
		Scan(&existing, &company)
	if err != nil && err != sql.ErrNoRows {
		return Unchanged, nil, eris.Wrap(err, "sqlite: lookup inmail")
	}
	found := err == nil
	prior := idPtr(company)

	res, err := tx.ExecContext(ctx, inmailUpsertSQL,
		m.ExternalKey, nullID(m.CompanyID), m.ContactName, nullStr(m.ContactTitle), m.CompanyName,
		dateArg(m.SentDate), m.Replied, nullStr(string(m.Sentiment)), nullStr(m.ReplyText), m.WeekNum,
	)
	if err != nil {
		return Unchanged, nil, classify(err, "sqlite: upsert inmail")
	}
	outcome := Unchanged
	n, _ := res.RowsAffected()
	switch {
	case !found:
		outcome = Inserted
	case n > 0:
		outcome = Updated
	}
	if found {
		m.ID = existing
		return outcome, prior, nil
	}
	err = tx.QueryRowContext(ctx, `SELECT id FROM inmails WHERE external_key = ?`, m.ExternalKey).Scan(&m.ID)
	return outcome, prior, eris.Wrap(err, "sqlite: read inmail id")
}

func (s *SQLiteStore) ListInMails(ctx context.Context, r TimeRange) ([]model.InMail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_key, company_id, contact_name, contact_title, company_name, sent_date, replied,
			reply_sentiment, reply_text, week_num, created_at
		 FROM inmails WHERE sent_date >= ? AND sent_date < ? ORDER BY sent_date, id`,
		dateArg(r.From), dateArg(r.To))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list inmails")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.InMail
	for rows.Next() {
		var (
			m                       model.InMail
			companyID               sql.NullInt64
			title, sentiment, reply sql.NullString
			sent, created           string
		)
		if err := rows.Scan(&m.ID, &m.ExternalKey, &companyID, &m.ContactName, &title, &m.CompanyName, &sent,
			&m.Replied, &sentiment, &reply, &m.WeekNum, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inmail")
		}
		m.CompanyID = idPtr(companyID)
		m.ContactTitle = title.String
		m.Sentiment = model.Sentiment(sentiment.String)
		m.ReplyText = reply.String
		if m.SentDate, err = parseDate(sent); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate inmails")
}

// --- Deals ---

func (s *SQLiteStore) UpsertDeals(ctx context.Context, deals []model.Deal) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range deals {
			d := &deals[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO deals (external_id, name, amount, stage, stage_label, close_date, company_id,
					company_name, pipeline, owner_id)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (external_id) DO UPDATE SET
					name = excluded.name, amount = excluded.amount, stage = excluded.stage,
					stage_label = excluded.stage_label, close_date = excluded.close_date,
					company_id = excluded.company_id, company_name = excluded.company_name,
					pipeline = excluded.pipeline, owner_id = excluded.owner_id
				 WHERE deals.name IS NOT excluded.name OR deals.amount IS NOT excluded.amount
					OR deals.stage IS NOT excluded.stage OR deals.stage_label IS NOT excluded.stage_label
					OR deals.close_date IS NOT excluded.close_date OR deals.company_id IS NOT excluded.company_id
					OR deals.company_name IS NOT excluded.company_name OR deals.pipeline IS NOT excluded.pipeline
					OR deals.owner_id IS NOT excluded.owner_id`,
				d.ExternalID, d.Name, d.Amount, nullStr(d.Stage), nullStr(d.StageLabel), datePtrArg(d.CloseDate),
				nullID(d.CompanyID), nullStr(d.CompanyName), nullStr(d.Pipeline), nullStr(d.OwnerID),
			)
			if err != nil {
				return classify(err, "sqlite: upsert deal "+d.ExternalID)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

func (s *SQLiteStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, name, amount, stage, stage_label, close_date, company_id, company_name,
			pipeline, owner_id, created_at, updated_at
		 FROM deals ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Deal
	for rows.Next() {
		var (
			d                                                   model.Deal
			amount                                              sql.NullFloat64
			companyID                                           sql.NullInt64
			stage, label, closeDate, companyName, pipeline, own sql.NullString
			created, updated                                    string
		)
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Name, &amount, &stage, &label, &closeDate, &companyID,
			&companyName, &pipeline, &own, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		if amount.Valid {
			v := amount.Float64
			d.Amount = &v
		}
		d.CompanyID = idPtr(companyID)
		d.Stage = stage.String
		d.StageLabel = label.String
		d.CompanyName = companyName.String
		d.Pipeline = pipeline.String
		d.OwnerID = own.String
		if d.CloseDate, err = parseDatePtr(closeDate); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		if d.UpdatedAt, err = parseTS(updated); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate deals")
}
