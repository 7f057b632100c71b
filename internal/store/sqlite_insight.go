package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
)

// --- Weekly snapshots ---

const snapshotCols = `id, week_num, monday, channel, dials, human_contacts, human_contact_rate, meetings_booked,
	categories, emails_sent, emails_opened, email_open_rate, emails_replied, email_reply_rate,
	inmails_sent, inmails_replied, inmail_reply_rate, interested_count, created_at, updated_at`

func (s *SQLiteStore) UpsertWeeklySnapshot(ctx context.Context, snap *model.WeeklySnapshot) error {
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	args[1] = dateArg(snap.Monday)
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO weekly_snapshots (week_num, monday, channel, dials, human_contacts, human_contact_rate,
			meetings_booked, categories, emails_sent, emails_opened, email_open_rate, emails_replied,
			email_reply_rate, inmails_sent, inmails_replied, inmail_reply_rate, interested_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (week_num, channel) DO UPDATE SET
			monday = excluded.monday, dials = excluded.dials, human_contacts = excluded.human_contacts,
			human_contact_rate = excluded.human_contact_rate, meetings_booked = excluded.meetings_booked,
			categories = excluded.categories, emails_sent = excluded.emails_sent,
			emails_opened = excluded.emails_opened, email_open_rate = excluded.email_open_rate,
			emails_replied = excluded.emails_replied, email_reply_rate = excluded.email_reply_rate,
			inmails_sent = excluded.inmails_sent, inmails_replied = excluded.inmails_replied,
			inmail_reply_rate = excluded.inmail_reply_rate, interested_count = excluded.interested_count
		 RETURNING id`,
		args...,
	).Scan(&snap.ID)
	return classify(err, "sqlite: upsert weekly snapshot")
}

func (s *SQLiteStore) GetWeeklySnapshot(ctx context.Context, week int, ch model.Channel) (*model.WeeklySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM weekly_snapshots WHERE week_num = ? AND channel = ?`, week, string(ch))
	snap, err := scanSQLiteSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

func (s *SQLiteStore) ListWeeklySnapshots(ctx context.Context, f SnapshotFilter) ([]model.WeeklySnapshot, error) {
	q := `SELECT ` + snapshotCols + ` FROM weekly_snapshots WHERE 1 = 1`
	var args []any
	if f.Channel != "" {
		q += ` AND channel = ?`
		args = append(args, string(f.Channel))
	}
	if f.FromWeek != 0 {
		q += ` AND week_num >= ?`
		args = append(args, f.FromWeek)
	}
	if f.ToWeek != 0 {
		q += ` AND week_num <= ?`
		args = append(args, f.ToWeek)
	}
	q += ` ORDER BY week_num, channel`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list weekly snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WeeklySnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate weekly snapshots")
}

// snapshotArgs flattens a snapshot into insert arguments, leaving the
// columns of other channels NULL. Index 1 (monday) is set by the caller
// because the two backends encode dates differently.
func snapshotArgs(snap *model.WeeklySnapshot) ([]any, error) {
	args := make([]any, 17)
	args[0] = snap.WeekNum
	args[2] = string(snap.Channel)
	if m := snap.Calls; m != nil {
		cats := m.Categories
		if cats == nil {
			cats = map[string]int{}
		}
		b, err := json.Marshal(cats)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal categories")
		}
		args[3], args[4], args[5], args[6], args[7] = m.Dials, m.HumanContacts, m.HumanContactRate, m.MeetingsBooked, string(b)
	}
	if m := snap.Email; m != nil {
		args[8], args[9], args[10], args[11], args[12] = m.Sent, m.Opened, m.OpenRate, m.Replied, m.ReplyRate
	}
	if m := snap.LinkedIn; m != nil {
		args[13], args[14], args[15], args[16] = m.Sent, m.Replied, m.ReplyRate, m.Interested
	}
	return args, nil
}

// snapshotScan holds the nullable channel columns shared by both backends.
type snapshotScan struct {
	dials, humanContacts, meetings          sql.NullInt64
	hcr, openRate, replyRate, inmailRate    sql.NullFloat64
	emailsSent, emailsOpened, emailsReplied sql.NullInt64
	inmailsSent, inmailsReplied, interested sql.NullInt64
	categories                              []byte
}

func (v *snapshotScan) apply(snap *model.WeeklySnapshot) error {
	switch snap.Channel {
	case model.ChannelCalls:
		m := &model.CallMetrics{
			Dials:            int(v.dials.Int64),
			HumanContacts:    int(v.humanContacts.Int64),
			HumanContactRate: v.hcr.Float64,
			MeetingsBooked:   int(v.meetings.Int64),
			Categories:       map[string]int{},
		}
		if len(v.categories) > 0 {
			if err := json.Unmarshal(v.categories, &m.Categories); err != nil {
				return eris.Wrap(err, "store: unmarshal categories")
			}
		}
		snap.Calls = m
	case model.ChannelEmail:
		snap.Email = &model.EmailMetrics{
			Sent:      int(v.emailsSent.Int64),
			Opened:    int(v.emailsOpened.Int64),
			OpenRate:  v.openRate.Float64,
			Replied:   int(v.emailsReplied.Int64),
			ReplyRate: v.replyRate.Float64,
		}
	case model.ChannelLinkedIn:
		snap.LinkedIn = &model.LinkedInMetrics{
			Sent:       int(v.inmailsSent.Int64),
			Replied:    int(v.inmailsReplied.Int64),
			ReplyRate:  v.inmailRate.Float64,
			Interested: int(v.interested.Int64),
		}
	}
	return nil
}

func scanSQLiteSnapshot(row scannable) (*model.WeeklySnapshot, error) {
	var (
		snap                     model.WeeklySnapshot
		v                        snapshotScan
		categories               sql.NullString
		monday, created, updated string
	)
	err := row.Scan(&snap.ID, &snap.WeekNum, &monday, &snap.Channel, &v.dials, &v.humanContacts, &v.hcr, &v.meetings,
		&categories, &v.emailsSent, &v.emailsOpened, &v.openRate, &v.emailsReplied, &v.replyRate,
		&v.inmailsSent, &v.inmailsReplied, &v.inmailRate, &v.interested, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan weekly snapshot")
	}
	if categories.Valid {
		v.categories = []byte(categories.String)
	}
	if err := v.apply(&snap); err != nil {
		return nil, err
	}
	if snap.Monday, err = parseDate(monday); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if snap.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Insights ---

const insightInsertSQLite = `INSERT INTO insights (insight_date, type, severity, title, body, related_company_id,
		related_call_id, channel)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func insertSQLiteInsight(ctx context.Context, tx *sql.Tx, in *model.Insight) error {
	var created string
	err := tx.QueryRowContext(ctx, insightInsertSQLite+` RETURNING id, created_at`,
		dateArg(in.Date), string(in.Type), string(in.Severity), in.Title, in.Body,
		nullID(in.CompanyID), nullID(in.CallID), nullStr(in.Channel),
	).Scan(&in.ID, &created)
	if err != nil {
		return classify(err, "sqlite: insert insight")
	}
	in.CreatedAt, err = parseTS(created)
	return err
}

// ReplaceInsights deletes the unacknowledged insights for date and inserts
// the new set in one transaction. Insights whose title was already
// acknowledged that day are not recreated.
func (s *SQLiteStore) ReplaceInsights(ctx context.Context, date time.Time, insights []model.Insight) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		day := dateArg(date)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM insights WHERE insight_date = ? AND acknowledged = 0`, day); err != nil {
			return eris.Wrap(err, "sqlite: clear insights")
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT title FROM insights WHERE insight_date = ? AND acknowledged = 1`, day)
		if err != nil {
			return eris.Wrap(err, "sqlite: list acknowledged insights")
		}
		acked := make(map[string]bool)
		for rows.Next() {
			var title string
			if err := rows.Scan(&title); err != nil {
				rows.Close() //nolint:errcheck
				return eris.Wrap(err, "sqlite: scan acknowledged title")
			}
			acked[title] = true
		}
		rows.Close() //nolint:errcheck

		for i := range insights {
			in := &insights[i]
			if acked[in.Title] {
				continue
			}
			in.Date = date
			if err := insertSQLiteInsight(ctx, tx, in); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

func (s *SQLiteStore) AppendInsights(ctx context.Context, insights []model.Insight) (int, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range insights {
			if err := insertSQLiteInsight(ctx, tx, &insights[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(insights), nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, f InsightFilter) ([]model.Insight, error) {
	q := `SELECT id, insight_date, type, severity, title, body, related_company_id, related_call_id, channel,
		acknowledged, created_at FROM insights WHERE 1 = 1`
	var args []any
	if f.Date != nil {
		q += ` AND insight_date = ?`
		args = append(args, dateArg(*f.Date))
	}
	if f.OpenOnly {
		q += ` AND acknowledged = 0`
	}
	q += ` ORDER BY insight_date DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Insight
	for rows.Next() {
		var (
			in              model.Insight
			companyID, call sql.NullInt64
			channel         sql.NullString
			date, created   string
		)
		if err := rows.Scan(&in.ID, &date, &in.Type, &in.Severity, &in.Title, &in.Body, &companyID, &call,
			&channel, &in.Acknowledged, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		in.CompanyID = idPtr(companyID)
		in.CallID = idPtr(call)
		in.Channel = channel.String
		if in.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if in.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate insights")
}

func (s *SQLiteStore) AcknowledgeInsight(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE insights SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: acknowledge insight %d", id)
	}
	return checkRowsAffected(res, "insight", id)
}

// --- Experiments ---

// UpsertExperiment inserts an experiment by name, or refreshes its
// hypothesis, metric and result summary. Status and dates of an existing
// experiment are left to manual edits.
func (s *SQLiteStore) UpsertExperiment(ctx context.Context, e *model.Experiment) (UpsertOutcome, error) {
	if e.Status == "" {
		e.Status = model.ExperimentActive
	}
	outcome := Unchanged
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM experiments WHERE name = ?`, e.Name).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return eris.Wrap(err, "sqlite: lookup experiment")
		}
		found := err == nil

		res, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (name, hypothesis, channel, start_date, end_date, status, metric,
				result_summary, auto_detected)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET
				hypothesis = excluded.hypothesis, metric = excluded.metric, result_summary = excluded.result_summary
			 WHERE experiments.hypothesis IS NOT excluded.hypothesis OR experiments.metric IS NOT excluded.metric
				OR experiments.result_summary IS NOT excluded.result_summary`,
			e.Name, e.Hypothesis, nullStr(e.Channel), dateArg(e.StartDate), datePtrArg(e.EndDate), string(e.Status),
			nullStr(e.Metric), nullStr(e.ResultSummary), e.AutoDetected,
		)
		if err != nil {
			return classify(err, "sqlite: upsert experiment")
		}
		n, _ := res.RowsAffected()
		switch {
		case !found:
			outcome = Inserted
		case n > 0:
			outcome = Updated
		}
		if found {
			e.ID = existing
			return nil
		}
		return eris.Wrap(tx.QueryRowContext(ctx, `SELECT id FROM experiments WHERE name = ?`, e.Name).Scan(&e.ID),
			"sqlite: read experiment id")
	})
	return outcome, err
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, status model.ExperimentStatus) ([]model.Experiment, error) {
	q := `SELECT id, name, hypothesis, channel, start_date, end_date, status, metric, result_summary,
		auto_detected, created_at FROM experiments`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list experiments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Experiment
	for rows.Next() {
		var (
			e                                model.Experiment
			channel, endDate, metric, result sql.NullString
			start, created                   string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Hypothesis, &channel, &start, &endDate, &e.Status, &metric, &result,
			&e.AutoDetected, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan experiment")
		}
		e.Channel = channel.String
		e.Metric = metric.String
		e.ResultSummary = result.String
		if e.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if e.EndDate, err = parseDatePtr(endDate); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate experiments")
}
