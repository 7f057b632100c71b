package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
)

// --- Weekly snapshots ---

func (s *PostgresStore) UpsertWeeklySnapshot(ctx context.Context, snap *model.WeeklySnapshot) error {
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	args[1] = dateOnly(snap.Monday)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO weekly_snapshots (week_num, monday, channel, dials, human_contacts, human_contact_rate,
			meetings_booked, categories, emails_sent, emails_opened, email_open_rate, emails_replied,
			email_reply_rate, inmails_sent, inmails_replied, inmail_reply_rate, interested_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (week_num, channel) DO UPDATE SET
			monday = EXCLUDED.monday, dials = EXCLUDED.dials, human_contacts = EXCLUDED.human_contacts,
			human_contact_rate = EXCLUDED.human_contact_rate, meetings_booked = EXCLUDED.meetings_booked,
			categories = EXCLUDED.categories, emails_sent = EXCLUDED.emails_sent,
			emails_opened = EXCLUDED.emails_opened, email_open_rate = EXCLUDED.email_open_rate,
			emails_replied = EXCLUDED.emails_replied, email_reply_rate = EXCLUDED.email_reply_rate,
			inmails_sent = EXCLUDED.inmails_sent, inmails_replied = EXCLUDED.inmails_replied,
			inmail_reply_rate = EXCLUDED.inmail_reply_rate, interested_count = EXCLUDED.interested_count
		 RETURNING id`,
		args...,
	).Scan(&snap.ID)
	return classify(err, "postgres: upsert weekly snapshot")
}

func (s *PostgresStore) GetWeeklySnapshot(ctx context.Context, week int, ch model.Channel) (*model.WeeklySnapshot, error) {
	snap, err := scanPGSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM weekly_snapshots WHERE week_num = $1 AND channel = $2`, week, string(ch)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

func (s *PostgresStore) ListWeeklySnapshots(ctx context.Context, f SnapshotFilter) ([]model.WeeklySnapshot, error) {
	q := `SELECT ` + snapshotCols + ` FROM weekly_snapshots WHERE 1 = 1`
	var args []any
	if f.Channel != "" {
		args = append(args, string(f.Channel))
		q += ` AND channel = $` + strconv.Itoa(len(args))
	}
	if f.FromWeek != 0 {
		args = append(args, f.FromWeek)
		q += ` AND week_num >= $` + strconv.Itoa(len(args))
	}
	if f.ToWeek != 0 {
		args = append(args, f.ToWeek)
		q += ` AND week_num <= $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY week_num, channel`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list weekly snapshots")
	}
	defer rows.Close()

	var out []model.WeeklySnapshot
	for rows.Next() {
		snap, err := scanPGSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate weekly snapshots")
}

func scanPGSnapshot(row pgx.Row) (*model.WeeklySnapshot, error) {
	var (
		snap model.WeeklySnapshot
		v    snapshotScan
	)
	err := row.Scan(&snap.ID, &snap.WeekNum, &snap.Monday, &snap.Channel, &v.dials, &v.humanContacts, &v.hcr,
		&v.meetings, &v.categories, &v.emailsSent, &v.emailsOpened, &v.openRate, &v.emailsReplied, &v.replyRate,
		&v.inmailsSent, &v.inmailsReplied, &v.inmailRate, &v.interested, &snap.CreatedAt, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan weekly snapshot")
	}
	if err := v.apply(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Insights ---

func insertPGInsight(ctx context.Context, tx pgx.Tx, in *model.Insight) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO insights (insight_date, type, severity, title, body, related_company_id,
			related_call_id, channel)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		dateOnly(in.Date), string(in.Type), string(in.Severity), in.Title, in.Body,
		in.CompanyID, in.CallID, nullStr(in.Channel),
	).Scan(&in.ID, &in.CreatedAt)
	return classify(err, "postgres: insert insight")
}

// ReplaceInsights deletes the unacknowledged insights for date and inserts
// the new set in one transaction. Titles already acknowledged that day are
// not recreated.
func (s *PostgresStore) ReplaceInsights(ctx context.Context, date time.Time, insights []model.Insight) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		day := dateOnly(date)
		if _, err := tx.Exec(ctx,
			`DELETE FROM insights WHERE insight_date = $1 AND NOT acknowledged`, day); err != nil {
			return eris.Wrap(err, "postgres: clear insights")
		}

		rows, err := tx.Query(ctx, `SELECT title FROM insights WHERE insight_date = $1 AND acknowledged`, day)
		if err != nil {
			return eris.Wrap(err, "postgres: list acknowledged insights")
		}
		titles, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return eris.Wrap(err, "postgres: scan acknowledged titles")
		}
		acked := make(map[string]bool, len(titles))
		for _, t := range titles {
			acked[t] = true
		}

		for i := range insights {
			in := &insights[i]
			if acked[in.Title] {
				continue
			}
			in.Date = date
			if err := insertPGInsight(ctx, tx, in); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

func (s *PostgresStore) AppendInsights(ctx context.Context, insights []model.Insight) (int, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for i := range insights {
			if err := insertPGInsight(ctx, tx, &insights[i]); err != nil {
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

func (s *PostgresStore) ListInsights(ctx context.Context, f InsightFilter) ([]model.Insight, error) {
	q := `SELECT id, insight_date, type, severity, title, body, related_company_id, related_call_id, channel,
		acknowledged, created_at FROM insights WHERE 1 = 1`
	var args []any
	if f.Date != nil {
		args = append(args, dateOnly(*f.Date))
		q += ` AND insight_date = $` + strconv.Itoa(len(args))
	}
	if f.OpenOnly {
		q += ` AND NOT acknowledged`
	}
	q += ` ORDER BY insight_date DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		var (
			in      model.Insight
			channel *string
		)
		if err := rows.Scan(&in.ID, &in.Date, &in.Type, &in.Severity, &in.Title, &in.Body, &in.CompanyID,
			&in.CallID, &channel, &in.Acknowledged, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		in.Channel = deref(channel)
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate insights")
}

func (s *PostgresStore) AcknowledgeInsight(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE insights SET acknowledged = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: acknowledge insight %d", id)
	}
	return checkTag(tag.RowsAffected(), "insight", id)
}

// --- Experiments ---

func (s *PostgresStore) UpsertExperiment(ctx context.Context, e *model.Experiment) (UpsertOutcome, error) {
	if e.Status == "" {
		e.Status = model.ExperimentActive
	}
	outcome, ok, err := returningOutcome(s.pool.QueryRow(ctx,
		`INSERT INTO experiments (name, hypothesis, channel, start_date, end_date, status, metric,
			result_summary, auto_detected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name) DO UPDATE SET
			hypothesis = EXCLUDED.hypothesis, metric = EXCLUDED.metric, result_summary = EXCLUDED.result_summary
		 WHERE (experiments.hypothesis, experiments.metric, experiments.result_summary)
			IS DISTINCT FROM (EXCLUDED.hypothesis, EXCLUDED.metric, EXCLUDED.result_summary)
		 RETURNING id, (xmax = 0)`,
		e.Name, e.Hypothesis, nullStr(e.Channel), dateOnly(e.StartDate), pgDatePtr(e.EndDate), string(e.Status),
		nullStr(e.Metric), nullStr(e.ResultSummary), e.AutoDetected,
	), &e.ID)
	if err != nil {
		return Unchanged, classify(err, "postgres: upsert experiment")
	}
	if !ok {
		err = s.pool.QueryRow(ctx, `SELECT id FROM experiments WHERE name = $1`, e.Name).Scan(&e.ID)
	}
	return outcome, eris.Wrap(err, "postgres: read experiment id")
}

func (s *PostgresStore) ListExperiments(ctx context.Context, status model.ExperimentStatus) ([]model.Experiment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, hypothesis, channel, start_date, end_date, status, metric, result_summary,
			auto_detected, created_at
		 FROM experiments WHERE ($1 = '' OR status = $1) ORDER BY id`,
		string(status))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list experiments")
	}
	defer rows.Close()

	var out []model.Experiment
	for rows.Next() {
		var (
			e                       model.Experiment
			channel, metric, result *string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Hypothesis, &channel, &e.StartDate, &e.EndDate, &e.Status, &metric,
			&result, &e.AutoDetected, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan experiment")
		}
		e.Channel = deref(channel)
		e.Metric = deref(metric)
		e.ResultSummary = deref(result)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate experiments")
}
