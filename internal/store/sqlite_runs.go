package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
)

func (s *SQLiteStore) StartRun(ctx context.Context, r *model.Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RunRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	stages, err := marshalJSON(nonNil(r.Stages))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, triggered_by, status, stages, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, string(r.Status), stages, tsArg(r.StartedAt),
	)
	return classify(err, "sqlite: insert run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status model.RunStatus, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(status), nullStr(summary), tsArg(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) RecordStageRun(ctx context.Context, sr *model.StageRun) error {
	var metrics any
	if len(sr.Metrics) > 0 {
		m, err := marshalJSON(sr.Metrics)
		if err != nil {
			return err
		}
		metrics = m
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO run_stages (run_id, stage, status, started_at, finished_at, error, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		sr.RunID, sr.Stage, string(sr.Status), tsArg(sr.StartedAt), tsArg(sr.FinishedAt), nullStr(sr.Error), metrics,
	).Scan(&sr.ID)
	return classify(err, "sqlite: insert stage run")
}

const runCols = `id, triggered_by, status, stages, started_at, finished_at, summary`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runCols+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ListStageRuns(ctx context.Context, runID string) ([]model.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, status, started_at, finished_at, error, metrics
		 FROM run_stages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StageRun
	for rows.Next() {
		var (
			sr              model.StageRun
			errText, metric sql.NullString
			started, ended  string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &sr.Status, &started, &ended, &errText, &metric); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage run")
		}
		sr.Error = errText.String
		if metric.Valid && metric.String != "" {
			if err := json.Unmarshal([]byte(metric.String), &sr.Metrics); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage metrics")
			}
		}
		if sr.StartedAt, err = parseTS(started); err != nil {
			return nil, err
		}
		if sr.FinishedAt, err = parseTS(ended); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stage runs")
}

func (s *SQLiteStore) LastStageSuccess(ctx context.Context, stage string) (*time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(finished_at) FROM run_stages WHERE stage = ? AND status = 'succeeded'`, stage,
	).Scan(&last)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success of %s", stage)
	}
	return parseTSPtr(last)
}

func (s *SQLiteStore) LastPublication(ctx context.Context, artifact string) (*model.Publication, error) {
	var (
		p  model.Publication
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact, sha256, published_at FROM publications WHERE artifact = ? ORDER BY id DESC LIMIT 1`, artifact,
	).Scan(&p.Artifact, &p.SHA256, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last publication")
	}
	if p.PublishedAt, err = parseTS(at); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) RecordPublication(ctx context.Context, p model.Publication) error {
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publications (artifact, sha256, published_at) VALUES (?, ?, ?)`,
		p.Artifact, p.SHA256, tsArg(p.PublishedAt),
	)
	return eris.Wrap(err, "sqlite: record publication")
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		r                 model.Run
		stages, started   string
		finished, summary sql.NullString
	)
	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &stages, &started, &finished, &summary)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Summary = summary.String
	if err := json.Unmarshal([]byte(stages), &r.Stages); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run stages")
	}
	if r.StartedAt, err = parseTS(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTSPtr(finished); err != nil {
		return nil, err
	}
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
