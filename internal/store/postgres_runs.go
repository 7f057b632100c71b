package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/model"
)

func (s *PostgresStore) StartRun(ctx context.Context, r *model.Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RunRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, triggered_by, status, stages, started_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Trigger, string(r.Status), nonNil(r.Stages), r.StartedAt,
	)
	return classify(err, "postgres: insert run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, id string, status model.RunStatus, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, finished_at = now() WHERE id = $3`,
		string(status), nullStr(summary), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	return checkTag(tag.RowsAffected(), "run", id)
}

func (s *PostgresStore) RecordStageRun(ctx context.Context, sr *model.StageRun) error {
	var metrics any
	if len(sr.Metrics) > 0 {
		b, err := json.Marshal(sr.Metrics)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal stage metrics")
		}
		metrics = string(b)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_stages (run_id, stage, status, started_at, finished_at, error, metrics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sr.RunID, sr.Stage, string(sr.Status), sr.StartedAt, sr.FinishedAt, nullStr(sr.Error), metrics,
	).Scan(&sr.ID)
	return classify(err, "postgres: insert stage run")
}

const pgRunCols = `id::text, triggered_by, status, stages, started_at, finished_at, summary`

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanPGRun(s.pool.QueryRow(ctx, `SELECT `+pgRunCols+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+pgRunCols+` FROM runs ORDER BY started_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) ListStageRuns(ctx context.Context, runID string) ([]model.StageRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id::text, stage, status, started_at, finished_at, error, metrics
		 FROM run_stages WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage runs")
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var (
			sr      model.StageRun
			errText *string
			metrics []byte
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &sr.Status, &sr.StartedAt, &sr.FinishedAt,
			&errText, &metrics); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage run")
		}
		sr.Error = deref(errText)
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &sr.Metrics); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage metrics")
			}
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stage runs")
}

func (s *PostgresStore) LastStageSuccess(ctx context.Context, stage string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(finished_at) FROM run_stages WHERE stage = $1 AND status = 'succeeded'`, stage,
	).Scan(&last)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last success of %s", stage)
	}
	return last, nil
}

func (s *PostgresStore) LastPublication(ctx context.Context, artifact string) (*model.Publication, error) {
	var p model.Publication
	err := s.pool.QueryRow(ctx,
		`SELECT artifact, sha256, published_at FROM publications WHERE artifact = $1 ORDER BY id DESC LIMIT 1`,
		artifact,
	).Scan(&p.Artifact, &p.SHA256, &p.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last publication")
	}
	return &p, nil
}

func (s *PostgresStore) RecordPublication(ctx context.Context, p model.Publication) error {
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO publications (artifact, sha256, published_at) VALUES ($1, $2, $3)`,
		p.Artifact, p.SHA256, p.PublishedAt,
	)
	return eris.Wrap(err, "postgres: record publication")
}

func scanPGRun(row pgx.Row) (*model.Run, error) {
	var (
		r       model.Run
		summary *string
	)
	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.Stages, &r.StartedAt, &r.FinishedAt, &summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Summary = deref(summary)
	if r.Stages == nil {
		r.Stages = []string{}
	}
	return &r, nil
}
