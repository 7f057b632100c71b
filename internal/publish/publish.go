// Package publish ships the dashboard artifact when its content changed
// since the last successful publication.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
)

// History records what was last published per artifact.
type History interface {
	LastPublication(ctx context.Context, artifact string) (*model.Publication, error)
	RecordPublication(ctx context.Context, p model.Publication) error
}

// Stage publishes the artifact at path when it differs from the last
// published version.
type Stage struct {
	history History
	pub     Publisher
	path    string
	enabled bool
	now     func() time.Time
	log     *zap.Logger
}

// New creates the publish stage. A disabled stage only reports whether the
// artifact changed.
func New(history History, pub Publisher, path string, enabled bool) *Stage {
	return &Stage{
		history: history,
		pub:     pub,
		path:    path,
		enabled: enabled,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "publish")),
	}
}

// Name implements the orchestrator stage contract.
func (s *Stage) Name() string { return "publish" }

// Result describes one publish attempt.
type Result struct {
	Artifact  string
	SHA256    string
	Changed   bool
	Published bool
	Error     string // publish failure, reported but not returned
}

// Metrics flattens the result for the run log.
func (r Result) Metrics() map[string]any {
	m := map[string]any{
		"artifact":  r.Artifact,
		"sha256":    r.SHA256,
		"changed":   r.Changed,
		"published": r.Published,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// Run compares the artifact hash with the last publication and publishes
// on change. A failed push is logged as a warning and does not fail the
// stage; the next run retries because nothing was recorded.
func (s *Stage) Run(ctx context.Context) (Result, error) {
	artifact := filepath.Base(s.path)
	res := Result{Artifact: artifact}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return res, eris.Wrapf(err, "publish: read %s", s.path)
	}
	sum := sha256.Sum256(data)
	res.SHA256 = hex.EncodeToString(sum[:])

	last, err := s.history.LastPublication(ctx, artifact)
	if err != nil {
		return res, eris.Wrap(err, "publish: last publication")
	}
	res.Changed = last == nil || last.SHA256 != res.SHA256
	if !res.Changed {
		s.log.Debug("artifact unchanged, skipping publish", zap.String("artifact", artifact))
		return res, nil
	}
	if !s.enabled {
		s.log.Info("artifact changed, publishing disabled", zap.String("artifact", artifact))
		return res, nil
	}

	now := s.now().UTC()
	msg := fmt.Sprintf("Update %s (%s)", artifact, now.Format("2006-01-02 15:04 MST"))
	if err := s.pub.Publish(ctx, s.path, msg); err != nil {
		res.Error = err.Error()
		s.log.Warn("publish failed, store and dashboard may diverge until the next run",
			zap.String("artifact", artifact), zap.Error(err))
		return res, nil
	}
	res.Published = true

	if err := s.history.RecordPublication(ctx, model.Publication{
		Artifact: artifact, SHA256: res.SHA256, PublishedAt: now,
	}); err != nil {
		return res, eris.Wrap(err, "publish: record publication")
	}
	s.log.Info("artifact published", zap.String("artifact", artifact), zap.String("sha256", res.SHA256[:12]))
	return res, nil
}
