package model

import "time"

// RunStatus is the terminal (or current) state of an orchestrator run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
	RunLocked    RunStatus = "locked"
)

// StageStatus is the outcome of one stage within a run.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// Run is one orchestrator invocation.
type Run struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     RunStatus  `json:"status"`
	Stages     []string   `json:"stages"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}

// StageRun records one stage execution within a run.
type StageRun struct {
	ID         int64          `json:"id"`
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// Duration is the stage wall time.
func (s StageRun) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Publication records a published report artifact by content hash.
type Publication struct {
	Artifact    string    `json:"artifact"`
	SHA256      string    `json:"sha256"`
	PublishedAt time.Time `json:"published_at"`
}
