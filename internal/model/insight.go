package model

import "time"

// InsightType classifies advisory output.
type InsightType string

const (
	InsightActionRequired InsightType = "action_required"
	InsightAlert          InsightType = "alert"
	InsightWin            InsightType = "win"
	InsightExperiment     InsightType = "experiment"
	InsightCoaching       InsightType = "coaching"
	InsightStrategic      InsightType = "strategic"
)

var insightTypeOrder = map[InsightType]int{
	InsightActionRequired: 0,
	InsightAlert:          1,
	InsightWin:            2,
	InsightExperiment:     3,
	InsightCoaching:       4,
	InsightStrategic:      5,
}

// Valid reports whether t is a known insight type.
func (t InsightType) Valid() bool {
	_, ok := insightTypeOrder[t]
	return ok
}

// Order is the display priority of the type; lower sorts first.
func (t InsightType) Order() int {
	if o, ok := insightTypeOrder[t]; ok {
		return o
	}
	return len(insightTypeOrder)
}

// Severity ranks insight urgency.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

// Order is the display priority of the severity; lower sorts first.
func (s Severity) Order() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	}
	return 3
}

// Insight is one advisory recommendation or alert.
type Insight struct {
	ID           int64       `json:"id"`
	Date         time.Time   `json:"insight_date"`
	Type         InsightType `json:"type"`
	Severity     Severity    `json:"severity"`
	Title        string      `json:"title"`
	Body         string      `json:"body"`
	CompanyID    *int64      `json:"related_company_id,omitempty"`
	CallID       *int64      `json:"related_call_id,omitempty"`
	Channel      string      `json:"channel,omitempty"`
	Acknowledged bool        `json:"acknowledged"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ExperimentStatus is the lifecycle of a tracked experiment.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentCancelled ExperimentStatus = "cancelled"
)

// Valid reports whether s is a known experiment status.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentActive, ExperimentPaused, ExperimentCompleted, ExperimentCancelled:
		return true
	}
	return false
}

// Experiment tracks a hypothesis under test.
type Experiment struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Hypothesis    string           `json:"hypothesis"`
	Channel       string           `json:"channel,omitempty"`
	StartDate     time.Time        `json:"start_date"`
	EndDate       *time.Time       `json:"end_date,omitempty"`
	Status        ExperimentStatus `json:"status"`
	Metric        string           `json:"metric,omitempty"`
	ResultSummary string           `json:"result_summary,omitempty"`
	AutoDetected  bool             `json:"auto_detected"`
	CreatedAt     time.Time        `json:"created_at"`
}
