package model

import "time"

// ReviewStatus is the human decision recorded against a persisted match.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "PENDING"
	ReviewStatusAccepted ReviewStatus = "ACCEPTED"
	ReviewStatusRejected ReviewStatus = "REJECTED"
)

// MatchCandidate is a single agent-proposed match before validation. It is
// never persisted directly: candidates must pass the validation engine to
// become WorkOrderMatch rows.
type MatchCandidate struct {
	AssessmentID    string  `json:"assessment_id,omitempty"`
	AssetClientID   string  `json:"asset_client_id"`
	ConfidenceScore float64 `json:"matching_confidence_score"`
	Reasoning       string  `json:"matching_reasoning"`
}

// WorkOrderMatch is a validated, persisted match between a work order and
// an asset. The live match set for a work order is replaced wholesale on
// each successful re-run.
type WorkOrderMatch struct {
	ID              string       `json:"id"`
	WorkOrderID     string       `json:"work_order_id"`
	AssetClientID   string       `json:"asset_client_id"`
	ConfidenceScore float64      `json:"matching_confidence_score"`
	Reasoning       string       `json:"matching_reasoning"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CorrectiveAction is auxiliary structured output co-produced with matches,
// replaced wholesale on each successful run.
type CorrectiveAction struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	Action      string `json:"action"`
}

// WorkOrderFields holds the derived fields the agent extracts alongside
// matches.
type WorkOrderFields struct {
	Summary           string   `json:"summary"`
	DowntimeHours     float64  `json:"downtime_hours"`
	Cost              float64  `json:"cost"`
	TaskType          string   `json:"task_type"`
	CorrectiveActions []string `json:"corrective_actions"`
}

// AgentResponse is the persisted record format for a successful agent
// response.
type AgentResponse struct {
	Matches   []MatchCandidate `json:"matches"`
	WorkOrder WorkOrderFields  `json:"work_order"`
}

// MatchResultStatus is the per-work-order outcome reported to the batch
// driver.
type MatchResultStatus string

const (
	MatchResultSuccess MatchResultStatus = "success"
	MatchResultError   MatchResultStatus = "error"
)

// MatchResult is the uniform per-work-order result. Error results carry the
// same shape as success results minus matches, so downstream consumers can
// treat every work order uniformly.
type MatchResult struct {
	WorkOrderID string            `json:"work_order_id"`
	Status      MatchResultStatus `json:"status"`
	Response    *AgentResponse    `json:"response,omitempty"`
	Error       string            `json:"error,omitempty"`
	RawResponse string            `json:"raw_response,omitempty"`
}

// ReviewMetrics aggregates review outcomes for a tenant/scenario, recorded
// when reviews are submitted and used for model performance reporting.
type ReviewMetrics struct {
	TenantID       string    `json:"tenant_id"`
	ScenarioID     string    `json:"scenario_id"`
	TotalProcessed int       `json:"total_processed"`
	Suggested      int       `json:"suggested"`
	Accepted       int       `json:"accepted"`
	Rejected       int       `json:"rejected"`
	AvgConfidence  float64   `json:"avg_confidence"`
	RecordedAt     time.Time `json:"recorded_at"`
}
