package model

import (
	"time"
)

// WorkOrderStatus represents where a work order sits in the review lifecycle.
type WorkOrderStatus string

const (
	WorkOrderStatusUnprocessed   WorkOrderStatus = "UNPROCESSED"
	WorkOrderStatusPendingReview WorkOrderStatus = "PENDING_REVIEW"
	WorkOrderStatusReviewed      WorkOrderStatus = "REVIEWED"
)

// WorkOrder is a free-text maintenance record to be matched against prior
// assessments. RawFields carries arbitrary key/value maintenance-record
// fields as imported; there is no shape constraint beyond non-emptiness.
type WorkOrder struct {
	ID          string            `json:"id"`
	ExternalID  string            `json:"external_id"`
	TenantID    string            `json:"tenant_id"`
	ScenarioID  string            `json:"scenario_id"`
	RawFields   map[string]string `json:"raw_fields"`
	Status      WorkOrderStatus   `json:"status"`
	ReviewNotes string            `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`

	// Derived by the matcher on a successful run.
	LLMSummary       string  `json:"llm_summary,omitempty"`
	LLMDowntimeHours float64 `json:"llm_downtime_hours,omitempty"`
	LLMCost          float64 `json:"llm_cost,omitempty"`
	TaskType         string  `json:"task_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assessment is a structured inspection/risk record tied to a physical
// asset. Assessments are owned by the import pipeline and are read-only
// from the matcher's perspective; they form the validation ground truth.
type Assessment struct {
	ID            string `json:"id"`
	AssetClientID string `json:"asset_client_id"`
	AssetName     string `json:"asset_name"`
	Component     string `json:"component,omitempty"`
	TenantID      string `json:"tenant_id"`
	ScenarioID    string `json:"scenario_id"`
	IsActive      bool   `json:"is_active"`
}
