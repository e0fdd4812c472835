package store

import (
	"context"

	"github.com/sells-group/womatch-cli/internal/model"
)

// WorkOrderFilter specifies criteria for listing work orders.
type WorkOrderFilter struct {
	TenantID   string                `json:"tenant_id,omitempty"`
	ScenarioID string                `json:"scenario_id,omitempty"`
	Status     model.WorkOrderStatus `json:"status,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
	Offset     int                   `json:"offset,omitempty"`
}

// Store defines the persistence interface for the matching pipeline.
type Store interface {
	// Work orders
	CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]model.WorkOrder, error)

	// Assessments
	CreateAssessment(ctx context.Context, a *model.Assessment) error

	// Matching results. SaveMatchResult replaces the work order's live match
	// set and corrective actions wholesale and moves it to PENDING_REVIEW,
	// all in one transaction.
	SaveMatchResult(ctx context.Context, workOrderID string, resp *model.AgentResponse) error
	ListMatches(ctx context.Context, workOrderID string) ([]model.WorkOrderMatch, error)
	ListCorrectiveActions(ctx context.Context, workOrderID string) ([]model.CorrectiveAction, error)

	// Review
	SetMatchReview(ctx context.Context, matchID string, status model.ReviewStatus) error
	SubmitReview(ctx context.Context, workOrderID, notes string) error
	ComputeMetrics(ctx context.Context, tenantID, scenarioID string) (*model.ReviewMetrics, error)
	RecordMetrics(ctx context.Context, m model.ReviewMetrics) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
