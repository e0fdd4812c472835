// Package review implements the human review workflow over persisted match
// results: per-match accept/reject/reset, final review submission, and the
// model performance metrics recorded alongside it.
package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/internal/store"
)

// Detail is one work order with its live match set and corrective actions,
// as presented to a reviewer.
type Detail struct {
	WorkOrder         model.WorkOrder          `json:"work_order"`
	Matches           []model.WorkOrderMatch   `json:"matches"`
	CorrectiveActions []model.CorrectiveAction `json:"corrective_actions"`
}

// Service coordinates review mutations against the store.
type Service struct {
	store store.Store
}

// NewService creates a review Service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// PendingWorkOrders lists work orders awaiting review in scope.
func (s *Service) PendingWorkOrders(ctx context.Context, tenantID, scenarioID string) ([]model.WorkOrder, error) {
	return s.store.ListWorkOrders(ctx, store.WorkOrderFilter{
		TenantID:   tenantID,
		ScenarioID: scenarioID,
		Status:     model.WorkOrderStatusPendingReview,
	})
}

// WorkOrderDetail loads one work order with its matches and corrective
// actions. Returns nil when the work order does not exist.
func (s *Service) WorkOrderDetail(ctx context.Context, workOrderID string) (*Detail, error) {
	wo, err := s.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, nil
	}

	matches, err := s.store.ListMatches(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListCorrectiveActions(ctx, workOrderID)
	if err != nil {
		return nil, err
	}

	return &Detail{WorkOrder: *wo, Matches: matches, CorrectiveActions: actions}, nil
}

// AcceptMatch marks one proposed match as accepted.
func (s *Service) AcceptMatch(ctx context.Context, matchID string) error {
	return s.store.SetMatchReview(ctx, matchID, model.ReviewStatusAccepted)
}

// RejectMatch marks one proposed match as rejected.
func (s *Service) RejectMatch(ctx context.Context, matchID string) error {
	return s.store.SetMatchReview(ctx, matchID, model.ReviewStatusRejected)
}

// ResetMatch returns a match to the pending state, clearing its review
// timestamp.
func (s *Service) ResetMatch(ctx context.Context, matchID string) error {
	return s.store.SetMatchReview(ctx, matchID, model.ReviewStatusPending)
}

// SubmitReview finalizes a work order's review. Decisions map match IDs to
// accept (true) or reject (false); matches absent from the map keep their
// current status. Rejected matches are deleted, the work order moves to
// REVIEWED with the notes recorded, and a metrics snapshot for the
// tenant/scenario is recorded for aggregate reporting.
func (s *Service) SubmitReview(ctx context.Context, workOrderID string, decisions map[string]bool, notes string) error {
	wo, err := s.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return err
	}
	if wo == nil {
		return eris.Errorf("review: work order %s not found", workOrderID)
	}

	for matchID, accepted := range decisions {
		status := model.ReviewStatusRejected
		if accepted {
			status = model.ReviewStatusAccepted
		}
		if err := s.store.SetMatchReview(ctx, matchID, status); err != nil {
			return eris.Wrapf(err, "review: record decision for match %s", matchID)
		}
	}

	if err := s.store.SubmitReview(ctx, workOrderID, notes); err != nil {
		return err
	}

	// Metrics recording is best effort; a failed snapshot does not undo a
	// submitted review.
	metrics, err := s.store.ComputeMetrics(ctx, wo.TenantID, wo.ScenarioID)
	if err != nil {
		zap.L().Warn("review: compute metrics", zap.String("work_order_id", workOrderID), zap.Error(err))
		return nil
	}
	if err := s.store.RecordMetrics(ctx, *metrics); err != nil {
		zap.L().Warn("review: record metrics", zap.String("work_order_id", workOrderID), zap.Error(err))
	}
	return nil
}

// Metrics returns the current review metrics for a tenant/scenario.
func (s *Service) Metrics(ctx context.Context, tenantID, scenarioID string) (*model.ReviewMetrics, error) {
	return s.store.ComputeMetrics(ctx, tenantID, scenarioID)
}
