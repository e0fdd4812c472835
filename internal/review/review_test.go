package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "review.db")
	s, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return NewService(s), s
}

// seedReviewed creates a work order with two persisted matches and returns
// it alongside the match rows.
func seedWorkOrder(t *testing.T, s store.Store) (*model.WorkOrder, []model.WorkOrderMatch) {
	t.Helper()
	ctx := context.Background()

	wo := &model.WorkOrder{
		ExternalID: "WO-5001",
		TenantID:   "tenant-1",
		ScenarioID: "scenario-1",
		RawFields:  map[string]string{"description": "pump seal leaking"},
	}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))

	resp := &model.AgentResponse{
		Matches: []model.MatchCandidate{
			{AssetClientID: "AST-001", ConfidenceScore: 0.92, Reasoning: "description references the boiler feed pump seal"},
			{AssetClientID: "AST-002", ConfidenceScore: 0.41, Reasoning: "bearing wear mentioned in prior assessment"},
		},
		WorkOrder: model.WorkOrderFields{
			Summary:           "Replaced leaking pump seal",
			TaskType:          "repair",
			CorrectiveActions: []string{"replace seal"},
		},
	}
	require.NoError(t, s.SaveMatchResult(ctx, wo.ID, resp))

	matches, err := s.ListMatches(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	return wo, matches
}

func TestPendingWorkOrders(t *testing.T) {
	svc, s := newTestService(t)
	wo, _ := seedWorkOrder(t, s)

	pending, err := svc.PendingWorkOrders(context.Background(), "tenant-1", "scenario-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wo.ID, pending[0].ID)

	none, err := svc.PendingWorkOrders(context.Background(), "tenant-2", "scenario-1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWorkOrderDetail(t *testing.T) {
	svc, s := newTestService(t)
	wo, matches := seedWorkOrder(t, s)

	detail, err := svc.WorkOrderDetail(context.Background(), wo.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, wo.ID, detail.WorkOrder.ID)
	assert.Len(t, detail.Matches, len(matches))
	require.Len(t, detail.CorrectiveActions, 1)
	assert.Equal(t, "replace seal", detail.CorrectiveActions[0].Action)
}

func TestWorkOrderDetail_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	detail, err := svc.WorkOrderDetail(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestMatchDecisions(t *testing.T) {
	svc, s := newTestService(t)
	wo, matches := seedWorkOrder(t, s)
	ctx := context.Background()

	require.NoError(t, svc.AcceptMatch(ctx, matches[0].ID))
	require.NoError(t, svc.RejectMatch(ctx, matches[1].ID))

	got, err := s.ListMatches(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStatusAccepted, got[0].ReviewStatus)
	assert.NotNil(t, got[0].ReviewedAt)
	assert.Equal(t, model.ReviewStatusRejected, got[1].ReviewStatus)

	require.NoError(t, svc.ResetMatch(ctx, matches[0].ID))
	got, err = s.ListMatches(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStatusPending, got[0].ReviewStatus)
	assert.Nil(t, got[0].ReviewedAt)
}

func TestSubmitReview(t *testing.T) {
	svc, s := newTestService(t)
	wo, matches := seedWorkOrder(t, s)
	ctx := context.Background()

	decisions := map[string]bool{
		matches[0].ID: true,
		matches[1].ID: false,
	}
	require.NoError(t, svc.SubmitReview(ctx, wo.ID, decisions, "seal match confirmed on site"))

	// Rejected match deleted, accepted match kept.
	remaining, err := s.ListMatches(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, matches[0].ID, remaining[0].ID)
	assert.Equal(t, model.ReviewStatusAccepted, remaining[0].ReviewStatus)

	reviewed, err := s.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkOrderStatusReviewed, reviewed.Status)
	assert.Equal(t, "seal match confirmed on site", reviewed.ReviewNotes)
	assert.NotNil(t, reviewed.ReviewedAt)

	metrics, err := svc.Metrics(ctx, "tenant-1", "scenario-1")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalProcessed)
	assert.Equal(t, 1, metrics.Accepted)
}

func TestSubmitReview_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.SubmitReview(context.Background(), "nonexistent", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
