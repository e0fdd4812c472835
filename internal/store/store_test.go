package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/womatch-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func makeWorkOrder(external string) *model.WorkOrder {
	return &model.WorkOrder{
		ExternalID: external,
		TenantID:   "tenant-1",
		ScenarioID: "scenario-1",
		RawFields: map[string]string{
			"description": "pump seal leaking, replaced seal and bearings",
			"location":    "building 4",
		},
	}
}

func makeResponse() *model.AgentResponse {
	return &model.AgentResponse{
		Matches: []model.MatchCandidate{
			{AssetClientID: "AST-001", ConfidenceScore: 0.92, Reasoning: "description references the boiler feed pump seal"},
			{AssetClientID: "AST-002", ConfidenceScore: 0.41, Reasoning: "bearing wear mentioned in prior assessment"},
		},
		WorkOrder: model.WorkOrderFields{
			Summary:           "Replaced leaking pump seal",
			DowntimeHours:     4.5,
			Cost:              1200,
			TaskType:          "repair",
			CorrectiveActions: []string{"replace seal", "replace bearings"},
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetWorkOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
		assert.NotEmpty(t, wo.ID)
		assert.Equal(t, model.WorkOrderStatusUnprocessed, wo.Status)

		got, err := s.GetWorkOrder(ctx, wo.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "WO-1001", got.ExternalID)
		assert.Equal(t, "building 4", got.RawFields["location"])
		assert.Equal(t, model.WorkOrderStatusUnprocessed, got.Status)
	})

	t.Run("GetWorkOrder_NotFound", func(t *testing.T) {
		s := newStore(t)

		got, err := s.GetWorkOrder(context.Background(), "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ListWorkOrders_Filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo1 := makeWorkOrder("WO-1")
		require.NoError(t, s.CreateWorkOrder(ctx, wo1))
		wo2 := makeWorkOrder("WO-2")
		require.NoError(t, s.CreateWorkOrder(ctx, wo2))

		require.NoError(t, s.SaveMatchResult(ctx, wo2.ID, makeResponse()))

		all, err := s.ListWorkOrders(ctx, WorkOrderFilter{TenantID: "tenant-1"})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		unprocessed, err := s.ListWorkOrders(ctx, WorkOrderFilter{Status: model.WorkOrderStatusUnprocessed})
		require.NoError(t, err)
		require.Len(t, unprocessed, 1)
		assert.Equal(t, "WO-1", unprocessed[0].ExternalID)

		pending, err := s.ListWorkOrders(ctx, WorkOrderFilter{Status: model.WorkOrderStatusPendingReview})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "WO-2", pending[0].ExternalID)

		none, err := s.ListWorkOrders(ctx, WorkOrderFilter{TenantID: "other-tenant"})
		require.NoError(t, err)
		assert.Empty(t, none)

		limited, err := s.ListWorkOrders(ctx, WorkOrderFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("ListWorkOrders_ZeroLimitReturnsEverything", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 120; i++ {
			require.NoError(t, s.CreateWorkOrder(ctx, makeWorkOrder(fmt.Sprintf("WO-%03d", i))))
		}

		all, err := s.ListWorkOrders(ctx, WorkOrderFilter{TenantID: "tenant-1"})
		require.NoError(t, err)
		assert.Len(t, all, 120)

		rest, err := s.ListWorkOrders(ctx, WorkOrderFilter{TenantID: "tenant-1", Offset: 100})
		require.NoError(t, err)
		assert.Len(t, rest, 20)
	})

	t.Run("CreateAssessment_Upsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Assessment{
			ID:            "assess-1",
			AssetClientID: "AST-001",
			AssetName:     "Boiler Feed Pump",
			TenantID:      "tenant-1",
			ScenarioID:    "scenario-1",
			IsActive:      true,
		}
		require.NoError(t, s.CreateAssessment(ctx, a))

		a.AssetName = "Boiler Feed Pump #2"
		require.NoError(t, s.CreateAssessment(ctx, a))
	})

	t.Run("SaveMatchResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))

		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, makeResponse()))

		got, err := s.GetWorkOrder(ctx, wo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WorkOrderStatusPendingReview, got.Status)
		assert.Equal(t, "Replaced leaking pump seal", got.LLMSummary)
		assert.InDelta(t, 4.5, got.LLMDowntimeHours, 0.001)
		assert.InDelta(t, 1200, got.LLMCost, 0.001)
		assert.Equal(t, "repair", got.TaskType)

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		// Highest confidence first.
		assert.Equal(t, "AST-001", matches[0].AssetClientID)
		assert.Equal(t, model.ReviewStatusPending, matches[0].ReviewStatus)

		actions, err := s.ListCorrectiveActions(ctx, wo.ID)
		require.NoError(t, err)
		assert.Len(t, actions, 2)
	})

	t.Run("SaveMatchResult_ReplacesPrevious", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, makeResponse()))

		second := &model.AgentResponse{
			Matches: []model.MatchCandidate{
				{AssetClientID: "AST-009", ConfidenceScore: 0.77, Reasoning: "motor vibration noted in latest inspection"},
			},
			WorkOrder: model.WorkOrderFields{
				Summary:           "Motor vibration corrected",
				CorrectiveActions: []string{"rebalance motor"},
			},
		}
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, second))

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "AST-009", matches[0].AssetClientID)

		actions, err := s.ListCorrectiveActions(ctx, wo.ID)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "rebalance motor", actions[0].Action)
	})

	t.Run("SaveMatchResult_NoMatches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))

		resp := &model.AgentResponse{
			WorkOrder: model.WorkOrderFields{Summary: "No prior assessment applies"},
		}
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, resp))

		got, err := s.GetWorkOrder(ctx, wo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WorkOrderStatusPendingReview, got.Status)

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("SaveMatchResult_WorkOrderNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.SaveMatchResult(context.Background(), "nonexistent", makeResponse())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("SetMatchReview", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, makeResponse()))

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.Len(t, matches, 2)

		require.NoError(t, s.SetMatchReview(ctx, matches[0].ID, model.ReviewStatusAccepted))
		require.NoError(t, s.SetMatchReview(ctx, matches[1].ID, model.ReviewStatusRejected))

		reviewed, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReviewStatusAccepted, reviewed[0].ReviewStatus)
		assert.NotNil(t, reviewed[0].ReviewedAt)
		assert.Equal(t, model.ReviewStatusRejected, reviewed[1].ReviewStatus)

		// Reset clears the decision and the timestamp.
		require.NoError(t, s.SetMatchReview(ctx, matches[0].ID, model.ReviewStatusPending))
		reset, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReviewStatusPending, reset[0].ReviewStatus)
		assert.Nil(t, reset[0].ReviewedAt)
	})

	t.Run("SetMatchReview_NotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.SetMatchReview(context.Background(), "nonexistent", model.ReviewStatusAccepted)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("SubmitReview", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, makeResponse()))

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.NoError(t, s.SetMatchReview(ctx, matches[0].ID, model.ReviewStatusAccepted))
		require.NoError(t, s.SetMatchReview(ctx, matches[1].ID, model.ReviewStatusRejected))

		require.NoError(t, s.SubmitReview(ctx, wo.ID, "second match was a different pump"))

		got, err := s.GetWorkOrder(ctx, wo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WorkOrderStatusReviewed, got.Status)
		assert.Equal(t, "second match was a different pump", got.ReviewNotes)
		assert.NotNil(t, got.ReviewedAt)

		// Rejected matches are gone, accepted ones remain.
		remaining, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, model.ReviewStatusAccepted, remaining[0].ReviewStatus)
	})

	t.Run("SubmitReview_NotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.SubmitReview(context.Background(), "nonexistent", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ComputeAndRecordMetrics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		wo := makeWorkOrder("WO-1001")
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
		require.NoError(t, s.SaveMatchResult(ctx, wo.ID, makeResponse()))

		matches, err := s.ListMatches(ctx, wo.ID)
		require.NoError(t, err)
		require.NoError(t, s.SetMatchReview(ctx, matches[0].ID, model.ReviewStatusAccepted))
		require.NoError(t, s.SetMatchReview(ctx, matches[1].ID, model.ReviewStatusRejected))

		m, err := s.ComputeMetrics(ctx, "tenant-1", "scenario-1")
		require.NoError(t, err)
		assert.Equal(t, 1, m.TotalProcessed)
		assert.Equal(t, 2, m.Suggested)
		assert.Equal(t, 1, m.Accepted)
		assert.Equal(t, 1, m.Rejected)
		assert.InDelta(t, (0.92+0.41)/2, m.AvgConfidence, 0.001)

		require.NoError(t, s.RecordMetrics(ctx, *m))
	})

	t.Run("MigrateIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Migrate(context.Background()))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
