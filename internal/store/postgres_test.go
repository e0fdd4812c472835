package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/womatch-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetWorkOrder_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, external_id, tenant_id, scenario_id, raw_fields`).
		WithArgs("nonexistent").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	wo, err := s.GetWorkOrder(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, wo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateWorkOrder(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO work_orders`).
		WithArgs(pgxmock.AnyArg(), "WO-1001", "tenant-1", "scenario-1", pgxmock.AnyArg(),
			"UNPROCESSED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	wo := &model.WorkOrder{
		ExternalID: "WO-1001",
		TenantID:   "tenant-1",
		ScenarioID: "scenario-1",
		RawFields:  map[string]string{"description": "pump leak"},
	}
	require.NoError(t, s.CreateWorkOrder(context.Background(), wo))
	assert.NotEmpty(t, wo.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWorkOrders_ZeroLimitOmitsClause(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now()
	// Only the tenant arg: no LIMIT is bound when the caller asks for
	// everything.
	mock.ExpectQuery(`FROM work_orders`).
		WithArgs("tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "external_id", "tenant_id", "scenario_id", "raw_fields", "status",
			"review_notes", "reviewed_at", "llm_summary", "llm_downtime_hours",
			"llm_cost", "task_type", "created_at", "updated_at",
		}).AddRow("wo-1", "WO-1001", "tenant-1", "scenario-1", []byte(`{}`), "UNPROCESSED",
			nil, nil, nil, nil, nil, nil, now, now))

	out, err := s.ListWorkOrders(context.Background(), WorkOrderFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "WO-1001", out[0].ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWorkOrders_LimitBound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM work_orders`).
		WithArgs("tenant-1", 25).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "external_id", "tenant_id", "scenario_id", "raw_fields", "status",
			"review_notes", "reviewed_at", "llm_summary", "llm_downtime_hours",
			"llm_cost", "task_type", "created_at", "updated_at",
		}))

	_, err := s.ListWorkOrders(context.Background(), WorkOrderFilter{TenantID: "tenant-1", Limit: 25})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatchResult_Transactional(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM work_order_matches`).
		WithArgs("wo-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM corrective_actions`).
		WithArgs("wo-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO work_order_matches`).
		WithArgs(pgxmock.AnyArg(), "wo-1", "AST-001", 0.92, "seal leak on boiler feed pump", "PENDING", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO corrective_actions`).
		WithArgs(pgxmock.AnyArg(), "wo-1", "replace seal").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE work_orders`).
		WithArgs("PENDING_REVIEW", "Replaced seal", 4.5, 1200.0, "repair", pgxmock.AnyArg(), "wo-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	resp := &model.AgentResponse{
		Matches: []model.MatchCandidate{
			{AssetClientID: "AST-001", ConfidenceScore: 0.92, Reasoning: "seal leak on boiler feed pump"},
		},
		WorkOrder: model.WorkOrderFields{
			Summary:           "Replaced seal",
			DowntimeHours:     4.5,
			Cost:              1200,
			TaskType:          "repair",
			CorrectiveActions: []string{"replace seal"},
		},
	}
	require.NoError(t, s.SaveMatchResult(context.Background(), "wo-1", resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatchResult_RollsBackOnMissingWorkOrder(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM work_order_matches`).
		WithArgs("wo-missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM corrective_actions`).
		WithArgs("wo-missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`UPDATE work_orders`).
		WithArgs("PENDING_REVIEW", "", 0.0, 0.0, "", pgxmock.AnyArg(), "wo-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveMatchResult(context.Background(), "wo-missing", &model.AgentResponse{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatchResult_NilResponse(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.SaveMatchResult(context.Background(), "wo-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil agent response")
}

func TestPostgresStore_SetMatchReview_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE work_order_matches SET review_status`).
		WithArgs("ACCEPTED", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetMatchReview(context.Background(), "missing", model.ReviewStatusAccepted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SubmitReview_DeletesRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM work_order_matches`).
		WithArgs("wo-1", "REJECTED").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`UPDATE work_orders SET status`).
		WithArgs("REVIEWED", "looks right", pgxmock.AnyArg(), pgxmock.AnyArg(), "wo-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SubmitReview(context.Background(), "wo-1", "looks right"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ComputeMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("tenant-1", "scenario-1").
		WillReturnRows(pgxmock.NewRows([]string{"total", "suggested", "accepted", "rejected", "avg"}).
			AddRow(10, 25, 18, 4, 0.73))

	m, err := s.ComputeMetrics(context.Background(), "tenant-1", "scenario-1")
	require.NoError(t, err)
	assert.Equal(t, 10, m.TotalProcessed)
	assert.Equal(t, 25, m.Suggested)
	assert.Equal(t, 18, m.Accepted)
	assert.Equal(t, 4, m.Rejected)
	assert.InDelta(t, 0.73, m.AvgConfidence, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAssessment_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("assess-1", "AST-001", "Boiler Feed Pump", "Impeller", "tenant-1", "scenario-1", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a := &model.Assessment{
		ID:            "assess-1",
		AssetClientID: "AST-001",
		AssetName:     "Boiler Feed Pump",
		Component:     "Impeller",
		TenantID:      "tenant-1",
		ScenarioID:    "scenario-1",
		IsActive:      true,
	}
	require.NoError(t, s.CreateAssessment(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}
