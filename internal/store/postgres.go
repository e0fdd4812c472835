package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/womatch-cli/internal/db"
	"github.com/sells-group/womatch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_work_order":   `SELECT id, external_id, tenant_id, scenario_id, raw_fields, status, review_notes, reviewed_at, llm_summary, llm_downtime_hours, llm_cost, task_type, created_at, updated_at FROM work_orders WHERE id = $1`,
	"list_matches":     `SELECT id, work_order_id, asset_client_id, confidence_score, reasoning, review_status, reviewed_at, created_at FROM work_order_matches WHERE work_order_id = $1 ORDER BY confidence_score DESC`,
	"set_match_review": `UPDATE work_order_matches SET review_status = $1, reviewed_at = $2 WHERE id = $3`,
	"delete_matches":   `DELETE FROM work_order_matches WHERE work_order_id = $1`,
	"delete_actions":   `DELETE FROM corrective_actions WHERE work_order_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access (e.g., bulk import, corpus index).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS work_orders (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id        TEXT NOT NULL,
	tenant_id          TEXT NOT NULL,
	scenario_id        TEXT NOT NULL,
	raw_fields         JSONB NOT NULL,
	status             TEXT NOT NULL DEFAULT 'UNPROCESSED',
	review_notes       TEXT,
	reviewed_at        TIMESTAMPTZ,
	llm_summary        TEXT,
	llm_downtime_hours DOUBLE PRECISION,
	llm_cost           DOUBLE PRECISION,
	task_type          TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, scenario_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(status);
CREATE INDEX IF NOT EXISTS idx_work_orders_scope ON work_orders(tenant_id, scenario_id, status);

CREATE TABLE IF NOT EXISTS assessments (
	id              TEXT PRIMARY KEY,
	asset_client_id TEXT NOT NULL,
	asset_name      TEXT NOT NULL,
	component       TEXT,
	tenant_id       TEXT NOT NULL,
	scenario_id     TEXT NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_assessments_scope ON assessments(tenant_id, scenario_id, is_active);
CREATE INDEX IF NOT EXISTS idx_assessments_asset ON assessments(asset_client_id);

CREATE TABLE IF NOT EXISTS work_order_matches (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	work_order_id    TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
	asset_client_id  TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	reasoning        TEXT NOT NULL,
	review_status    TEXT NOT NULL DEFAULT 'PENDING',
	reviewed_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_matches_work_order ON work_order_matches(work_order_id);
CREATE INDEX IF NOT EXISTS idx_matches_review_status ON work_order_matches(review_status);

CREATE TABLE IF NOT EXISTS corrective_actions (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	work_order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
	action        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_work_order ON corrective_actions(work_order_id);

CREATE TABLE IF NOT EXISTS model_metrics (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id       TEXT NOT NULL,
	scenario_id     TEXT NOT NULL,
	total_processed INTEGER NOT NULL,
	suggested       INTEGER NOT NULL,
	accepted        INTEGER NOT NULL,
	rejected        INTEGER NOT NULL,
	avg_confidence  DOUBLE PRECISION NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_metrics_scope ON model_metrics(tenant_id, scenario_id, recorded_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	if wo.ID == "" {
		wo.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	wo.CreatedAt = now
	wo.UpdatedAt = now
	if wo.Status == "" {
		wo.Status = model.WorkOrderStatusUnprocessed
	}

	fieldsJSON, err := json.Marshal(wo.RawFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal raw fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO work_orders (id, external_id, tenant_id, scenario_id, raw_fields, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wo.ID, wo.ExternalID, wo.TenantID, wo.ScenarioID, fieldsJSON, string(wo.Status), now, now,
	)
	return eris.Wrapf(err, "postgres: insert work order %s", wo.ExternalID)
}

func (s *PostgresStore) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	var wo model.WorkOrder
	var fieldsJSON []byte
	var reviewNotes, llmSummary, taskType *string
	var downtime, cost *float64

	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, tenant_id, scenario_id, raw_fields, status, review_notes, reviewed_at,
		        llm_summary, llm_downtime_hours, llm_cost, task_type, created_at, updated_at
		 FROM work_orders WHERE id = $1`,
		id,
	).Scan(&wo.ID, &wo.ExternalID, &wo.TenantID, &wo.ScenarioID, &fieldsJSON, &wo.Status,
		&reviewNotes, &wo.ReviewedAt, &llmSummary, &downtime, &cost, &taskType,
		&wo.CreatedAt, &wo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get work order %s", id)
	}

	if err := json.Unmarshal(fieldsJSON, &wo.RawFields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw fields")
	}
	applyOptional(&wo, reviewNotes, llmSummary, taskType, downtime, cost)
	return &wo, nil
}

func (s *PostgresStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]model.WorkOrder, error) {
	query := `SELECT id, external_id, tenant_id, scenario_id, raw_fields, status, review_notes, reviewed_at,
	                 llm_summary, llm_downtime_hours, llm_cost, task_type, created_at, updated_at
	          FROM work_orders WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.ScenarioID != "" {
		query += fmt.Sprintf(` AND scenario_id = $%d`, argIdx)
		args = append(args, filter.ScenarioID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	// Limit <= 0 means no cap; batch runs ask for the whole backlog.
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list work orders")
	}
	defer rows.Close()

	var out []model.WorkOrder
	for rows.Next() {
		var wo model.WorkOrder
		var fieldsJSON []byte
		var reviewNotes, llmSummary, taskType *string
		var downtime, cost *float64

		if err := rows.Scan(&wo.ID, &wo.ExternalID, &wo.TenantID, &wo.ScenarioID, &fieldsJSON, &wo.Status,
			&reviewNotes, &wo.ReviewedAt, &llmSummary, &downtime, &cost, &taskType,
			&wo.CreatedAt, &wo.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan work order")
		}
		if err := json.Unmarshal(fieldsJSON, &wo.RawFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal raw fields")
		}
		applyOptional(&wo, reviewNotes, llmSummary, taskType, downtime, cost)
		out = append(out, wo)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list work orders iterate")
}

func (s *PostgresStore) CreateAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assessments (id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   asset_client_id = $2, asset_name = $3, component = $4, is_active = $7`,
		a.ID, a.AssetClientID, a.AssetName, a.Component, a.TenantID, a.ScenarioID, a.IsActive,
	)
	return eris.Wrapf(err, "postgres: upsert assessment %s", a.ID)
}

// SaveMatchResult replaces the work order's matches and corrective actions
// and moves it to PENDING_REVIEW. Partial writes are not visible: everything
// happens in one transaction, and a prior result survives any failure here.
func (s *PostgresStore) SaveMatchResult(ctx context.Context, workOrderID string, resp *model.AgentResponse) error {
	if resp == nil {
		return eris.New("postgres: nil agent response")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx, `DELETE FROM work_order_matches WHERE work_order_id = $1`, workOrderID); err != nil {
		return eris.Wrapf(err, "postgres: delete matches for %s", workOrderID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM corrective_actions WHERE work_order_id = $1`, workOrderID); err != nil {
		return eris.Wrapf(err, "postgres: delete corrective actions for %s", workOrderID)
	}

	for _, m := range resp.Matches {
		if _, err := tx.Exec(ctx,
			`INSERT INTO work_order_matches (id, work_order_id, asset_client_id, confidence_score, reasoning, review_status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), workOrderID, m.AssetClientID, m.ConfidenceScore, m.Reasoning,
			string(model.ReviewStatusPending), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert match for %s", workOrderID)
		}
	}

	for _, action := range resp.WorkOrder.CorrectiveActions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO corrective_actions (id, work_order_id, action) VALUES ($1, $2, $3)`,
			uuid.New().String(), workOrderID, action,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert corrective action for %s", workOrderID)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE work_orders
		 SET status = $1, llm_summary = $2, llm_downtime_hours = $3, llm_cost = $4, task_type = $5, updated_at = $6
		 WHERE id = $7`,
		string(model.WorkOrderStatusPendingReview),
		resp.WorkOrder.Summary, resp.WorkOrder.DowntimeHours, resp.WorkOrder.Cost, resp.WorkOrder.TaskType,
		now, workOrderID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update work order %s", workOrderID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work order not found: %s", workOrderID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit match result")
}

func (s *PostgresStore) ListMatches(ctx context.Context, workOrderID string) ([]model.WorkOrderMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, work_order_id, asset_client_id, confidence_score, reasoning, review_status, reviewed_at, created_at
		 FROM work_order_matches WHERE work_order_id = $1 ORDER BY confidence_score DESC`,
		workOrderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list matches")
	}
	defer rows.Close()

	var matches []model.WorkOrderMatch
	for rows.Next() {
		var m model.WorkOrderMatch
		if err := rows.Scan(&m.ID, &m.WorkOrderID, &m.AssetClientID, &m.ConfidenceScore, &m.Reasoning,
			&m.ReviewStatus, &m.ReviewedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		matches = append(matches, m)
	}
	return matches, eris.Wrap(rows.Err(), "postgres: list matches iterate")
}

func (s *PostgresStore) ListCorrectiveActions(ctx context.Context, workOrderID string) ([]model.CorrectiveAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, work_order_id, action FROM corrective_actions WHERE work_order_id = $1`,
		workOrderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrective actions")
	}
	defer rows.Close()

	var actions []model.CorrectiveAction
	for rows.Next() {
		var a model.CorrectiveAction
		if err := rows.Scan(&a.ID, &a.WorkOrderID, &a.Action); err != nil {
			return nil, eris.Wrap(err, "postgres: scan corrective action")
		}
		actions = append(actions, a)
	}
	return actions, eris.Wrap(rows.Err(), "postgres: list corrective actions iterate")
}

func (s *PostgresStore) SetMatchReview(ctx context.Context, matchID string, status model.ReviewStatus) error {
	var reviewedAt *time.Time
	if status != model.ReviewStatusPending {
		now := time.Now().UTC()
		reviewedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_order_matches SET review_status = $1, reviewed_at = $2 WHERE id = $3`,
		string(status), reviewedAt, matchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set match review %s", matchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("match not found: %s", matchID)
	}
	return nil
}

// SubmitReview finalizes a work order's review: rejected matches are removed
// and the work order moves to REVIEWED with the reviewer's notes.
func (s *PostgresStore) SubmitReview(ctx context.Context, workOrderID, notes string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM work_order_matches WHERE work_order_id = $1 AND review_status = $2`,
		workOrderID, string(model.ReviewStatusRejected),
	); err != nil {
		return eris.Wrapf(err, "postgres: delete rejected matches for %s", workOrderID)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE work_orders SET status = $1, review_notes = $2, reviewed_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.WorkOrderStatusReviewed), notes, now, now, workOrderID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: submit review %s", workOrderID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work order not found: %s", workOrderID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit review")
}

func (s *PostgresStore) ComputeMetrics(ctx context.Context, tenantID, scenarioID string) (*model.ReviewMetrics, error) {
	m := model.ReviewMetrics{TenantID: tenantID, ScenarioID: scenarioID, RecordedAt: time.Now().UTC()}
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(DISTINCT wo.id) FILTER (WHERE wo.status != 'UNPROCESSED'),
		   COUNT(m.id),
		   COUNT(m.id) FILTER (WHERE m.review_status = 'ACCEPTED'),
		   COUNT(m.id) FILTER (WHERE m.review_status = 'REJECTED'),
		   COALESCE(AVG(m.confidence_score), 0)
		 FROM work_orders wo
		 LEFT JOIN work_order_matches m ON m.work_order_id = wo.id
		 WHERE wo.tenant_id = $1 AND wo.scenario_id = $2`,
		tenantID, scenarioID,
	).Scan(&m.TotalProcessed, &m.Suggested, &m.Accepted, &m.Rejected, &m.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: compute metrics")
	}
	return &m, nil
}

func (s *PostgresStore) RecordMetrics(ctx context.Context, m model.ReviewMetrics) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_metrics (id, tenant_id, scenario_id, total_processed, suggested, accepted, rejected, avg_confidence, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), m.TenantID, m.ScenarioID, m.TotalProcessed, m.Suggested, m.Accepted, m.Rejected,
		m.AvgConfidence, m.RecordedAt,
	)
	return eris.Wrap(err, "postgres: record metrics")
}

func applyOptional(wo *model.WorkOrder, reviewNotes, llmSummary, taskType *string, downtime, cost *float64) {
	if reviewNotes != nil {
		wo.ReviewNotes = *reviewNotes
	}
	if llmSummary != nil {
		wo.LLMSummary = *llmSummary
	}
	if taskType != nil {
		wo.TaskType = *taskType
	}
	if downtime != nil {
		wo.LLMDowntimeHours = *downtime
	}
	if cost != nil {
		wo.LLMCost = *cost
	}
}
