package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/womatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS work_orders (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL,
	tenant_id          TEXT NOT NULL,
	scenario_id        TEXT NOT NULL,
	raw_fields         TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'UNPROCESSED',
	review_notes       TEXT,
	reviewed_at        DATETIME,
	llm_summary        TEXT,
	llm_downtime_hours REAL,
	llm_cost           REAL,
	task_type          TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
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
	is_active       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_assessments_scope ON assessments(tenant_id, scenario_id, is_active);
CREATE INDEX IF NOT EXISTS idx_assessments_asset ON assessments(asset_client_id);

CREATE TABLE IF NOT EXISTS work_order_matches (
	id               TEXT PRIMARY KEY,
	work_order_id    TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
	asset_client_id  TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	reasoning        TEXT NOT NULL,
	review_status    TEXT NOT NULL DEFAULT 'PENDING',
	reviewed_at      DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_matches_work_order ON work_order_matches(work_order_id);

CREATE TABLE IF NOT EXISTS corrective_actions (
	id            TEXT PRIMARY KEY,
	work_order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
	action        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_work_order ON corrective_actions(work_order_id);

CREATE TABLE IF NOT EXISTS model_metrics (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	scenario_id     TEXT NOT NULL,
	total_processed INTEGER NOT NULL,
	suggested       INTEGER NOT NULL,
	accepted        INTEGER NOT NULL,
	rejected        INTEGER NOT NULL,
	avg_confidence  REAL NOT NULL,
	recorded_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for read-only consumers such as
// the corpus index.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
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
		return eris.Wrap(err, "sqlite: marshal raw fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_orders (id, external_id, tenant_id, scenario_id, raw_fields, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wo.ID, wo.ExternalID, wo.TenantID, wo.ScenarioID, string(fieldsJSON), string(wo.Status), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert work order %s", wo.ExternalID)
}

func (s *SQLiteStore) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, tenant_id, scenario_id, raw_fields, status, review_notes, reviewed_at,
		        llm_summary, llm_downtime_hours, llm_cost, task_type, created_at, updated_at
		 FROM work_orders WHERE id = ?`,
		id,
	)
	wo, err := scanWorkOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wo, err
}

func (s *SQLiteStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]model.WorkOrder, error) {
	query := `SELECT id, external_id, tenant_id, scenario_id, raw_fields, status, review_notes, reviewed_at,
	                 llm_summary, llm_downtime_hours, llm_cost, task_type, created_at, updated_at
	          FROM work_orders WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, filter.ScenarioID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	// Limit <= 0 means no cap. SQLite needs a LIMIT clause before
	// OFFSET, so the uncapped-with-offset case uses LIMIT -1.
	switch {
	case filter.Limit > 0:
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	case filter.Offset > 0:
		query += ` LIMIT -1`
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list work orders")
	}
	defer rows.Close()

	var out []model.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wo)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list work orders iterate")
}

func (s *SQLiteStore) CreateAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   asset_client_id = excluded.asset_client_id, asset_name = excluded.asset_name,
		   component = excluded.component, is_active = excluded.is_active`,
		a.ID, a.AssetClientID, a.AssetName, a.Component, a.TenantID, a.ScenarioID, a.IsActive,
	)
	return eris.Wrapf(err, "sqlite: upsert assessment %s", a.ID)
}

func (s *SQLiteStore) SaveMatchResult(ctx context.Context, workOrderID string, resp *model.AgentResponse) error {
	if resp == nil {
		return eris.New("sqlite: nil agent response")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_order_matches WHERE work_order_id = ?`, workOrderID); err != nil {
		return eris.Wrapf(err, "sqlite: delete matches for %s", workOrderID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM corrective_actions WHERE work_order_id = ?`, workOrderID); err != nil {
		return eris.Wrapf(err, "sqlite: delete corrective actions for %s", workOrderID)
	}

	for _, m := range resp.Matches {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO work_order_matches (id, work_order_id, asset_client_id, confidence_score, reasoning, review_status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), workOrderID, m.AssetClientID, m.ConfidenceScore, m.Reasoning,
			string(model.ReviewStatusPending), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert match for %s", workOrderID)
		}
	}

	for _, action := range resp.WorkOrder.CorrectiveActions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO corrective_actions (id, work_order_id, action) VALUES (?, ?, ?)`,
			uuid.New().String(), workOrderID, action,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert corrective action for %s", workOrderID)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE work_orders
		 SET status = ?, llm_summary = ?, llm_downtime_hours = ?, llm_cost = ?, task_type = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.WorkOrderStatusPendingReview),
		resp.WorkOrder.Summary, resp.WorkOrder.DowntimeHours, resp.WorkOrder.Cost, resp.WorkOrder.TaskType,
		now, workOrderID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update work order %s", workOrderID)
	}
	if err := checkRowsAffected(res, "work order", workOrderID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit match result")
}

func (s *SQLiteStore) ListMatches(ctx context.Context, workOrderID string) ([]model.WorkOrderMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_order_id, asset_client_id, confidence_score, reasoning, review_status, reviewed_at, created_at
		 FROM work_order_matches WHERE work_order_id = ? ORDER BY confidence_score DESC`,
		workOrderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list matches")
	}
	defer rows.Close()

	var matches []model.WorkOrderMatch
	for rows.Next() {
		var m model.WorkOrderMatch
		if err := rows.Scan(&m.ID, &m.WorkOrderID, &m.AssetClientID, &m.ConfidenceScore, &m.Reasoning,
			&m.ReviewStatus, &m.ReviewedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		matches = append(matches, m)
	}
	return matches, eris.Wrap(rows.Err(), "sqlite: list matches iterate")
}

func (s *SQLiteStore) ListCorrectiveActions(ctx context.Context, workOrderID string) ([]model.CorrectiveAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_order_id, action FROM corrective_actions WHERE work_order_id = ?`,
		workOrderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrective actions")
	}
	defer rows.Close()

	var actions []model.CorrectiveAction
	for rows.Next() {
		var a model.CorrectiveAction
		if err := rows.Scan(&a.ID, &a.WorkOrderID, &a.Action); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan corrective action")
		}
		actions = append(actions, a)
	}
	return actions, eris.Wrap(rows.Err(), "sqlite: list corrective actions iterate")
}

func (s *SQLiteStore) SetMatchReview(ctx context.Context, matchID string, status model.ReviewStatus) error {
	var reviewedAt *time.Time
	if status != model.ReviewStatusPending {
		now := time.Now().UTC()
		reviewedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_order_matches SET review_status = ?, reviewed_at = ? WHERE id = ?`,
		string(status), reviewedAt, matchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set match review %s", matchID)
	}
	return checkRowsAffected(res, "match", matchID)
}

func (s *SQLiteStore) SubmitReview(ctx context.Context, workOrderID, notes string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM work_order_matches WHERE work_order_id = ? AND review_status = ?`,
		workOrderID, string(model.ReviewStatusRejected),
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete rejected matches for %s", workOrderID)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE work_orders SET status = ?, review_notes = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.WorkOrderStatusReviewed), notes, now, now, workOrderID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: submit review %s", workOrderID)
	}
	if err := checkRowsAffected(res, "work order", workOrderID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit review")
}

func (s *SQLiteStore) ComputeMetrics(ctx context.Context, tenantID, scenarioID string) (*model.ReviewMetrics, error) {
	m := model.ReviewMetrics{TenantID: tenantID, ScenarioID: scenarioID, RecordedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM work_orders WHERE tenant_id = ? AND scenario_id = ? AND status != 'UNPROCESSED'),
		   COUNT(m.id),
		   COALESCE(SUM(CASE WHEN m.review_status = 'ACCEPTED' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN m.review_status = 'REJECTED' THEN 1 ELSE 0 END), 0),
		   COALESCE(AVG(m.confidence_score), 0)
		 FROM work_order_matches m
		 JOIN work_orders wo ON wo.id = m.work_order_id
		 WHERE wo.tenant_id = ? AND wo.scenario_id = ?`,
		tenantID, scenarioID, tenantID, scenarioID,
	).Scan(&m.TotalProcessed, &m.Suggested, &m.Accepted, &m.Rejected, &m.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: compute metrics")
	}
	return &m, nil
}

func (s *SQLiteStore) RecordMetrics(ctx context.Context, m model.ReviewMetrics) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_metrics (id, tenant_id, scenario_id, total_processed, suggested, accepted, rejected, avg_confidence, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), m.TenantID, m.ScenarioID, m.TotalProcessed, m.Suggested, m.Accepted, m.Rejected,
		m.AvgConfidence, m.RecordedAt,
	)
	return eris.Wrap(err, "sqlite: record metrics")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row scannable) (*model.WorkOrder, error) {
	var wo model.WorkOrder
	var fieldsJSON string
	var reviewNotes, llmSummary, taskType sql.NullString
	var downtime, cost sql.NullFloat64

	err := row.Scan(&wo.ID, &wo.ExternalID, &wo.TenantID, &wo.ScenarioID, &fieldsJSON, &wo.Status,
		&reviewNotes, &wo.ReviewedAt, &llmSummary, &downtime, &cost, &taskType,
		&wo.CreatedAt, &wo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan work order")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &wo.RawFields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal raw fields")
	}
	wo.ReviewNotes = reviewNotes.String
	wo.LLMSummary = llmSummary.String
	wo.TaskType = taskType.String
	wo.LLMDowntimeHours = downtime.Float64
	wo.LLMCost = cost.Float64
	return &wo, nil
}
