package corpus

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/womatch-cli/internal/model"
)

// SQLiteIndex implements Index over a database/sql handle. It serves the
// single-node deployment where the store runs on SQLite.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates an Index backed by the given database handle.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (i *SQLiteIndex) ValidAssetClientIDs(ctx context.Context, tenantID, scenarioID string) (map[string]bool, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT DISTINCT asset_client_id FROM assessments
		 WHERE tenant_id = ? AND scenario_id = ? AND is_active = 1`,
		tenantID, scenarioID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: query asset client ids")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "corpus: scan asset client id")
		}
		ids[id] = true
	}
	return ids, eris.Wrap(rows.Err(), "corpus: iterate asset client ids")
}

func (i *SQLiteIndex) LookupAssessment(ctx context.Context, assessmentID string) (*model.Assessment, error) {
	var (
		a         model.Assessment
		component sql.NullString
	)
	err := i.db.QueryRowContext(ctx,
		`SELECT id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active
		 FROM assessments WHERE id = ? AND is_active = 1`,
		assessmentID,
	).Scan(&a.ID, &a.AssetClientID, &a.AssetName, &component, &a.TenantID, &a.ScenarioID, &a.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "corpus: lookup assessment %s", assessmentID)
	}
	a.Component = component.String
	return &a, nil
}

func (i *SQLiteIndex) ListAssessments(ctx context.Context, tenantID, scenarioID string) ([]model.Assessment, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active
		 FROM assessments
		 WHERE tenant_id = ? AND scenario_id = ? AND is_active = 1
		 ORDER BY asset_name`,
		tenantID, scenarioID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var (
			a         model.Assessment
			component sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.AssetClientID, &a.AssetName, &component, &a.TenantID, &a.ScenarioID, &a.IsActive); err != nil {
			return nil, eris.Wrap(err, "corpus: scan assessment")
		}
		a.Component = component.String
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "corpus: iterate assessments")
}
