// Package corpus provides read-only access to the assessment corpus, the
// set of active assessments a work order may be matched against. The agent's
// validate_asset_client_ids tool and the response validator both resolve
// membership through this index.
package corpus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/womatch-cli/internal/db"
	"github.com/sells-group/womatch-cli/internal/model"
)

// Index answers membership and lookup queries over active assessments,
// always scoped to a tenant and scenario pair.
type Index interface {
	// ValidAssetClientIDs returns the set of asset client IDs with at least
	// one active assessment in the tenant/scenario scope.
	ValidAssetClientIDs(ctx context.Context, tenantID, scenarioID string) (map[string]bool, error)

	// LookupAssessment returns the assessment with the given ID, or nil if
	// no active assessment matches.
	LookupAssessment(ctx context.Context, assessmentID string) (*model.Assessment, error)

	// ListAssessments returns all active assessments in scope, for building
	// the agent prompt.
	ListAssessments(ctx context.Context, tenantID, scenarioID string) ([]model.Assessment, error)
}

// PostgresIndex implements Index over the assessments table.
type PostgresIndex struct {
	pool db.Pool
}

// NewPostgresIndex creates an Index backed by the given pool.
func NewPostgresIndex(pool db.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

func (i *PostgresIndex) ValidAssetClientIDs(ctx context.Context, tenantID, scenarioID string) (map[string]bool, error) {
	rows, err := i.pool.Query(ctx,
		`SELECT DISTINCT asset_client_id FROM assessments
		 WHERE tenant_id = $1 AND scenario_id = $2 AND is_active = true`,
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

func (i *PostgresIndex) LookupAssessment(ctx context.Context, assessmentID string) (*model.Assessment, error) {
	var a model.Assessment
	err := i.pool.QueryRow(ctx,
		`SELECT id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active
		 FROM assessments WHERE id = $1 AND is_active = true`,
		assessmentID,
	).Scan(&a.ID, &a.AssetClientID, &a.AssetName, &a.Component, &a.TenantID, &a.ScenarioID, &a.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "corpus: lookup assessment %s", assessmentID)
	}
	return &a, nil
}

func (i *PostgresIndex) ListAssessments(ctx context.Context, tenantID, scenarioID string) ([]model.Assessment, error) {
	rows, err := i.pool.Query(ctx,
		`SELECT id, asset_client_id, asset_name, component, tenant_id, scenario_id, is_active
		 FROM assessments
		 WHERE tenant_id = $1 AND scenario_id = $2 AND is_active = true
		 ORDER BY asset_name`,
		tenantID, scenarioID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.AssetClientID, &a.AssetName, &a.Component, &a.TenantID, &a.ScenarioID, &a.IsActive); err != nil {
			return nil, eris.Wrap(err, "corpus: scan assessment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "corpus: iterate assessments")
}
