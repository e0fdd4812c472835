package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/db"
	"github.com/sells-group/womatch-cli/internal/ingest"
	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/internal/store"
)

var (
	importFilePath   string
	importTenantID   string
	importScenarioID string
	importFresh      bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import work orders or assessments from XLSX, CSV, or JSON",
}

var importWorkOrdersCmd = &cobra.Command{
	Use:   "work-orders",
	Short: "Import work orders into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, _, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		workOrders, err := ingest.ReadWorkOrders(importFilePath, importTenantID, importScenarioID)
		if err != nil {
			return err
		}

		count, err := loadWorkOrders(ctx, st, workOrders)
		if err != nil {
			return err
		}

		zap.L().Info("work order import complete",
			zap.Int64("imported", count),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

var importAssessmentsCmd = &cobra.Command{
	Use:   "assessments",
	Short: "Import assessments into the corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, _, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		assessments, err := ingest.ReadAssessments(importFilePath, importTenantID, importScenarioID)
		if err != nil {
			return err
		}

		var count int64
		if importFresh {
			count, err = freshLoadAssessments(ctx, st, importTenantID, importScenarioID, assessments)
		} else {
			count, err = loadAssessments(ctx, st, assessments)
		}
		if err != nil {
			return err
		}

		zap.L().Info("assessment import complete",
			zap.Int64("imported", count),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

// loadWorkOrders bulk-upserts on Postgres and falls back to row-at-a-time
// inserts elsewhere. Existing rows only have raw_fields refreshed so review
// state survives a re-import.
func loadWorkOrders(ctx context.Context, st store.Store, workOrders []model.WorkOrder) (int64, error) {
	if pg, ok := st.(*store.PostgresStore); ok {
		rows := make([][]any, 0, len(workOrders))
		for _, wo := range workOrders {
			fieldsJSON, err := json.Marshal(wo.RawFields)
			if err != nil {
				return 0, eris.Wrap(err, "marshal raw fields")
			}
			rows = append(rows, []any{wo.ExternalID, wo.TenantID, wo.ScenarioID, fieldsJSON, string(wo.Status)})
		}
		return db.BulkUpsert(ctx, pg.Pool(), db.UpsertConfig{
			Table:        "work_orders",
			Columns:      []string{"external_id", "tenant_id", "scenario_id", "raw_fields", "status"},
			ConflictKeys: []string{"tenant_id", "scenario_id", "external_id"},
			UpdateCols:   []string{"raw_fields"},
		}, rows)
	}

	var count int64
	for i := range workOrders {
		if err := st.CreateWorkOrder(ctx, &workOrders[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// freshLoadAssessments replaces the corpus for a tenant/scenario: the scope's
// rows are cleared, then the full set is reloaded. On Postgres the reload
// streams over the COPY protocol, since a freshly cleared scope has no
// conflicts to upsert around.
func freshLoadAssessments(ctx context.Context, st store.Store, tenantID, scenarioID string, assessments []model.Assessment) (int64, error) {
	if pg, ok := st.(*store.PostgresStore); ok {
		return copyAssessments(ctx, pg.Pool(), tenantID, scenarioID, assessments)
	}

	lite, ok := st.(*store.SQLiteStore)
	if !ok {
		return 0, eris.New("import: fresh load is not supported by this store")
	}
	if _, err := lite.DB().ExecContext(ctx,
		`DELETE FROM assessments WHERE tenant_id = ? AND scenario_id = ?`, tenantID, scenarioID); err != nil {
		return 0, eris.Wrap(err, "import: clear assessment scope")
	}
	return loadAssessments(ctx, st, assessments)
}

func copyAssessments(ctx context.Context, pool db.Pool, tenantID, scenarioID string, assessments []model.Assessment) (int64, error) {
	if _, err := pool.Exec(ctx,
		`DELETE FROM assessments WHERE tenant_id = $1 AND scenario_id = $2`, tenantID, scenarioID); err != nil {
		return 0, eris.Wrap(err, "import: clear assessment scope")
	}

	rows := make([][]any, 0, len(assessments))
	for _, a := range assessments {
		rows = append(rows, []any{a.ID, a.AssetClientID, a.AssetName, a.Component, a.TenantID, a.ScenarioID, a.IsActive})
	}
	return db.CopyFrom(ctx, pool, "assessments",
		[]string{"id", "asset_client_id", "asset_name", "component", "tenant_id", "scenario_id", "is_active"}, rows)
}

func loadAssessments(ctx context.Context, st store.Store, assessments []model.Assessment) (int64, error) {
	if pg, ok := st.(*store.PostgresStore); ok {
		rows := make([][]any, 0, len(assessments))
		for _, a := range assessments {
			rows = append(rows, []any{a.ID, a.AssetClientID, a.AssetName, a.Component, a.TenantID, a.ScenarioID, a.IsActive})
		}
		return db.BulkUpsert(ctx, pg.Pool(), db.UpsertConfig{
			Table:        "assessments",
			Columns:      []string{"id", "asset_client_id", "asset_name", "component", "tenant_id", "scenario_id", "is_active"},
			ConflictKeys: []string{"id"},
		}, rows)
	}

	var count int64
	for i := range assessments {
		if err := st.CreateAssessment(ctx, &assessments[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func init() {
	for _, c := range []*cobra.Command{importWorkOrdersCmd, importAssessmentsCmd} {
		c.Flags().StringVar(&importFilePath, "file", "", "path to XLSX, CSV, or JSON file (required)")
		c.Flags().StringVar(&importTenantID, "tenant", "", "tenant ID (required)")
		c.Flags().StringVar(&importScenarioID, "scenario", "", "scenario ID (required)")
		_ = c.MarkFlagRequired("file")
		_ = c.MarkFlagRequired("tenant")
		_ = c.MarkFlagRequired("scenario")
		importCmd.AddCommand(c)
	}
	importAssessmentsCmd.Flags().BoolVar(&importFresh, "fresh", false, "clear the tenant/scenario corpus before loading")
	rootCmd.AddCommand(importCmd)
}
