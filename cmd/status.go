package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/internal/store"
)

var (
	statusTenantID   string
	statusScenarioID string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show work order counts and review metrics",
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

		counts := make(map[string]int)
		for _, status := range []model.WorkOrderStatus{
			model.WorkOrderStatusUnprocessed,
			model.WorkOrderStatusPendingReview,
			model.WorkOrderStatusReviewed,
		} {
			workOrders, err := st.ListWorkOrders(ctx, store.WorkOrderFilter{
				TenantID:   statusTenantID,
				ScenarioID: statusScenarioID,
				Status:     status,
			})
			if err != nil {
				return eris.Wrapf(err, "list %s work orders", status)
			}
			counts[string(status)] = len(workOrders)
		}

		metrics, err := st.ComputeMetrics(ctx, statusTenantID, statusScenarioID)
		if err != nil {
			return eris.Wrap(err, "compute metrics")
		}

		return printJSON(map[string]any{
			"work_orders": counts,
			"metrics":     metrics,
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusTenantID, "tenant", "", "tenant ID (required)")
	statusCmd.Flags().StringVar(&statusScenarioID, "scenario", "", "scenario ID (required)")
	_ = statusCmd.MarkFlagRequired("tenant")
	_ = statusCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(statusCmd)
}
