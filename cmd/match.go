package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/matcher"
	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/internal/resilience"
	"github.com/sells-group/womatch-cli/internal/store"
	"github.com/sells-group/womatch-cli/pkg/anthropic"
	"github.com/sells-group/womatch-cli/pkg/assistants"
)

var (
	matchTenantID   string
	matchScenarioID string
	matchLimit      int
	matchWorkers    int
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match unprocessed work orders against the assessment corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Assistant.Key == "" {
			return eris.New("assistant API key is required (WOMATCH_ASSISTANT_KEY)")
		}
		if cfg.Assistant.AssistantID == "" {
			return eris.New("assistant ID is required (WOMATCH_ASSISTANT_ASSISTANT_ID)")
		}

		st, index, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		workOrders, err := st.ListWorkOrders(ctx, store.WorkOrderFilter{
			TenantID:   matchTenantID,
			ScenarioID: matchScenarioID,
			Status:     model.WorkOrderStatusUnprocessed,
			Limit:      matchLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list work orders")
		}
		if len(workOrders) == 0 {
			zap.L().Info("no unprocessed work orders",
				zap.String("tenant_id", matchTenantID),
				zap.String("scenario_id", matchScenarioID),
			)
			return nil
		}

		agent := assistants.NewClient(cfg.Assistant.Key,
			assistants.WithBaseURL(cfg.Assistant.BaseURL),
			assistants.WithRateLimit(cfg.Assistant.RateLimit),
			assistants.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())),
		)

		var confirm anthropic.Client
		if cfg.Anthropic.Enabled && cfg.Anthropic.Key != "" {
			confirm = anthropic.NewClient(cfg.Anthropic.Key)
		}

		m := matcher.New(matcher.Params{
			TenantID:     matchTenantID,
			ScenarioID:   matchScenarioID,
			AssistantID:  cfg.Assistant.AssistantID,
			Agent:        agent,
			Index:        index,
			Sink:         st,
			Confirm:      confirm,
			ConfirmModel: cfg.Anthropic.Model,
			MaxAttempts:  cfg.Matcher.MaxAttempts,
			MaxRetries:   cfg.Matcher.MaxRetries,
			RetryBase:    time.Duration(cfg.Matcher.RetryBaseSecs * float64(time.Second)),
			PollInterval: time.Duration(cfg.Matcher.PollIntervalSecs * float64(time.Second)),
		})
		defer m.Close()

		if matchWorkers <= 0 {
			matchWorkers = cfg.Batch.MaxConcurrentWorkOrders
		}

		zap.L().Info("starting batch",
			zap.Int("work_orders", len(workOrders)),
			zap.Int("concurrency", matchWorkers),
		)

		batch := make([]*model.WorkOrder, len(workOrders))
		for i := range workOrders {
			batch[i] = &workOrders[i]
		}

		done := 0
		results := m.ProcessBatch(ctx, batch, matchWorkers, func(r model.MatchResult) {
			done++
			if r.Status == model.MatchResultError {
				zap.L().Warn("work order failed",
					zap.String("work_order_id", r.WorkOrderID),
					zap.String("error", r.Error),
					zap.Int("done", done),
					zap.Int("total", len(batch)),
				)
				return
			}
			zap.L().Info("work order matched",
				zap.String("work_order_id", r.WorkOrderID),
				zap.Int("matches", len(r.Response.Matches)),
				zap.Int("done", done),
				zap.Int("total", len(batch)),
			)
		})

		succeeded, failed := 0, 0
		for _, r := range results {
			if r.Status == model.MatchResultSuccess {
				succeeded++
			} else {
				failed++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchTenantID, "tenant", "", "tenant ID (required)")
	matchCmd.Flags().StringVar(&matchScenarioID, "scenario", "", "scenario ID (required)")
	matchCmd.Flags().IntVar(&matchLimit, "limit", 0, "max work orders to process (0 = all)")
	matchCmd.Flags().IntVar(&matchWorkers, "concurrency", 0, "concurrent work orders (0 = config value)")
	_ = matchCmd.MarkFlagRequired("tenant")
	_ = matchCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(matchCmd)
}
