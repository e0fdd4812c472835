package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/review"
)

var (
	reviewTenantID   string
	reviewScenarioID string
	reviewAccept     []string
	reviewReject     []string
	reviewNotes      string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review proposed work order matches",
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List work orders awaiting review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		workOrders, err := svc.PendingWorkOrders(cmd.Context(), reviewTenantID, reviewScenarioID)
		if err != nil {
			return err
		}
		return printJSON(workOrders)
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <work-order-id>",
	Short: "Show a work order with its proposed matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		detail, err := svc.WorkOrderDetail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if detail == nil {
			return eris.Errorf("work order %s not found", args[0])
		}
		return printJSON(detail)
	},
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <match-id>",
	Short: "Accept a proposed match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return svc.AcceptMatch(cmd.Context(), args[0])
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <match-id>",
	Short: "Reject a proposed match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return svc.RejectMatch(cmd.Context(), args[0])
	},
}

var reviewResetCmd = &cobra.Command{
	Use:   "reset <match-id>",
	Short: "Reset a match decision back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return svc.ResetMatch(cmd.Context(), args[0])
	},
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <work-order-id>",
	Short: "Finalize a review, deleting rejected matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := initReview(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		decisions := make(map[string]bool, len(reviewAccept)+len(reviewReject))
		for _, id := range reviewAccept {
			decisions[id] = true
		}
		for _, id := range reviewReject {
			decisions[id] = false
		}

		if err := svc.SubmitReview(cmd.Context(), args[0], decisions, reviewNotes); err != nil {
			return err
		}
		zap.L().Info("review submitted",
			zap.String("work_order_id", args[0]),
			zap.Int("accepted", len(reviewAccept)),
			zap.Int("rejected", len(reviewReject)),
		)
		return nil
	},
}

func initReview(cmd *cobra.Command) (*review.Service, func(), error) {
	st, _, err := initStore(cmd.Context())
	if err != nil {
		return nil, nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate")
	}
	return review.NewService(st), func() { _ = st.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reviewPendingCmd.Flags().StringVar(&reviewTenantID, "tenant", "", "tenant ID (required)")
	reviewPendingCmd.Flags().StringVar(&reviewScenarioID, "scenario", "", "scenario ID (required)")
	_ = reviewPendingCmd.MarkFlagRequired("tenant")
	_ = reviewPendingCmd.MarkFlagRequired("scenario")

	reviewSubmitCmd.Flags().StringSliceVar(&reviewAccept, "accept", nil, "match IDs to accept")
	reviewSubmitCmd.Flags().StringSliceVar(&reviewReject, "reject", nil, "match IDs to reject")
	reviewSubmitCmd.Flags().StringVar(&reviewNotes, "notes", "", "reviewer notes")

	reviewCmd.AddCommand(reviewPendingCmd, reviewShowCmd, reviewAcceptCmd, reviewRejectCmd, reviewResetCmd, reviewSubmitCmd)
	rootCmd.AddCommand(reviewCmd)
}
