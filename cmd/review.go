package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/review"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manage the pending-review queue",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records waiting for review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reason, _ := cmd.Flags().GetString("reason")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListReviewQueue(ctx, store.RecordFilter{
			Reason: model.RecordReason(reason),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}

		formatReviewQueue(os.Stdout, records)
		return nil
	},
}

// -- review approve --

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <record-id>...",
	Short: "Approve pending records and apply their prices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reviewer, _ := cmd.Flags().GetString("reviewer")
		if reviewer == "" {
			return eris.New("reviewer is required (--reviewer)")
		}

		result, err := initReview(st).Approve(ctx, reviewer, args)
		if err != nil {
			return eris.Wrap(err, "review approve")
		}

		formatReviewResult(os.Stdout, result)
		return nil
	},
}

// -- review delete --

var reviewDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>...",
	Short: "Delete price records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deleted, err := initReview(st).Delete(ctx, args)
		if err != nil {
			return eris.Wrap(err, "review delete")
		}

		fmt.Printf("Deleted %d of %d records.\n", len(deleted), len(args))
		return nil
	},
}

func init() {
	reviewListCmd.Flags().String("reason", "", "filter by reason (low_confidence, large_deviation_low_confidence, ...)")
	reviewListCmd.Flags().Int("limit", 50, "max records to display")

	reviewApproveCmd.Flags().String("reviewer", "", "name recorded in the review audit trail (required)")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewDeleteCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatReviewQueue writes the pending records with their deviation context.
func formatReviewQueue(out io.Writer, records []model.PriceRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRODUCT\tREASON\tCANDIDATE\tBASIS\tCHANGE%\tCONF")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t---------\t-----\t-------\t----")

	for _, r := range records {
		price := "-"
		if r.Price != nil {
			price = fmt.Sprintf("%.2f", *r.Price)
		}
		pct := "-"
		if p, ok := r.PercentChange(); ok {
			pct = fmt.Sprintf("%+.1f%%", p)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%.2f\n",
			r.ID, truncateID(r.ProductID), r.Reason, price,
			r.ValidationBasisPrice, pct, r.Confidence)
	}
	_ = w.Flush()
}

// formatReviewResult prints the itemized outcome of an approve call.
func formatReviewResult(out io.Writer, res *review.Result) {
	fmt.Fprintf(out, "Approved: %d\n", len(res.Successful))
	for _, id := range res.Successful {
		fmt.Fprintf(out, "  %s\n", id)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped: %d\n", len(res.Skipped))
		for _, item := range res.Skipped {
			fmt.Fprintf(out, "  %s  (%s)\n", item.RecordID, item.Reason)
		}
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(out, "Failed: %d\n", len(res.Failed))
		for _, item := range res.Failed {
			fmt.Fprintf(out, "  %s  (%s)\n", item.RecordID, item.Reason)
		}
	}
}
