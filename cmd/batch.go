package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dealscope/pricetrack-cli/internal/classifier"
	"github.com/dealscope/pricetrack-cli/internal/export"
	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/orchestrator"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run and inspect price-check batches",
}

// -- batch start --

var batchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a price-check batch over stale products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if path, _ := cmd.Flags().GetString("thresholds"); path != "" {
			overrides, err := classifier.LoadConfig(path)
			if err != nil {
				return err
			}
			cfg.Classifier = overrides
		}

		days, _ := cmd.Flags().GetInt("days")
		if days == 0 {
			days = cfg.Batch.DaysThreshold
		}
		manufacturer, _ := cmd.Flags().GetString("manufacturer")
		limit, _ := cmd.Flags().GetInt("limit")
		createdBy, _ := cmd.Flags().GetString("created-by")

		orch := initOrchestrator(st)
		batch, summary, err := orch.Run(ctx, orchestrator.StartRequest{
			DaysThreshold: days,
			Manufacturer:  manufacturer,
			Limit:         limit,
			Type:          model.BatchTypeManual,
			CreatedBy:     createdBy,
		})
		if err != nil {
			return eris.Wrap(err, "batch start")
		}

		formatBatch(os.Stdout, batch, summary)
		return nil
	},
}

// -- batch status --

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show a batch and its outcome summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		batch, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batch status")
		}
		if batch == nil {
			return eris.Errorf("batch not found: %s", args[0])
		}

		summary, err := initOrchestrator(st).Summary(ctx, batch.ID)
		if err != nil {
			return err
		}

		formatBatch(os.Stdout, batch, summary)
		return nil
	},
}

// -- batch list --

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		batches, err := st.ListBatches(ctx, store.BatchFilter{
			Status: model.BatchStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "batch list")
		}

		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		formatBatchList(os.Stdout, batches)
		return nil
	},
}

// -- batch results --

var batchResultsCmd = &cobra.Command{
	Use:   "results <batch-id>",
	Short: "List the price records of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		reason, _ := cmd.Flags().GetString("reason")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListBatchRecords(ctx, args[0], store.RecordFilter{
			Status: model.RecordStatus(status),
			Reason: model.RecordReason(reason),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "batch results")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecords(os.Stdout, records)
		return nil
	},
}

// -- batch cancel --

var batchCancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Cancel a running batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := initOrchestrator(st).Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "batch cancel")
		}

		fmt.Printf("Batch %s cancelled. In-flight items will still be recorded.\n", args[0])
		return nil
	},
}

// -- batch export --

var batchExportCmd = &cobra.Command{
	Use:   "export <batch-id>",
	Short: "Export batch results to csv, json, or xlsx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		formatFlag, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}

		batch, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batch export")
		}
		if batch == nil {
			return eris.Errorf("batch not found: %s", args[0])
		}

		summary, err := initOrchestrator(st).Summary(ctx, batch.ID)
		if err != nil {
			return err
		}
		records, err := st.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
		if err != nil {
			return eris.Wrap(err, "batch export")
		}

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "batch export: create file")
			}
			defer f.Close()
			out = f
		}

		if err := export.Write(out, format, batch, summary, records); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(os.Stderr, "Wrote %d records to %s\n", len(records), outPath)
		}
		return nil
	},
}

func init() {
	batchStartCmd.Flags().Int("days", 0, "staleness threshold in days (default from config)")
	batchStartCmd.Flags().String("manufacturer", "", "only check products of this manufacturer")
	batchStartCmd.Flags().Int("limit", 0, "max products per batch (0 = no limit)")
	batchStartCmd.Flags().String("created-by", "cli", "who triggered the batch")
	batchStartCmd.Flags().String("thresholds", "", "YAML file overriding classification thresholds")

	batchListCmd.Flags().String("status", "", "filter by status (running, completed, failed, cancelled)")
	batchListCmd.Flags().Int("limit", 20, "max batches to display")

	batchResultsCmd.Flags().String("status", "", "filter by record status (success, failed, pending_review)")
	batchResultsCmd.Flags().String("reason", "", "filter by record reason")
	batchResultsCmd.Flags().Int("limit", 100, "max records to display")

	batchExportCmd.Flags().String("format", "csv", "export format: csv, json, or xlsx")
	batchExportCmd.Flags().String("out", "", "output file (default stdout)")

	batchCmd.AddCommand(batchStartCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchResultsCmd)
	batchCmd.AddCommand(batchCancelCmd)
	batchCmd.AddCommand(batchExportCmd)
	rootCmd.AddCommand(batchCmd)
}

// formatBatch writes one batch with its summary block.
func formatBatch(out io.Writer, b *model.Batch, s *model.BatchSummary) {
	fmt.Fprintf(out, "Batch %s\n", b.ID)
	fmt.Fprintf(out, "  Status:     %s\n", b.Status)
	fmt.Fprintf(out, "  Type:       %s\n", b.Type)
	fmt.Fprintf(out, "  Total:      %d\n", b.Total)
	fmt.Fprintf(out, "  Started:    %s\n", b.StartedAt.Format(time.RFC3339))
	if b.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed:  %s\n", b.CompletedAt.Format(time.RFC3339))
	}
	if b.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", b.Error)
	}
	if s != nil {
		fmt.Fprintf(out, "  Processed:  %d (%d ok, %d failed, %d need review)\n",
			s.Completed, s.Successful, s.Failed, s.NeedsReview)
		fmt.Fprintf(out, "  Changed:    %d updated, %d unchanged\n", s.Updated, s.Unchanged)
		fmt.Fprintf(out, "  Est. cost:  $%.4f\n", s.EstimatedCost)
	}
}

// formatBatchList writes a tabular batch listing.
func formatBatchList(out io.Writer, batches []model.Batch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tTOTAL\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-----\t-------\t--------")

	for _, b := range batches {
		dur := ""
		if b.CompletedAt != nil {
			dur = b.CompletedAt.Sub(b.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(b.ID), b.Status, b.Type, b.Total,
			b.StartedAt.Format("2006-01-02 15:04"), dur)
	}
	_ = w.Flush()
}

// formatRecords writes a tabular record listing.
func formatRecords(out io.Writer, records []model.PriceRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRODUCT\tSTATUS\tREASON\tPRICE\tCHANGE\tCONF")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t------\t-----\t------\t----")

	for _, r := range records {
		price := "-"
		if r.Price != nil {
			price = fmt.Sprintf("%.2f", *r.Price)
		}
		change := "-"
		if delta, ok := r.PriceChange(); ok {
			change = fmt.Sprintf("%+.2f", delta)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			truncateID(r.ID), truncateID(r.ProductID), r.Status, r.Reason,
			price, change, r.Confidence)
	}
	_ = w.Flush()
}

// truncateID shortens UUIDs for table display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
