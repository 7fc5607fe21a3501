package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/stats"
)

var historyCmd = &cobra.Command{
	Use:   "history <product-id>",
	Short: "Show the accepted price history of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		product, err := st.GetProduct(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if product == nil {
			return eris.Errorf("product not found: %s", args[0])
		}

		variant, _ := cmd.Flags().GetString("variant")

		engine := initStats(st)
		entries, err := engine.History(ctx, product.ID, variant)
		if err != nil {
			return eris.Wrap(err, "history")
		}
		extremes, err := engine.Extremes(ctx, product.ID, variant)
		if err != nil {
			return eris.Wrap(err, "history")
		}

		formatHistory(os.Stdout, product, entries, extremes)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("variant", "", "restrict history to one variant")
	rootCmd.AddCommand(historyCmd)
}

func formatHistory(out io.Writer, p *model.Product, entries []stats.HistoryEntry, ex *model.Extremes) {
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(out, "  Current price: %.2f %s\n", p.CurrentPrice, p.Currency)
	if ex != nil && ex.AllTimeLow != nil && ex.AllTimeHigh != nil {
		fmt.Fprintf(out, "  All-time:      %.2f low / %.2f high\n", *ex.AllTimeLow, *ex.AllTimeHigh)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "  No accepted observations yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OBSERVED\tPRICE\tCHANGE\tVARIANT")
	_, _ = fmt.Fprintln(w, "--------\t-----\t------\t-------")
	for _, e := range entries {
		change := "-"
		if e.HasChange {
			change = fmt.Sprintf("%+.2f (%+.1f%%)", e.Change, e.PercentChange)
		}
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n",
			e.ObservedAt.Format("2006-01-02 15:04"), e.Price, change, e.Variant)
	}
	_ = w.Flush()
}
