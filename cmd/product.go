package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dealscope/pricetrack-cli/internal/feed"
	"github.com/dealscope/pricetrack-cli/internal/model"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage the product catalog",
}

// -- product import --

var productImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import products from a CSV/XLSX feed (local path, http(s), or ftp URL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		formatFlag, _ := cmd.Flags().GetString("format")
		charset, _ := cmd.Flags().GetString("charset")
		sheet, _ := cmd.Flags().GetString("sheet")
		if charset == "" {
			charset = cfg.Feed.Charset
		}

		res, err := feed.NewImporter(st, nil).Import(ctx, args[0], feed.Options{
			Format:     feed.Format(formatFlag),
			Charset:    charset,
			SheetName:  sheet,
			FTPTimeout: time.Duration(cfg.Feed.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return eris.Wrap(err, "product import")
		}

		fmt.Printf("Imported %d of %d rows (%d skipped).\n", res.Upserted, res.Rows, res.Skipped)
		return nil
	},
}

// -- product list --

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		products, err := st.ListProducts(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "product list")
		}

		if len(products) == 0 {
			fmt.Fprintln(os.Stderr, "No products found.")
			return nil
		}

		formatProducts(os.Stdout, products)
		return nil
	},
}

func init() {
	productImportCmd.Flags().String("format", "", "feed format: csv or xlsx (default: infer from extension)")
	productImportCmd.Flags().String("charset", "", "CSV charset, e.g. iso-8859-1 (default UTF-8)")
	productImportCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")

	productListCmd.Flags().Int("limit", 50, "max products to display")
	productListCmd.Flags().Int("offset", 0, "pagination offset")

	productCmd.AddCommand(productImportCmd)
	productCmd.AddCommand(productListCmd)
	rootCmd.AddCommand(productCmd)
}

func formatProducts(out io.Writer, products []model.Product) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tMANUFACTURER\tPRICE\tLAST CHECKED")
	_, _ = fmt.Fprintln(w, "--\t----\t------------\t-----\t------------")

	for _, p := range products {
		name := p.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		checked := "never"
		if p.LastCheckedAt != nil {
			checked = p.LastCheckedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			truncateID(p.ID), name, p.Manufacturer, p.CurrentPrice, checked)
	}
	_ = w.Flush()
}
