// Package export serializes batch results for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// Format names a supported export serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatXLSX:
		return Format(s), nil
	default:
		return "", eris.Errorf("export: unsupported format %q (want csv, json or xlsx)", s)
	}
}

// Write serializes the batch and its records to w in the given format.
func Write(w io.Writer, format Format, batch *model.Batch, summary *model.BatchSummary, records []model.PriceRecord) error {
	switch format {
	case FormatCSV:
		return CSV(w, records)
	case FormatJSON:
		return JSON(w, batch, summary, records)
	case FormatXLSX:
		return XLSX(w, records)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

var header = []string{
	"record_id", "batch_id", "product_id", "variant",
	"price", "validation_basis_price", "price_change", "percent_change",
	"status", "reason", "method", "confidence", "validation_confidence",
	"reviewed_by", "reviewed_at", "review_decision",
	"is_all_time_low", "is_all_time_high", "diagnostics", "created_at",
}

// CSV writes records as RFC 4180 CSV. encoding/csv quotes any field
// containing commas or quotes; the nested diagnostics object is
// JSON-encoded into a single column.
func CSV(w io.Writer, records []model.PriceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range records {
		row, err := recordRow(&records[i])
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "export: write csv row for record %s", records[i].ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func recordRow(r *model.PriceRecord) ([]string, error) {
	diagJSON, err := json.Marshal(r.Diagnostics)
	if err != nil {
		return nil, eris.Wrapf(err, "export: marshal diagnostics for record %s", r.ID)
	}

	var price, change, pct string
	if r.Price != nil {
		price = formatFloat(*r.Price)
	}
	if v, ok := r.PriceChange(); ok {
		change = formatFloat(v)
	}
	if v, ok := r.PercentChange(); ok {
		pct = formatFloat(v)
	}

	var batchID string
	if r.BatchID != nil {
		batchID = *r.BatchID
	}
	var reviewedAt, decision string
	if r.Review.ReviewedAt != nil {
		reviewedAt = r.Review.ReviewedAt.UTC().Format(time.RFC3339)
	}
	if r.Review.Decision != nil {
		decision = string(*r.Review.Decision)
	}

	return []string{
		r.ID, batchID, r.ProductID, r.Variant,
		price, formatFloat(r.ValidationBasisPrice), change, pct,
		string(r.Status), string(r.Reason), r.Method,
		formatFloat(r.Confidence), formatFloat(r.ValidationConfidence),
		r.Review.Reviewer, reviewedAt, decision,
		strconv.FormatBool(r.IsAllTimeLow), strconv.FormatBool(r.IsAllTimeHigh),
		string(diagJSON), r.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// jsonDocument is the top-level shape of a JSON export.
type jsonDocument struct {
	Batch   *model.Batch        `json:"batch"`
	Summary *model.BatchSummary `json:"summary,omitempty"`
	Records []model.PriceRecord `json:"records"`
}

// JSON writes the batch, its summary and records as one indented document.
func JSON(w io.Writer, batch *model.Batch, summary *model.BatchSummary, records []model.PriceRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []model.PriceRecord{}
	}
	err := enc.Encode(jsonDocument{Batch: batch, Summary: summary, Records: records})
	return eris.Wrap(err, "export: encode json")
}

// XLSX writes records as a single-sheet workbook with the same columns
// as the CSV export.
func XLSX(w io.Writer, records []model.PriceRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "export: add xlsx sheet")
	}

	hr := sheet.AddRow()
	for _, col := range header {
		hr.AddCell().SetString(col)
	}
	for i := range records {
		row, err := recordRow(&records[i])
		if err != nil {
			return err
		}
		xr := sheet.AddRow()
		for _, cell := range row {
			xr.AddCell().SetString(cell)
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}
