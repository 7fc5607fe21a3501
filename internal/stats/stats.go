// Package stats computes derived price facts: history with per-point
// change versus the prior accepted observation, and all-time extremes.
// Flags produced by Stamp are written onto the record at classification
// time and never recomputed afterwards, so later observations cannot
// retroactively move an older record's flag.
package stats

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// HistoryReader is the slice of the store the engine needs.
type HistoryReader interface {
	AcceptedHistory(ctx context.Context, productID, variant string) ([]model.PricePoint, error)
	AcceptedExtremes(ctx context.Context, productID, variant string) (*model.Extremes, error)
}

// Engine answers history and extremes queries over accepted records.
type Engine struct {
	reader HistoryReader
}

func NewEngine(reader HistoryReader) *Engine {
	return &Engine{reader: reader}
}

// HistoryEntry is one accepted observation plus its change versus the
// previous accepted observation. Change fields are zero with HasChange
// false for the oldest point.
type HistoryEntry struct {
	model.PricePoint
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	HasChange     bool    `json:"has_change"`
}

// History returns accepted observations newest-first with per-point deltas.
func (e *Engine) History(ctx context.Context, productID, variant string) ([]HistoryEntry, error) {
	points, err := e.reader.AcceptedHistory(ctx, productID, variant)
	if err != nil {
		return nil, eris.Wrapf(err, "stats: history for product %s", productID)
	}

	entries := make([]HistoryEntry, len(points))
	for i, p := range points {
		entries[i] = HistoryEntry{PricePoint: p}
		// points are newest-first; the prior observation is the next element.
		if i+1 < len(points) {
			prev := points[i+1]
			entries[i].Change = p.Price - prev.Price
			entries[i].HasChange = true
			if prev.Price != 0 {
				entries[i].PercentChange = (p.Price - prev.Price) / prev.Price * 100
			}
		}
	}
	return entries, nil
}

// Extremes recomputes the all-time low and high over accepted records.
// Both fields are nil when the product has no accepted history.
func (e *Engine) Extremes(ctx context.Context, productID, variant string) (*model.Extremes, error) {
	ex, err := e.reader.AcceptedExtremes(ctx, productID, variant)
	if err != nil {
		return nil, eris.Wrapf(err, "stats: extremes for product %s", productID)
	}
	return ex, nil
}

// Stamp decides the all-time flags for a candidate price against the
// history available right now. The first accepted observation for a
// product is both the all-time low and high; ties with the current
// extreme keep the flag.
func (e *Engine) Stamp(ctx context.Context, productID, variant string, price float64) (low, high bool, err error) {
	ex, err := e.reader.AcceptedExtremes(ctx, productID, variant)
	if err != nil {
		return false, false, eris.Wrapf(err, "stats: stamp extremes for product %s", productID)
	}
	if ex == nil || ex.AllTimeLow == nil {
		return true, true, nil
	}
	return price <= *ex.AllTimeLow, price >= *ex.AllTimeHigh, nil
}
