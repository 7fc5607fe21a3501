package model

import "time"

// Product summarizes the canonical product entity this pipeline observes.
// CurrentPrice is the authoritative price field; it is mutated only through
// the approval workflow (or the orchestrator's auto-apply path for
// high-confidence results), never directly by extraction.
type Product struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Manufacturer  string     `json:"manufacturer,omitempty"`
	Variant       string     `json:"variant,omitempty"`
	CurrentPrice  float64    `json:"current_price"`
	Currency      string     `json:"currency,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PricePoint is one accepted observation in a product's price history.
type PricePoint struct {
	RecordID   string    `json:"record_id"`
	Price      float64   `json:"price"`
	Variant    string    `json:"variant,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Extremes holds the minimum and maximum ever-accepted price for a
// product (optionally scoped to one variant).
type Extremes struct {
	AllTimeLow  *float64 `json:"all_time_low,omitempty"`
	AllTimeHigh *float64 `json:"all_time_high,omitempty"`
}
