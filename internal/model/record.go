package model

import "time"

// RecordStatus represents the lifecycle state of a price record.
type RecordStatus string

const (
	// RecordStatusSuccess means the price was accepted and applied (or will
	// be applied) to the product's canonical current price.
	RecordStatusSuccess RecordStatus = "success"
	// RecordStatusFailed means extraction produced no usable price. Failed
	// records are never auto-applied.
	RecordStatusFailed RecordStatus = "failed"
	// RecordStatusPendingReview means a candidate price exists but the
	// confidence signals require a human decision before it may affect
	// canonical state. The review queue is a view over this status plus
	// the record's reason.
	RecordStatusPendingReview RecordStatus = "pending_review"
)

// RecordReason categorizes why a record failed or needs review.
type RecordReason string

const (
	ReasonExtractionFailed   RecordReason = "extraction_failed"
	ReasonTimeout            RecordReason = "timeout"
	ReasonInvalidPrice       RecordReason = "invalid_price"
	ReasonLargeDeviation     RecordReason = "large_deviation_low_confidence"
	ReasonLowConfidence      RecordReason = "low_confidence"
	ReasonConfidenceMismatch RecordReason = "confidence_mismatch"
)

// ReviewDecision is the reviewer's verdict on a pending record.
type ReviewDecision string

const (
	ReviewDecisionApproved ReviewDecision = "approved"
	ReviewDecisionRejected ReviewDecision = "rejected"
)

// RawDiagnostics carries opaque extraction telemetry for a record.
type RawDiagnostics struct {
	HTTPStatus      int     `json:"http_status,omitempty"`
	PageSizeBytes   int64   `json:"page_size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// ReviewMeta holds the audit trail of a human review. All fields are nil
// until the record is reviewed, and are cleared again if the approval is
// rolled back.
type ReviewMeta struct {
	Reviewer   string          `json:"reviewer,omitempty"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	Decision   *ReviewDecision `json:"decision,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// PriceRecord is one price observation for a product. One row is written
// per extraction attempt; rows accumulate and are never overwritten.
// BatchID is nil for manual corrections that ran outside any batch.
type PriceRecord struct {
	ID        string  `json:"id"`
	BatchID   *string `json:"batch_id,omitempty"`
	ProductID string  `json:"product_id"`
	Variant   string  `json:"variant,omitempty"`

	// Price is nil when extraction failed to produce a candidate.
	Price *float64 `json:"price,omitempty"`
	// ValidationBasisPrice is the canonical price in effect at extraction
	// time, the comparison baseline for confidence and change computation.
	ValidationBasisPrice float64 `json:"validation_basis_price"`

	Status RecordStatus `json:"status"`
	Reason RecordReason `json:"reason,omitempty"`

	Method               string  `json:"method"`
	Confidence           float64 `json:"confidence"`
	ValidationConfidence float64 `json:"validation_confidence"`

	Review ReviewMeta `json:"review"`

	// The all-time flags are stamped once at classification time against
	// the history available at that moment and are immutable afterwards.
	IsAllTimeLow  bool `json:"is_all_time_low"`
	IsAllTimeHigh bool `json:"is_all_time_high"`

	Diagnostics RawDiagnostics `json:"diagnostics"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PriceChange returns price − validation basis. It is derived on read and
// never stored as ground truth. The second return is false when the record
// carries no price.
func (r *PriceRecord) PriceChange() (float64, bool) {
	if r.Price == nil {
		return 0, false
	}
	return *r.Price - r.ValidationBasisPrice, true
}

// PercentChange returns the relative change versus the validation basis.
// Returns false when the record has no price or the basis is zero.
func (r *PriceRecord) PercentChange() (float64, bool) {
	if r.Price == nil || r.ValidationBasisPrice == 0 {
		return 0, false
	}
	return (*r.Price - r.ValidationBasisPrice) / r.ValidationBasisPrice * 100, true
}
