package store

import (
	"context"
	"time"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// NewBatch holds the fixed attributes of a batch at creation time. Total
// and DaysThreshold never change after the row is written.
type NewBatch struct {
	Type          model.BatchType
	CreatedBy     string
	DaysThreshold int
	Total         int
	Metadata      map[string]any
}

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	Status model.BatchStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RecordFilter specifies criteria for listing price records.
type RecordFilter struct {
	Status model.RecordStatus `json:"status,omitempty"`
	Reason model.RecordReason `json:"reason,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// StaleFilter selects products whose last successful price check is older
// than DaysThreshold days, optionally scoped to one manufacturer.
type StaleFilter struct {
	DaysThreshold int
	Manufacturer  string
	Limit         int
}

// MethodUsage aggregates extraction calls per method for cost estimation.
type MethodUsage struct {
	Method    string `json:"method"`
	Calls     int    `json:"calls"`
	TotalSize int64  `json:"total_size_bytes"`
}

// CanonicalPriceWriter applies an accepted price to the product's
// canonical current-price field. It is split from Store so the approval
// workflow can treat the canonical write as an external collaborator and
// compensate when it fails.
type CanonicalPriceWriter interface {
	ApplyCanonicalPrice(ctx context.Context, productID string, price float64, checkedAt time.Time) error
}

// Store defines the persistence interface for the price-tracking pipeline.
type Store interface {
	CanonicalPriceWriter

	// Batches
	CreateBatch(ctx context.Context, nb NewBatch) (*model.Batch, error)
	FinishBatch(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error)
	// BatchCounts aggregates record outcomes at query time; there is no
	// cached counter to drift from the record set.
	BatchCounts(ctx context.Context, batchID string) (*model.BatchSummary, error)
	BatchUsage(ctx context.Context, batchID string) ([]MethodUsage, error)

	// Price records
	InsertPriceRecord(ctx context.Context, rec *model.PriceRecord) (*model.PriceRecord, error)
	GetPriceRecord(ctx context.Context, recordID string) (*model.PriceRecord, error)
	ListBatchRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.PriceRecord, error)
	ListReviewQueue(ctx context.Context, filter RecordFilter) ([]model.PriceRecord, error)
	// MarkReviewed transitions a record out of pending_review. The update
	// is guarded on the current status; false means the record was not
	// pending (already handled or deleted) and nothing was mutated.
	MarkReviewed(ctx context.Context, recordID, reviewer string, decision model.ReviewDecision, reason string) (bool, error)
	// RollbackReview is the compensating action for a failed canonical
	// write: the record returns to pending_review with review fields cleared.
	RollbackReview(ctx context.Context, recordID string) error
	DeletePriceRecords(ctx context.Context, recordIDs []string) ([]string, error)

	// History
	AcceptedHistory(ctx context.Context, productID, variant string) ([]model.PricePoint, error)
	AcceptedExtremes(ctx context.Context, productID, variant string) (*model.Extremes, error)

	// Products
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error)
	ListStaleProducts(ctx context.Context, filter StaleFilter) ([]model.Product, error)
	UpsertProducts(ctx context.Context, products []model.Product) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
