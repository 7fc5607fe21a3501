package model

import "time"

// BatchStatus represents the current state of a price-check batch.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. CompletedAt is
// set if and only if the batch is terminal.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

// BatchType describes how a batch was triggered.
type BatchType string

const (
	BatchTypeScheduled BatchType = "scheduled"
	BatchTypeManual    BatchType = "manual"
	BatchTypeAPI       BatchType = "api"
)

// Batch represents one price-extraction run over a set of products.
// Total is fixed at creation and never mutated afterwards.
type Batch struct {
	ID            string         `json:"id"`
	Status        BatchStatus    `json:"status"`
	Type          BatchType      `json:"type"`
	CreatedBy     string         `json:"created_by"`
	DaysThreshold int            `json:"days_threshold"`
	Total         int            `json:"total"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// BatchSummary aggregates per-record outcomes for one batch. It is computed
// by scanning the batch's price records at query time, so a summary read
// while the batch is running is a consistent snapshot, not a final value.
type BatchSummary struct {
	BatchID       string  `json:"batch_id"`
	Completed     int     `json:"completed"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	NeedsReview   int     `json:"needs_review"`
	Updated       int     `json:"updated"`
	Unchanged     int     `json:"unchanged"`
	EstimatedCost float64 `json:"estimated_cost"`
}
