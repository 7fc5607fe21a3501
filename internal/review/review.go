// Package review implements the human approval workflow for pending
// price records. Approval is a two-step write: a status-guarded
// transition of the record, then propagation of the price into the
// product's canonical current-price field. A step-2 failure triggers a
// compensating rollback so the record is never left accepted without a
// canonical update.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

// DefaultMaxBatchSize bounds one approve or delete call to a single
// transactional unit of work.
const DefaultMaxBatchSize = 100

// Config tunes the review service.
type Config struct {
	MaxBatchSize int
}

// Service executes approval and deletion over the review queue.
type Service struct {
	store     store.Store
	canonical store.CanonicalPriceWriter
	max       int
	locks     keyedMutex
}

// NewService creates a review Service. The canonical writer is passed
// separately from the store because the canonical price field is outside
// this workflow's ownership; in production it is the same store.
func NewService(st store.Store, canonical store.CanonicalPriceWriter, cfg Config) *Service {
	max := cfg.MaxBatchSize
	if max <= 0 {
		max = DefaultMaxBatchSize
	}
	return &Service{store: st, canonical: canonical, max: max}
}

// ItemOutcome reports a per-record result within one approve call.
type ItemOutcome struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// Result itemizes one approve call. Skipped records caused no mutation.
type Result struct {
	Successful []string      `json:"successful"`
	Skipped    []ItemOutcome `json:"skipped"`
	Failed     []ItemOutcome `json:"failed"`
}

// Approve transitions each pending record to success and applies its
// price to the product's canonical field. Records not in pending review
// are reported skipped, never errors, so duplicate calls are idempotent.
func (s *Service) Approve(ctx context.Context, reviewer string, recordIDs []string) (*Result, error) {
	if err := s.checkBounds(recordIDs); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, id := range recordIDs {
		s.approveOne(ctx, reviewer, id, res)
	}

	zap.L().Info("review approve finished",
		zap.String("reviewer", reviewer),
		zap.Int("requested", len(recordIDs)),
		zap.Int("successful", len(res.Successful)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (s *Service) approveOne(ctx context.Context, reviewer, id string, res *Result) {
	rec, err := s.store.GetPriceRecord(ctx, id)
	if err != nil {
		res.Failed = append(res.Failed, ItemOutcome{RecordID: id, Reason: err.Error()})
		return
	}
	if rec == nil {
		res.Skipped = append(res.Skipped, ItemOutcome{RecordID: id, Reason: "record not found"})
		return
	}
	if rec.Status != model.RecordStatusPendingReview {
		res.Skipped = append(res.Skipped, ItemOutcome{RecordID: id, Reason: "not pending review"})
		return
	}
	if rec.Price == nil {
		res.Failed = append(res.Failed, ItemOutcome{RecordID: id, Reason: "record has no candidate price"})
		return
	}

	// Steps 1-2 are serialized per product so two concurrent approvals
	// cannot interleave the record transition and the canonical write.
	unlock := s.locks.lock(rec.ProductID)
	defer unlock()

	ok, err := s.store.MarkReviewed(ctx, id, reviewer, model.ReviewDecisionApproved, "")
	if err != nil {
		res.Failed = append(res.Failed, ItemOutcome{RecordID: id, Reason: err.Error()})
		return
	}
	if !ok {
		// A racing call transitioned it first.
		res.Skipped = append(res.Skipped, ItemOutcome{RecordID: id, Reason: "not pending review"})
		return
	}

	if err := s.canonical.ApplyCanonicalPrice(ctx, rec.ProductID, *rec.Price, time.Now().UTC()); err != nil {
		if rbErr := s.store.RollbackReview(ctx, id); rbErr != nil {
			zap.L().Error("review rollback failed",
				zap.String("record_id", id),
				zap.Error(rbErr),
			)
		}
		res.Failed = append(res.Failed, ItemOutcome{
			RecordID: id,
			Reason:   "canonical price update failed: " + err.Error(),
		})
		return
	}

	res.Successful = append(res.Successful, id)
}

// Delete removes records by id regardless of status and returns the ids
// actually deleted. Deleting an absent id is not an error.
func (s *Service) Delete(ctx context.Context, recordIDs []string) ([]string, error) {
	if err := s.checkBounds(recordIDs); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeletePriceRecords(ctx, recordIDs)
	if err != nil {
		return nil, eris.Wrap(err, "review: delete records")
	}

	zap.L().Info("review delete finished",
		zap.Int("requested", len(recordIDs)),
		zap.Int("deleted", len(deleted)),
	)
	return deleted, nil
}

func (s *Service) checkBounds(recordIDs []string) error {
	if len(recordIDs) == 0 {
		return eris.New("review: no record ids given")
	}
	if len(recordIDs) > s.max {
		return eris.Errorf("review: %d record ids exceeds the cap of %d", len(recordIDs), s.max)
	}
	return nil
}

// keyedMutex serializes work per key without holding a global lock
// during the work itself.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
