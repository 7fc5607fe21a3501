// Package orchestrator runs price extraction batches: it selects stale
// products, drives a bounded worker pool of extraction calls, classifies
// each result, and persists one price record per attempt.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealscope/pricetrack-cli/internal/classifier"
	"github.com/dealscope/pricetrack-cli/internal/cost"
	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/resilience"
	"github.com/dealscope/pricetrack-cli/internal/stats"
	"github.com/dealscope/pricetrack-cli/internal/store"
	"github.com/dealscope/pricetrack-cli/pkg/extractor"
)

// Config tunes a batch run.
type Config struct {
	// Concurrency caps the number of in-flight extraction calls.
	Concurrency int
	// ItemTimeout bounds a single extraction call. A timed-out item is
	// persisted as a failed record; it does not fail the batch.
	ItemTimeout time.Duration
	// CancelPollInterval bounds how often the dispatch loop re-reads the
	// batch status to observe an external cancellation.
	CancelPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 45 * time.Second
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 2 * time.Second
	}
	return c
}

// StartRequest selects the products for a batch run.
type StartRequest struct {
	DaysThreshold int
	Manufacturer  string
	Limit         int
	Type          model.BatchType
	CreatedBy     string
	Metadata      map[string]any
}

// Orchestrator coordinates one batch at a time. Batches are independent;
// callers may run several orchestrators against the same store.
type Orchestrator struct {
	store     store.Store
	extractor extractor.Client
	stats     *stats.Engine
	calc      *cost.Calculator
	classify  classifier.Config
	cfg       Config
}

func New(st store.Store, ex extractor.Client, classifyCfg classifier.Config, rates cost.Rates, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     st,
		extractor: ex,
		stats:     stats.NewEngine(st),
		calc:      cost.NewCalculator(rates),
		classify:  classifyCfg,
		cfg:       cfg.withDefaults(),
	}
}

// Run selects stale products, creates a batch, and processes every product
// through the worker pool. It blocks until the batch reaches a terminal
// state and returns the batch with its final summary. A batch with no
// matching products completes immediately with an empty summary.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (*model.Batch, *model.BatchSummary, error) {
	products, err := o.store.ListStaleProducts(ctx, store.StaleFilter{
		DaysThreshold: req.DaysThreshold,
		Manufacturer:  req.Manufacturer,
		Limit:         req.Limit,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: select stale products")
	}

	batchType := req.Type
	if batchType == "" {
		batchType = model.BatchTypeManual
	}
	batch, err := o.store.CreateBatch(ctx, store.NewBatch{
		Type:          batchType,
		CreatedBy:     req.CreatedBy,
		DaysThreshold: req.DaysThreshold,
		Total:         len(products),
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: create batch")
	}

	zap.L().Info("batch started",
		zap.String("batch_id", batch.ID),
		zap.Int("total", batch.Total),
		zap.Int("days_threshold", req.DaysThreshold),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	cancelled, runErr := o.processAll(ctx, batch, products)

	if runErr != nil {
		if err := o.store.FinishBatch(ctx, batch.ID, model.BatchStatusFailed, runErr.Error()); err != nil {
			zap.L().Error("mark batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	} else if !cancelled {
		if err := o.store.FinishBatch(ctx, batch.ID, model.BatchStatusCompleted, ""); err != nil {
			return nil, nil, eris.Wrapf(err, "orchestrator: complete batch %s", batch.ID)
		}
	}

	final, err := o.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "orchestrator: reload batch %s", batch.ID)
	}
	if final == nil {
		return nil, nil, eris.Errorf("orchestrator: batch disappeared: %s", batch.ID)
	}

	summary, err := o.Summary(ctx, batch.ID)
	if err != nil {
		return final, nil, err
	}

	zap.L().Info("batch finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(final.Status)),
		zap.Int("completed", summary.Completed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("needs_review", summary.NeedsReview),
	)

	if runErr != nil {
		return final, summary, eris.Wrapf(runErr, "orchestrator: batch %s failed", batch.ID)
	}
	return final, summary, nil
}

// processAll dispatches the worker pool. It reports whether an external
// cancellation was observed; no new tasks are dispatched after that, but
// in-flight extractions finish and persist their records.
func (o *Orchestrator) processAll(ctx context.Context, batch *model.Batch, products []model.Product) (bool, error) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	var cancelled bool
	lastPoll := time.Now()

	for _, p := range products {
		if gCtx.Err() != nil {
			break
		}
		if time.Since(lastPoll) >= o.cfg.CancelPollInterval {
			lastPoll = time.Now()
			if o.isCancelled(ctx, batch.ID) {
				cancelled = true
				break
			}
		}
		g.Go(func() error {
			return o.processProduct(gCtx, batch, p)
		})
	}

	err := g.Wait()

	// Re-check after the pool drains so a cancellation that landed during
	// the final tasks is still reported.
	if !cancelled && o.isCancelled(ctx, batch.ID) {
		cancelled = true
	}
	return cancelled, err
}

func (o *Orchestrator) isCancelled(ctx context.Context, batchID string) bool {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		zap.L().Warn("cancellation poll failed", zap.String("batch_id", batchID), zap.Error(err))
		return false
	}
	return b != nil && b.Status == model.BatchStatusCancelled
}

// processProduct runs one extraction attempt end to end. Extraction
// failures are data (persisted as failed records); only store faults
// return an error and fail the batch.
func (o *Orchestrator) processProduct(ctx context.Context, batch *model.Batch, product model.Product) error {
	itemCtx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout)
	defer cancel()

	started := time.Now()
	res, err := o.extractor.Extract(itemCtx, extractor.ExtractRequest{
		URL:     product.URL,
		Variant: product.Variant,
	})

	rec := &model.PriceRecord{
		BatchID:              &batch.ID,
		ProductID:            product.ID,
		Variant:              product.Variant,
		ValidationBasisPrice: product.CurrentPrice,
	}

	if err != nil {
		rec.Status = model.RecordStatusFailed
		rec.Reason = model.ReasonExtractionFailed
		if resilience.IsTimeout(err) {
			rec.Reason = model.ReasonTimeout
		}
		rec.Diagnostics.DurationSeconds = time.Since(started).Seconds()
		zap.L().Warn("extraction failed",
			zap.String("batch_id", batch.ID),
			zap.String("product_id", product.ID),
			zap.String("reason", string(rec.Reason)),
			zap.Error(err),
		)
	} else {
		rec.Price = res.Price
		rec.Method = res.Method
		rec.Confidence = res.Confidence
		rec.Diagnostics = model.RawDiagnostics{
			HTTPStatus:      res.HTTPStatus,
			PageSizeBytes:   res.PageSizeBytes,
			DurationSeconds: res.DurationSeconds,
		}

		if res.Price != nil {
			rec.ValidationConfidence = classifier.ValidationConfidence(*res.Price, product.CurrentPrice)
		}
		out := classifier.Classify(classifier.Input{
			Price:                res.Price,
			Confidence:           res.Confidence,
			BasisPrice:           product.CurrentPrice,
			ValidationConfidence: rec.ValidationConfidence,
		}, o.classify)
		rec.Status = out.Status
		rec.Reason = out.Reason

		// Failed classifications (invalid price, confidence mismatch) never
		// count as price observations, so they carry no extreme flags.
		if res.Price != nil && rec.Status != model.RecordStatusFailed {
			low, high, err := o.stats.Stamp(ctx, product.ID, product.Variant, *res.Price)
			if err != nil {
				return eris.Wrapf(err, "orchestrator: stamp extremes for product %s", product.ID)
			}
			rec.IsAllTimeLow = low
			rec.IsAllTimeHigh = high
		}
	}

	// Store writes use the batch context, not the item timeout: a record
	// for a timed-out extraction is still useful data.
	if _, err := o.store.InsertPriceRecord(ctx, rec); err != nil {
		return eris.Wrapf(err, "orchestrator: persist record for product %s", product.ID)
	}

	if rec.Status == model.RecordStatusSuccess && rec.Price != nil {
		if err := o.store.ApplyCanonicalPrice(ctx, product.ID, *rec.Price, time.Now().UTC()); err != nil {
			return eris.Wrapf(err, "orchestrator: apply price for product %s", product.ID)
		}
	}
	return nil
}

// Cancel marks a running batch cancelled. In-flight extraction tasks are
// allowed to finish and persist their records.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) error {
	if err := o.store.FinishBatch(ctx, batchID, model.BatchStatusCancelled, ""); err != nil {
		return eris.Wrapf(err, "orchestrator: cancel batch %s", batchID)
	}
	zap.L().Info("batch cancelled", zap.String("batch_id", batchID))
	return nil
}

// Summary aggregates the batch's record counts and estimated extraction
// spend. Counts are computed from the persisted record set at query time,
// so a running batch's summary is a consistent snapshot even across
// process restarts.
func (o *Orchestrator) Summary(ctx context.Context, batchID string) (*model.BatchSummary, error) {
	sum, err := o.store.BatchCounts(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: summarize batch %s", batchID)
	}

	usage, err := o.store.BatchUsage(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: usage for batch %s", batchID)
	}
	for _, u := range usage {
		sum.EstimatedCost += o.calc.Aggregate(u.Method, u.Calls, u.TotalSize)
	}
	return sum, nil
}
