package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscope/pricetrack-cli/internal/classifier"
	"github.com/dealscope/pricetrack-cli/internal/cost"
	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/store"
	"github.com/dealscope/pricetrack-cli/pkg/extractor"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fakeExtractor struct {
	fn func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
	return f.fn(ctx, req)
}

func fptr(v float64) *float64 { return &v }

func seedProducts(t *testing.T, s store.Store, products ...model.Product) {
	t.Helper()
	_, err := s.UpsertProducts(context.Background(), products)
	require.NoError(t, err)
}

func newOrchestrator(s store.Store, ex extractor.Client, cfg Config) *Orchestrator {
	return New(s, ex, classifier.DefaultConfig(), cost.DefaultRates(), cfg)
}

func TestRun_ThreeProductScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s,
		model.Product{ID: "a", Name: "A", URL: "https://shop.example/a", CurrentPrice: 120},
		model.Product{ID: "b", Name: "B", URL: "https://shop.example/b", CurrentPrice: 30},
		model.Product{ID: "c", Name: "C", URL: "https://shop.example/c", CurrentPrice: 52},
	)

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		switch req.URL {
		case "https://shop.example/a":
			return &extractor.Result{Price: fptr(100), Confidence: 0.95, Method: "llm", HTTPStatus: 200, PageSizeBytes: 1 << 20}, nil
		case "https://shop.example/b":
			return &extractor.Result{Price: nil, Confidence: 0, Method: "dom_heuristic", HTTPStatus: 404}, nil
		default:
			return &extractor.Result{Price: fptr(50), Confidence: 0.4, Method: "headless", HTTPStatus: 200}, nil
		}
	}}

	o := newOrchestrator(s, ex, Config{Concurrency: 2})
	batch, sum, err := o.Run(ctx, StartRequest{DaysThreshold: 7, CreatedBy: "tester"})
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.Total)
	require.NotNil(t, batch.CompletedAt)

	assert.Equal(t, 3, sum.Completed)
	assert.Equal(t, 1, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.NeedsReview)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 0, sum.Unchanged)
	assert.Greater(t, sum.EstimatedCost, 0.0)

	// The high-confidence success was auto-applied; the pending candidate
	// must not touch canonical state.
	a, err := s.GetProduct(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 100, a.CurrentPrice, 0.001)
	c, err := s.GetProduct(ctx, "c")
	require.NoError(t, err)
	assert.InDelta(t, 52, c.CurrentPrice, 0.001)

	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	byProduct := map[string]model.PriceRecord{}
	for _, r := range records {
		byProduct[r.ProductID] = r
	}
	recA := byProduct["a"]
	change, ok := recA.PriceChange()
	require.True(t, ok)
	assert.InDelta(t, -20, change, 0.001)
	assert.Equal(t, model.ReasonExtractionFailed, byProduct["b"].Reason)
	assert.Equal(t, model.RecordStatusPendingReview, byProduct["c"].Status)
	assert.Equal(t, model.ReasonLowConfidence, byProduct["c"].Reason)
}

func TestRun_EmptySelection(t *testing.T) {
	s := newTestStore(t)

	o := newOrchestrator(s, &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		t.Fatal("extractor must not be called for an empty batch")
		return nil, nil
	}}, Config{})

	batch, sum, err := o.Run(context.Background(), StartRequest{DaysThreshold: 7})
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 0, batch.Total)
	assert.Equal(t, 0, sum.Completed)
}

func TestRun_ItemTimeout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "slow", Name: "Slow", URL: "https://shop.example/slow", CurrentPrice: 10})

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	o := newOrchestrator(s, ex, Config{Concurrency: 1, ItemTimeout: 25 * time.Millisecond})
	batch, sum, err := o.Run(ctx, StartRequest{DaysThreshold: 7})
	require.NoError(t, err)

	// A timed-out item is a failed record, not a failed batch.
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, sum.Failed)

	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.RecordStatusFailed, records[0].Status)
	assert.Equal(t, model.ReasonTimeout, records[0].Reason)
}

type faultStore struct {
	store.Store
}

func (f *faultStore) InsertPriceRecord(ctx context.Context, rec *model.PriceRecord) (*model.PriceRecord, error) {
	return nil, eris.New("disk full")
}

func TestRun_StoreFaultFailsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "a", Name: "A", URL: "https://shop.example/a", CurrentPrice: 10})

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		return &extractor.Result{Price: fptr(9), Confidence: 0.95, Method: "llm"}, nil
	}}

	o := newOrchestrator(&faultStore{Store: s}, ex, Config{Concurrency: 1})
	batch, _, err := o.Run(ctx, StartRequest{DaysThreshold: 7})
	require.Error(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, model.BatchStatusFailed, batch.Status)
	assert.Contains(t, batch.Error, "disk full")
	require.NotNil(t, batch.CompletedAt)
}

func TestRun_AllTimeFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "p", Name: "P", URL: "https://shop.example/p", CurrentPrice: 100})

	// Existing accepted history: low 80, high 120.
	for _, price := range []float64{80, 120} {
		_, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
			ProductID: "p", Price: fptr(price), ValidationBasisPrice: 100,
			Status: model.RecordStatusSuccess, Method: "llm",
		})
		require.NoError(t, err)
	}

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		return &extractor.Result{Price: fptr(70), Confidence: 0.95, Method: "llm"}, nil
	}}

	o := newOrchestrator(s, ex, Config{Concurrency: 1})
	batch, _, err := o.Run(ctx, StartRequest{DaysThreshold: 7})
	require.NoError(t, err)

	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsAllTimeLow)
	assert.False(t, records[0].IsAllTimeHigh)
}

func TestRun_FirstObservationIsBothExtremes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "p", Name: "P", URL: "https://shop.example/p", CurrentPrice: 100})

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		return &extractor.Result{Price: fptr(95), Confidence: 0.95, Method: "llm"}, nil
	}}

	o := newOrchestrator(s, ex, Config{Concurrency: 1})
	batch, _, err := o.Run(ctx, StartRequest{DaysThreshold: 7})
	require.NoError(t, err)

	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsAllTimeLow)
	assert.True(t, records[0].IsAllTimeHigh)
}

func TestRun_FailedClassificationCarriesNoExtremeFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "p", Name: "P", URL: "https://shop.example/p", CurrentPrice: 80})

	// A confident extraction of a negative price is rejected as invalid;
	// it is not a price observation and must not claim the extremes.
	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		return &extractor.Result{Price: fptr(-5), Confidence: 0.99, Method: "llm"}, nil
	}}

	o := newOrchestrator(s, ex, Config{Concurrency: 1})
	batch, _, err := o.Run(ctx, StartRequest{DaysThreshold: 7})
	require.NoError(t, err)

	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.RecordStatusFailed, records[0].Status)
	assert.Equal(t, model.ReasonInvalidPrice, records[0].Reason)
	assert.False(t, records[0].IsAllTimeLow)
	assert.False(t, records[0].IsAllTimeHigh)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var products []model.Product
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		products = append(products, model.Product{
			ID: id, Name: id, URL: "https://shop.example/" + id, CurrentPrice: 10,
		})
	}
	seedProducts(t, s, products...)

	started := make(chan string, 5)
	release := make(chan struct{})
	var once sync.Once

	ex := &fakeExtractor{fn: func(ctx context.Context, req extractor.ExtractRequest) (*extractor.Result, error) {
		once.Do(func() { started <- req.URL })
		<-release
		return &extractor.Result{Price: fptr(9), Confidence: 0.95, Method: "llm"}, nil
	}}

	o := newOrchestrator(s, ex, Config{
		Concurrency:        2,
		CancelPollInterval: time.Nanosecond,
	})

	done := make(chan struct{})
	var batch *model.Batch
	var runErr error
	go func() {
		defer close(done)
		batch, _, runErr = o.Run(ctx, StartRequest{DaysThreshold: 7})
	}()

	// Cancel once the first extraction is in flight, then let the
	// in-flight calls finish.
	<-started
	batches, err := s.ListBatches(ctx, store.BatchFilter{Status: model.BatchStatusRunning})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.NoError(t, o.Cancel(ctx, batches[0].ID))
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}
	require.NoError(t, runErr)
	require.NotNil(t, batch)

	assert.Equal(t, model.BatchStatusCancelled, batch.Status)

	// In-flight tasks persisted their records, but nothing new was
	// dispatched once the cancellation was observed.
	records, err := s.ListBatchRecords(ctx, batch.ID, store.RecordFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, records)
	assert.Less(t, len(records), 5)
}

func TestCancel_NotRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.CreateBatch(ctx, store.NewBatch{Type: model.BatchTypeManual, Total: 0})
	require.NoError(t, err)
	require.NoError(t, s.FinishBatch(ctx, b.ID, model.BatchStatusCompleted, ""))

	o := newOrchestrator(s, &fakeExtractor{}, Config{})
	err = o.Cancel(ctx, b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestSummary_CostEstimate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedProducts(t, s, model.Product{ID: "p", Name: "P", URL: "https://shop.example/p", CurrentPrice: 10})
	b, err := s.CreateBatch(ctx, store.NewBatch{Type: model.BatchTypeManual, Total: 2})
	require.NoError(t, err)

	for range 2 {
		_, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
			BatchID: &b.ID, ProductID: "p", Price: fptr(9), ValidationBasisPrice: 10,
			Status: model.RecordStatusSuccess, Method: "llm",
			Diagnostics: model.RawDiagnostics{PageSizeBytes: 1e9},
		})
		require.NoError(t, err)
	}

	o := newOrchestrator(s, &fakeExtractor{}, Config{})
	sum, err := o.Summary(ctx, b.ID)
	require.NoError(t, err)
	// 2 llm calls at 0.004 plus 2 GB at 0.09.
	assert.InDelta(t, 0.188, sum.EstimatedCost, 0.001)
}
