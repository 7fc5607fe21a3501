package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fptr(v float64) *float64 { return &v }

func seedProduct(t *testing.T, s Store, id, name, url string, price float64) {
	t.Helper()
	_, err := s.UpsertProducts(context.Background(), []model.Product{
		{ID: id, Name: name, URL: url, CurrentPrice: price},
	})
	require.NoError(t, err)
}

func seedBatch(t *testing.T, s Store, total int) *model.Batch {
	t.Helper()
	b, err := s.CreateBatch(context.Background(), NewBatch{
		Type: model.BatchTypeManual, CreatedBy: "tester", DaysThreshold: 7, Total: total,
	})
	require.NoError(t, err)
	return b
}

func seedRecord(t *testing.T, s Store, batchID, productID string, status model.RecordStatus, reason model.RecordReason, price *float64, basis float64) *model.PriceRecord {
	t.Helper()
	rec, err := s.InsertPriceRecord(context.Background(), &model.PriceRecord{
		BatchID:              &batchID,
		ProductID:            productID,
		Price:                price,
		ValidationBasisPrice: basis,
		Status:               status,
		Reason:               reason,
		Method:               "dom_heuristic",
		Confidence:           0.9,
		ValidationConfidence: 0.9,
	})
	require.NoError(t, err)
	return rec
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetBatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b, err := s.CreateBatch(ctx, NewBatch{
			Type:          model.BatchTypeScheduled,
			CreatedBy:     "cron",
			DaysThreshold: 14,
			Total:         42,
			Metadata:      map[string]any{"manufacturer": "Acme"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, model.BatchStatusRunning, b.Status)
		assert.Nil(t, b.CompletedAt)

		got, err := s.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.BatchTypeScheduled, got.Type)
		assert.Equal(t, "cron", got.CreatedBy)
		assert.Equal(t, 42, got.Total)
		assert.Equal(t, "Acme", got.Metadata["manufacturer"])
	})

	t.Run("GetBatch_NotFound", func(t *testing.T) {
		s := newStore(t)

		got, err := s.GetBatch(context.Background(), "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("FinishBatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := seedBatch(t, s, 5)

		err := s.FinishBatch(ctx, b.ID, model.BatchStatusCompleted, "")
		require.NoError(t, err)

		got, err := s.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.False(t, got.CompletedAt.Before(got.StartedAt))
	})

	t.Run("FinishBatch_AlreadyTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := seedBatch(t, s, 1)

		require.NoError(t, s.FinishBatch(ctx, b.ID, model.BatchStatusCancelled, ""))

		// A batch that already reached a terminal state stays there.
		err := s.FinishBatch(ctx, b.ID, model.BatchStatusCompleted, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")

		got, err := s.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCancelled, got.Status)
	})

	t.Run("FinishBatch_RejectsNonTerminal", func(t *testing.T) {
		s := newStore(t)
		b := seedBatch(t, s, 1)

		err := s.FinishBatch(context.Background(), b.ID, model.BatchStatusRunning, "")
		require.Error(t, err)
	})

	t.Run("FinishBatch_FailedKeepsError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b := seedBatch(t, s, 1)

		require.NoError(t, s.FinishBatch(ctx, b.ID, model.BatchStatusFailed, "store unavailable"))

		got, err := s.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusFailed, got.Status)
		assert.Equal(t, "store unavailable", got.Error)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("ListBatches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b1 := seedBatch(t, s, 1)
		seedBatch(t, s, 2)
		require.NoError(t, s.FinishBatch(ctx, b1.ID, model.BatchStatusCompleted, ""))

		all, err := s.ListBatches(ctx, BatchFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		running, err := s.ListBatches(ctx, BatchFilter{Status: model.BatchStatusRunning})
		require.NoError(t, err)
		assert.Len(t, running, 1)

		limited, err := s.ListBatches(ctx, BatchFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		paged, err := s.ListBatches(ctx, BatchFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, paged, 1)
	})

	t.Run("InsertAndGetPriceRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)

		rec, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
			BatchID:              &b.ID,
			ProductID:            "p1",
			Variant:              "red",
			Price:                fptr(95.50),
			ValidationBasisPrice: 100,
			Status:               model.RecordStatusSuccess,
			Method:               "llm",
			Confidence:           0.92,
			ValidationConfidence: 0.95,
			IsAllTimeLow:         true,
			Diagnostics: model.RawDiagnostics{
				HTTPStatus:      200,
				PageSizeBytes:   48213,
				DurationSeconds: 2.4,
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)

		got, err := s.GetPriceRecord(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.Price)
		assert.InDelta(t, 95.50, *got.Price, 0.001)
		assert.Equal(t, "red", got.Variant)
		assert.True(t, got.IsAllTimeLow)
		assert.False(t, got.IsAllTimeHigh)
		assert.Equal(t, 200, got.Diagnostics.HTTPStatus)
		assert.Equal(t, int64(48213), got.Diagnostics.PageSizeBytes)
		require.NotNil(t, got.BatchID)
		assert.Equal(t, b.ID, *got.BatchID)
		assert.Equal(t, "", got.Review.Reviewer)
		assert.Nil(t, got.Review.Decision)
	})

	t.Run("InsertPriceRecord_NilPrice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)

		rec := seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonExtractionFailed, nil, 100)

		got, err := s.GetPriceRecord(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.Price)
		assert.Equal(t, model.RecordStatusFailed, got.Status)
		assert.Equal(t, model.ReasonExtractionFailed, got.Reason)
	})

	t.Run("GetPriceRecord_NotFound", func(t *testing.T) {
		s := newStore(t)

		got, err := s.GetPriceRecord(context.Background(), "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("BatchCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 5)

		seedRecord(t, s, b.ID, "p1", model.RecordStatusSuccess, "", fptr(90), 100)  // updated
		seedRecord(t, s, b.ID, "p1", model.RecordStatusSuccess, "", fptr(100), 100) // unchanged
		seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonExtractionFailed, nil, 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)

		sum, err := s.BatchCounts(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, sum.Completed)
		assert.Equal(t, 2, sum.Successful)
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 1, sum.NeedsReview)
		assert.Equal(t, 1, sum.Updated)
		assert.Equal(t, 1, sum.Unchanged)
	})

	t.Run("BatchCounts_EmptyBatch", func(t *testing.T) {
		s := newStore(t)
		b := seedBatch(t, s, 0)

		sum, err := s.BatchCounts(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, sum.Completed)
		assert.Equal(t, 0, sum.Successful)
		assert.Equal(t, 0, sum.Failed)
		assert.Equal(t, 0, sum.NeedsReview)
	})

	t.Run("BatchUsage", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 3)

		for _, method := range []string{"llm", "llm", "dom_heuristic"} {
			_, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
				BatchID: &b.ID, ProductID: "p1", Price: fptr(100), ValidationBasisPrice: 100,
				Status: model.RecordStatusSuccess, Method: method,
				Diagnostics: model.RawDiagnostics{PageSizeBytes: 1000},
			})
			require.NoError(t, err)
		}

		usage, err := s.BatchUsage(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, usage, 2)
		assert.Equal(t, "dom_heuristic", usage[0].Method)
		assert.Equal(t, 1, usage[0].Calls)
		assert.Equal(t, "llm", usage[1].Method)
		assert.Equal(t, 2, usage[1].Calls)
		assert.Equal(t, int64(2000), usage[1].TotalSize)
	})

	t.Run("ListBatchRecords_Filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 3)

		seedRecord(t, s, b.ID, "p1", model.RecordStatusSuccess, "", fptr(90), 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonTimeout, nil, 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonExtractionFailed, nil, 100)

		all, err := s.ListBatchRecords(ctx, b.ID, RecordFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		failed, err := s.ListBatchRecords(ctx, b.ID, RecordFilter{Status: model.RecordStatusFailed})
		require.NoError(t, err)
		assert.Len(t, failed, 2)

		timeouts, err := s.ListBatchRecords(ctx, b.ID, RecordFilter{Reason: model.ReasonTimeout})
		require.NoError(t, err)
		assert.Len(t, timeouts, 1)
	})

	t.Run("ListReviewQueue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 3)

		seedRecord(t, s, b.ID, "p1", model.RecordStatusSuccess, "", fptr(90), 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonConfidenceMismatch, fptr(70), 100)

		queue, err := s.ListReviewQueue(ctx, RecordFilter{})
		require.NoError(t, err)
		assert.Len(t, queue, 2)
		for _, r := range queue {
			assert.Equal(t, model.RecordStatusPendingReview, r.Status)
		}

		mismatches, err := s.ListReviewQueue(ctx, RecordFilter{Reason: model.ReasonConfidenceMismatch})
		require.NoError(t, err)
		assert.Len(t, mismatches, 1)
	})

	t.Run("MarkReviewed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)
		rec := seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)

		ok, err := s.MarkReviewed(ctx, rec.ID, "alice", model.ReviewDecisionApproved, "verified on site")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetPriceRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RecordStatusSuccess, got.Status)
		assert.Equal(t, "alice", got.Review.Reviewer)
		require.NotNil(t, got.Review.Decision)
		assert.Equal(t, model.ReviewDecisionApproved, *got.Review.Decision)
		assert.Equal(t, "verified on site", got.Review.Reason)
		assert.NotNil(t, got.Review.ReviewedAt)
	})

	t.Run("MarkReviewed_AlreadyReviewed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)
		rec := seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)

		ok, err := s.MarkReviewed(ctx, rec.ID, "alice", model.ReviewDecisionApproved, "")
		require.NoError(t, err)
		assert.True(t, ok)

		// The guarded UPDATE makes a second approval a no-op.
		ok, err = s.MarkReviewed(ctx, rec.ID, "bob", model.ReviewDecisionApproved, "")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetPriceRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Review.Reviewer)
	})

	t.Run("MarkReviewed_NotPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)
		rec := seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonExtractionFailed, nil, 100)

		ok, err := s.MarkReviewed(ctx, rec.ID, "alice", model.ReviewDecisionApproved, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RollbackReview", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 1)
		rec := seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)

		ok, err := s.MarkReviewed(ctx, rec.ID, "alice", model.ReviewDecisionApproved, "looks right")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.RollbackReview(ctx, rec.ID))

		got, err := s.GetPriceRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RecordStatusPendingReview, got.Status)
		assert.Equal(t, "", got.Review.Reviewer)
		assert.Nil(t, got.Review.ReviewedAt)
		assert.Nil(t, got.Review.Decision)

		// Rolled-back records can be approved again.
		ok, err = s.MarkReviewed(ctx, rec.ID, "bob", model.ReviewDecisionApproved, "")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("DeletePriceRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 2)
		r1 := seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(80), 100)
		r2 := seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(81), 100)

		deleted, err := s.DeletePriceRecords(ctx, []string{r1.ID, "nonexistent", r2.ID})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{r1.ID, r2.ID}, deleted)

		// Second delete of the same ids removes nothing.
		deleted, err = s.DeletePriceRecords(ctx, []string{r1.ID, r2.ID})
		require.NoError(t, err)
		assert.Empty(t, deleted)

		got, err := s.GetPriceRecord(ctx, r1.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DeletePriceRecords_EmptyInput", func(t *testing.T) {
		s := newStore(t)

		deleted, err := s.DeletePriceRecords(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})

	t.Run("AcceptedHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		seedProduct(t, s, "p2", "Gadget", "https://shop.example/gadget", 50)
		b := seedBatch(t, s, 5)

		base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		for i, price := range []float64{100, 95, 110} {
			_, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
				BatchID: &b.ID, ProductID: "p1", Price: fptr(price), ValidationBasisPrice: 100,
				Status: model.RecordStatusSuccess, Method: "llm",
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			})
			require.NoError(t, err)
		}
		// Non-accepted rows stay out of history.
		seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(10), 100)
		seedRecord(t, s, b.ID, "p1", model.RecordStatusFailed, model.ReasonExtractionFailed, nil, 100)
		seedRecord(t, s, b.ID, "p2", model.RecordStatusSuccess, "", fptr(55), 50)

		points, err := s.AcceptedHistory(ctx, "p1", "")
		require.NoError(t, err)
		require.Len(t, points, 3)
		// Newest first.
		assert.InDelta(t, 110, points[0].Price, 0.001)
		assert.InDelta(t, 100, points[2].Price, 0.001)
	})

	t.Run("AcceptedHistory_VariantFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 2)

		for _, variant := range []string{"red", "blue"} {
			_, err := s.InsertPriceRecord(ctx, &model.PriceRecord{
				BatchID: &b.ID, ProductID: "p1", Variant: variant,
				Price: fptr(100), ValidationBasisPrice: 100,
				Status: model.RecordStatusSuccess, Method: "llm",
			})
			require.NoError(t, err)
		}

		red, err := s.AcceptedHistory(ctx, "p1", "red")
		require.NoError(t, err)
		require.Len(t, red, 1)
		assert.Equal(t, "red", red[0].Variant)

		all, err := s.AcceptedHistory(ctx, "p1", "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("AcceptedExtremes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		b := seedBatch(t, s, 4)

		for _, price := range []float64{100, 80, 120} {
			seedRecord(t, s, b.ID, "p1", model.RecordStatusSuccess, "", fptr(price), 100)
		}
		// Pending rows never count toward extremes.
		seedRecord(t, s, b.ID, "p1", model.RecordStatusPendingReview, model.ReasonLowConfidence, fptr(1), 100)

		ex, err := s.AcceptedExtremes(ctx, "p1", "")
		require.NoError(t, err)
		require.NotNil(t, ex.AllTimeLow)
		require.NotNil(t, ex.AllTimeHigh)
		assert.InDelta(t, 80, *ex.AllTimeLow, 0.001)
		assert.InDelta(t, 120, *ex.AllTimeHigh, 0.001)
	})

	t.Run("AcceptedExtremes_NoHistory", func(t *testing.T) {
		s := newStore(t)
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)

		ex, err := s.AcceptedExtremes(context.Background(), "p1", "")
		require.NoError(t, err)
		assert.Nil(t, ex.AllTimeLow)
		assert.Nil(t, ex.AllTimeHigh)
	})

	t.Run("UpsertProducts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertProducts(ctx, []model.Product{
			{ID: "p1", Name: "Widget", URL: "https://shop.example/widget", Manufacturer: "Acme", CurrentPrice: 100},
			{Name: "Gadget", URL: "https://shop.example/gadget", CurrentPrice: 50},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Widget", got.Name)
		assert.Equal(t, "USD", got.Currency)
		assert.InDelta(t, 100, got.CurrentPrice, 0.001)

		// Re-importing the feed updates descriptive fields but never the
		// canonical price.
		_, err = s.UpsertProducts(ctx, []model.Product{
			{Name: "Widget Pro", URL: "https://shop.example/widget", Manufacturer: "Acme", CurrentPrice: 999},
		})
		require.NoError(t, err)

		got, err = s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Widget Pro", got.Name)
		assert.InDelta(t, 100, got.CurrentPrice, 0.001)
	})

	t.Run("GetProduct_NotFound", func(t *testing.T) {
		s := newStore(t)

		got, err := s.GetProduct(context.Background(), "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ListProducts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		seedProduct(t, s, "p2", "Gadget", "https://shop.example/gadget", 50)

		all, err := s.ListProducts(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Gadget", all[0].Name)

		paged, err := s.ListProducts(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, "Widget", paged[0].Name)
	})

	t.Run("ApplyCanonicalPrice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)

		checkedAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.ApplyCanonicalPrice(ctx, "p1", 92.5, checkedAt))

		got, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.InDelta(t, 92.5, got.CurrentPrice, 0.001)
		require.NotNil(t, got.LastCheckedAt)
		assert.True(t, got.LastCheckedAt.Equal(checkedAt))
	})

	t.Run("ApplyCanonicalPrice_NotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.ApplyCanonicalPrice(context.Background(), "nonexistent", 10, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListStaleProducts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedProduct(t, s, "p1", "Widget", "https://shop.example/widget", 100)
		seedProduct(t, s, "p2", "Gadget", "https://shop.example/gadget", 50)
		seedProduct(t, s, "p3", "Gizmo", "https://shop.example/gizmo", 25)

		// p1 checked recently, p2 checked long ago, p3 never checked.
		require.NoError(t, s.ApplyCanonicalPrice(ctx, "p1", 100, time.Now().UTC()))
		require.NoError(t, s.ApplyCanonicalPrice(ctx, "p2", 50, time.Now().UTC().AddDate(0, 0, -30)))

		stale, err := s.ListStaleProducts(ctx, StaleFilter{DaysThreshold: 7})
		require.NoError(t, err)
		require.Len(t, stale, 2)

		ids := []string{stale[0].ID, stale[1].ID}
		assert.ElementsMatch(t, []string{"p2", "p3"}, ids)
	})

	t.Run("ListStaleProducts_ManufacturerFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertProducts(ctx, []model.Product{
			{ID: "p1", Name: "Widget", URL: "https://shop.example/widget", Manufacturer: "Acme"},
			{ID: "p2", Name: "Gadget", URL: "https://shop.example/gadget", Manufacturer: "Globex"},
		})
		require.NoError(t, err)

		stale, err := s.ListStaleProducts(ctx, StaleFilter{DaysThreshold: 7, Manufacturer: "Acme"})
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "p1", stale[0].ID)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
