package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dealscope/pricetrack-cli/internal/export"
	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/orchestrator"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return v, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startBatchRequest struct {
	DaysThreshold int            `json:"days_threshold"`
	Manufacturer  string         `json:"manufacturer,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// handleStartBatch triggers a run asynchronously: the batch keeps
// processing after this request returns 202. Progress is observable
// through GET /batches.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.DaysThreshold < 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("days_threshold must be >= 0"))
		return
	}

	go func() {
		batch, summary, err := s.runner.Run(s.runCtx, orchestrator.StartRequest{
			DaysThreshold: req.DaysThreshold,
			Manufacturer:  req.Manufacturer,
			Limit:         req.Limit,
			Type:          model.BatchTypeAPI,
			CreatedBy:     req.CreatedBy,
			Metadata:      req.Metadata,
		})
		if err != nil {
			zap.L().Error("api-triggered batch failed", zap.Error(err))
			return
		}
		zap.L().Info("api-triggered batch finished",
			zap.String("batch_id", batch.ID),
			zap.Int("successful", summary.Successful),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 25)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	batches, err := s.store.ListBatches(r.Context(), store.BatchFilter{
		Status: model.BatchStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if batch == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("batch not found: %s", id))
		return
	}

	summary, err := s.runner.Summary(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch":   batch,
		"summary": summary,
	})
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Cancel(r.Context(), id); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleBatchRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if batch == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("batch not found: %s", id))
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	records, err := s.store.ListBatchRecords(r.Context(), id, store.RecordFilter{
		Status: model.RecordStatus(r.URL.Query().Get("status")),
		Reason: model.RecordReason(r.URL.Query().Get("reason")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []model.PriceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if batch == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("batch not found: %s", id))
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	summary, err := s.runner.Summary(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	records, err := s.store.ListBatchRecords(r.Context(), id, store.RecordFilter{})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	contentTypes := map[export.Format]string{
		export.FormatCSV:  "text/csv",
		export.FormatJSON: "application/json",
		export.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("batch-%s.%s", id, format)))

	if err := export.Write(w, format, batch, summary, records); err != nil {
		zap.L().Error("export batch", zap.String("batch_id", id), zap.Error(err))
	}
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	records, err := s.store.ListReviewQueue(r.Context(), store.RecordFilter{
		Reason: model.RecordReason(r.URL.Query().Get("reason")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []model.PriceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type approveRequest struct {
	Reviewer  string   `json:"reviewer"`
	RecordIDs []string `json:"record_ids"`
}

// handleApprove returns 200 with the itemized result even when some
// records failed or were skipped; only a rejected request (bad body,
// empty or oversized id set) is an error status.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.Reviewer == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("reviewer is required"))
		return
	}

	result, err := s.review.Approve(r.Context(), req.Reviewer, req.RecordIDs)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deleteRequest struct {
	RecordIDs []string `json:"record_ids"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	deleted, err := s.review.Delete(r.Context(), req.RecordIDs)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	product, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if product == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("product not found: %s", id))
		return
	}

	variant := r.URL.Query().Get("variant")
	history, err := s.stats.History(r.Context(), id, variant)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	extremes, err := s.stats.Extremes(r.Context(), id, variant)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product":  product,
		"history":  history,
		"extremes": extremes,
	})
}
