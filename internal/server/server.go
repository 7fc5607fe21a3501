// Package server exposes the pipeline over HTTP: batch triggering and
// inspection, the review queue, result export, and price history.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/orchestrator"
	"github.com/dealscope/pricetrack-cli/internal/review"
	"github.com/dealscope/pricetrack-cli/internal/stats"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

// BatchRunner triggers and controls batch runs. Satisfied by
// orchestrator.Orchestrator.
type BatchRunner interface {
	Run(ctx context.Context, req orchestrator.StartRequest) (*model.Batch, *model.BatchSummary, error)
	Cancel(ctx context.Context, batchID string) error
	Summary(ctx context.Context, batchID string) (*model.BatchSummary, error)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	store  store.Store
	review *review.Service
	runner BatchRunner
	stats  *stats.Engine

	// runCtx outlives individual requests: batch runs triggered over HTTP
	// keep going after the triggering request returns 202.
	runCtx context.Context

	allowedOrigins []string
}

// Option adjusts optional server settings.
type Option func(*Server)

// WithAllowedOrigins restricts CORS to the given origins. Default "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// New creates a Server. runCtx bounds the lifetime of asynchronously
// triggered batch runs; pass the process context, not a request context.
func New(runCtx context.Context, st store.Store, rev *review.Service, runner BatchRunner, se *stats.Engine, opts ...Option) *Server {
	s := &Server{
		store:          st,
		review:         rev,
		runner:         runner,
		stats:          se,
		runCtx:         runCtx,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", s.handleStartBatch)
		r.Get("/", s.handleListBatches)
		r.Get("/{id}", s.handleGetBatch)
		r.Post("/{id}/cancel", s.handleCancelBatch)
		r.Get("/{id}/records", s.handleBatchRecords)
		r.Get("/{id}/export", s.handleExportBatch)
	})

	r.Route("/review", func(r chi.Router) {
		r.Get("/", s.handleReviewQueue)
		r.Post("/approve", s.handleApprove)
		r.Post("/delete", s.handleDelete)
	})

	r.Get("/products/{id}/history", s.handleHistory)

	return r
}
