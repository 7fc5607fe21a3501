package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dealscope/pricetrack-cli/internal/orchestrator"
	"github.com/dealscope/pricetrack-cli/internal/review"
	"github.com/dealscope/pricetrack-cli/internal/stats"
	"github.com/dealscope/pricetrack-cli/internal/store"
	"github.com/dealscope/pricetrack-cli/pkg/extractor"
)

// initStore opens the configured database backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pricetrack.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func initExtractor() extractor.Client {
	opts := []extractor.Option{
		extractor.WithBaseURL(cfg.Extractor.BaseURL),
		extractor.WithRateLimit(cfg.Extractor.RequestsPerSec, int(cfg.Extractor.RequestsPerSec)+1),
	}
	return extractor.NewClient(cfg.Extractor.Key, opts...)
}

func initOrchestrator(st store.Store) *orchestrator.Orchestrator {
	return orchestrator.New(st, initExtractor(), cfg.Classifier, cfg.Pricing, orchestrator.Config{
		Concurrency: cfg.Batch.Concurrency,
		ItemTimeout: cfg.Batch.ItemTimeout(),
	})
}

func initReview(st store.Store) *review.Service {
	return review.NewService(st, st, review.Config{MaxBatchSize: cfg.Review.MaxBatchSize})
}

func initStats(st store.Store) *stats.Engine {
	return stats.NewEngine(st)
}
