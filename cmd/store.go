package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/dlq"
	"github.com/sells-group/jobstore/internal/ingest"
	"github.com/sells-group/jobstore/internal/store"
)

// initStore validates store settings, connects and applies migrations.
func initStore(ctx context.Context) (*store.PostgresStore, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PoolConfig{
		MaxConns:      cfg.Store.PoolSize,
		MinConns:      cfg.Store.MinConns,
		BorrowTimeout: cfg.Store.BorrowTimeout(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "init store: migrate")
	}
	return st, nil
}

func newDetector() *dedupe.Detector {
	return dedupe.NewDetector(dedupe.WithTitleSimilarity(cfg.Merge.TitleSimilarity))
}

func openSpool() (*dlq.Spool, error) {
	spool, err := dlq.Open(cfg.DLQ.Path, cfg.DLQ.MaxRetries)
	if err != nil {
		return nil, eris.Wrap(err, "open dead-letter spool")
	}
	return spool, nil
}

// newPipeline builds the ingestion pipeline. A nil spool disables
// dead-lettering.
func newPipeline(st store.Store, spool *dlq.Spool) *ingest.Pipeline {
	opts := []ingest.Option{ingest.WithRetryAttempts(cfg.Ingest.RetryAttempts)}
	if spool != nil {
		opts = append(opts, ingest.WithDeadLetters(spool))
	}
	return ingest.New(st, newDetector(), opts...)
}
