package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/estimator/internal/store"
)

// initStore opens the blob store selected by store.driver.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "s3":
		return store.NewS3(ctx, store.S3Config{
			Bucket:        cfg.Store.Bucket,
			Region:        cfg.Store.Region,
			Endpoint:      cfg.Store.Endpoint,
			PublicBaseURL: cfg.Store.PublicBaseURL,
			PresignTTL:    cfg.Store.PresignTTL,
		})
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "estimator.db"
		}
		return store.NewSQLite(dsn, cfg.Store.PublicBaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.PublicBaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openRecords validates the store settings, opens the store and wraps it
// for record access. Callers should defer closing the returned store.
func openRecords(ctx context.Context) (store.Store, *store.Records, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, store.NewRecords(st, cfg.Store.Timeout), nil
}
