package storage

import (
	"context"
	"fmt"

	"ahr999-autoinvest/internal/config"
)

// Open builds the history backend selected by cfg.History.Backend.
func Open(ctx context.Context, cfg *config.Config) (HistoryStore, error) {
	switch cfg.History.Backend {
	case config.HistoryJSON, "":
		return NewFileStore(cfg.History.Path, cfg.Location()), nil
	case config.HistorySQLite:
		return NewSQLiteStore(cfg.History.SQLitePath)
	case config.HistoryPostgres:
		pool, err := NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.History.Backend)
	}
}
