// Package db opens the configured state store backend.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"nexus/internal/config"
	"nexus/internal/store"
	"nexus/internal/store/litestore"
	"nexus/internal/store/memstore"
	"nexus/internal/store/pgstore"
)

// Open returns the store selected by cfg plus a close function.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), func() {}, nil
	case config.BackendSQLite:
		s, err := litestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		s, err := pgstore.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
