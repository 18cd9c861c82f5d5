// Package factory selects and constructs the configured storage.Storage
// implementation at boot: a provider-selection switch over a config
// enum rather than letting callers import a concrete backend directly.
package factory

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/clustered"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/storage/sqlite"
)

// Open constructs the storage.Storage named by cfg.StorageBackend.
// athenaDir is used to resolve a relative SQLitePath; it is ignored by
// the other backends.
func Open(ctx context.Context, cfg *config.Config, athenaDir string) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		path := cfg.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(athenaDir, path)
		}
		s, err := sqlite.Open(ctx, path, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		return s, nil

	case config.BackendClustered:
		s, err := clustered.Open(ctx, clustered.Config{
			Host:         cfg.ClusteredHost,
			Port:         cfg.ClusteredPort,
			Database:     cfg.ClusteredDatabase,
			User:         cfg.ClusteredUser,
			Password:     cfg.ClusteredPassword,
			PoolMin:      cfg.ClusteredPoolMin,
			PoolMax:      cfg.ClusteredPoolMax,
			EmbeddingDim: cfg.EmbeddingDim,
		})
		if err != nil {
			return nil, fmt.Errorf("opening clustered storage: %w", err)
		}
		return s, nil

	case config.BackendMemory:
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage_backend %q", cfg.StorageBackend)
	}
}
