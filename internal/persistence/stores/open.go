// Package stores opens the configured persistence.Store.
package stores

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/lab-scheduler/internal/config"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/memory"
	"github.com/example/lab-scheduler/internal/persistence/mongo"
	"github.com/example/lab-scheduler/internal/persistence/postgres"
	"github.com/example/lab-scheduler/internal/persistence/sqlite"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// Open connects to the driver named in cfg. Legacy documents read from the
// store or the memory seed file are upgraded through migrator.
func Open(ctx context.Context, cfg config.StoreConfig, migrator *scheduler.Migrator, logger *slog.Logger) (persistence.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("store", cfg.Driver)

	switch cfg.Driver {
	case config.StoreMemory:
		store := memory.New()
		if cfg.SeedFile == "" {
			return store, nil
		}
		if err := seed(store, cfg.SeedFile, migrator, logger); err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreSQLite:
		return sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLitePath), logger)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.PostgresDSN, migrator, logger)
	case config.StoreMongo:
		return mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, migrator, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func seed(store *memory.Store, path string, migrator *scheduler.Migrator, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	imported, migrated, err := store.Import(f, migrator)
	if err != nil {
		return fmt.Errorf("import seed file %s: %w", path, err)
	}
	logger.Info("seed file imported", "path", path, "events", imported, "migrated", migrated)
	return nil
}
