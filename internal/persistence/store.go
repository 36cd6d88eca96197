// SPDX-License-Identifier: Apache-2.0

// Package persistence opens the configured credential store.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/inference-gateway/internal/config"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/persistence/postgres"
	"github.com/adiadia/inference-gateway/internal/persistence/sqlite"
	"github.com/adiadia/inference-gateway/internal/quota"
	"github.com/adiadia/inference-gateway/internal/repository"
	"github.com/google/uuid"
)

// Store is everything the gateway needs from a credential store.
type Store interface {
	quota.Store
	CreateCredential(ctx context.Context, params domain.CreateCredentialParams) (domain.CreatedCredential, error)
	ListCredentials(ctx context.Context) ([]domain.Credential, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	UsageSummary(ctx context.Context, dayStart time.Time) (domain.UsageSummary, error)
	Ping(ctx context.Context) error
}

var (
	_ Store = (*repository.CredentialRepository)(nil)
	_ Store = (*sqlite.CredentialStore)(nil)
)

// Open connects to the store selected by cfg.StoreDriver and brings its
// schema up to date when cfg.AutoMigrate is set; otherwise the schema must
// already be in place. The returned func releases the connection.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			err = postgres.EnsureSchema(ctx, pool, logger)
		} else {
			err = postgres.SchemaReady(ctx, pool)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return repository.NewCredentialRepository(pool, logger), pool.Close, nil

	case config.StoreDriverSQLite:
		db, err := sqlite.NewDB(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.DatabasePath, err)
		}
		if cfg.AutoMigrate {
			err = sqlite.RunMigrations(db.Writer)
		} else {
			err = sqlite.SchemaReady(ctx, db.Reader)
		}
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite schema at %s: %w", db.Path(), err)
		}
		logger.Info("sqlite store ready", "path", db.Path(), "migrated", cfg.AutoMigrate)
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Error("close sqlite failed", "path", db.Path(), "error", err)
			}
		}
		return sqlite.NewCredentialStore(db, logger), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
