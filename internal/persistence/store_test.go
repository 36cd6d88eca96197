// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/inference-gateway/internal/config"
	"github.com/adiadia/inference-gateway/internal/domain"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreDriver:  config.StoreDriverSQLite,
		DatabasePath: filepath.Join(t.TempDir(), "gateway.db"),
		AutoMigrate:  true,
	}

	store, closeFn, err := Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(closeFn)

	require.NoError(t, store.Ping(ctx))
	created, err := store.CreateCredential(ctx, domain.CreateCredentialParams{Name: "opened"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Secret)
}

func TestOpenSQLiteRequiresSchemaWithoutAutoMigrate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gateway.db")
	cfg := config.Config{
		StoreDriver:  config.StoreDriverSQLite,
		DatabasePath: path,
	}

	store, closeFn, err := Open(ctx, cfg, nil)
	require.Error(t, err)
	assert.Nil(t, store)
	assert.Nil(t, closeFn)
	assert.Contains(t, err.Error(), "required tables missing")
	assert.Contains(t, err.Error(), path)

	cfg.AutoMigrate = true
	store, closeFn, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	closeFn()

	cfg.AutoMigrate = false
	store, closeFn, err = Open(ctx, cfg, nil)
	require.NoError(t, err, "an already migrated file opens without migrating")
	t.Cleanup(closeFn)
	require.NoError(t, store.Ping(ctx))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{StoreDriver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestOpenPostgresBadURL(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{
		StoreDriver: config.StoreDriverPostgres,
		DatabaseURL: "://not-valid",
	}, nil)
	assert.Error(t, err)
}
