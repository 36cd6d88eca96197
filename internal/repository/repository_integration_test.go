//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCredentialLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewCredentialRepository(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))

	created, err := repo.CreateCredential(ctx, domain.CreateCredentialParams{Name: " team-a ", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if created.Name != "team-a" || created.RateLimit != domain.DefaultRateLimit {
		t.Fatalf("unexpected created credential %+v", created)
	}

	cred, err := repo.CredentialBySecretHash(ctx, auth.HashSecret(created.Secret))
	if err != nil {
		t.Fatalf("lookup by secret: %v", err)
	}
	if cred.ID != created.ID || cred.DailyUsage != 0 || !cred.Active || cred.LastUsed != nil {
		t.Fatalf("unexpected fresh credential %+v", cred)
	}

	yesterday := time.Now().Add(-24 * time.Hour)
	if err := repo.RecordUsage(ctx, domain.UsageRecord{CredentialID: cred.ID, Endpoint: "/v1/completions", Cost: 7, At: yesterday}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	var logs int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM usage_logs WHERE credential_id=$1`, cred.ID).Scan(&logs); err != nil {
		t.Fatalf("count usage logs: %v", err)
	}
	if logs != 1 {
		t.Fatalf("expected 1 usage log got %d", logs)
	}

	if err := repo.ResetDailyUsage(ctx, cred.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("reset daily usage: %v", err)
	}
	cred, err = repo.CredentialBySecretHash(ctx, auth.HashSecret(created.Secret))
	if err != nil {
		t.Fatalf("lookup after reset: %v", err)
	}
	if cred.DailyUsage != 0 {
		t.Fatalf("expected usage reset, got %d", cred.DailyUsage)
	}

	if err := repo.RecordUsage(ctx, domain.UsageRecord{CredentialID: cred.ID, Endpoint: "/v1/models", Cost: 1, At: time.Now()}); err != nil {
		t.Fatalf("record usage today: %v", err)
	}
	if err := repo.ResetDailyUsage(ctx, cred.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("reset daily usage: %v", err)
	}
	cred, _ = repo.CredentialBySecretHash(ctx, auth.HashSecret(created.Secret))
	if cred.DailyUsage != 1 {
		t.Fatalf("expected reset to skip credential used today, got %d", cred.DailyUsage)
	}

	summary, err := repo.UsageSummary(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.TotalKeys != 1 || summary.ActiveKeys != 1 || summary.TodayRequests != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if err := repo.DeleteCredential(ctx, cred.ID); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if err := repo.DeleteCredential(ctx, cred.ID); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	listed, err := repo.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 1 || listed[0].Active {
		t.Fatalf("expected one inactive credential, got %+v", listed)
	}
}

func TestCredentialNotFoundIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	repo := NewCredentialRepository(pool, nil)

	if _, err := repo.CredentialBySecretHash(ctx, auth.HashSecret("igw_unknown")); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if err := repo.RecordUsage(ctx, domain.UsageRecord{CredentialID: uuid.New(), Endpoint: "/v1/models", At: time.Now()}); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound on usage for unknown id, got %v", err)
	}
	if _, err := repo.CreateCredential(ctx, domain.CreateCredentialParams{Name: "   "}); !errors.Is(err, domain.ErrInvalidCredentialName) {
		t.Fatalf("expected ErrInvalidCredentialName, got %v", err)
	}
}

func truncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE usage_logs, credentials RESTART IDENTITY CASCADE`)
	return err
}

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	return pool
}
