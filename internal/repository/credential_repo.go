// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const credentialColumns = `id, name, email, secret_prefix, rate_limit, daily_usage, last_used, created_at, active`

// CredentialRepository is the Postgres credential store.
type CredentialRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCredentialRepository(pool *pgxpool.Pool, logger *slog.Logger) *CredentialRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CredentialRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *CredentialRepository) CredentialBySecretHash(ctx context.Context, secretHash string) (domain.Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE secret_hash=$1`,
		secretHash,
	)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, domain.ErrCredentialNotFound
		}
		r.logger.Error("lookup credential failed", "error", err)
		return domain.Credential{}, err
	}
	return cred, nil
}

// ResetDailyUsage zeroes the counter only if the credential has not been used
// since dayStart, so a reset racing a fresh increment is a no-op.
func (r *CredentialRepository) ResetDailyUsage(ctx context.Context, id uuid.UUID, dayStart time.Time) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET daily_usage = 0
		WHERE id = $1 AND last_used < $2
	`, id, dayStart); err != nil {
		r.logger.Error("reset daily usage failed", "credential_id", id, "error", err)
		return err
	}
	return nil
}

func (r *CredentialRepository) RecordUsage(ctx context.Context, record domain.UsageRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE credentials
		SET daily_usage = daily_usage + $2, last_used = $3
		WHERE id = $1
	`, record.CredentialID, record.Cost, record.At)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_logs (credential_id, endpoint, cost, created_at)
		VALUES ($1, $2, $3, $4)
	`, record.CredentialID, record.Endpoint, record.Cost, record.At); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *CredentialRepository) CreateCredential(ctx context.Context, params domain.CreateCredentialParams) (domain.CreatedCredential, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.CreatedCredential{}, domain.ErrInvalidCredentialName
	}
	rateLimit := params.RateLimit
	if rateLimit <= 0 {
		rateLimit = domain.DefaultRateLimit
	}
	email := strings.TrimSpace(params.Email)

	secret, hash, prefix, err := auth.GenerateSecret()
	if err != nil {
		r.logger.Error("generate credential secret failed", "error", err)
		return domain.CreatedCredential{}, err
	}

	id := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (id, name, email, secret_hash, secret_prefix, rate_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, name, email, hash, prefix, rateLimit); err != nil {
		r.logger.Error("create credential failed", "name", name, "error", err)
		return domain.CreatedCredential{}, err
	}

	return domain.CreatedCredential{
		ID:        id,
		Name:      name,
		Email:     email,
		Secret:    secret,
		RateLimit: rateLimit,
	}, nil
}

func (r *CredentialRepository) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		ORDER BY created_at DESC
	`)
	if err != nil {
		r.logger.Error("list credentials query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	creds := make([]domain.Credential, 0, 32)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return creds, nil
}

// DeleteCredential deactivates the credential. Usage history is kept.
func (r *CredentialRepository) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET active = FALSE
		WHERE id = $1 AND active
	`, id)
	if err != nil {
		r.logger.Error("delete credential failed", "credential_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

// UsageSummary counts credentials and sums the usage of those touched since
// dayStart.
func (r *CredentialRepository) UsageSummary(ctx context.Context, dayStart time.Time) (domain.UsageSummary, error) {
	var s domain.UsageSummary
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COALESCE(SUM(daily_usage) FILTER (WHERE last_used >= $1), 0)
		FROM credentials
	`, dayStart).Scan(&s.TotalKeys, &s.ActiveKeys, &s.TodayRequests)
	if err != nil {
		r.logger.Error("usage summary query failed", "error", err)
		return domain.UsageSummary{}, err
	}
	return s, nil
}

func (r *CredentialRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.ID,
		&cred.Name,
		&cred.Email,
		&cred.SecretPrefix,
		&cred.RateLimit,
		&cred.DailyUsage,
		&cred.LastUsed,
		&cred.CreatedAt,
		&cred.Active,
	)
	return cred, err
}
