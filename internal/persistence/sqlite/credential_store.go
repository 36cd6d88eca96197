// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/google/uuid"
)

// timeLayout is fixed-width UTC so stored timestamps compare correctly as
// text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const credentialColumns = `id, name, email, secret_prefix, rate_limit, daily_usage, last_used, created_at, active`

// CredentialStore is the SQLite credential store.
type CredentialStore struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewCredentialStore(db *DB, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{db: db, logger: logger, now: time.Now}
}

func (s *CredentialStore) CredentialBySecretHash(ctx context.Context, secretHash string) (domain.Credential, error) {
	row := s.db.Reader.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE secret_hash = ?`,
		secretHash,
	)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, domain.ErrCredentialNotFound
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("lookup credential: %w", err)
	}
	return cred, nil
}

// ResetDailyUsage zeroes the counter only if the credential has not been used
// since dayStart.
func (s *CredentialStore) ResetDailyUsage(ctx context.Context, id uuid.UUID, dayStart time.Time) error {
	const query = `UPDATE credentials SET daily_usage = 0 WHERE id = ? AND last_used IS NOT NULL AND last_used < ?`
	if _, err := s.db.Writer.ExecContext(ctx, query, id.String(), formatTime(dayStart)); err != nil {
		return fmt.Errorf("reset daily usage %s: %w", id, err)
	}
	return nil
}

func (s *CredentialStore) RecordUsage(ctx context.Context, record domain.UsageRecord) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	at := formatTime(record.At)
	res, err := tx.ExecContext(ctx,
		`UPDATE credentials SET daily_usage = daily_usage + ?, last_used = ? WHERE id = ?`,
		record.Cost, at, record.CredentialID.String(),
	)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	} else if n == 0 {
		return domain.ErrCredentialNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_logs (credential_id, endpoint, cost, created_at) VALUES (?, ?, ?, ?)`,
		record.CredentialID.String(), record.Endpoint, record.Cost, at,
	); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	return tx.Commit()
}

func (s *CredentialStore) CreateCredential(ctx context.Context, params domain.CreateCredentialParams) (domain.CreatedCredential, error) {
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
		s.logger.Error("generate credential secret failed", "error", err)
		return domain.CreatedCredential{}, err
	}

	id := uuid.New()
	const query = `INSERT INTO credentials (id, name, email, secret_hash, secret_prefix, rate_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Writer.ExecContext(ctx, query,
		id.String(), name, email, hash, prefix, rateLimit, formatTime(s.now()),
	); err != nil {
		return domain.CreatedCredential{}, fmt.Errorf("create credential %q: %w", name, err)
	}

	return domain.CreatedCredential{
		ID:        id,
		Name:      name,
		Email:     email,
		Secret:    secret,
		RateLimit: rateLimit,
	}, nil
}

func (s *CredentialStore) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	rows, err := s.db.Reader.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
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
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// DeleteCredential deactivates the credential. Usage history is kept.
func (s *CredentialStore) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.Writer.ExecContext(ctx,
		`UPDATE credentials SET active = 0 WHERE id = ? AND active = 1`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func (s *CredentialStore) UsageSummary(ctx context.Context, dayStart time.Time) (domain.UsageSummary, error) {
	var summary domain.UsageSummary
	err := s.db.Reader.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_used >= ? THEN daily_usage ELSE 0 END), 0)
		FROM credentials
	`, formatTime(dayStart)).Scan(&summary.TotalKeys, &summary.ActiveKeys, &summary.TodayRequests)
	if err != nil {
		return domain.UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}
	return summary, nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	return s.db.Reader.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.Credential, error) {
	var (
		cred      domain.Credential
		id        string
		lastUsed  sql.NullString
		createdAt string
	)
	if err := row.Scan(
		&id,
		&cred.Name,
		&cred.Email,
		&cred.SecretPrefix,
		&cred.RateLimit,
		&cred.DailyUsage,
		&lastUsed,
		&createdAt,
		&cred.Active,
	); err != nil {
		return domain.Credential{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("parse credential id %q: %w", id, err)
	}
	cred.ID = parsed

	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Credential{}, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	if lastUsed.Valid {
		t, err := parseTime(lastUsed.String)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("parse last_used for %s: %w", id, err)
		}
		cred.LastUsed = &t
	}

	return cred, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
