// SPDX-License-Identifier: Apache-2.0

// Package quota validates caller secrets and enforces the per-credential
// daily request quota.
//
// The check in CheckAndAdmit is not serialized with the increment in
// RecordUsage: two requests racing through the check may both be admitted
// even though their combined cost exceeds the limit. Quota is best-effort.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/metrics"
	"github.com/google/uuid"
)

// bytesPerToken is the crude token estimate used for generation calls.
const bytesPerToken = 4

// Store is the slice of the credential store the engine needs.
type Store interface {
	CredentialBySecretHash(ctx context.Context, secretHash string) (domain.Credential, error)
	// ResetDailyUsage zeroes daily_usage when last_used is before dayStart.
	ResetDailyUsage(ctx context.Context, id uuid.UUID, dayStart time.Time) error
	RecordUsage(ctx context.Context, record domain.UsageRecord) error
}

type Engine struct {
	store    Store
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
}

type Option func(*Engine)

// WithLocation sets the timezone that defines a quota day.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("quota.NewEngine requires a store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:    store,
		logger:   logger,
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate looks up an active credential by its plaintext secret.
func (e *Engine) Validate(ctx context.Context, secret string) (domain.Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return domain.Credential{}, domain.ErrUnauthenticated
	}

	cred, err := e.store.CredentialBySecretHash(ctx, auth.HashSecret(secret))
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return domain.Credential{}, domain.ErrUnauthenticated
		}
		return domain.Credential{}, fmt.Errorf("lookup credential: %w", err)
	}
	if !cred.Active {
		return domain.Credential{}, domain.ErrUnauthenticated
	}

	return cred, nil
}

// CheckAndAdmit resets the daily counter when the credential was last used on
// an earlier quota day, then admits iff daily_usage < rate_limit. The returned
// credential reflects the reset.
func (e *Engine) CheckAndAdmit(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	dayStart := e.dayStart(e.now())

	if cred.LastUsed != nil && cred.LastUsed.Before(dayStart) && cred.DailyUsage != 0 {
		if err := e.store.ResetDailyUsage(ctx, cred.ID, dayStart); err != nil {
			return cred, fmt.Errorf("reset daily usage: %w", err)
		}
		e.logger.Debug("daily usage reset",
			"credential_id", cred.ID,
			"previous_usage", cred.DailyUsage,
		)
		cred.DailyUsage = 0
	}

	if cred.DailyUsage >= cred.RateLimit {
		return cred, domain.ErrQuotaExceeded
	}

	return cred, nil
}

// Authenticate is the single gate for proxied routes: validate, then admit.
func (e *Engine) Authenticate(ctx context.Context, secret string) (domain.Credential, error) {
	cred, err := e.Validate(ctx, secret)
	if err != nil {
		return domain.Credential{}, err
	}
	return e.CheckAndAdmit(ctx, cred)
}

// RecordUsage increments the credential's daily usage and appends a usage
// record. Failures are logged and never surfaced to the caller.
func (e *Engine) RecordUsage(ctx context.Context, credentialID uuid.UUID, endpoint string, cost int) {
	if cost < 0 {
		cost = 0
	}

	err := e.store.RecordUsage(ctx, domain.UsageRecord{
		CredentialID: credentialID,
		Endpoint:     endpoint,
		Cost:         cost,
		At:           e.now(),
	})
	if err != nil {
		metrics.IncUsageRecordFailures()
		e.logger.Error("record usage failed",
			"credential_id", credentialID,
			"endpoint", endpoint,
			"cost", cost,
			"error", err,
		)
		return
	}

	metrics.AddUsageCost(endpoint, cost)
}

// RetryAfter is the time left until the next quota day begins.
func (e *Engine) RetryAfter() time.Duration {
	now := e.now()
	next := e.dayStart(now).AddDate(0, 0, 1)
	return next.Sub(now)
}

// DayStart is the start of the current quota day.
func (e *Engine) DayStart() time.Time {
	return e.dayStart(e.now())
}

func (e *Engine) dayStart(t time.Time) time.Time {
	local := t.In(e.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
}

// EstimateCost converts request and response body sizes into an approximate
// token count.
func EstimateCost(requestBytes, responseBytes int64) int {
	total := requestBytes + responseBytes
	if total <= 0 {
		return 0
	}
	return int(total / bytesPerToken)
}
