// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultRateLimit = 100

type CreateCredentialParams struct {
	Name      string
	Email     string
	RateLimit int
}

// CreatedCredential carries the plaintext secret. It is only ever returned
// from the create operation; stores keep the hash.
type CreatedCredential struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Secret    string    `json:"api_key"`
	RateLimit int       `json:"rate_limit"`
}

type Credential struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	SecretPrefix string     `json:"secret_prefix"`
	RateLimit    int        `json:"rate_limit"`
	DailyUsage   int        `json:"daily_usage"`
	LastUsed     *time.Time `json:"last_used"`
	CreatedAt    time.Time  `json:"created_at"`
	Active       bool       `json:"active"`
}

// UsageSummary aggregates credential state for operators.
type UsageSummary struct {
	TotalKeys     int `json:"total_keys"`
	ActiveKeys    int `json:"active_keys"`
	TodayRequests int `json:"today_requests"`
}
