// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is an append-only fact about one accepted proxied call.
type UsageRecord struct {
	CredentialID uuid.UUID
	Endpoint     string
	Cost         int
	At           time.Time
}
