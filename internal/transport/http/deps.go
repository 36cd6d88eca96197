// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/adiadia/inference-gateway/internal/balancer"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/proxy"
	"github.com/google/uuid"
)

// CredentialAdmin is the administrative side of the credential store.
type CredentialAdmin interface {
	CreateCredential(ctx context.Context, params domain.CreateCredentialParams) (domain.CreatedCredential, error)
	ListCredentials(ctx context.Context) ([]domain.Credential, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	UsageSummary(ctx context.Context, dayStart time.Time) (domain.UsageSummary, error)
}

// QuotaGate authenticates proxied calls and knows the current quota day.
type QuotaGate interface {
	Authenticate(ctx context.Context, secret string) (domain.Credential, error)
	RetryAfter() time.Duration
	DayStart() time.Time
}

// BackendStatus exposes backend health for operational routes.
type BackendStatus interface {
	Refresh(ctx context.Context)
	Stats() []balancer.Snapshot
	TotalRequests() int64
}

// ProxyHandlers builds the handler for one proxied route.
type ProxyHandlers interface {
	Handler(route proxy.Route) http.Handler
}

type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a ping function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Check(ctx context.Context) error {
	return f(ctx)
}
