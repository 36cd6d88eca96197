// SPDX-License-Identifier: Apache-2.0

// Package proxy routes one authenticated inference call: refresh backend
// health, pick a backend, forward, then record usage.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/balancer"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/forwarder"
	"github.com/adiadia/inference-gateway/internal/metrics"
	"github.com/adiadia/inference-gateway/internal/quota"
	"github.com/google/uuid"
)

const (
	DefaultListTimeout       = 30 * time.Second
	DefaultGenerationTimeout = 60 * time.Second
)

// Backends is the registry surface used per request.
type Backends interface {
	Refresh(ctx context.Context)
	Pick(strategy balancer.Strategy) (balancer.Snapshot, error)
}

// Forwarder sends the request upstream and streams the reply into w.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, baseURL string, timeout time.Duration) (forwarder.Result, error)
}

// UsageRecorder persists usage for a completed call. It must not fail the
// request.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, credentialID uuid.UUID, endpoint string, cost int)
}

// Route describes one proxied endpoint.
type Route struct {
	// Name labels usage records and metrics, e.g. "/v1/chat/completions".
	Name    string
	Timeout time.Duration
	// Metered routes are charged the estimated token cost; others cost 0.
	Metered bool
}

type Service struct {
	backends  Backends
	forwarder Forwarder
	usage     UsageRecorder
	strategy  balancer.Strategy
	logger    *slog.Logger
}

func NewService(backends Backends, fwd Forwarder, usage UsageRecorder, strategy balancer.Strategy, logger *slog.Logger) *Service {
	if backends == nil || fwd == nil || usage == nil {
		panic("proxy: backends, forwarder and usage recorder are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backends:  backends,
		forwarder: fwd,
		usage:     usage,
		strategy:  balancer.ParseStrategy(string(strategy)),
		logger:    logger,
	}
}

// Handler serves route. The credential must already be in the request
// context; see middleware.CredentialAuth.
func (s *Service) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := auth.CredentialFromContext(r.Context())
		if !ok {
			metrics.IncProxyRequest(route.Name, metrics.OutcomeUnauthenticated)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
			return
		}

		s.backends.Refresh(r.Context())

		backend, err := s.backends.Pick(s.strategy)
		if err != nil {
			metrics.IncProxyRequest(route.Name, metrics.OutcomeNoBackend)
			s.logger.Warn("no backend for request",
				"route", route.Name,
				"credential_id", cred.ID,
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "service unavailable", domain.ErrNoHealthyBackend.Error())
			return
		}

		res, err := s.forwarder.Forward(w, r, backend.URL, route.Timeout)
		metrics.ObserveUpstreamDuration(backend.URL, res.Duration)

		switch {
		case errors.Is(err, forwarder.ErrClientGone):
			metrics.IncProxyRequest(route.Name, metrics.OutcomeCanceled)
			s.logger.Info("client disconnected during proxy",
				"route", route.Name,
				"backend", backend.URL,
				"credential_id", cred.ID,
			)
			return
		case err != nil:
			metrics.IncProxyRequest(route.Name, metrics.OutcomeUpstreamError)
			s.logger.Warn("upstream request failed",
				"route", route.Name,
				"backend", backend.URL,
				"credential_id", cred.ID,
				"error", err,
			)
			return
		}

		cost := 0
		if route.Metered {
			cost = quota.EstimateCost(res.RequestBytes, res.ResponseBytes)
		}
		s.usage.RecordUsage(context.WithoutCancel(r.Context()), cred.ID, route.Name, cost)

		metrics.IncProxyRequest(route.Name, metrics.OutcomeOK)
		s.logger.Debug("proxied request",
			"route", route.Name,
			"backend", backend.URL,
			"status", res.StatusCode,
			"cost", cost,
			"duration_ms", res.Duration.Milliseconds(),
		)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
