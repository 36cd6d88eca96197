// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/inference-gateway/internal/balancer"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/metrics"
	"github.com/adiadia/inference-gateway/internal/proxy"
	"github.com/adiadia/inference-gateway/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	routeModels          = "/v1/models"
	routeChatCompletions = "/v1/chat/completions"
	routeCompletions     = "/v1/completions"

	storeCheckTimeout = 3 * time.Second
)

type createCredentialRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	RateLimit int    `json:"rate_limit"`
}

type Deps struct {
	Credentials CredentialAdmin
	Quota       QuotaGate
	Backends    BackendStatus
	Proxy       ProxyHandlers
	Store       HealthChecker
	Logger      *slog.Logger
	AdminToken  string

	ListTimeout       time.Duration
	GenerationTimeout time.Duration

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	listTimeout := durationOrDefault(deps.ListTimeout, proxy.DefaultListTimeout)
	generationTimeout := durationOrDefault(deps.GenerationTimeout, proxy.DefaultGenerationTimeout)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Store: "ok"}
		status := http.StatusOK

		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), storeCheckTimeout)
			err := deps.Store.Check(ctx)
			cancel()
			if err != nil {
				logger.Error("health check: store unavailable", "error", err)
				resp.Store = "unavailable"
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		if deps.Backends != nil {
			deps.Backends.Refresh(r.Context())
			resp.Backends = deps.Backends.Stats()
			for _, b := range resp.Backends {
				if b.Healthy {
					resp.HealthyBackends++
				}
			}
			if resp.HealthyBackends == 0 && status == http.StatusOK {
				resp.Status = "degraded"
			}
		}

		writeJSON(w, status, resp)
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- BACKEND STATS ----------------

	if deps.Backends != nil {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			deps.Backends.Refresh(r.Context())
			writeJSON(w, http.StatusOK, map[string]any{
				"backends":       deps.Backends.Stats(),
				"total_requests": deps.Backends.TotalRequests(),
			})
		})
	}

	// ---------------- CREDENTIAL LIFECYCLE (ADMIN) ----------------

	if deps.Credentials != nil {
		r.Route("/api/v1", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/keys", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeCreateCredentialRequest(r)
				if err != nil {
					if errors.Is(err, domain.ErrInvalidCredentialName) {
						middleware.WriteJSONError(w, http.StatusBadRequest, "bad request", "name is required")
						return
					}
					middleware.WriteJSONError(w, http.StatusBadRequest, "bad request", "invalid request body")
					return
				}

				created, err := deps.Credentials.CreateCredential(r.Context(), domain.CreateCredentialParams{
					Name:      reqBody.Name,
					Email:     reqBody.Email,
					RateLimit: reqBody.RateLimit,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidCredentialName) {
						middleware.WriteJSONError(w, http.StatusBadRequest, "bad request", "name is required")
						return
					}
					logger.Error("create credential failed", "error", err)
					middleware.WriteJSONError(w, http.StatusInternalServerError, "internal error", "failed to create api key")
					return
				}

				logger.Info("credential created", "credential_id", created.ID, "name", created.Name)
				writeJSON(w, http.StatusCreated, created)
			})

			admin.Get("/keys", func(w http.ResponseWriter, r *http.Request) {
				creds, err := deps.Credentials.ListCredentials(r.Context())
				if err != nil {
					logger.Error("list credentials failed", "error", err)
					middleware.WriteJSONError(w, http.StatusInternalServerError, "internal error", "failed to list api keys")
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"api_keys": creds,
				})
			})

			admin.Delete("/keys/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					middleware.WriteJSONError(w, http.StatusBadRequest, "bad request", "invalid api key id")
					return
				}

				if err := deps.Credentials.DeleteCredential(r.Context(), id); err != nil {
					if errors.Is(err, domain.ErrCredentialNotFound) {
						middleware.WriteJSONError(w, http.StatusNotFound, "not found", "api key not found")
						return
					}
					logger.Error("delete credential failed", "credential_id", id, "error", err)
					middleware.WriteJSONError(w, http.StatusInternalServerError, "internal error", "failed to delete api key")
					return
				}

				logger.Info("credential deactivated", "credential_id", id)
				w.WriteHeader(http.StatusNoContent)
			})

			admin.Get("/stats/summary", func(w http.ResponseWriter, r *http.Request) {
				dayStart := startOfToday()
				if deps.Quota != nil {
					dayStart = deps.Quota.DayStart()
				}

				summary, err := deps.Credentials.UsageSummary(r.Context(), dayStart)
				if err != nil {
					logger.Error("usage summary failed", "error", err)
					middleware.WriteJSONError(w, http.StatusInternalServerError, "internal error", "failed to load usage summary")
					return
				}
				writeJSON(w, http.StatusOK, summary)
			})
		})
	}

	// ---------------- PROXIED INFERENCE (API KEY AUTH) ----------------

	if deps.Proxy != nil && deps.Quota != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.CredentialAuth(deps.Quota, logger))

			r.Method(http.MethodGet, routeModels, deps.Proxy.Handler(proxy.Route{
				Name:    routeModels,
				Timeout: listTimeout,
			}))
			r.Method(http.MethodPost, routeChatCompletions, deps.Proxy.Handler(proxy.Route{
				Name:    routeChatCompletions,
				Timeout: generationTimeout,
				Metered: true,
			}))
			r.Method(http.MethodPost, routeCompletions, deps.Proxy.Handler(proxy.Route{
				Name:    routeCompletions,
				Timeout: generationTimeout,
				Metered: true,
			}))
		})
	}

	return r
}

type healthResponse struct {
	Status          string              `json:"status"`
	Store           string              `json:"store"`
	HealthyBackends int                 `json:"healthy_backends"`
	Backends        []balancer.Snapshot `json:"backends,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateCredentialRequest(r *http.Request) (createCredentialRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return createCredentialRequest{}, domain.ErrInvalidCredentialName
	}

	var req createCredentialRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return createCredentialRequest{}, domain.ErrInvalidCredentialName
		}
		return createCredentialRequest{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return createCredentialRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		return createCredentialRequest{}, domain.ErrInvalidCredentialName
	}
	if req.RateLimit < 0 {
		return createCredentialRequest{}, errors.New("rate_limit must not be negative")
	}

	return req, nil
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}

func durationOrDefault(value, defaultValue time.Duration) time.Duration {
	if value <= 0 {
		return defaultValue
	}
	return value
}
