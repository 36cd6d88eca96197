// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/metrics"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

// Authenticator validates a caller secret and applies the daily quota.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (domain.Credential, error)
	RetryAfter() time.Duration
}

// CredentialAuth admits requests carrying an active credential with quota
// left and stores it on the request context. Rejections happen before any
// upstream call.
func CredentialAuth(authenticator Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if authenticator == nil {
		panic("middleware.CredentialAuth requires an authenticator")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path

			secret, ok := auth.SecretFromRequest(r)
			if !ok {
				metrics.IncProxyRequest(route, metrics.OutcomeUnauthenticated)
				logger.Warn("request blocked: missing api key",
					"path", route,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w)
				return
			}

			cred, err := authenticator.Authenticate(r.Context(), secret)
			switch {
			case errors.Is(err, domain.ErrUnauthenticated):
				metrics.IncProxyRequest(route, metrics.OutcomeUnauthenticated)
				logger.Warn("request blocked: invalid api key",
					"path", route,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w)
				return
			case errors.Is(err, domain.ErrQuotaExceeded):
				metrics.IncProxyRequest(route, metrics.OutcomeQuotaExceeded)
				logger.Info("request blocked: daily quota exhausted",
					"path", route,
					"credential_id", cred.ID,
					"daily_usage", cred.DailyUsage,
					"rate_limit", cred.RateLimit,
				)
				w.Header().Set(headerRateLimitLimit, strconv.Itoa(cred.RateLimit))
				w.Header().Set(headerRateLimitRemaining, "0")
				w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfterSeconds(authenticator.RetryAfter())))
				WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded",
					fmt.Sprintf("daily quota of %d requests exhausted", cred.RateLimit))
				return
			case err != nil:
				metrics.IncProxyRequest(route, metrics.OutcomeAuthError)
				logger.Error("credential lookup failed",
					"path", route,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				WriteJSONError(w, http.StatusInternalServerError, "internal error", "credential lookup failed")
				return
			}

			w.Header().Set(headerRateLimitLimit, strconv.Itoa(cred.RateLimit))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(max(cred.RateLimit-cred.DailyUsage, 0)))

			// Keep the credential on the current request pointer so outer
			// middleware (request logging) can read credential_id after next returns.
			*r = *r.WithContext(auth.WithCredential(r.Context(), cred))
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSONError writes {"error": code, "message": message}.
func WriteJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
