// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/adiadia/inference-gateway/internal/auth"
)

// AdminTokenAuth guards administrative routes with a bearer token. An empty
// token leaves the routes open; the gateway warns about that at startup.
func AdminTokenAuth(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	adminToken = strings.TrimSpace(adminToken)

	return func(next http.Handler) http.Handler {
		if adminToken == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get(auth.HeaderAuthorization))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				logger.Warn("admin request blocked",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
