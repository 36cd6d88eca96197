// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/google/uuid"
)

type mockAuthenticator struct {
	bySecret   map[string]domain.Credential
	err        error
	retryAfter time.Duration
	seen       []string
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, secret string) (domain.Credential, error) {
	m.seen = append(m.seen, secret)
	if m.err != nil {
		return domain.Credential{}, m.err
	}
	cred, ok := m.bySecret[secret]
	if !ok {
		return domain.Credential{}, domain.ErrUnauthenticated
	}
	if cred.DailyUsage >= cred.RateLimit {
		return cred, domain.ErrQuotaExceeded
	}
	return cred, nil
}

func (m *mockAuthenticator) RetryAfter() time.Duration {
	return m.retryAfter
}

func TestCredentialAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credID := uuid.New()
	authenticator := &mockAuthenticator{
		bySecret: map[string]domain.Credential{
			"igw_good":      {ID: credID, RateLimit: 10, DailyUsage: 3, Active: true},
			"igw_exhausted": {ID: uuid.New(), RateLimit: 2, DailyUsage: 2, Active: true},
		},
		retryAfter: 90*time.Minute + 500*time.Millisecond,
	}

	okHandler := func(t *testing.T, called *bool) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called = true
			cred, ok := auth.CredentialFromContext(r.Context())
			if !ok {
				t.Fatal("expected credential in context")
			}
			if cred.ID != credID {
				t.Fatalf("expected credential %s got %s", credID, cred.ID)
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("rejects missing key", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
		if called {
			t.Fatal("next handler must not run")
		}
	})

	t.Run("rejects unknown key", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-API-Key", "igw_unknown")
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["error"] != "unauthorized" || body["message"] == "" {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("accepts x-api-key header", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set("X-API-Key", "igw_good")
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || !called {
			t.Fatalf("expected pass-through, got status %d called=%v", rec.Code, called)
		}
		if got := rec.Header().Get(headerRateLimitLimit); got != "10" {
			t.Fatalf("expected limit header 10 got %q", got)
		}
		if got := rec.Header().Get(headerRateLimitRemaining); got != "7" {
			t.Fatalf("expected remaining header 7 got %q", got)
		}
	})

	t.Run("accepts bearer header", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodPost, "/v1/completions", nil)
		req.Header.Set("Authorization", "Bearer igw_good")
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || !called {
			t.Fatalf("expected pass-through, got status %d called=%v", rec.Code, called)
		}
	})

	t.Run("exposes credential to outer middleware", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-API-Key", "igw_good")
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

		if id, ok := auth.CredentialIDFromContext(req.Context()); !ok || id != credID {
			t.Fatalf("expected credential %s on original request, got %s (ok=%v)", credID, id, ok)
		}
	})

	t.Run("rejects exhausted quota with retry-after", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodPost, "/v1/completions", nil)
		req.Header.Set("X-API-Key", "igw_exhausted")
		rec := httptest.NewRecorder()

		CredentialAuth(authenticator, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status %d got %d", http.StatusTooManyRequests, rec.Code)
		}
		if called {
			t.Fatal("next handler must not run")
		}
		if got := rec.Header().Get(headerRetryAfter); got != "5401" {
			t.Fatalf("expected Retry-After 5401 got %q", got)
		}
		if got := rec.Header().Get(headerRateLimitRemaining); got != "0" {
			t.Fatalf("expected remaining 0 got %q", got)
		}
	})

	t.Run("store failure is internal error", func(t *testing.T) {
		called := false
		failing := &mockAuthenticator{err: errors.New("db down")}
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-API-Key", "igw_good")
		rec := httptest.NewRecorder()

		CredentialAuth(failing, logger)(okHandler(t, &called)).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
		}
		if called {
			t.Fatal("next handler must not run")
		}
	})
}

func TestCredentialAuthPanicsWithoutAuthenticator(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	CredentialAuth(nil, nil)
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 1},
		{in: 300 * time.Millisecond, want: 1},
		{in: 2 * time.Second, want: 2},
		{in: 2*time.Second + time.Millisecond, want: 3},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.in); got != tc.want {
			t.Fatalf("retryAfterSeconds(%v): expected %d got %d", tc.in, tc.want, got)
		}
	}
}
