// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"

	secretPrefix       = "igw_"
	secretDisplayChars = 12
)

// SecretFromRequest returns the caller secret. The dedicated X-API-Key header
// takes precedence over a bearer Authorization header.
func SecretFromRequest(r *http.Request) (string, bool) {
	return SecretFromHeader(r.Header)
}

// SecretFromHeader applies the SecretFromRequest precedence to a header set.
func SecretFromHeader(h http.Header) (string, bool) {
	if key := strings.TrimSpace(h.Get(HeaderAPIKey)); key != "" {
		return key, true
	}
	return BearerToken(h.Get(HeaderAuthorization))
}

// SecretInAuthorization reports whether the caller secret was taken from the
// Authorization header rather than X-API-Key.
func SecretInAuthorization(h http.Header) bool {
	if strings.TrimSpace(h.Get(HeaderAPIKey)) != "" {
		return false
	}
	_, ok := BearerToken(h.Get(HeaderAuthorization))
	return ok
}

// BearerToken parses an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(schemeToken[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// GenerateSecret returns a new plaintext secret, its hash, and a short
// display prefix safe to show in listings.
func GenerateSecret() (secret, hash, display string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", err
	}
	secret = secretPrefix + hex.EncodeToString(raw)
	return secret, HashSecret(secret), secret[:secretDisplayChars], nil
}

// HashSecret is the one-way form secrets are stored and looked up by.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
