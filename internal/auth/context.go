// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/google/uuid"
)

type credentialContextKey struct{}

var ctxCredentialKey credentialContextKey

// WithCredential stores the authenticated and admitted credential on the
// request context.
func WithCredential(ctx context.Context, cred domain.Credential) context.Context {
	return context.WithValue(ctx, ctxCredentialKey, cred)
}

// CredentialFromContext reads the authenticated credential from context.
func CredentialFromContext(ctx context.Context) (domain.Credential, bool) {
	v := ctx.Value(ctxCredentialKey)
	cred, ok := v.(domain.Credential)
	if !ok || cred.ID == uuid.Nil {
		return domain.Credential{}, false
	}
	return cred, true
}

// CredentialIDFromContext reads the authenticated credential id from context.
func CredentialIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	cred, ok := CredentialFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return cred.ID, true
}
