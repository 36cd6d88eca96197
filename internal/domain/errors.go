// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrUnauthenticated = errors.New("unauthenticated")
var ErrQuotaExceeded = errors.New("daily quota exceeded")
var ErrNoHealthyBackend = errors.New("no healthy backend available")
var ErrUpstream = errors.New("upstream error")
var ErrCredentialNotFound = errors.New("credential not found")
var ErrInvalidCredentialName = errors.New("invalid credential name")
