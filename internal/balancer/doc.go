// SPDX-License-Identifier: Apache-2.0

// Package balancer tracks backend liveness and picks a backend for each
// proxied request.
//
// Health is refreshed lazily: every routing decision and every status query
// calls Registry.Refresh, which probes only the backends whose last probe is
// older than the configured interval. There is no background loop. A burst of
// requests arriving just as the interval elapses may probe the same backend
// more than once; probes are idempotent and the last result wins.
package balancer
