// SPDX-License-Identifier: Apache-2.0

package balancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/inference-gateway/internal/domain"
	"github.com/adiadia/inference-gateway/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const DefaultHealthCheckInterval = 30 * time.Second

// Snapshot is a point-in-time copy of one backend's state.
type Snapshot struct {
	URL             string     `json:"url"`
	Healthy         bool       `json:"healthy"`
	RequestCount    int64      `json:"request_count"`
	LastHealthCheck *time.Time `json:"last_health_check"`
}

type backend struct {
	url             string
	healthy         bool
	requestCount    int64
	lastHealthCheck time.Time
}

func (b *backend) snapshot() Snapshot {
	s := Snapshot{
		URL:          b.url,
		Healthy:      b.healthy,
		RequestCount: b.requestCount,
	}
	if !b.lastHealthCheck.IsZero() {
		checked := b.lastHealthCheck
		s.LastHealthCheck = &checked
	}
	return s
}

// Registry owns the fixed set of backends and their mutable state. All state
// is guarded by mu; probes run outside the lock.
type Registry struct {
	mu       sync.Mutex
	backends []*backend
	turn     uint64

	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type RegistryOption func(*Registry)

func WithHealthCheckInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry builds a registry for the given base URLs in registration
// order. Backends start healthy and unprobed, so the first Refresh probes all
// of them.
func NewRegistry(baseURLs []string, prober Prober, opts ...RegistryOption) (*Registry, error) {
	if prober == nil {
		return nil, errors.New("balancer: nil prober")
	}

	r := &Registry{
		prober:   prober,
		interval: DefaultHealthCheckInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	seen := make(map[string]struct{}, len(baseURLs))
	for _, raw := range baseURLs {
		normalized, err := normalizeBaseURL(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[normalized]; dup {
			return nil, fmt.Errorf("balancer: duplicate backend %q", normalized)
		}
		seen[normalized] = struct{}{}

		r.backends = append(r.backends, &backend{url: normalized, healthy: true})
		metrics.SetBackendHealthy(normalized, true)
	}
	if len(r.backends) == 0 {
		return nil, errors.New("balancer: at least one backend is required")
	}

	return r, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("balancer: invalid backend url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("balancer: backend url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("balancer: backend url %q has no host", raw)
	}
	return trimmed, nil
}

// Refresh probes every backend whose last probe is older than the interval.
// Probes are detached from ctx cancellation so a caller hanging up does not
// mark a live backend as failed; each probe carries its own timeout.
func (r *Registry) Refresh(ctx context.Context) {
	probeCtx := context.WithoutCancel(ctx)
	now := r.now()

	r.mu.Lock()
	due := make([]*backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.lastHealthCheck.IsZero() || now.Sub(b.lastHealthCheck) > r.interval {
			due = append(due, b)
		}
	}
	r.mu.Unlock()

	if len(due) == 0 {
		return
	}

	var g errgroup.Group
	for _, b := range due {
		g.Go(func() error {
			r.probe(probeCtx, b)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) probe(ctx context.Context, b *backend) {
	err := r.prober.Probe(ctx, b.url)
	healthy := err == nil
	checked := r.now()

	r.mu.Lock()
	was := b.healthy
	b.healthy = healthy
	b.lastHealthCheck = checked
	r.mu.Unlock()

	metrics.IncHealthProbe(b.url, healthy)
	metrics.SetBackendHealthy(b.url, healthy)

	switch {
	case !healthy:
		r.logger.Warn("backend unhealthy", "backend", b.url, "error", err)
	case !was:
		r.logger.Info("backend recovered", "backend", b.url)
	default:
		r.logger.Debug("backend healthy", "backend", b.url)
	}
}

// Healthy returns the healthy backends in registration order.
func (r *Registry) Healthy() ([]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := r.healthyLocked()
	if len(healthy) == 0 {
		return nil, domain.ErrNoHealthyBackend
	}

	out := make([]Snapshot, len(healthy))
	for i, b := range healthy {
		out[i] = b.snapshot()
	}
	return out, nil
}

func (r *Registry) healthyLocked() []*backend {
	healthy := make([]*backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.healthy {
			healthy = append(healthy, b)
		}
	}
	return healthy
}

// Pick selects a healthy backend under strategy and applies the counter
// increment in the same critical section, so concurrent picks never read the
// same stale minimum. Select is not called when no backend is healthy.
func (r *Registry) Pick(strategy Strategy) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := r.healthyLocked()
	if len(healthy) == 0 {
		return Snapshot{}, domain.ErrNoHealthyBackend
	}

	candidates := make([]Snapshot, len(healthy))
	for i, b := range healthy {
		candidates[i] = b.snapshot()
	}

	idx, increment := Select(candidates, strategy, r.turn)
	if ParseStrategy(string(strategy)) == StrategyRotating {
		r.turn++
	}

	chosen := healthy[idx]
	if increment {
		chosen.requestCount++
	}
	metrics.IncBackendRouted(chosen.url)

	return chosen.snapshot(), nil
}

// Stats returns a snapshot of every backend in registration order.
func (r *Registry) Stats() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, len(r.backends))
	for i, b := range r.backends {
		out[i] = b.snapshot()
	}
	return out
}

// TotalRequests sums the routed-request counters of all backends.
func (r *Registry) TotalRequests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, b := range r.backends {
		total += b.requestCount
	}
	return total
}

func (r *Registry) Len() int {
	return len(r.backends)
}
