// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy outcomes used as the "outcome" label.
const (
	OutcomeOK              = "ok"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeQuotaExceeded   = "quota_exceeded"
	OutcomeNoBackend       = "no_healthy_backend"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeCanceled        = "canceled"
	OutcomeAuthError       = "auth_error"
)

var (
	initOnce sync.Once

	proxyRequestsCounter      *prometheus.CounterVec
	upstreamDurationMetric    *prometheus.HistogramVec
	backendRoutedCounter      *prometheus.CounterVec
	backendHealthyGauge       *prometheus.GaugeVec
	healthProbesCounter       *prometheus.CounterVec
	usageCostCounter          *prometheus.CounterVec
	usageRecordFailureCounter prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		proxyRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_requests_total",
				Help: "Total number of proxied requests by route and outcome.",
			},
			[]string{"route", "outcome"},
		)

		upstreamDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Duration of upstream calls in seconds, including body streaming.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend"},
		)

		backendRoutedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_routed_total",
				Help: "Total number of requests routed to each backend.",
			},
			[]string{"backend"},
		)

		backendHealthyGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_backend_healthy",
				Help: "Believed liveness of each backend (1 healthy, 0 unhealthy).",
			},
			[]string{"backend"},
		)

		healthProbesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_health_probes_total",
				Help: "Total number of backend liveness probes by result.",
			},
			[]string{"backend", "result"},
		)

		usageCostCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_usage_cost_total",
				Help: "Estimated cost recorded against credentials, by route.",
			},
			[]string{"route"},
		)

		usageRecordFailureCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_usage_record_failures_total",
				Help: "Total number of usage records that could not be persisted.",
			},
		)

		prometheus.MustRegister(
			proxyRequestsCounter,
			upstreamDurationMetric,
			backendRoutedCounter,
			backendHealthyGauge,
			healthProbesCounter,
			usageCostCounter,
			usageRecordFailureCounter,
		)
	})
}

func IncProxyRequest(route, outcome string) {
	Init()
	proxyRequestsCounter.WithLabelValues(route, outcome).Inc()
}

func ObserveUpstreamDuration(backend string, d time.Duration) {
	Init()
	upstreamDurationMetric.WithLabelValues(backend).Observe(d.Seconds())
}

func IncBackendRouted(backend string) {
	Init()
	backendRoutedCounter.WithLabelValues(backend).Inc()
}

func SetBackendHealthy(backend string, healthy bool) {
	Init()
	v := 0.0
	if healthy {
		v = 1
	}
	backendHealthyGauge.WithLabelValues(backend).Set(v)
}

func IncHealthProbe(backend string, healthy bool) {
	Init()
	result := "failure"
	if healthy {
		result = "success"
	}
	healthProbesCounter.WithLabelValues(backend, result).Inc()
}

func AddUsageCost(route string, cost int) {
	Init()
	if cost <= 0 {
		return
	}
	usageCostCounter.WithLabelValues(route).Add(float64(cost))
}

func IncUsageRecordFailures() {
	Init()
	usageRecordFailureCounter.Inc()
}
