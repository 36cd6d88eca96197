// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBackendHealthy(t *testing.T) {
	SetBackendHealthy("http://b1", true)
	if got := testutil.ToFloat64(backendHealthyGauge.WithLabelValues("http://b1")); got != 1 {
		t.Fatalf("expected healthy gauge 1 got %v", got)
	}

	SetBackendHealthy("http://b1", false)
	if got := testutil.ToFloat64(backendHealthyGauge.WithLabelValues("http://b1")); got != 0 {
		t.Fatalf("expected healthy gauge 0 got %v", got)
	}
}

func TestAddUsageCostIgnoresZero(t *testing.T) {
	AddUsageCost("/v1/models", 0)
	AddUsageCost("/v1/completions", 7)

	if got := testutil.ToFloat64(usageCostCounter.WithLabelValues("/v1/completions")); got != 7 {
		t.Fatalf("expected usage cost 7 got %v", got)
	}
	if got := testutil.CollectAndCount(usageCostCounter); got != 1 {
		t.Fatalf("expected one usage cost series got %d", got)
	}
}

func TestIncProxyRequest(t *testing.T) {
	IncProxyRequest("/v1/models", OutcomeOK)
	IncProxyRequest("/v1/models", OutcomeOK)

	if got := testutil.ToFloat64(proxyRequestsCounter.WithLabelValues("/v1/models", OutcomeOK)); got != 2 {
		t.Fatalf("expected 2 proxied requests got %v", got)
	}
}
