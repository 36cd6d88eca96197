// SPDX-License-Identifier: Apache-2.0

package balancer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultProbePath    = "/health"
	DefaultProbeTimeout = 5 * time.Second
)

// Prober checks whether one backend is alive.
type Prober interface {
	Probe(ctx context.Context, baseURL string) error
}

// HTTPProber issues GET <base><path> and treats any 2xx as alive.
type HTTPProber struct {
	client      *http.Client
	path        string
	timeout     time.Duration
	bearerToken string
}

func NewHTTPProber(path string, timeout time.Duration, bearerToken string) *HTTPProber {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultProbePath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &HTTPProber{
		client:      &http.Client{Timeout: timeout},
		path:        path,
		timeout:     timeout,
		bearerToken: bearerToken,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+p.path, http.NoBody)
	if err != nil {
		return err
	}
	if p.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.bearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
