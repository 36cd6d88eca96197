// SPDX-License-Identifier: Apache-2.0

// Package forwarder passes one inbound request through to a chosen backend
// and streams the backend's reply back unmodified.
package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/domain"
)

// ErrClientGone reports that the caller disconnected before the upstream
// exchange finished. Usage must not be recorded for such requests.
var ErrClientGone = errors.New("client disconnected")

const copyBufferSize = 32 << 10

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Result describes a finished (or failed) upstream exchange.
type Result struct {
	StatusCode    int
	RequestBytes  int64
	ResponseBytes int64
	Duration      time.Duration
}

type Forwarder struct {
	client      *http.Client
	upstreamKey string
	stripHeader []string
	logger      *slog.Logger
}

type Option func(*Forwarder)

// WithTransport replaces the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		if rt != nil {
			f.client.Transport = rt
		}
	}
}

// WithUpstreamKey sets the bearer credential shared by all backends. When set
// it replaces whatever Authorization the caller sent. Without it, an
// Authorization header is still dropped when it carried the gateway secret.
func WithUpstreamKey(key string) Option {
	return func(f *Forwarder) {
		f.upstreamKey = strings.TrimSpace(key)
	}
}

// WithStrippedHeaders drops caller headers that must not reach backends,
// such as the gateway's own credential headers.
func WithStrippedHeaders(names ...string) Option {
	return func(f *Forwarder) {
		f.stripHeader = append(f.stripHeader, names...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func New(opts ...Option) *Forwarder {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	transport.IdleConnTimeout = 90 * time.Second

	f := &Forwarder{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends r to baseURL + r's path and query, bounded by timeout, and
// streams the reply into w. Failures before the reply starts are answered
// with 502 and returned wrapped in domain.ErrUpstream. There is no retry and
// no failover.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, baseURL string, timeout time.Duration) (Result, error) {
	start := time.Now()
	var res Result

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body := &countingReader{}
	var outBody io.Reader = http.NoBody
	if r.Body != nil && r.Body != http.NoBody {
		body.r = r.Body
		outBody = body
	}

	target := strings.TrimRight(baseURL, "/") + r.URL.RequestURI()
	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, outBody)
	if err != nil {
		f.writeBadGateway(w, "invalid upstream request")
		return res, fmt.Errorf("%w: build request: %v", domain.ErrUpstream, err)
	}
	outReq.ContentLength = r.ContentLength
	if outBody == http.NoBody {
		outReq.ContentLength = 0
	}
	outReq.Header = f.outboundHeader(r.Header)

	resp, err := f.client.Do(outReq)
	res.RequestBytes = body.n
	if err != nil {
		res.Duration = time.Since(start)
		if r.Context().Err() != nil {
			return res, ErrClientGone
		}
		f.writeBadGateway(w, upstreamMessage(err))
		return res, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(dst)
	res.StatusCode = resp.StatusCode
	w.WriteHeader(resp.StatusCode)

	n, err := copyStreaming(w, resp.Body)
	res.ResponseBytes = n
	res.RequestBytes = body.n
	res.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, errClientWrite) || r.Context().Err() != nil {
			return res, ErrClientGone
		}
		f.logger.Warn("upstream body interrupted",
			"target", target,
			"bytes", n,
			"error", err,
		)
		return res, fmt.Errorf("%w: read body: %v", domain.ErrUpstream, err)
	}

	return res, nil
}

func (f *Forwarder) outboundHeader(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Del("Host")
	removeHopHeaders(out)
	if auth.SecretInAuthorization(in) {
		out.Del(auth.HeaderAuthorization)
	}
	for _, name := range f.stripHeader {
		out.Del(name)
	}
	if f.upstreamKey != "" {
		out.Set(auth.HeaderAuthorization, "Bearer "+f.upstreamKey)
	}
	return out
}

// removeHopHeaders deletes hop-by-hop headers, including any listed in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

var errClientWrite = errors.New("write to client")

// copyStreaming copies src to w, flushing after every chunk so streamed
// completions reach the caller as they are produced. Failures on the
// caller's side are wrapped in errClientWrite.
func copyStreaming(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, fmt.Errorf("%w: %v", errClientWrite, werr)
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return written, fmt.Errorf("%w: %v", errClientWrite, ferr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func upstreamMessage(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream request timed out"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "upstream request timed out"
	default:
		return "failed to reach inference backend"
	}
}

func (f *Forwarder) writeBadGateway(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "bad gateway",
		"message": message,
	})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
