// Package httpaudit wraps outbound HTTP calls so each one emits an audit record.
package httpaudit

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/kurihiro0119/runghost/internal/audit"
	"github.com/kurihiro0119/runghost/internal/domain"
	"github.com/kurihiro0119/runghost/internal/metrics"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	metadataKey
	cacheHitKey
)

// WithIdentity tags calls made with ctx with an identity id
func WithIdentity(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, identityKey, identityID)
}

// WithMetadata attaches metadata to calls made with ctx; it is merged over
// the transport's static metadata.
func WithMetadata(ctx context.Context, metadata map[string]any) context.Context {
	return context.WithValue(ctx, metadataKey, metadata)
}

// WithCacheHit marks calls made with ctx as served from an upstream cache
func WithCacheHit(ctx context.Context, hit bool) context.Context {
	return context.WithValue(ctx, cacheHitKey, hit)
}

// Transport is an http.RoundTripper that records every round trip
type Transport struct {
	Base       http.RoundTripper
	Recorder   audit.Recorder
	Service    string
	IdentityID string
	Metadata   map[string]any
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	t.record(req, resp, err, time.Since(start))
	return resp, err
}

func (t *Transport) record(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	ctx := req.Context()

	entry := domain.AuditRecord{
		Timestamp:    time.Now(),
		Service:      t.Service,
		Method:       req.Method,
		URL:          req.URL.String(),
		ResponseTime: elapsed.Milliseconds(),
		IdentityID:   t.IdentityID,
		UserAgent:    req.Header.Get("User-Agent"),
		Metadata:     mergeMetadata(t.Metadata, ctx),
	}
	if id, ok := ctx.Value(identityKey).(string); ok && id != "" {
		entry.IdentityID = id
	}
	if hit, ok := ctx.Value(cacheHitKey).(bool); ok {
		entry.CacheHit = &hit
	}

	status := 0
	if err != nil {
		entry.Error = err.Error()
	} else if resp != nil {
		status = resp.StatusCode
		entry.ResponseStatus = &status
		if resp.ContentLength >= 0 {
			size := resp.ContentLength
			entry.ResponseSize = &size
		}
		if v, perr := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); perr == nil {
			entry.RateLimitRemaining = &v
		}
		if v, perr := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); perr == nil {
			entry.RateLimitReset = &v
		}
	}

	metrics.ObserveUpstream(t.Service, status, elapsed)
	if t.Recorder != nil {
		t.Recorder.Record(entry)
	}
}

func mergeMetadata(static map[string]any, ctx context.Context) map[string]any {
	extra, _ := ctx.Value(metadataKey).(map[string]any)
	if len(static) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(static)+len(extra))
	maps.Copy(out, static)
	maps.Copy(out, extra)
	return out
}

// Options describes a single audited call
type Options struct {
	Method     string
	Body       io.Reader
	Header     http.Header
	Service    string
	IdentityID string
	Metadata   map[string]any
}

// Client issues audited one-off calls
type Client struct {
	http     *http.Client
	recorder audit.Recorder
}

// NewClient wraps base (http.DefaultClient when nil) so calls are recorded to rec
func NewClient(rec audit.Recorder, base *http.Client) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &Client{http: base, recorder: rec}
}

// Call performs the request and returns the raw response. Transport errors
// are recorded and returned to the caller.
func (c *Client) Call(ctx context.Context, url string, opts Options) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, opts.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// per-call transport carries this call's service and identity
	client := *c.http
	client.Transport = &Transport{
		Base:       c.http.Transport,
		Recorder:   c.recorder,
		Service:    opts.Service,
		IdentityID: opts.IdentityID,
		Metadata:   opts.Metadata,
	}
	return client.Do(req)
}
