// Package upstream is the gateway's HTTP client for the fleet backend. It
// builds URLs from one configured base, attaches bearer tokens, and returns
// fully read responses; interpreting them is the caller's business.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is used when NEXT_PUBLIC_API_BASE_URL is unset.
const DefaultBaseURL = "http://pgf-api:8000"

const (
	defaultTimeout = 30 * time.Second
	// maxResponseSize bounds how much of an upstream body is buffered.
	maxResponseSize = 32 << 20
	tracerName      = "github.com/pgf-fleet/pgfgate/upstream"
)

var (
	// ErrUnreachable wraps every transport-level failure talking to upstream.
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrResponseTooLarge means the upstream body exceeded the buffer limit.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// Paths are the backend routes the gateway knows by name. All carry the
// trailing slash the backend's router requires.
type Paths struct {
	APIPrefix            string
	Login                string
	Refresh              string
	Me                   string
	PasswordResetConfirm string
}

// DefaultPaths returns the routes of the fleet backend's v1 API.
func DefaultPaths() Paths {
	return Paths{
		APIPrefix:            "/api/v1/",
		Login:                "/api/v1/auth/login/",
		Refresh:              "/api/v1/auth/refresh/",
		Me:                   "/api/v1/auth/me/",
		PasswordResetConfirm: "/api/v1/auth/password-reset/confirm/",
	}
}

// Observer receives one call per upstream round trip. status is 0 when the
// request never produced a response.
type Observer interface {
	ObserveUpstream(op string, status int, elapsed time.Duration)
}

// Request describes one upstream call.
type Request struct {
	// Op names the call for metrics and traces ("login", "proxy", ...).
	Op     string
	Method string
	Path   string
	Query  string
	Body   []byte
	// Bearer, when set, becomes "Authorization: Bearer <Bearer>".
	Bearer string
	// Header holds extra headers the caller has already allow-listed.
	Header  http.Header
	Cookies []*http.Cookie
}

// Response is a fully buffered upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client talks to the upstream backend.
type Client struct {
	base     *url.URL
	http     *http.Client
	paths    Paths
	observer Observer
	tracer   trace.Tracer
	maxBody  int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout, no redirects).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds each upstream round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMaxResponseSize bounds how much of an upstream body is buffered.
// Default: 32 MiB.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithPaths overrides the backend route table.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		c.paths = p
	}
}

// WithObserver installs a per-call metrics hook.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New returns a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing upstream base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{
			Timeout: defaultTimeout,
			// Redirects are relayed to the browser, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		paths:   DefaultPaths(),
		tracer:  otel.Tracer(tracerName),
		maxBody: maxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Paths returns the route table in use.
func (c *Client) Paths() Paths { return c.paths }

// BaseURL returns the configured upstream host.
func (c *Client) BaseURL() string { return c.base.String() }

// URL resolves path and query against the base URL. path is in escaped
// form and is sent as is, so "%2F" and "%25" stay encoded on the wire.
func (c *Client) URL(path, query string) string {
	u := *c.base
	raw := strings.TrimRight(c.base.EscapedPath(), "/") + path
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = p, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	u.RawQuery = query
	return u.String()
}

// APIPath maps proxied segments to a backend path: segments are cleaned,
// joined with "/" and always end in "/".
func (c *Client) APIPath(segments ...string) string {
	return c.paths.APIPrefix + JoinSegments(segments...)
}

// JoinSegments joins escaped path segments, dropping empty, "." and ".."
// parts (encoded dots included), and appends the trailing slash. No
// segments yields "".
func JoinSegments(segments ...string) string {
	var parts []string
	for _, s := range segments {
		for _, p := range strings.Split(s, "/") {
			name := p
			if u, err := url.PathUnescape(p); err == nil {
				name = u
			}
			if name == "" || name == "." || name == ".." {
				continue
			}
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

// Do performs req and buffers the response. Transport failures are wrapped
// in ErrUnreachable and oversized bodies in ErrResponseTooLarge; any HTTP
// status, including 5xx, is a Response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "upstream."+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	start := time.Now()
	resp, err := c.do(ctx, req)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	if c.observer != nil {
		c.observer.ObserveUpstream(req.Op, status, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.URL(req.Path, req.Query), body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}
	for _, ck := range req.Cookies {
		httpReq.AddCookie(ck)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrUnreachable, req.Method, req.Path, err)
	}
	if int64(len(data)) > c.maxBody {
		return &Response{Status: resp.StatusCode, Header: resp.Header},
			fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, req.Method, req.Path, c.maxBody)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
