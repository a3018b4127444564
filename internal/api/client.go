package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	DefaultTimeout = 10 * time.Second

	PlatformHeader  = "X-Platform"
	RequestIDHeader = "X-Request-ID"

	maxBodySize = 8 << 20
)

// TokenResolver resolves the bearer token for a request.
type TokenResolver interface {
	Resolve(ctx context.Context) (*oauth2.Token, error)
}

// AuthMode says what to do when no token can be resolved.
type AuthMode int

const (
	// AuthRequired short-circuits with a local 401 envelope when no token exists.
	AuthRequired AuthMode = iota
	// AuthOptional sends the request anonymously when no token exists.
	AuthOptional
)

// Request describes one backend call. Route is the path template used for
// metrics and logs, Path the concrete path.
type Request struct {
	Method string
	Route  string
	Path   string
	Query  url.Values
	Body   any
	Auth   AuthMode
}

// Client is the authenticated fetch helper every backend call goes through.
// It applies one timeout to every call, never returns an error for HTTP
// status codes, and only fails with *TransportError.
type Client struct {
	baseURL    string
	platform   string
	timeout    time.Duration
	httpClient *http.Client
	tokens     TokenResolver
	telemetry  *telemetry.Telemetry
	production bool
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its own Timeout is ignored
// in favour of the client-wide timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Client) { c.telemetry = t }
}

// WithProduction keeps response payloads out of the logs.
func WithProduction(production bool) Option {
	return func(c *Client) { c.production = production }
}

func NewClient(baseURL, platform string, timeout time.Duration, tokens TokenResolver, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: platform,
		timeout:  timeout,
		tokens:   tokens,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Production reports whether diagnostics must be kept out of the logs.
func (c *Client) Production() bool {
	return c.production
}

// Do performs the request and returns the normalized envelope.
func (c *Client) Do(ctx context.Context, req Request) (*Envelope, error) {
	logger := logctx.LoggerFromContext(ctx).With("route", req.Route)
	op := req.Route
	start := time.Now()

	var token *oauth2.Token

	if c.tokens != nil {
		tok, err := c.tokens.Resolve(ctx)
		if err != nil && req.Auth == AuthRequired {
			logger.Debug("no auth token, skipping request", "err", err)

			return &Envelope{Status: http.StatusUnauthorized, Error: "authentication required", Local: true}, nil
		}

		token = tok
	} else if req.Auth == AuthRequired {
		return &Envelope{Status: http.StatusUnauthorized, Error: "authentication required", Local: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", op, err)
	}

	if token != nil {
		token.SetAuthHeader(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		te := classifyTransport(op, err)
		c.telemetry.RecordAPICall(ctx, op, "transport_"+string(te.Kind), time.Since(start))
		logger.Warn("backend unreachable", "kind", te.Kind, "err", err)

		return nil, te
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		te := classifyTransport(op, err)
		c.telemetry.RecordAPICall(ctx, op, "transport_"+string(te.Kind), time.Since(start))

		return nil, te
	}

	env := &Envelope{
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		Data:    body,
	}

	c.telemetry.RecordAPICall(ctx, op, statusClass(resp.StatusCode), time.Since(start))

	if !env.Success {
		env.Error = errorMessage(body)

		attrs := []any{"status", resp.StatusCode, "message", env.Error}
		if !c.production {
			attrs = append(attrs, "body", truncate(string(body), 2048))
		}

		logger.Debug("backend returned an error", attrs...)
	}

	return env, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader

	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(PlatformHeader, c.platform)

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	requestID := logctx.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	httpReq.Header.Set(RequestIDHeader, requestID)

	return httpReq, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
