// Package maxapi is a thin client for the MAX Bot API.
//
// Client.Call is the raw primitive: it authenticates, encodes parameters for
// the HTTP method, and returns the response body untouched. The typed helpers
// in endpoints.go decode that body at the boundary into a Result[T], which
// carries either the decoded value or the provider's *APIError.
//
// Failures are split three ways:
//   - ErrNotConfigured: no token, nothing was sent
//   - ErrTransport (wrapped): the request never produced an HTTP response
//   - *APIError: the provider answered and rejected the call
package maxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/max-bridge/internal/config"
)

// DefaultBase is the public MAX Bot API endpoint.
const DefaultBase = "https://platform-api.max.ru/"

var (
	// ErrNotConfigured is returned without any network activity when the
	// client has no access token.
	ErrNotConfigured = errors.New("maxapi: bot token not configured")

	// ErrTransport wraps connection, TLS, timeout, and body read failures.
	ErrTransport = errors.New("maxapi: transport failure")

	// ErrDecode is returned when a successful response body cannot be parsed
	// into the expected shape.
	ErrDecode = errors.New("maxapi: malformed response")
)

// Response is the raw outcome of a Call that reached the provider.
type Response struct {
	Status int
	Body   []byte
}

// Client talks to the MAX Bot API. The zero value is not usable; use New.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBase overrides the API base URL.
func WithBase(base string) Option {
	return func(c *Client) { c.base = normalizeBase(base) }
}

// New builds a client from the bot configuration. Outbound requests are
// traced with otelhttp and bounded by cfg.Timeout (30s when unset).
func New(cfg config.BotConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.APIBase
	if base == "" {
		base = DefaultBase
	}
	c := &Client{
		base:  normalizeBase(base),
		token: cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether the client has a token.
func (c *Client) Configured() bool { return c != nil && c.token != "" }

// Call performs one API request.
//
// command is the path relative to the API base and may carry its own query
// string ("messages?user_id=1"). For GET, params must be url.Values (or nil)
// and are merged into the query. POST and PUT send params as JSON. DELETE
// sends no body.
func (c *Client) Call(ctx context.Context, method, command string, params any) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	target := c.base + strings.TrimLeft(command, "/")
	var body io.Reader

	switch method {
	case http.MethodGet:
		if q, ok := params.(url.Values); ok && len(q) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + q.Encode()
		}
	case http.MethodPost, http.MethodPut:
		if params != nil {
			buf, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("maxapi: encode %s %s: %w", method, command, err)
			}
			body = bytes.NewReader(buf)
		}
	case http.MethodDelete:
	default:
		return nil, fmt.Errorf("maxapi: unsupported method %q", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, command, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", ErrTransport, method, command, err)
	}
	return &Response{Status: res.StatusCode, Body: raw}, nil
}

func normalizeBase(b string) string {
	b = strings.TrimSpace(b)
	if !strings.HasSuffix(b, "/") {
		b += "/"
	}
	return b
}
