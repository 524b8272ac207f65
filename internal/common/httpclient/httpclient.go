// Package httpclient provides the authenticated HTTP client used to talk to the
// admin API. Every request carries the current access token as a bearer token.
// When the server answers 401 the client refreshes the token pair once, shared by
// every request that failed at the same time, and retries the original request a
// single time. Terminal failures surface as *HTTPError.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds every request attempt unless Config.Timeout is set.
	DefaultTimeout = 15 * time.Second
	// DefaultRefreshPath is the refresh endpoint relative to the base URL.
	DefaultRefreshPath = "/auth/refresh"
	// RequestIDHeader carries a unique id per request attempt.
	RequestIDHeader = "X-Request-ID"
)

// TokenStore is the session state the client reads and rotates.
// *session.Store satisfies it.
type TokenStore interface {
	Get() string
	GetRefresh() string
	Set(token string)
	SetRefresh(token string)
	Clear()
}

// Config configures a Client.
type Config struct {
	BaseURL         string            `validate:"required,url"` // prefix for relative request paths
	Token           func() string     // current access token, read at call time; defaults to Session.Get
	Session         TokenStore        // source of the refresh token and target of rotated tokens
	Headers         map[string]string // defaults, overridden by per-call headers
	Timeout         time.Duration     `validate:"gte=0"` // per-attempt deadline, DefaultTimeout when zero
	OnRefreshFailed func()            // called once for every refresh that fails
	HTTPClient      *http.Client      // underlying client, http.Client{} when nil
	RefreshPath     string            // DefaultRefreshPath when empty
}

// RequestOptions holds the per-call settings of a request.
type RequestOptions struct {
	// Params are appended to the query string. Values may be scalars or slices;
	// nil values are left out entirely.
	Params map[string]any
	// Headers override the client defaults. Authorization is always replaced by
	// the token-derived header when a token is present.
	Headers map[string]string
	// SkipRefresh treats the request as already retried: a 401 is returned as
	// an *HTTPError without attempting a refresh.
	SkipRefresh bool
}

// Client performs authenticated requests. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	refreshes  singleflight.Group
	logger     zerolog.Logger
}

var validate = validator.New()

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.Token == nil {
		if cfg.Session != nil {
			cfg.Token = cfg.Session.Get
		} else {
			cfg.Token = func() string { return "" }
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log.With().Str("component", "httpclient").Logger(),
	}, nil
}

// Request performs one logical request. body may be nil, a string or []byte sent
// verbatim, or any value encoded as JSON. Non-2xx outcomes are returned as
// *HTTPError; timeouts wrap ErrRequestTimeout and connectivity failures wrap
// ErrTransport.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	d := &descriptor{
		method:  method,
		path:    path,
		body:    payload,
		params:  opts.Params,
		headers: opts.Headers,
		retried: opts.SkipRefresh,
	}
	return c.do(ctx, d)
}

func (c *Client) do(ctx context.Context, d *descriptor) (*Response, error) {
	for {
		resp, err := c.send(ctx, d)
		if err != nil {
			return nil, err
		}
		if resp.OK() {
			return resp, nil
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return nil, newHTTPError(resp)
		}
		if d.retried {
			if d.refreshed {
				c.rejectedAfterRefresh()
			}
			return nil, newHTTPError(resp)
		}
		refreshed, err := c.refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for token refresh: %w", ErrTransport, err)
		}
		if !refreshed {
			return nil, newHTTPError(resp)
		}
		d.retried = true
		d.refreshed = true
	}
}

// rejectedAfterRefresh ends a session whose freshly refreshed token was still
// refused. OnRefreshFailed is not called.
func (c *Client) rejectedAfterRefresh() {
	c.logger.Warn().Msg("refreshed access token rejected, clearing session")
	if c.cfg.Session != nil {
		c.cfg.Session.Clear()
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, body, opts)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, opts)
}
