package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/supplyops/opsconsole/internal/common/uuid"
)

// descriptor is one logical request. The retry after a refresh reuses it.
type descriptor struct {
	method    string
	path      string
	body      []byte // nil means no body
	params    map[string]any
	headers   map[string]string
	retried   bool // a 401 is terminal
	refreshed bool // retried after a successful refresh
	anonymous bool // never attach the access token
	noTimeout bool // rely on the underlying client's deadline only
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}

func isAbsoluteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// buildURL joins base and path and appends the encoded params.
func buildURL(base, path string, params map[string]any) string {
	u := path
	if !isAbsoluteURL(path) {
		u = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if q := encodeQuery(params); q != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q
	}
	return u
}

// encodeQuery encodes params sorted by key. Sequence values become repeated
// keys in order; nil values, whether scalar or inside a sequence, are omitted.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range queryValues(params[k]) {
			parts = append(parts, queryEscape(k)+"="+queryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func queryValues(v any) []string {
	if v == nil {
		return nil
	}
	if _, ok := v.([]byte); !ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]string, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				if s, ok := scalarString(rv.Index(i).Interface()); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	if s, ok := scalarString(v); ok {
		return []string{s}
	}
	return nil
}

func scalarString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch x := rv.Interface().(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	case fmt.Stringer:
		return x.String(), true
	}
	return fmt.Sprint(rv.Interface()), true
}

// buildHeaders merges headers in increasing precedence: JSON content type,
// client defaults, per-call overrides, then the bearer token.
func (c *Client) buildHeaders(overrides map[string]string, token string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		h.Set(k, v)
	}
	for k, v := range overrides {
		h.Set(k, v)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if h.Get(RequestIDHeader) == "" {
		h.Set(RequestIDHeader, uuid.New().String())
	}
	return h
}

// send issues a single attempt of d and reads the whole response.
func (c *Client) send(ctx context.Context, d *descriptor) (*Response, error) {
	target := buildURL(c.cfg.BaseURL, d.path, d.params)

	attemptCtx := ctx
	if !d.noTimeout {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if d.body != nil {
		body = bytes.NewReader(d.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, d.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token := ""
	if !d.anonymous {
		token = c.cfg.Token()
	}
	req.Header = c.buildHeaders(d.headers, token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, d, err)
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return nil, c.classify(ctx, d, err)
	}
	c.logger.Debug().
		Str("method", d.method).
		Str("url", target).
		Int("status", out.StatusCode).
		Bool("retried", d.retried).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")
	return out, nil
}

// classify separates the per-attempt timeout from other transport failures.
func (c *Client) classify(ctx context.Context, d *descriptor, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !d.noTimeout {
		c.logger.Debug().Str("method", d.method).Str("path", d.path).Dur("timeout", c.cfg.Timeout).Msg("request timed out")
		return fmt.Errorf("%w after %s: %w", ErrRequestTimeout, c.cfg.Timeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
