package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       any    // parsed JSON, or string for non-JSON content types
	Raw        []byte // body as received
	JSON       bool   // the response declared a JSON content type
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body as text.
func (r *Response) Text() string {
	return string(r.Raw)
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// readResponse reads resp. A JSON body that fails to parse becomes an empty object.
func readResponse(resp *http.Response) (*Response, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        raw,
	}
	if isJSONContentType(resp.Header.Get("Content-Type")) {
		out.JSON = true
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			v = map[string]any{}
		}
		out.Body = v
	} else {
		out.Body = string(raw)
	}
	return out, nil
}

// Decode converts the outcome of a request into T. Text responses can only be
// decoded into a string. A malformed JSON body decodes as an empty object.
//
//	widgets, err := httpclient.Decode[[]Widget](c.Get(ctx, "/widgets", nil))
func Decode[T any](resp *Response, err error) (T, error) {
	var out T
	if err != nil || resp == nil {
		return out, err
	}
	if !resp.JSON {
		if p, ok := any(&out).(*string); ok {
			*p = resp.Text()
			return out, nil
		}
		return out, fmt.Errorf("%w: content type %q", ErrNotJSON, resp.Header.Get("Content-Type"))
	}
	src := resp.Raw
	if !json.Valid(src) {
		src = []byte("{}")
	}
	if err := json.Unmarshal(src, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
