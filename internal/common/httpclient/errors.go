package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrRequestTimeout is wrapped by errors of attempts that exceeded Config.Timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrTransport is wrapped by connectivity failures; no HTTP status is available.
	ErrTransport = errors.New("request failed")
	// ErrRefreshFailed is the outcome of a refresh that could not renew the session.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRefreshToken means a refresh was needed but the session holds no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrNotJSON is returned by Decode for non-JSON responses.
	ErrNotJSON = errors.New("response is not json")
)

// HTTPError is the terminal outcome of a request that received a non-2xx status.
type HTTPError struct {
	StatusCode int    // HTTP status code
	Body       any    // parsed JSON, or the raw text for non-JSON responses
	Raw        []byte // response body as received
}

func newHTTPError(resp *Response) *HTTPError {
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Raw:        resp.Raw,
	}
}

// Error implements the error interface for HTTPError.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message())
}

// Message returns the server's error message if the body carries one, the text
// body for non-JSON responses, or the status text.
func (e *HTTPError) Message() string {
	if s, ok := e.Body.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	} else if gjson.ValidBytes(e.Raw) {
		for _, path := range []string{"error.message", "error", "message"} {
			if r := gjson.GetBytes(e.Raw, path); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	return http.StatusText(e.StatusCode)
}

// IsStatus reports whether err is an *HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}
