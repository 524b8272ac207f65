package httpclient

import (
	"net/http"
	"net/http/httptest"
)

// handlerTransport serves requests in-process through an http.Handler, capturing
// the response with an httptest recorder instead of making network calls.
type handlerTransport struct {
	handler http.Handler
}

func (t *handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	rr := httptest.NewRecorder()
	t.handler.ServeHTTP(rr, req)
	resp := rr.Result()
	resp.Request = req
	return resp, nil
}

// NewTestClient creates a client whose requests are served directly by handler.
// cfg.HTTPClient is replaced.
func NewTestClient(handler http.Handler, cfg Config) (*Client, error) {
	cfg.HTTPClient = &http.Client{Transport: &handlerTransport{handler: handler}}
	return New(cfg)
}
