package httpclient

import (
	"context"
)

// Requester is the request surface the rest of the application depends on.
type Requester interface {
	// Request performs one logical request with refresh-on-401 and a single retry.
	Request(ctx context.Context, method, path string, body any, opts *RequestOptions) (*Response, error)
	Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error)
	Post(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error)
	Put(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error)
	Patch(ctx context.Context, path string, body any, opts *RequestOptions) (*Response, error)
	Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error)
}

var _ Requester = (*Client)(nil)
