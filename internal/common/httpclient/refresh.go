package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

const refreshFlight = "refresh"

// refreshRequest is the body sent to the refresh endpoint.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh joins the refresh in flight or starts one. Every caller that arrives
// while a refresh is running observes that refresh's outcome. The refresh runs
// detached from ctx, so a caller giving up never aborts it for the others; err
// is only set when ctx ends first.
func (c *Client) refresh(ctx context.Context) (bool, error) {
	ch := c.refreshes.DoChan(refreshFlight, func() (any, error) {
		return nil, c.refreshTokens(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err == nil, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// refreshTokens exchanges the refresh token for a new token pair. On failure the
// session is cleared and OnRefreshFailed is called, once for this refresh no
// matter how many requests are waiting on it.
func (c *Client) refreshTokens(ctx context.Context) error {
	if c.cfg.Session == nil {
		return c.refreshFailed(ErrNoRefreshToken)
	}
	refreshToken := c.cfg.Session.GetRefresh()
	if refreshToken == "" {
		return c.refreshFailed(ErrNoRefreshToken)
	}

	c.logger.Info().Str("path", c.cfg.RefreshPath).Msg("access token rejected, refreshing")
	body, err := encodeBody(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return c.refreshFailed(err)
	}
	resp, err := c.send(ctx, &descriptor{
		method:    http.MethodPost,
		path:      c.cfg.RefreshPath,
		body:      body,
		retried:   true,
		anonymous: true,
		noTimeout: true,
	})
	if err != nil {
		return c.refreshFailed(err)
	}
	if !resp.OK() {
		return c.refreshFailed(newHTTPError(resp))
	}

	c.cfg.Session.SetRefresh(gjson.GetBytes(resp.Raw, "refresh_token").String())
	c.cfg.Session.Set(gjson.GetBytes(resp.Raw, "access_token").String())
	c.logger.Info().Msg("token refreshed")
	return nil
}

func (c *Client) refreshFailed(cause error) error {
	c.logger.Warn().Err(cause).Msg("token refresh failed, clearing session")
	if c.cfg.Session != nil {
		c.cfg.Session.Clear()
	}
	if c.cfg.OnRefreshFailed != nil {
		c.cfg.OnRefreshFailed()
	}
	return fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
}
