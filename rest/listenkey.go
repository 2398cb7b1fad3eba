package rest

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const userDataStreamPath = "/api/v3/userDataStream"

// listenKeyResponse is returned by the userDataStream endpoints.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey starts a new user data stream. The key expires 60
// minutes after the last keep-alive unless refreshed.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := c.call(ctx, "POST", userDataStreamPath, url.Values{}, true, &resp); err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("create listen key: empty key in response")
	}

	c.logger.Debug("created listen key")
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the key's validity to 60 minutes from the
// time of this call.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	query := url.Values{}
	query.Set("listenKey", listenKey)

	if err := c.call(ctx, "PUT", userDataStreamPath, query, true, nil); err != nil {
		return fmt.Errorf("keep alive listen key: %w", err)
	}
	return nil
}

// CloseListenKey terminates the user data stream.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	query := url.Values{}
	query.Set("listenKey", listenKey)

	if err := c.call(ctx, "DELETE", userDataStreamPath, query, true, nil); err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	return nil
}

// serverTimeResponse is returned by the time endpoint.
type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// ServerTime returns the exchange clock. Unauthenticated; useful for
// detecting local clock drift before signing requests.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp serverTimeResponse
	if err := c.call(ctx, "GET", "/api/v3/time", nil, false, &resp); err != nil {
		return time.Time{}, fmt.Errorf("server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}
