// Package exchange implements the signed USDⓈ-M futures REST client.
//
// The client talks to /fapi endpoints for order management and market data:
//   - Get:                public (unsigned) market-data reads
//   - SignedGet/Post/Put/Delete: HMAC-signed account and order calls
//   - SyncClock:          GET /fapi/v1/time for the server clock offset
//
// Every request is rate-limited through a shared WindowLimiter plus
// per-category TokenBuckets. Signed requests carry timestamp, recvWindow
// and an HMAC-SHA256 signature over the encoded parameters; a -1021
// response (local clock outside recvWindow) triggers one resync-and-resign
// retry. Transport failures are mapped to synthetic APIError codes so
// callers handle one error shape.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"futures-agent/internal/config"
	"futures-agent/pkg/types"
)

const (
	clockMaxAge = 5 * time.Minute
	timeTimeout = 5 * time.Second
)

// Client is the futures REST API client.
// It wraps a resty HTTP client with rate limiting, signing, and clock sync.
type Client struct {
	http       *resty.Client
	signer     *Signer
	rl         *RateLimiter
	retry      RetryConfig
	recvWindow int
	logger     *slog.Logger

	clockMu  sync.Mutex
	offsetMs int64     // serverTime - localTime
	syncedAt time.Time // when offsetMs was last refreshed
}

// NewClient creates a REST client for the configured environment.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBase()).
		SetTimeout(timeout).
		SetHeader("X-MBX-APIKEY", cfg.APIKey)

	return &Client{
		http:       httpClient,
		signer:     NewSigner(cfg.APISecret),
		rl:         NewRateLimiter(),
		retry:      DefaultRetryConfig(),
		recvWindow: cfg.RecvWindow,
		logger:     logger.With("component", "exchange"),
	}
}

// Limiter exposes the shared rate limiter so other REST consumers draw
// from the same window.
func (c *Client) Limiter() *RateLimiter { return c.rl }

// SyncClock fetches server time and records the local clock offset.
func (c *Client) SyncClock(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeTimeout)
	defer cancel()

	var st types.ServerTime
	resp, err := c.http.R().
		SetContext(reqCtx).
		SetResult(&st).
		Get("/fapi/v1/time")
	if err != nil {
		return fmt.Errorf("sync clock: %w", mapTransportErr(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("sync clock: status %d: %s", resp.StatusCode(), resp.String())
	}

	offset := st.ServerTime - time.Now().UnixMilli()
	c.clockMu.Lock()
	c.offsetMs = offset
	c.syncedAt = time.Now()
	c.clockMu.Unlock()

	c.logger.Debug("clock synced", "offset_ms", offset)
	return nil
}

// offset returns the current clock offset, resyncing when stale. A failed
// resync falls back to the last known offset.
func (c *Client) offset(ctx context.Context) int64 {
	c.clockMu.Lock()
	stale := time.Since(c.syncedAt) > clockMaxAge
	off := c.offsetMs
	c.clockMu.Unlock()

	if stale {
		if err := c.SyncClock(ctx); err != nil {
			c.logger.Warn("clock resync failed, using stale offset", "error", err)
			return off
		}
		c.clockMu.Lock()
		off = c.offsetMs
		c.clockMu.Unlock()
	}
	return off
}

// Get performs an unsigned market-data read and decodes the JSON body
// into result when result is non-nil. The raw body is returned either way.
func (c *Client) Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error) {
	if err := c.rl.WaitMarket(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err := WithRetry(ctx, c.retry, func() error {
		req := c.http.R().SetContext(ctx)
		if params != nil {
			req.SetQueryParamsFromValues(params)
		}
		resp, err := req.Get(path)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, mapTransportErr(err))
		}
		if apiErr := parseAPIError(resp); apiErr != nil {
			return fmt.Errorf("get %s: %w", path, apiErr)
		}
		raw = json.RawMessage(resp.Body())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return raw, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return raw, nil
}

// SignedGet performs a signed GET. Parameters travel in the query string.
func (c *Client) SignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.signed(ctx, http.MethodGet, path, params)
}

// SignedPost performs a signed POST. Parameters travel as a form body.
func (c *Client) SignedPost(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.signed(ctx, http.MethodPost, path, params)
}

// SignedPut performs a signed PUT. Parameters travel as a form body.
func (c *Client) SignedPut(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.signed(ctx, http.MethodPut, path, params)
}

// SignedDelete performs a signed DELETE. Parameters travel in the query string.
func (c *Client) SignedDelete(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.signed(ctx, http.MethodDelete, path, params)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	if err := c.rl.WaitOrder(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err := WithRetry(ctx, c.retry, func() error {
		body, err := c.signedOnce(ctx, method, path, params)
		if err == nil {
			raw = body
			return nil
		}
		// Clock drifted past recvWindow: resync and re-sign once.
		if ErrorCode(err) == CodeTimestampOutOfWindow {
			c.logger.Warn("timestamp outside recvWindow, resyncing clock", "path", path)
			if syncErr := c.SyncClock(ctx); syncErr != nil {
				return err
			}
			body, retryErr := c.signedOnce(ctx, method, path, params)
			if retryErr != nil {
				return retryErr
			}
			raw = body
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// signedOnce stamps, signs and sends one request. params is copied so a
// retry re-stamps from the caller's original set.
func (c *Client) signedOnce(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	stamped := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			stamped.Add(k, v)
		}
	}
	Stamp(stamped, time.Now().UnixMilli(), c.offset(ctx), c.recvWindow)
	payload := c.signer.SignValues(stamped)

	req := c.http.R().SetContext(ctx)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req.SetQueryString(payload)
	default:
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, mapTransportErr(err))
	}
	if apiErr := parseAPIError(resp); apiErr != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	return json.RawMessage(resp.Body()), nil
}

// parseAPIError extracts the {"code","msg"} error body from a non-2xx
// response. Returns nil on success.
func parseAPIError(resp *resty.Response) *APIError {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return nil
	}
	apiErr := &APIError{Code: CodeUnknown, Message: resp.String(), HTTPStatus: resp.StatusCode()}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Code != 0 {
		apiErr.Code = body.Code
		apiErr.Message = body.Msg
	}
	return apiErr
}

// mapTransportErr converts network failures to synthetic APIError codes:
// timeouts to -1001, other connection problems to -1002.
func mapTransportErr(err error) error {
	code := CodeTransportError
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeTransportTimeout
	}
	return &APIError{Code: code, Message: err.Error()}
}
