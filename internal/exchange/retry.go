package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls adaptive backoff for rate-limit responses.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64 // fraction of the delay randomized, e.g. 0.3
}

// DefaultRetryConfig matches the exchange's published rate-limit guidance.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.3,
	}
}

// Delay returns the backoff before retry number attempt (0-based):
// min(MaxDelay, BaseDelay*2^attempt) with symmetric jitter applied.
func (rc RetryConfig) Delay(attempt int) time.Duration {
	d := float64(rc.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(rc.MaxDelay) {
		d = float64(rc.MaxDelay)
	}
	if rc.Jitter > 0 {
		d += d * rc.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// retryable reports whether err is a rate-limit failure worth backing off on.
func retryable(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case CodeTooManyRequests, CodeTooManyOrders:
		return true
	}
	return apiErr.HTTPStatus == 429
}

// WithRetry runs fn, backing off and retrying when the exchange reports
// rate limiting. Other failures return immediately. When retries are
// exhausted the last error is returned wrapped.
func WithRetry(ctx context.Context, rc RetryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= rc.MaxRetries {
			return fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rc.Delay(attempt)):
		}
	}
}
