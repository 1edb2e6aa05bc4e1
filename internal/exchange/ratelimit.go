// ratelimit.go implements rate limiting for the futures REST API.
//
// The exchange budgets requests by weight against a 1200-per-minute IP
// limit. Two layers are combined here:
//
//   - Per-category token buckets with continuous refill, smoothing order
//     and market-data traffic so neither can starve the other.
//   - A process-wide sliding-window limiter tracking total requests over
//     the last 60 seconds, which is the hard ceiling.
//
// Every request must pass both before going on the wire.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// WindowLimiter tracks request timestamps over a sliding window and blocks
// when the window is full. One instance is shared by every REST caller in
// the process.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time
}

// NewWindowLimiter creates a limiter allowing limit requests per window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window}
}

// Used returns how many requests fall inside the current window.
func (wl *WindowLimiter) Used() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	wl.prune(time.Now())
	return len(wl.times)
}

// Wait blocks until the window has room, then records the request.
func (wl *WindowLimiter) Wait(ctx context.Context) error {
	for {
		wl.mu.Lock()
		now := time.Now()
		wl.prune(now)
		if len(wl.times) < wl.limit {
			wl.times = append(wl.times, now)
			wl.mu.Unlock()
			return nil
		}
		// Room opens when the oldest entry leaves the window.
		wait := wl.times[0].Add(wl.window).Sub(now)
		wl.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (wl *WindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-wl.window)
	i := 0
	for i < len(wl.times) && wl.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		wl.times = wl.times[i:]
	}
}

// RateLimiter groups the per-category buckets and the shared window.
type RateLimiter struct {
	Order  *TokenBucket  // signed order lifecycle calls
	Market *TokenBucket  // public market-data reads
	Window *WindowLimiter // process-wide 1200/60s ceiling
}

// NewRateLimiter creates limiters tuned to the exchange's published limits.
// Bucket capacities leave headroom under the 1200/min IP weight budget.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(100, 5),
		Market: NewTokenBucket(200, 15),
		Window: NewWindowLimiter(1200, 60*time.Second),
	}
}

// WaitOrder blocks for an order-category slot.
func (rl *RateLimiter) WaitOrder(ctx context.Context) error {
	if err := rl.Order.Wait(ctx); err != nil {
		return err
	}
	return rl.Window.Wait(ctx)
}

// WaitMarket blocks for a market-data slot.
func (rl *RateLimiter) WaitMarket(ctx context.Context) error {
	if err := rl.Market.Wait(ctx); err != nil {
		return err
	}
	return rl.Window.Wait(ctx)
}
