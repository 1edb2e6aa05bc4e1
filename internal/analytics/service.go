// Package analytics implements the market microstructure kernels:
// queue-fill estimation, multi-horizon fill probability, wall
// persistence scoring and volume profiles. Kernels read market data
// through the collector and emit compact tool envelopes, never raw
// depth rows or trade lists.
package analytics

import (
	"log/slog"
	"time"

	"futures-agent/internal/market"
	"futures-agent/pkg/types"
)

// Result cache TTLs per kernel.
const (
	queueCacheTTL           = 30 * time.Second
	horizonCacheTTL         = 30 * time.Second
	wallsCacheTTL           = 60 * time.Second
	profileWSCacheTTL       = 30 * time.Second
	profileFallbackCacheTTL = 45 * time.Second
)

// FeedState reports whether the trade stream is live; it feeds the
// confidence scoring of buffer-sourced kernels.
type FeedState interface {
	Connected() bool
}

type Service struct {
	collector *market.Collector
	feed      FeedState
	cache     *ParamCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(collector *market.Collector, feed FeedState, logger *slog.Logger) *Service {
	return &Service{
		collector: collector,
		feed:      feed,
		cache:     NewParamCache(),
		logger:    logger.With("component", "analytics"),
		now:       time.Now,
	}
}

// cached wraps a kernel with the parameter cache: identical normalized
// arguments within ttl return the stored envelope flagged as a hit.
func (s *Service) cached(tool string, args any, ttl time.Duration, fn func() types.Result) types.Result {
	key := CacheKey(tool, args)
	if res, ok := s.cache.Get(key); ok {
		return res
	}
	res := fn()
	s.cache.Put(key, res, ttl)
	miss := false
	res.CacheHit = &miss
	return res
}

func (s *Service) streamConnected() bool {
	return s.feed != nil && s.feed.Connected()
}
