package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"futures-agent/pkg/types"
)

const infoTTL = 300 * time.Second

// Exchange is the REST surface the rules service needs.
type Exchange interface {
	Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error)
	SignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Service caches exchange info and leverage brackets, serving parsed
// symbol rules to the order tools. Both caches refresh after infoTTL.
type Service struct {
	client Exchange
	logger *slog.Logger

	mu        sync.Mutex
	info      map[string]SymbolRules
	infoAt    time.Time
	brackets  map[string][]types.LeverageBracket
	bracketAt time.Time
}

// NewService creates a rules service backed by the REST client.
func NewService(client Exchange, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		logger: logger.With("component", "rules"),
	}
}

// RulesFor returns the parsed filters for symbol, refreshing the cache
// when stale. symbol must already be normalized.
func (s *Service) RulesFor(ctx context.Context, symbol string) (SymbolRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil || time.Since(s.infoAt) > infoTTL {
		if err := s.refreshInfoLocked(ctx); err != nil {
			// Serve stale rules over failing the order.
			if s.info == nil {
				return SymbolRules{}, err
			}
			s.logger.Warn("exchange info refresh failed, serving cached", "error", err)
		}
	}

	r, ok := s.info[symbol]
	if !ok {
		return SymbolRules{}, fmt.Errorf("no trading rules for symbol %s", symbol)
	}
	return r, nil
}

func (s *Service) refreshInfoLocked(ctx context.Context) error {
	var info types.ExchangeInfo
	if _, err := s.client.Get(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}

	parsed := make(map[string]SymbolRules, len(allowed))
	for _, sym := range info.Symbols {
		if !allowed[sym.Symbol] {
			continue
		}
		parsed[sym.Symbol] = ParseSymbolRules(sym)
	}
	s.info = parsed
	s.infoAt = time.Now()
	s.logger.Debug("exchange info refreshed", "symbols", len(parsed))
	return nil
}

// BracketsFor returns the leverage bracket tiers for symbol, cached.
func (s *Service) BracketsFor(ctx context.Context, symbol string) ([]types.LeverageBracket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.brackets == nil || time.Since(s.bracketAt) > infoTTL {
		if err := s.refreshBracketsLocked(ctx); err != nil {
			if s.brackets == nil {
				return nil, err
			}
			s.logger.Warn("bracket refresh failed, serving cached", "error", err)
		}
	}

	tiers, ok := s.brackets[symbol]
	if !ok {
		return nil, fmt.Errorf("no leverage brackets for symbol %s", symbol)
	}
	return tiers, nil
}

func (s *Service) refreshBracketsLocked(ctx context.Context) error {
	raw, err := s.client.SignedGet(ctx, "/fapi/v1/leverageBracket", url.Values{})
	if err != nil {
		return fmt.Errorf("fetch leverage brackets: %w", err)
	}
	var rows []types.LeverageBracketRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("decode leverage brackets: %w", err)
	}

	parsed := make(map[string][]types.LeverageBracket, len(allowed))
	for _, row := range rows {
		if !allowed[row.Symbol] {
			continue
		}
		parsed[row.Symbol] = row.Brackets
	}
	s.brackets = parsed
	s.bracketAt = time.Now()
	return nil
}

// MaxLeverage returns the highest leverage any tier of symbol allows.
func (s *Service) MaxLeverage(ctx context.Context, symbol string) (int, error) {
	tiers, err := s.BracketsFor(ctx, symbol)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, t := range tiers {
		if t.InitialLeverage > max {
			max = t.InitialLeverage
		}
	}
	return max, nil
}

// TierFor finds the bracket whose notional range contains the given
// notional (floor inclusive, cap exclusive). The last tier catches
// anything at or above its floor.
func TierFor(tiers []types.LeverageBracket, notional float64) (types.LeverageBracket, bool) {
	for i, t := range tiers {
		if notional >= t.NotionalFloor && notional < t.NotionalCap {
			return t, true
		}
		if i == len(tiers)-1 && notional >= t.NotionalFloor {
			return t, true
		}
	}
	return types.LeverageBracket{}, false
}
