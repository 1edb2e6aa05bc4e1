// Package engine wires the tool server together:
//
//  1. The signed REST client talks to the exchange, with clock sync,
//     rate limiting and adaptive retry.
//  2. The rules service caches exchange info and leverage brackets.
//  3. The collector serves depth, trades and mark price under short
//     TTLs and owns the per-symbol trade ring buffers.
//  4. The stream feed keeps one aggTrade WebSocket per process and
//     pushes trades into the collector's buffers.
//  5. The orders, jobs and analytics services implement the tools the
//     HTTP layer dispatches to.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"futures-agent/internal/analytics"
	"futures-agent/internal/config"
	"futures-agent/internal/exchange"
	"futures-agent/internal/jobs"
	"futures-agent/internal/market"
	"futures-agent/internal/orders"
	"futures-agent/internal/rules"
	"futures-agent/internal/stream"
)

// Engine owns the lifecycle of every long-lived component.
type Engine struct {
	cfg       config.Config
	client    *exchange.Client
	rules     *rules.Service
	collector *market.Collector
	feed      *stream.Feed
	orders    *orders.Service
	jobs      *jobs.Service
	analytics *analytics.Service
	registry  *jobs.Registry
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all components. Nothing touches the network
// until Start.
func New(cfg config.Config, logger *slog.Logger) *Engine {
	client := exchange.NewClient(cfg.Exchange, logger)
	rulesSvc := rules.NewService(client, logger)
	collector := market.NewCollector(client, logger)
	feed := stream.NewFeed(cfg.Exchange.WSBase(), collector, logger)
	ordersSvc := orders.NewService(client, rulesSvc, logger)
	registry := jobs.NewRegistry()
	jobsSvc := jobs.NewService(ordersSvc, registry, cfg.Jobs, logger)
	analyticsSvc := analytics.NewService(collector, feed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		client:    client,
		rules:     rulesSvc,
		collector: collector,
		feed:      feed,
		orders:    ordersSvc,
		jobs:      jobsSvc,
		analytics: analyticsSvc,
		registry:  registry,
		logger:    logger.With("component", "engine"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Accessors for the API layer.
func (e *Engine) Orders() *orders.Service       { return e.orders }
func (e *Engine) Jobs() *jobs.Service           { return e.jobs }
func (e *Engine) Analytics() *analytics.Service { return e.analytics }
func (e *Engine) Registry() *jobs.Registry      { return e.registry }
func (e *Engine) Feed() *stream.Feed            { return e.feed }

// Start syncs the exchange clock, subscribes the trade stream to every
// allowed symbol and launches the stream worker.
func (e *Engine) Start() error {
	syncCtx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	if err := e.client.SyncClock(syncCtx); err != nil {
		return fmt.Errorf("initial clock sync: %w", err)
	}

	if err := e.feed.Subscribe(rules.AllowedSymbols()); err != nil {
		return fmt.Errorf("subscribe trade stream: %w", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("trade stream stopped", "error", err)
		}
	}()

	// Best-effort warm-up so the first tool call doesn't pay for the
	// rules fetch.
	for _, symbol := range rules.AllowedSymbols() {
		if _, err := e.rules.RulesFor(e.ctx, symbol); err != nil {
			e.logger.Warn("rules warm-up failed", "symbol", symbol, "error", err)
			break
		}
	}

	if err := e.feed.WaitForConnection(e.ctx, 30*time.Second); err != nil {
		e.logger.Warn("trade stream not yet connected, continuing", "error", err)
	}

	e.logger.Info("engine started",
		"symbols", rules.AllowedSymbols(),
		"testnet", e.cfg.Exchange.Testnet,
	)
	return nil
}

// Stop shuts everything down: job monitors first so they stop issuing
// orders, then the stream, then the remaining workers.
func (e *Engine) Stop() {
	e.logger.Info("engine stopping")
	e.jobs.Stop()
	e.cancel()
	if err := e.feed.Close(); err != nil {
		e.logger.Debug("feed close", "error", err)
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}
