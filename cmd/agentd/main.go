// futures-agent is a tool server exposing Binance USDⓈ-M perpetual
// futures order management and market analytics to automated callers.
//
// Architecture:
//
//	main.go              — entry point: env + config + logger, starts engine and API, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires client → rules → collector → stream → tools
//	exchange/client.go   — signed REST client (HMAC query signing, clock sync, rate limits, retry)
//	rules/               — exchange-info cache, decimal rounding and order validation
//	orders/              — order lifecycle tools (place/amend/cancel/status, leverage, margin)
//	market/              — depth/trades/mark collector with short-TTL caches and trade ring buffers
//	stream/feed.go       — aggTrade WebSocket with auto-reconnect feeding the ring buffers
//	jobs/                — bracket (entry + SL/TP with OCO emulation) and TTL-cancel orchestrators
//	analytics/           — queue-fill, multi-horizon, wall persistence and volume profile kernels
//	api/                 — POST /tools/<name> dispatch, job snapshots, WebSocket event stream
//
// Only BTCUSDT and ETHUSDT are served; every symbol argument is
// normalized and checked against that allowlist.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"futures-agent/internal/api"
	"futures-agent/internal/config"
	"futures-agent/internal/engine"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("AGENT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng := engine.New(*cfg, logger)
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	hub := api.NewHub(logger)
	handlers := api.NewHandlers(eng.Orders(), eng.Jobs(), eng.Analytics(), eng.Feed(), hub, logger)
	server := api.NewServer(cfg.Server, handlers, hub, eng.Registry(), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("futures agent started",
		"listen", cfg.Server.ListenAddr,
		"testnet", cfg.Exchange.Testnet,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := server.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
