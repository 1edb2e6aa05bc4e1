package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"futures-agent/internal/config"
	"futures-agent/internal/jobs"
)

// Server runs the HTTP tool surface and the job event stream.
type Server struct {
	hub      *Hub
	handlers *Handlers
	registry *jobs.Registry
	server   *http.Server
	logger   *slog.Logger
}

func NewServer(cfg config.ServerConfig, handlers *Handlers, hub *Hub, registry *jobs.Registry, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/tools/", handlers.HandleTool)
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/jobs", handlers.HandleJob)
	mux.HandleFunc("/jobs/", handlers.HandleJob)
	mux.HandleFunc("/events", handlers.HandleEvents)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		registry: registry,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consumeEvents forwards job transitions to the WebSocket hub.
func (s *Server) consumeEvents() {
	for evt := range s.registry.Subscribe() {
		s.hub.Broadcast(evt)
	}
}
