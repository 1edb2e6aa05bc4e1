package jobs

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"futures-agent/internal/config"
	"futures-agent/internal/orders"
	"futures-agent/pkg/types"
)

// Terminal job statuses. A terminal job cannot be cancelled.
const (
	StatusScheduled       = "scheduled"
	StatusWaiting         = "waiting"
	StatusExecuting       = "executing"
	StatusMonitoringEntry = "monitoring_entry"
	StatusPlacingExits    = "placing_exits"
	StatusMonitoringExits = "monitoring_exits"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusEntryFailed     = "entry_failed"
	StatusTimeout         = "monitoring_timeout"
	StatusError           = "error"
)

func isTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusEntryFailed, StatusTimeout, StatusError:
		return true
	}
	return false
}

// Service runs the bracket and TTL orchestrators. Background monitors run
// on the service's own context so they outlive the placing request and
// stop together at shutdown.
type Service struct {
	orders   *orders.Service
	registry *Registry
	logger   *slog.Logger

	pollInterval time.Duration
	maxMonitor   time.Duration
	ttlMax       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the job service.
func NewService(ordersSvc *orders.Service, registry *Registry, cfg config.JobsConfig, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	poll := cfg.BracketPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	maxMonitor := cfg.BracketMaxMonitor
	if maxMonitor <= 0 {
		maxMonitor = time.Hour
	}
	ttlMax := cfg.TTLMaxSeconds
	if ttlMax <= 0 {
		ttlMax = 600
	}
	return &Service{
		orders:       ordersSvc,
		registry:     registry,
		logger:       logger.With("component", "jobs"),
		pollInterval: poll,
		maxMonitor:   maxMonitor,
		ttlMax:       ttlMax,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Registry exposes the job registry for the API layer.
func (s *Service) Registry() *Registry { return s.registry }

// Stop cancels all background monitors and waits for them to exit.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

// GetJob returns the current snapshot of any job.
func (s *Service) GetJob(jobID string) types.Result {
	snap, ok := s.registry.Get(jobID)
	if !ok {
		return types.Fail(types.ErrNotFound, "no job with id "+jobID)
	}
	return types.OK(snap)
}

// spawn runs fn on the service context, tracked for shutdown.
func (s *Service) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// sleep waits for d, returning false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// orderState extracts status and executed quantity from an order tool
// result. ok is false when the result carries no order data.
func orderState(res types.Result) (status string, executedQty float64, orderID int64, ok bool) {
	if !res.Success {
		return "", 0, 0, false
	}
	data, isMap := res.Data.(map[string]any)
	if !isMap {
		return "", 0, 0, false
	}
	status, _ = data["status"].(string)
	switch v := data["orderId"].(type) {
	case int64:
		orderID = v
	case float64:
		orderID = int64(v)
	}
	if raw, isStr := data["executedQty"].(string); isStr {
		executedQty, _ = strconv.ParseFloat(raw, 64)
	}
	return status, executedQty, orderID, true
}
