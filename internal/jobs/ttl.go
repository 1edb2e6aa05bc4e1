package jobs

import (
	"context"
	"fmt"
	"time"

	"futures-agent/internal/orders"
	"futures-agent/pkg/types"
)

// TTLInput schedules cancellation of an order after a time to live.
type TTLInput struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"order_id,omitempty"`
	OrigClientOrderID string `json:"orig_client_order_id,omitempty"`
	TTLSeconds        int    `json:"ttl_seconds"`
	Blocking          bool   `json:"blocking,omitempty"`
}

// CancelOnTTL cancels an order once its TTL elapses, unless it is already
// done by then. Blocking mode waits inline and returns the outcome;
// non-blocking mode schedules a job and returns its id.
func (s *Service) CancelOnTTL(ctx context.Context, in TTLInput) types.Result {
	if in.TTLSeconds <= 0 || in.TTLSeconds > s.ttlMax {
		return types.Fail(types.ErrValidation,
			fmt.Sprintf("ttl_seconds must be between 1 and %d", s.ttlMax))
	}
	if in.OrderID == 0 && in.OrigClientOrderID == "" {
		return types.Fail(types.ErrValidation, "order_id or orig_client_order_id is required")
	}

	// Resolve the order up front so the job tracks a stable exchange id
	// even if the client id is reused later.
	statusRes := s.orders.GetOrderStatus(ctx, orders.OrderStatusInput{
		Symbol:            in.Symbol,
		OrderID:           in.OrderID,
		OrigClientOrderID: in.OrigClientOrderID,
	})
	if !statusRes.Success {
		return statusRes
	}
	status, _, orderID, _ := orderState(statusRes)
	if !types.OrderStatus(status).IsActive() {
		return types.OK(map[string]any{
			"action":   "no_action",
			"reason":   "order_not_active",
			"order_id": orderID,
			"status":   status,
		})
	}

	if in.Blocking {
		return s.ttlBlocking(ctx, in.Symbol, orderID, in.TTLSeconds)
	}

	jobID := NewJobID("ttl")
	s.registry.Put(jobID, map[string]any{
		"job_id":      jobID,
		"kind":        "ttl",
		"symbol":      in.Symbol,
		"order_id":    orderID,
		"ttl_seconds": in.TTLSeconds,
		"status":      StatusScheduled,
		"execute_at":  time.Now().Add(time.Duration(in.TTLSeconds) * time.Second).UnixMilli(),
		"created_at":  time.Now().UnixMilli(),
	})
	s.spawn(func(bg context.Context) { s.runTTL(bg, jobID, in.Symbol, orderID, in.TTLSeconds) })

	res := types.OK(map[string]any{
		"job_id":      jobID,
		"order_id":    orderID,
		"ttl_seconds": in.TTLSeconds,
		"status":      StatusScheduled,
	})
	res.JobID = jobID
	return res
}

// ttlBlocking waits out the TTL inline, then cancels if still active.
func (s *Service) ttlBlocking(ctx context.Context, symbol string, orderID int64, ttlSeconds int) types.Result {
	start := time.Now()
	if !sleep(ctx, time.Duration(ttlSeconds)*time.Second) {
		return types.Fail(types.ErrTool, "cancelled while waiting for ttl")
	}
	waited := int(time.Since(start).Seconds())

	statusRes := s.orders.GetOrderStatus(ctx, orders.OrderStatusInput{Symbol: symbol, OrderID: orderID})
	status, _, _, ok := orderState(statusRes)
	if !ok {
		if statusRes.Error != nil && statusRes.Error.Type == types.ErrOrderNotFound {
			return types.OK(map[string]any{
				"action":         "no_action",
				"reason":         "order_gone",
				"order_id":       orderID,
				"waited_seconds": waited,
			})
		}
		return statusRes
	}
	if !types.OrderStatus(status).IsActive() {
		return types.OK(map[string]any{
			"action":         "no_action",
			"reason":         "order_not_active",
			"order_id":       orderID,
			"status":         status,
			"waited_seconds": waited,
		})
	}

	cancelRes := s.orders.CancelOrder(ctx, orders.CancelOrderInput{Symbol: symbol, OrderID: orderID})
	if !cancelRes.Success {
		if cancelRes.Error.Type == types.ErrOrderNotFound {
			return types.OK(map[string]any{
				"action":         "no_action",
				"reason":         "filled_before_cancel",
				"order_id":       orderID,
				"waited_seconds": waited,
			})
		}
		return cancelRes
	}
	return types.OK(map[string]any{
		"action":         "cancelled",
		"order_id":       orderID,
		"waited_seconds": waited,
	})
}

// runTTL is the non-blocking monitor: waits out the TTL while honoring
// cancel requests, then cancels the order if it is still working.
func (s *Service) runTTL(ctx context.Context, jobID, symbol string, orderID int64, ttlSeconds int) {
	s.registry.Update(jobID, func(m map[string]any) { m["status"] = StatusWaiting })

	deadline := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	for time.Now().Before(deadline) {
		if s.registry.CancelRequested(jobID) {
			s.registry.Update(jobID, func(m map[string]any) { m["status"] = StatusCancelled })
			return
		}
		remaining := time.Until(deadline)
		step := 500 * time.Millisecond
		if remaining < step {
			step = remaining
		}
		if !sleep(ctx, step) {
			return
		}
	}

	s.registry.Update(jobID, func(m map[string]any) { m["status"] = StatusExecuting })

	statusRes := s.orders.GetOrderStatus(ctx, orders.OrderStatusInput{Symbol: symbol, OrderID: orderID})
	status, _, _, ok := orderState(statusRes)
	if ok && !types.OrderStatus(status).IsActive() {
		s.registry.Update(jobID, func(m map[string]any) {
			m["status"] = StatusCompleted
			m["action"] = "no_action"
			m["order_status"] = status
		})
		return
	}

	cancelRes := s.orders.CancelOrder(ctx, orders.CancelOrderInput{Symbol: symbol, OrderID: orderID})
	if cancelRes.Success {
		s.registry.Update(jobID, func(m map[string]any) {
			m["status"] = StatusCompleted
			m["action"] = "cancelled"
		})
		s.logger.Info("ttl cancel executed", "job_id", jobID, "orderId", orderID)
		return
	}
	if cancelRes.Error.Type == types.ErrOrderNotFound {
		s.registry.Update(jobID, func(m map[string]any) {
			m["status"] = StatusCompleted
			m["action"] = "no_action"
			m["reason"] = "filled_before_cancel"
		})
		return
	}
	s.registry.Update(jobID, func(m map[string]any) {
		m["status"] = StatusError
		m["error"] = cancelRes.Error.Message
	})
}

// CancelTTLJob cancels a pending TTL job. Only jobs still waiting for
// their deadline can be cancelled.
func (s *Service) CancelTTLJob(ctx context.Context, jobID string) types.Result {
	snap, ok := s.registry.Get(jobID)
	if !ok {
		return types.Fail(types.ErrNotFound, "no job with id "+jobID)
	}
	status, _ := snap["status"].(string)
	if status != StatusScheduled && status != StatusWaiting {
		return types.FailWith(types.ErrCannotCancel,
			fmt.Sprintf("job %s is %s and can no longer be cancelled", jobID, status),
			map[string]any{"status": status})
	}
	s.registry.RequestCancel(jobID)
	return types.OK(map[string]any{"job_id": jobID, "status": "cancel_requested"})
}
