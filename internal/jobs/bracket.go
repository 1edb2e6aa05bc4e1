package jobs

import (
	"context"
	"fmt"
	"time"

	"futures-agent/internal/orders"
	"futures-agent/pkg/types"
)

// PlaceBracket places the entry order of a plan and starts a background
// monitor that installs the stop loss and take profits once the entry
// fills, then emulates OCO between the exits. The call returns as soon as
// the entry is placed; progress is observable through the job snapshot.
func (s *Service) PlaceBracket(ctx context.Context, plan types.BracketPlan) types.Result {
	if plan.Quantity <= 0 {
		return types.Fail(types.ErrValidation, "quantity must be greater than 0")
	}
	if plan.StopLoss <= 0 {
		return types.Fail(types.ErrValidation, "stop_loss must be greater than 0")
	}
	if plan.EntryType != types.OrderLimit && plan.EntryType != types.OrderMarket {
		return types.Fail(types.ErrValidation, "entry_type must be LIMIT or MARKET")
	}
	if plan.EntryType == types.OrderLimit && plan.EntryPrice <= 0 {
		return types.Fail(types.ErrValidation, "entry_price is required for a LIMIT entry")
	}
	// Direction sanity when the entry price is known.
	if plan.EntryPrice > 0 {
		long := plan.Side == types.BUY
		if long && plan.StopLoss >= plan.EntryPrice {
			return types.Fail(types.ErrValidation, "stop_loss must be below entry_price for a long")
		}
		if !long && plan.StopLoss <= plan.EntryPrice {
			return types.Fail(types.ErrValidation, "stop_loss must be above entry_price for a short")
		}
		for i, tp := range plan.TakeProfits {
			if long && tp.Price <= plan.EntryPrice {
				return types.Fail(types.ErrValidation, fmt.Sprintf("take profit %d must be above entry_price for a long", i+1))
			}
			if !long && tp.Price >= plan.EntryPrice {
				return types.Fail(types.ErrValidation, fmt.Sprintf("take profit %d must be below entry_price for a short", i+1))
			}
		}
	}
	// Only the final leg may omit sizing and take the remainder.
	for i, tp := range plan.TakeProfits {
		if i < len(plan.TakeProfits)-1 && tp.Quantity <= 0 && tp.Percentage <= 0 {
			return types.Fail(types.ErrValidation, fmt.Sprintf("take profit %d needs a quantity or percentage", i+1))
		}
	}

	entryIn := orders.PlaceOrderInput{
		Symbol:      plan.Symbol,
		Side:        string(plan.Side),
		OrderType:   string(plan.EntryType),
		Quantity:    plan.Quantity,
		Price:       plan.EntryPrice,
		PostOnly:    plan.PostOnly,
		WorkingType: string(plan.WorkingType),
	}
	entryRes := s.orders.PlaceOrder(ctx, entryIn)
	if !entryRes.Success {
		return entryRes
	}
	entryStatus, entryFilled, entryID, _ := orderState(entryRes)

	jobID := NewJobID("bracket")
	snap := map[string]any{
		"job_id":         jobID,
		"kind":           "bracket",
		"symbol":         plan.Symbol,
		"side":           string(plan.Side),
		"quantity":       plan.Quantity,
		"stop_loss":      plan.StopLoss,
		"take_profits":   len(plan.TakeProfits),
		"entry_order_id": entryID,
		"entry_status":   entryStatus,
		"status":         StatusMonitoringEntry,
		"created_at":     time.Now().UnixMilli(),
	}
	s.registry.Put(jobID, snap)

	s.logger.Info("bracket job started",
		"job_id", jobID,
		"symbol", plan.Symbol,
		"entry_order_id", entryID,
	)

	switch {
	case entryStatus == string(types.StatusFilled):
		// Market entries fill in the ack; skip the entry watch.
		s.spawn(func(bg context.Context) {
			filled := plan.Quantity
			if entryFilled > 0 {
				filled = entryFilled
			}
			s.runExits(bg, jobID, plan, filled)
		})
	case plan.WaitForEntry:
		s.spawn(func(bg context.Context) { s.watchEntry(bg, jobID, plan, entryID) })
	default:
		// Caller opted out of the entry watch: install reduce-only exits
		// for the full size immediately.
		s.spawn(func(bg context.Context) { s.runExits(bg, jobID, plan, plan.Quantity) })
	}

	res := types.OK(map[string]any{
		"job_id":         jobID,
		"entry_order_id": entryID,
		"entry_status":   entryStatus,
		"status":         StatusMonitoringEntry,
	})
	res.JobID = jobID
	return res
}

// watchEntry polls the entry order until it fills, fails, or times out.
func (s *Service) watchEntry(ctx context.Context, jobID string, plan types.BracketPlan, entryID int64) {
	deadline := time.Now().Add(s.maxMonitor)
	for {
		if s.registry.CancelRequested(jobID) {
			s.abortJob(ctx, jobID, plan.Symbol, []int64{entryID})
			return
		}
		if time.Now().After(deadline) {
			// No exits exist yet; the resting entry is left in place.
			s.registry.Update(jobID, func(m map[string]any) {
				m["status"] = StatusTimeout
				m["timeout_phase"] = "entry_watch"
				m["message"] = "entry watch timed out before fill; entry order left in place"
			})
			return
		}
		if !sleep(ctx, s.pollInterval) {
			return
		}

		res := s.orders.GetOrderStatus(ctx, orders.OrderStatusInput{Symbol: plan.Symbol, OrderID: entryID})
		status, executed, _, ok := orderState(res)
		if !ok {
			continue
		}
		s.registry.Update(jobID, func(m map[string]any) { m["entry_status"] = status })

		switch types.OrderStatus(status) {
		case types.StatusFilled:
			s.runExits(ctx, jobID, plan, firstPositive(executed, plan.Quantity))
			return
		case types.StatusPartiallyFilled:
			if executed > 0 {
				s.runExits(ctx, jobID, plan, executed)
				return
			}
		case types.StatusCanceled, types.StatusExpired, types.StatusRejected:
			s.registry.Update(jobID, func(m map[string]any) {
				m["status"] = StatusEntryFailed
				m["entry_status"] = status
			})
			return
		}
	}
}

// runExits installs the stop loss and take profits sized to the filled
// quantity, then monitors them as an OCO pair.
func (s *Service) runExits(ctx context.Context, jobID string, plan types.BracketPlan, filledQty float64) {
	s.registry.Update(jobID, func(m map[string]any) {
		m["status"] = StatusPlacingExits
		m["filled_quantity"] = filledQty
	})

	exitSide := plan.Side.Opposite()
	var slOrderID int64
	var tpOrderIDs []int64
	var tpErrors []string

	slRes := s.orders.PlaceOrder(ctx, orders.PlaceOrderInput{
		Symbol:      plan.Symbol,
		Side:        string(exitSide),
		OrderType:   string(types.OrderStopMarket),
		Quantity:    filledQty,
		StopPrice:   plan.StopLoss,
		ReduceOnly:  true,
		WorkingType: string(plan.WorkingType),
	})
	if slRes.Success {
		_, _, slOrderID, _ = orderState(slRes)
	} else {
		// Exits are best-effort: a failed stop loss is recorded, not fatal.
		s.logger.Error("stop loss placement failed", "job_id", jobID, "error", slRes.Error.Message)
		s.registry.Update(jobID, func(m map[string]any) { m["sl_error"] = slRes.Error.Message })
	}

	remaining := filledQty
	for i, tp := range plan.TakeProfits {
		qty := tp.Quantity
		if qty == 0 && tp.Percentage > 0 {
			qty = filledQty * tp.Percentage / 100
		}
		if qty == 0 || qty > remaining {
			qty = remaining
		}
		if qty <= 0 {
			continue
		}
		tpRes := s.orders.PlaceOrder(ctx, orders.PlaceOrderInput{
			Symbol:      plan.Symbol,
			Side:        string(exitSide),
			OrderType:   string(types.OrderTakeProfitMarket),
			Quantity:    qty,
			StopPrice:   tp.Price,
			ReduceOnly:  true,
			WorkingType: string(plan.WorkingType),
		})
		if tpRes.Success {
			_, _, id, _ := orderState(tpRes)
			tpOrderIDs = append(tpOrderIDs, id)
			remaining -= qty
		} else {
			tpErrors = append(tpErrors, fmt.Sprintf("tp %d: %s", i+1, tpRes.Error.Message))
		}
	}

	s.registry.Update(jobID, func(m map[string]any) {
		m["status"] = StatusMonitoringExits
		m["sl_order_id"] = slOrderID
		m["tp_order_ids"] = tpOrderIDs
		if len(tpErrors) > 0 {
			m["tp_errors"] = tpErrors
		}
	})

	s.watchExits(ctx, jobID, plan.Symbol, slOrderID, tpOrderIDs)
}

// watchExits polls the exit orders until one fills, then cancels the rest.
func (s *Service) watchExits(ctx context.Context, jobID, symbol string, slOrderID int64, tpOrderIDs []int64) {
	deadline := time.Now().Add(s.maxMonitor)
	all := append([]int64{}, tpOrderIDs...)
	if slOrderID != 0 {
		all = append(all, slOrderID)
	}
	// Nothing to watch: every exit failed to place. The position is
	// unprotected, which the snapshot already records via sl_error and
	// tp_errors, so the job just completes.
	if len(all) == 0 {
		s.registry.Update(jobID, func(m map[string]any) { m["status"] = StatusCompleted })
		return
	}

	for {
		if s.registry.CancelRequested(jobID) {
			s.abortJob(ctx, jobID, symbol, all)
			return
		}
		if time.Now().After(deadline) {
			// Live exits are intentionally left in place.
			s.registry.Update(jobID, func(m map[string]any) {
				m["status"] = StatusTimeout
				m["timeout_phase"] = "exit_watch"
			})
			return
		}
		if !sleep(ctx, s.pollInterval) {
			return
		}

		for _, id := range all {
			res := s.orders.GetOrderStatus(ctx, orders.OrderStatusInput{Symbol: symbol, OrderID: id})
			status, _, _, ok := orderState(res)
			if !ok || types.OrderStatus(status) != types.StatusFilled {
				continue
			}

			triggerType := "tp"
			if id == slOrderID {
				triggerType = "sl"
			}
			s.cancelSilently(ctx, symbol, exclude(all, id))
			s.registry.Update(jobID, func(m map[string]any) {
				m["status"] = StatusCompleted
				m["trigger_type"] = triggerType
				m["triggered_order_id"] = id
			})
			s.logger.Info("bracket completed", "job_id", jobID, "trigger", triggerType)
			return
		}
	}
}

// CancelBracket requests cancellation of a running bracket job. The
// monitor cancels its open orders best-effort on the next poll.
func (s *Service) CancelBracket(ctx context.Context, jobID string) types.Result {
	snap, ok := s.registry.Get(jobID)
	if !ok {
		return types.Fail(types.ErrNotFound, "no job with id "+jobID)
	}
	status, _ := snap["status"].(string)
	if isTerminal(status) {
		return types.FailWith(types.ErrCannotCancel,
			fmt.Sprintf("job %s already finished with status %s", jobID, status),
			map[string]any{"status": status})
	}
	s.registry.RequestCancel(jobID)
	return types.OK(map[string]any{"job_id": jobID, "status": "cancel_requested"})
}

// abortJob cancels the given orders best-effort and marks the job
// cancelled.
func (s *Service) abortJob(ctx context.Context, jobID, symbol string, orderIDs []int64) {
	s.cancelSilently(ctx, symbol, orderIDs)
	s.registry.Update(jobID, func(m map[string]any) { m["status"] = StatusCancelled })
	s.logger.Info("job cancelled", "job_id", jobID)
}

// cancelSilently cancels orders, ignoring failures (already filled or
// already gone).
func (s *Service) cancelSilently(ctx context.Context, symbol string, orderIDs []int64) {
	for _, id := range orderIDs {
		if id == 0 {
			continue
		}
		res := s.orders.CancelOrder(ctx, orders.CancelOrderInput{Symbol: symbol, OrderID: id})
		if !res.Success {
			s.logger.Debug("exit cancel skipped", "orderId", id, "reason", res.Error.Message)
		}
	}
}

func exclude(ids []int64, drop int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
