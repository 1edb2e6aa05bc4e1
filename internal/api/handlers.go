// Package api exposes the tool surface over HTTP: POST /tools/<name>
// dispatches into the order, job and analytics services and returns the
// uniform result envelope; GET /jobs/<id> snapshots jobs; /events
// streams job transitions over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"futures-agent/internal/analytics"
	"futures-agent/internal/jobs"
	"futures-agent/internal/orders"
	"futures-agent/pkg/types"
)

type toolFunc func(ctx context.Context, args json.RawMessage) types.Result

// Handlers routes tool calls to the services.
type Handlers struct {
	orders    *orders.Service
	jobs      *jobs.Service
	analytics *analytics.Service
	feed      analytics.FeedState
	hub       *Hub
	logger    *slog.Logger
	tools     map[string]toolFunc
}

func NewHandlers(ordersSvc *orders.Service, jobsSvc *jobs.Service, analyticsSvc *analytics.Service, feed analytics.FeedState, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{
		orders:    ordersSvc,
		jobs:      jobsSvc,
		analytics: analyticsSvc,
		feed:      feed,
		hub:       hub,
		logger:    logger.With("component", "api"),
	}
	h.tools = map[string]toolFunc{
		// Order lifecycle
		"place_order":            tool(ordersSvc.PlaceOrder),
		"amend_order":            tool(ordersSvc.AmendOrder),
		"cancel_order":           tool(ordersSvc.CancelOrder),
		"cancel_multiple_orders": tool(ordersSvc.CancelMultipleOrders),
		"get_order_status":       tool(ordersSvc.GetOrderStatus),
		"set_leverage":           tool(ordersSvc.SetLeverage),
		"set_margin_type":        tool(ordersSvc.SetMarginType),
		"get_position_risk":      tool(ordersSvc.GetPositionRisk),
		"get_commission_rate":    tool(ordersSvc.GetCommissionRate),
		"get_exchange_info":      tool(ordersSvc.GetExchangeInfo),
		"get_leverage_brackets":  tool(ordersSvc.GetLeverageBrackets),
		"validate_order_plan":    tool(ordersSvc.ValidateOrderPlan),

		// Orchestrators
		"place_bracket_order":    tool(jobsSvc.PlaceBracket),
		"get_bracket_job_status": jobStatus(jobsSvc),
		"cancel_bracket_job":     jobAction(jobsSvc.CancelBracket),
		"cancel_on_ttl":          tool(jobsSvc.CancelOnTTL),
		"get_ttl_job_status":     jobStatus(jobsSvc),
		"cancel_ttl_job":         jobAction(jobsSvc.CancelTTLJob),

		// Analytics
		"estimate_queue_fill":       tool(analyticsSvc.EstimateQueueFill),
		"fill_probability_horizons": tool(analyticsSvc.FillProbabilityHorizons),
		"analyze_walls":             tool(analyticsSvc.AnalyzeWalls),
		"volume_profile":            tool(analyticsSvc.VolumeProfile),
		"volume_profile_ws":         tool(analyticsSvc.VolumeProfileWS),
		"volume_profile_fallback":   tool(analyticsSvc.VolumeProfileFallback),
	}
	return h
}

// tool adapts a typed service method into the raw-JSON dispatch shape.
func tool[T any](fn func(context.Context, T) types.Result) toolFunc {
	return func(ctx context.Context, args json.RawMessage) types.Result {
		var in T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return types.Fail(types.ErrValidation, "invalid arguments: "+err.Error())
			}
		}
		return fn(ctx, in)
	}
}

type jobIDArgs struct {
	JobID string `json:"job_id"`
}

func jobStatus(svc *jobs.Service) toolFunc {
	return func(ctx context.Context, args json.RawMessage) types.Result {
		var in jobIDArgs
		if err := json.Unmarshal(args, &in); err != nil || in.JobID == "" {
			return types.Fail(types.ErrValidation, "job_id is required")
		}
		return svc.GetJob(in.JobID)
	}
}

func jobAction(fn func(context.Context, string) types.Result) toolFunc {
	return func(ctx context.Context, args json.RawMessage) types.Result {
		var in jobIDArgs
		if err := json.Unmarshal(args, &in); err != nil || in.JobID == "" {
			return types.Fail(types.ErrValidation, "job_id is required")
		}
		return fn(ctx, in.JobID)
	}
}

// HandleTool serves POST /tools/<name>.
func (h *Handlers) HandleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed,
			types.Fail(types.ErrValidation, "tools accept POST only"))
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	fn, ok := h.tools[name]
	if !ok {
		writeEnvelope(w, http.StatusNotFound,
			types.Fail(types.ErrNotFound, "unknown tool "+name))
		return
	}

	var args json.RawMessage
	if r.Body != nil {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err.Error() != "EOF" {
			writeEnvelope(w, http.StatusBadRequest,
				types.Fail(types.ErrValidation, "request body is not valid JSON"))
			return
		}
	}

	res := fn(r.Context(), args)
	if !res.Success {
		h.logger.Debug("tool failed", "tool", name, "kind", res.Error.Type, "message", res.Error.Message)
	}
	// Domain failures still travel in a 200 envelope; HTTP status is
	// reserved for transport-level problems.
	writeEnvelope(w, http.StatusOK, res)
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"stream_connected": h.feed != nil && h.feed.Connected(),
		"jobs":             len(h.jobs.Registry().List()),
	})
}

// HandleJob serves GET /jobs/<id> and GET /jobs.
func (h *Handlers) HandleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeEnvelope(w, http.StatusMethodNotAllowed,
			types.Fail(types.ErrValidation, "jobs accept GET only"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || id == "/jobs" {
		writeJSON(w, http.StatusOK, h.jobs.Registry().List())
		return
	}
	res := h.jobs.GetJob(id)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusNotFound
	}
	writeEnvelope(w, status, res)
}

func writeEnvelope(w http.ResponseWriter, status int, res types.Result) {
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
