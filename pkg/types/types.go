// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the tool server: order enums,
// exchange wire structs, WebSocket frames, and the uniform tool result
// envelope. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"encoding/json"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the futures order types accepted by the exchange.
type OrderType string

const (
	OrderLimit              OrderType = "LIMIT"
	OrderMarket             OrderType = "MARKET"
	OrderStop               OrderType = "STOP"
	OrderStopMarket         OrderType = "STOP_MARKET"
	OrderTakeProfit         OrderType = "TAKE_PROFIT"
	OrderTakeProfitMarket   OrderType = "TAKE_PROFIT_MARKET"
	OrderTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
)

// IsMarketFamily reports whether the type executes at market on trigger,
// which selects the market lot-size overrides during validation.
func (t OrderType) IsMarketFamily() bool {
	switch t {
	case OrderMarket, OrderStopMarket, OrderTakeProfitMarket, OrderTrailingStopMarket:
		return true
	}
	return false
}

// RequiresStopPrice reports whether the type needs a trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderStop, OrderStopMarket, OrderTakeProfit, OrderTakeProfitMarket:
		return true
	}
	return false
}

// TimeInForce enumerates order lifetimes. GTX is post-only: the order must
// enter the book as a maker or it is rejected.
type TimeInForce string

const (
	TIFGoodTilCancel TimeInForce = "GTC"
	TIFImmediate     TimeInForce = "IOC"
	TIFFillOrKill    TimeInForce = "FOK"
	TIFPostOnly      TimeInForce = "GTX"
)

// PositionSide is the hedge-mode position bucket.
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// WorkingType selects the price series that triggers stop orders.
type WorkingType string

const (
	WorkingMarkPrice     WorkingType = "MARK_PRICE"
	WorkingContractPrice WorkingType = "CONTRACT_PRICE"
)

// MarginType selects between isolated and cross margin.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// OrderStatus is the exchange-reported order state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsActive reports whether the order can still trade.
func (s OrderStatus) IsActive() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// IsTerminal reports whether the order reached a final state.
func (s OrderStatus) IsTerminal() bool {
	return s != "" && !s.IsActive()
}

// ————————————————————————————————————————————————————————————————————————
// Result envelope
// ————————————————————————————————————————————————————————————————————————

// Error kinds used in the result envelope. Kinds classify failures for the
// calling agent; exchange numeric codes travel in ErrorInfo.Details["code"].
const (
	ErrValidation       = "validation_error"
	ErrAPI              = "api_error"
	ErrOrderNotFound    = "order_not_found"
	ErrInvalidOrderType = "invalid_order_type"
	ErrPositionExists   = "position_exists"
	ErrCancelFailed     = "cancel_failed"
	ErrEntryFailed      = "entry_failed"
	ErrCannotCancel     = "cannot_cancel"
	ErrNotFound         = "not_found"
	ErrData             = "data_error"
	ErrRetryExhausted   = "retry_exhausted"
	ErrTool             = "tool_error"
)

// ErrorInfo is the error shape inside a Result.
type ErrorInfo struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the uniform tool result envelope. Every tool returns one; tools
// never return Go errors to the dispatch layer for domain failures.
type Result struct {
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	Validation  map[string]any `json:"validation,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	CacheHit    *bool          `json:"_cache_hit,omitempty"`
	QualityFlags []string      `json:"quality_flags,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// OK builds a success envelope stamped with the current time.
func OK(data any) Result {
	return Result{Success: true, Data: data, Timestamp: time.Now().UnixMilli()}
}

// Fail builds an error envelope of the given kind.
func Fail(kind, message string) Result {
	return Result{
		Success:   false,
		Error:     &ErrorInfo{Type: kind, Message: message},
		Timestamp: time.Now().UnixMilli(),
	}
}

// FailWith builds an error envelope carrying extra details.
func FailWith(kind, message string, details map[string]any) Result {
	return Result{
		Success:   false,
		Error:     &ErrorInfo{Type: kind, Message: message, Details: details},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Exchange wire structs (fapi REST)
// ————————————————————————————————————————————————————————————————————————

// ServerTime is the response of GET /fapi/v1/time.
type ServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

// OrderAck is the order object returned by place/amend/cancel/status calls.
// Numeric fields arrive as strings to preserve decimal precision.
type OrderAck struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigType      string `json:"origType,omitempty"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice,omitempty"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
	ClosePosition bool   `json:"closePosition,omitempty"`
	PositionSide  string `json:"positionSide,omitempty"`
	WorkingType   string `json:"workingType,omitempty"`
	PriceProtect  bool   `json:"priceProtect,omitempty"`
	Time          int64  `json:"time,omitempty"`
	UpdateTime    int64  `json:"updateTime"`
	// Present on batch-cancel rows that failed.
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// DepthResponse is GET /fapi/v1/depth. Levels are [price, qty] string pairs.
type DepthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	EventTime    int64       `json:"E"`
	TradeTime    int64       `json:"T"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// AggTradeRow is one element of GET /fapi/v1/aggTrades.
type AggTradeRow struct {
	AggID        int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	Timestamp    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// PremiumIndex is GET /fapi/v1/premiumIndex.
type PremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// Ticker24h is GET /fapi/v1/ticker/24hr.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// ExchangeInfo is the top-level GET /fapi/v1/exchangeInfo blob.
type ExchangeInfo struct {
	ServerTime int64            `json:"serverTime"`
	Symbols    []SymbolInfo     `json:"symbols"`
}

// SymbolInfo is one symbol's metadata inside ExchangeInfo.
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	Status            string         `json:"status"`
	BaseAsset         string         `json:"baseAsset"`
	QuoteAsset        string         `json:"quoteAsset"`
	MarginAsset       string         `json:"marginAsset"`
	ContractType      string         `json:"contractType"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
	OnboardDate       int64          `json:"onboardDate"`
	UnderlyingType    string         `json:"underlyingType"`
}

// SymbolFilter is one entry of a symbol's filter list. Only the fields the
// rules engine consumes are mapped; the filter types overlap so unused
// fields are simply empty.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	Notional    string `json:"notional,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// LeverageBracketRow is one element of GET /fapi/v1/leverageBracket.
type LeverageBracketRow struct {
	Symbol   string            `json:"symbol"`
	Brackets []LeverageBracket `json:"brackets"`
}

// LeverageBracket is a single notional tier.
type LeverageBracket struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  int     `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
	Cum              float64 `json:"cum"`
}

// PositionRisk is one element of GET /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MaxNotionalValue string `json:"maxNotionalValue"`
	MarginType       string `json:"marginType"`
	IsolatedMargin   string `json:"isolatedMargin"`
	PositionSide     string `json:"positionSide"`
	Notional         string `json:"notional"`
	UpdateTime       int64  `json:"updateTime"`
}

// CommissionRate is GET /fapi/v1/commissionRate.
type CommissionRate struct {
	Symbol              string `json:"symbol"`
	MakerCommissionRate string `json:"makerCommissionRate"`
	TakerCommissionRate string `json:"takerCommissionRate"`
}

// LeverageAck is POST /fapi/v1/leverage.
type LeverageAck struct {
	Symbol           string `json:"symbol"`
	Leverage         int    `json:"leverage"`
	MaxNotionalValue string `json:"maxNotionalValue"`
}

// ————————————————————————————————————————————————————————————————————————
// Trades and order book (internal representations)
// ————————————————————————————————————————————————————————————————————————

// Trade is an aggregated trade normalized for buffer/analytics use.
type Trade struct {
	AggID        int64
	Price        float64
	Qty          float64
	TimestampMs  int64
	IsBuyerMaker bool
}

// AggressorSell reports whether the taker was a seller. On the wire
// "buyer was maker" means the aggressor hit the bid.
func (t Trade) AggressorSell() bool { return t.IsBuyerMaker }

// PriceLevel is a single bid or ask level in a depth snapshot.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket frames
// ————————————————————————————————————————————————————————————————————————

// WSCommand is the dynamic subscribe/unsubscribe control frame.
type WSCommand struct {
	Method string   `json:"method"` // "SUBSCRIBE" or "UNSUBSCRIBE"
	Params []string `json:"params"` // e.g. ["btcusdt@aggTrade"]
	ID     int64    `json:"id"`
}

// WSAggTrade is the inbound aggTrade stream event.
type WSAggTrade struct {
	EventType    string `json:"e"` // always "aggTrade"
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggID        int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ————————————————————————————————————————————————————————————————————————
// Order plans
// ————————————————————————————————————————————————————————————————————————

// TakeProfitSpec is one take-profit leg of an order plan. Exactly one of
// Quantity or Percentage should be set; for the final leg both may be zero,
// which assigns the remaining entry quantity.
type TakeProfitSpec struct {
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}

// BracketPlan is the full input of the bracket orchestrator: an entry leg,
// a stop loss, and ordered take profits.
type BracketPlan struct {
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	EntryType    OrderType        `json:"entry_type"`
	EntryPrice   float64          `json:"entry_price,omitempty"`
	Quantity     float64          `json:"quantity"`
	StopLoss     float64          `json:"stop_loss"`
	TakeProfits  []TakeProfitSpec `json:"take_profits"`
	PostOnly     bool             `json:"post_only,omitempty"`
	WorkingType  WorkingType      `json:"working_type,omitempty"`
	WaitForEntry bool             `json:"wait_for_entry"`
}
