// Package stream implements the aggTrade WebSocket feed.
//
// Feed maintains one connection to the futures stream endpoint, subscribes
// to <symbol>@aggTrade streams, and pushes every trade into the collector's
// per-symbol buffers. The connection auto-reconnects with exponential
// backoff (1s doubling to 60s max, reset after a successful connect) and
// re-subscribes to all tracked symbols on reconnection. A read deadline
// detects silent server failures.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"futures-agent/internal/market"
	"futures-agent/pkg/types"
)

const (
	pingInterval       = 20 * time.Second
	readTimeout        = 90 * time.Second
	reconnectBase      = time.Second
	maxReconnectWait   = 60 * time.Second
	writeTimeout       = 10 * time.Second
	pruneInterval      = 60 * time.Second
	defaultConnectWait = 30 * time.Second
)

// Feed manages the aggTrade stream connection.
type Feed struct {
	baseURL   string
	collector *market.Collector

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // lowercase symbols

	connected atomic.Bool

	logger *slog.Logger
}

// NewFeed creates a feed dialing baseURL (e.g. wss://fstream.binance.com)
// that writes trades into the collector's buffers.
func NewFeed(baseURL string, collector *market.Collector, logger *slog.Logger) *Feed {
	return &Feed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collector:  collector,
		subscribed: make(map[string]bool),
		logger:     logger.With("component", "stream"),
	}
}

// Connected reports whether the feed currently holds a live connection.
func (f *Feed) Connected() bool { return f.connected.Load() }

// WaitForConnection blocks until the feed is connected or timeout elapses.
// A zero timeout uses the 30s default.
func (f *Feed) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConnectWait
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if f.connected.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("websocket not connected after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run connects and maintains the connection with auto-reconnect, and
// periodically prunes the trade buffers. Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	pruner := time.NewTicker(pruneInterval)
	defer pruner.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pruner.C:
				f.collector.PruneBuffers()
			}
		}
	}()

	backoff := reconnectBase
	for {
		connectedOnce, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connectedOnce {
			backoff = reconnectBase
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, ..., 60s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe starts streaming the given symbols. Safe before or after the
// connection is up; current subscriptions replay on reconnect.
func (f *Feed) Subscribe(symbols []string) error {
	streams := make([]string, 0, len(symbols))
	f.subscribedMu.Lock()
	for _, s := range symbols {
		key := strings.ToLower(s)
		if !f.subscribed[key] {
			f.subscribed[key] = true
		}
		streams = append(streams, key+"@aggTrade")
	}
	f.subscribedMu.Unlock()

	if !f.connected.Load() {
		return nil
	}
	return f.writeJSON(types.WSCommand{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     time.Now().UnixMilli(),
	})
}

// Unsubscribe stops streaming the given symbols.
func (f *Feed) Unsubscribe(symbols []string) error {
	streams := make([]string, 0, len(symbols))
	f.subscribedMu.Lock()
	for _, s := range symbols {
		key := strings.ToLower(s)
		delete(f.subscribed, key)
		streams = append(streams, key+"@aggTrade")
	}
	f.subscribedMu.Unlock()

	if !f.connected.Load() {
		return nil
	}
	return f.writeJSON(types.WSCommand{
		Method: "UNSUBSCRIBE",
		Params: streams,
		ID:     time.Now().UnixMilli(),
	})
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// dialURL builds the connection URL, embedding current subscriptions in
// the path so they are live the moment the socket opens.
func (f *Feed) dialURL() string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if len(f.subscribed) == 0 {
		return f.baseURL + "/ws"
	}
	streams := make([]string, 0, len(f.subscribed))
	for sym := range f.subscribed {
		streams = append(streams, sym+"@aggTrade")
	}
	sort.Strings(streams)
	return f.baseURL + "/ws/" + strings.Join(streams, "/")
}

func (f *Feed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.dialURL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.connected.Store(true)

	defer func() {
		f.connected.Store(false)
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// The server pings periodically; answering keeps the session alive and
	// refreshes our read deadline.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		f.connMu.Lock()
		defer f.connMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	f.logger.Info("websocket connected", "url", f.dialURL())

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"e"`
		ID        *int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch {
	case envelope.EventType == "aggTrade":
		var evt types.WSAggTrade
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal aggTrade event", "error", err)
			return
		}
		f.ingest(evt)

	case envelope.ID != nil:
		// SUBSCRIBE/UNSUBSCRIBE acknowledgement
		f.logger.Debug("ws command ack", "id", *envelope.ID)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *Feed) ingest(evt types.WSAggTrade) {
	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		f.logger.Error("bad aggTrade price", "value", evt.Price)
		return
	}
	qty, err := strconv.ParseFloat(evt.Qty, 64)
	if err != nil {
		f.logger.Error("bad aggTrade qty", "value", evt.Qty)
		return
	}
	f.collector.Buffer(evt.Symbol).Add(types.Trade{
		AggID:        evt.AggID,
		Price:        price,
		Qty:          qty,
		TimestampMs:  evt.TradeTime,
		IsBuyerMaker: evt.IsBuyerMaker,
	})
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
