package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// wsChannel implements Channel over a gorilla/websocket connection.
type wsChannel struct {
	cfg    ChannelConfig
	norm   symbol.Normalizer
	logger *slog.Logger

	// Event streams; stable across reconnects.
	ticks  chan TickEvent
	depth  chan DepthEvent
	status chan StatusEvent

	// Write serialization
	writeMu sync.Mutex

	// Connection state; conn and done are per-connection.
	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	lastPingAt time.Time
	done       chan struct{}

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[int64]chan response
	cmdID     atomic.Int64
}

// NewChannel creates a websocket push channel.
func NewChannel(cfg ChannelConfig, norm symbol.Normalizer, logger *slog.Logger) Channel {
	if logger == nil {
		logger = slog.Default()
	}

	return &wsChannel{
		cfg:     cfg,
		norm:    norm,
		logger:  logger,
		ticks:   make(chan TickEvent, cfg.EventBufferSize),
		depth:   make(chan DepthEvent, cfg.EventBufferSize),
		status:  make(chan StatusEvent, 16),
		pending: make(map[int64]chan response),
	}
}

// Connect establishes the websocket connection.
func (c *wsChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.done = done
	c.mu.Unlock()

	// Server-initiated pings refresh the liveness clock and get a pong back.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)

	c.emitStatus(StatusEvent{State: StateConnected, At: time.Now()})
	c.logger.Debug("push channel connected", "url", c.cfg.URL)

	return nil
}

// Disconnect tears the connection down. Safe to call when not connected and
// safe to call more than once.
func (c *wsChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	wasConnected := c.connected
	c.conn = nil
	c.done = nil
	c.connected = false
	c.mu.Unlock()

	if done != nil {
		close(done)
	}

	c.failPending()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err := conn.Close()
		if wasConnected {
			c.logger.Debug("push channel disconnected")
		}
		return err
	}

	return nil
}

// SubscribeBatch subscribes all keys in a single command and waits for the
// broker's acknowledgement.
func (c *wsChannel) SubscribeBatch(ctx context.Context, keys []symbol.Key, detail model.Detail) error {
	if len(keys) == 0 {
		return nil
	}

	wires := make([]string, 0, len(keys))
	for _, k := range keys {
		wire, err := c.norm.WireSymbol(k)
		if err != nil {
			c.logger.Warn("skipping unmappable key", "key", k.String(), "err", err)
			continue
		}
		wires = append(wires, wire)
	}
	if len(wires) == 0 {
		return fmt.Errorf("no mappable symbols in batch")
	}

	return c.roundTrip(ctx, command{
		Op:      "subscribe",
		Symbols: wires,
		Detail:  string(detail),
	})
}

// Unsubscribe removes a single key from the stream.
func (c *wsChannel) Unsubscribe(ctx context.Context, key symbol.Key) error {
	wire, err := c.norm.WireSymbol(key)
	if err != nil {
		return err
	}

	return c.roundTrip(ctx, command{
		Op:      "unsubscribe",
		Symbols: []string{wire},
	})
}

// IsConnected returns the current connection state.
func (c *wsChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Ticks returns the inbound tick stream.
func (c *wsChannel) Ticks() <-chan TickEvent {
	return c.ticks
}

// Depth returns the inbound depth stream.
func (c *wsChannel) Depth() <-chan DepthEvent {
	return c.depth
}

// Status returns the connection status stream.
func (c *wsChannel) Status() <-chan StatusEvent {
	return c.status
}

// roundTrip sends a command and waits for the correlated response.
func (c *wsChannel) roundTrip(ctx context.Context, cmd command) error {
	cmd.ID = c.cmdID.Add(1)
	respCh := make(chan response, 1)

	c.pendingMu.Lock()
	c.pending[cmd.ID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(cmd)
	if err := c.send(data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SubscribeTimeout):
		return ErrTimeout
	case resp, ok := <-respCh:
		if !ok {
			return ErrNotConnected
		}
		if resp.Type == "error" {
			var em errorMsg
			json.Unmarshal(resp.Msg, &em)
			return fmt.Errorf("%s: %s", em.Code, em.Message)
		}

		c.logger.Debug("push command acknowledged",
			"op", cmd.Op,
			"symbols", len(cmd.Symbols),
			"id", cmd.ID,
		)
		return nil
	}
}

// send writes raw bytes with the configured write deadline.
func (c *wsChannel) send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection dies or Disconnect is called.
func (c *wsChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Silent return after Disconnect; otherwise report the failure.
			select {
			case <-done:
				return
			default:
			}

			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			c.failPending()
			c.emitStatus(StatusEvent{State: StateDisconnected, Err: err, At: receivedAt})
			return
		}

		c.handleFrame(data, receivedAt)
	}
}

// handleFrame parses one inbound frame and routes it.
func (c *wsChannel) handleFrame(data []byte, receivedAt time.Time) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("unparseable frame", "err", err)
		return
	}

	switch env.Type {
	case "subscribed", "unsubscribed", "ok", "error":
		c.routeResponse(env)

	case "tick":
		var p tickPayload
		if err := json.Unmarshal(env.Msg, &p); err != nil {
			c.logger.Warn("unparseable tick payload", "sym", env.Symbol, "err", err)
			return
		}
		ev := TickEvent{
			WireSymbol:    env.Symbol,
			Last:          p.Last,
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			PrevClose:     p.PrevClose,
			Volume:        p.Volume,
			Change:        p.Change,
			ChangePercent: p.ChangePercent,
			Bid:           p.Bid,
			Ask:           p.Ask,
			ExchangeTS:    p.Timestamp,
			ReceivedAt:    receivedAt,
		}
		select {
		case c.ticks <- ev:
		default:
			c.logger.Warn("tick buffer full, dropping", "sym", env.Symbol)
		}

	case "depth":
		var p depthPayload
		if err := json.Unmarshal(env.Msg, &p); err != nil {
			c.logger.Warn("unparseable depth payload", "sym", env.Symbol, "err", err)
			return
		}
		ev := DepthEvent{
			WireSymbol: env.Symbol,
			Bids:       p.Bids,
			Asks:       p.Asks,
			ExchangeTS: p.Timestamp,
			ReceivedAt: receivedAt,
		}
		select {
		case c.depth <- ev:
		default:
			c.logger.Warn("depth buffer full, dropping", "sym", env.Symbol)
		}

	default:
		c.logger.Debug("skipping frame type", "type", env.Type)
	}
}

// routeResponse delivers a command response to the waiting caller.
func (c *wsChannel) routeResponse(env envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- response{Type: env.Type, Msg: env.Msg}
	}
}

// failPending closes all pending response channels so waiting commands
// return ErrNotConnected instead of timing out.
func (c *wsChannel) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (c *wsChannel) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "err", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)

				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()

				c.emitStatus(StatusEvent{State: StateError, Err: ErrStaleConnection, At: time.Now()})
				return
			}
		}
	}
}

// emitStatus publishes a status event without blocking.
func (c *wsChannel) emitStatus(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
		c.logger.Warn("status buffer full, dropping event", "state", ev.State)
	}
}
