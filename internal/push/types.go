package push

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrTimeout          = errors.New("operation timeout")
)

// ConnState is the connection state carried by a StatusEvent.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// StatusEvent reports a connection state change.
type StatusEvent struct {
	State ConnState // New connection state
	Err   error     // Cause, nil for clean transitions
	At    time.Time // Local timestamp of the transition
}

// TickEvent is an inbound streaming price update. Symbols are in the
// broker's wire format; the emitter maps them back to canonical keys.
type TickEvent struct {
	WireSymbol    string
	Last          float64
	Open          float64
	High          float64
	Low           float64
	PrevClose     float64
	Volume        int64
	Change        float64
	ChangePercent float64
	Bid           float64
	Ask           float64
	ExchangeTS    int64     // Exchange timestamp (µs since epoch)
	ReceivedAt    time.Time // Local timestamp when the frame was read
}

// DepthEvent is an inbound order-book depth update.
type DepthEvent struct {
	WireSymbol string
	Bids       [][2]float64 // [price, size], best first
	Asks       [][2]float64 // [price, size], best first
	ExchangeTS int64        // Exchange timestamp (µs since epoch)
	ReceivedAt time.Time    // Local timestamp when the frame was read
}

// command is a client → server request frame.
type command struct {
	ID      int64    `json:"id"`
	Op      string   `json:"op"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
	Detail  string   `json:"detail,omitempty"`
}

// envelope is the server → client frame wrapper.
type envelope struct {
	Type   string          `json:"type"` // "tick", "depth", "subscribed", "unsubscribed", "error"
	ID     int64           `json:"id,omitempty"`
	Symbol string          `json:"sym,omitempty"`
	Msg    json.RawMessage `json:"msg"`
}

// response is a correlated command response.
type response struct {
	Type string
	Msg  json.RawMessage
}

// errorMsg is the message content for an "error" response.
type errorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// tickPayload is the message content for a "tick" frame.
type tickPayload struct {
	Last          float64 `json:"last"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PrevClose     float64 `json:"prev_close"`
	Volume        int64   `json:"volume"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	Timestamp     int64   `json:"ts"`
}

// depthPayload is the message content for a "depth" frame.
type depthPayload struct {
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
	Timestamp int64        `json:"ts"`
}

// ChannelConfig configures the websocket channel.
type ChannelConfig struct {
	URL              string        // WebSocket URL (e.g., wss://stream.broker.example/v1/md)
	APIKey           string        // Bearer token for the Authorization header
	HandshakeTimeout time.Duration // Dial timeout
	SubscribeTimeout time.Duration // Timeout for subscribe/unsubscribe commands
	WriteTimeout     time.Duration // Write deadline for outbound frames
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	EventBufferSize  int           // Buffer size for tick/depth event channels
}

// DefaultChannelConfig returns sensible defaults.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		EventBufferSize:  10000,
	}
}
