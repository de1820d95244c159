package delivery

import (
	"time"

	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// Mode is the active delivery path. Exactly one value at any instant, owned
// exclusively by the controller.
type Mode int32

const (
	// ModeUninitialized means no path is active. Holds iff the registry is
	// empty.
	ModeUninitialized Mode = iota

	// ModePushActive means the streaming channel is connected and serving
	// all registered symbols.
	ModePushActive

	// ModePullActive means the batch fetcher's refresh loop is serving all
	// registered symbols.
	ModePullActive

	// ModeTransitioning is a short-lived guard state while a connect or
	// disconnect is in flight.
	ModeTransitioning
)

func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModePushActive:
		return "push_active"
	case ModePullActive:
		return "pull_active"
	case ModeTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// SessionClock reports whether a venue is trading at an instant.
type SessionClock interface {
	IsOpen(venue string, at time.Time) bool
}

// Batcher is the pull-side scheduling surface the controller drives.
type Batcher interface {
	// Enqueue stages keys for a debounced coalesced fetch.
	Enqueue(keys []symbol.Key)

	// CancelPending drops any staged keys without fetching.
	CancelPending()

	// StartRefresh begins the periodic full-registry refresh. No-op if
	// already running.
	StartRefresh()

	// StopRefresh halts the periodic refresh. No-op if not running.
	StopRefresh()

	// RefreshRunning reports whether the periodic refresh is active.
	RefreshRunning() bool
}

// Sink receives inbound push events routed by the controller's event loop.
type Sink interface {
	HandlePushTick(ev push.TickEvent)
	HandlePushDepth(ev push.DepthEvent)
}

// Config holds controller configuration.
type Config struct {
	Venue                string        // Venue whose session drives mode transitions
	SessionCheckInterval time.Duration // Session monitor cadence (default: 5m)
	ConnectTimeout       time.Duration // Push connect timeout (default: 15s)
	CallTimeout          time.Duration // Push subscribe/unsubscribe timeout (default: 10s)
}

// DefaultConfig returns sensible defaults. Venue must still be set.
func DefaultConfig() Config {
	return Config{
		SessionCheckInterval: 5 * time.Minute,
		ConnectTimeout:       15 * time.Second,
		CallTimeout:          10 * time.Second,
	}
}

// Status is a point-in-time controller snapshot for health reporting.
type Status struct {
	Mode          Mode   `json:"-"`
	ModeLabel     string `json:"mode"`
	Live          bool   `json:"live"`
	Subscriptions int    `json:"subscriptions"`
	SessionOpen   bool   `json:"session_open"`
}
