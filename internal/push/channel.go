package push

import (
	"context"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// Channel is the streaming transport contract the delivery controller
// depends on. A channel is reusable: Disconnect followed by Connect opens a
// fresh transport while the event streams stay valid.
type Channel interface {
	// Connect establishes the transport. A timeout or failure returns an
	// error; the caller decides whether to fall back to pull.
	Connect(ctx context.Context) error

	// SubscribeBatch subscribes all keys in one command.
	SubscribeBatch(ctx context.Context, keys []symbol.Key, detail model.Detail) error

	// Unsubscribe removes one key from the stream.
	Unsubscribe(ctx context.Context, key symbol.Key) error

	// Disconnect tears the transport down. Idempotent and safe to call when
	// not connected.
	Disconnect() error

	// IsConnected returns current connection state.
	IsConnected() bool

	// Ticks returns the inbound price update stream.
	Ticks() <-chan TickEvent

	// Depth returns the inbound order-book update stream.
	Depth() <-chan DepthEvent

	// Status returns the connection status stream.
	Status() <-chan StatusEvent
}
