package model

import "github.com/quotedesk/marketfeed/internal/symbol"

// Detail is the delivery detail requested for a subscription.
type Detail string

const (
	// DetailQuote delivers price/volume ticks only.
	DetailQuote Detail = "quote"

	// DetailQuoteDepth delivers ticks plus order-book depth snapshots.
	DetailQuoteDepth Detail = "quote+depth"
)

// WantsDepth reports whether the detail includes order-book depth.
func (d Detail) WantsDepth() bool {
	return d == DetailQuoteDepth
}

// Valid reports whether d is a known detail level.
func (d Detail) Valid() bool {
	return d == DetailQuote || d == DetailQuoteDepth
}

// Delivery path markers stamped on outbound ticks.
const (
	SourcePush = "push" // streaming transport
	SourcePull = "pull" // scheduled REST polling
)

// -----------------------------------------------------------------------------
// Outbound Types
// -----------------------------------------------------------------------------

// Tick is a normalized price snapshot for one instrument.
type Tick struct {
	Key           symbol.Key // Canonical venue+symbol key
	LastPrice     float64    // Last traded price
	Open          float64    // Session open
	High          float64    // Session high
	Low           float64    // Session low
	PrevClose     float64    // Previous session close
	Volume        int64      // Session volume
	Change        float64    // Absolute change vs previous close
	ChangePercent float64    // Percent change vs previous close
	Bid           float64    // Best bid
	Ask           float64    // Best ask
	Source        string     // Delivery path: SourcePush or SourcePull
	ExchangeTS    int64      // Exchange timestamp (µs since epoch), 0 if not provided
	ReceivedAt    int64      // Local receive timestamp (µs since epoch)
}

// PriceLevel is a single order-book level.
type PriceLevel struct {
	Price float64 // Price at this level
	Size  int64   // Quantity resting at this price
}

// DepthSnapshot is a top-of-book depth view for one instrument.
type DepthSnapshot struct {
	Key        symbol.Key   // Canonical venue+symbol key
	Bids       []PriceLevel // Bid levels, best first
	Asks       []PriceLevel // Ask levels, best first
	Source     string       // Delivery path: SourcePush or SourcePull
	ExchangeTS int64        // Exchange timestamp (µs since epoch), 0 if not provided
	ReceivedAt int64        // Local receive timestamp (µs since epoch)
}
