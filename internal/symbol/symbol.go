// Package symbol defines the canonical venue+symbol key used throughout the
// feed engine, and the Normalizer that translates between canonical keys and
// a broker's wire symbol format.
package symbol

import (
	"fmt"
	"strings"
)

// Key identifies an instrument by venue and canonical symbol.
// The zero value is not a valid key.
type Key struct {
	Venue  string // Exchange venue code (e.g., "NASDAQ")
	Symbol string // Canonical symbol (e.g., "AAPL")
}

// New builds a Key, upper-casing both parts.
func New(venue, sym string) Key {
	return Key{
		Venue:  strings.ToUpper(strings.TrimSpace(venue)),
		Symbol: strings.ToUpper(strings.TrimSpace(sym)),
	}
}

// String returns the canonical "VENUE:SYMBOL" form.
func (k Key) String() string {
	return k.Venue + ":" + k.Symbol
}

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool {
	return k.Venue == "" && k.Symbol == ""
}

// ParseKey parses a "VENUE:SYMBOL" string.
func ParseKey(s string) (Key, error) {
	venue, sym, ok := strings.Cut(s, ":")
	if !ok || venue == "" || sym == "" {
		return Key{}, fmt.Errorf("invalid symbol key %q (want VENUE:SYMBOL)", s)
	}
	return New(venue, sym), nil
}
