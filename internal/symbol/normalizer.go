package symbol

import (
	"fmt"
	"strings"
	"sync"
)

// Normalizer converts between canonical keys and a broker's wire symbols.
// The feed core invokes it before every network call; nothing past this
// boundary ever sees a wire symbol.
type Normalizer interface {
	// WireSymbol returns the broker's wire format for a canonical key.
	WireSymbol(k Key) (string, error)

	// CanonicalKey resolves an inbound wire symbol back to a canonical key.
	CanonicalKey(wire string) (Key, bool)
}

// MapNormalizer is a rule-based Normalizer for a single-venue broker
// adapter: wire symbols are the canonical symbol wrapped in an optional
// prefix/suffix, with an override table for irregular instruments.
type MapNormalizer struct {
	venue  string
	prefix string
	suffix string

	mu        sync.RWMutex
	overrides map[Key]string // canonical → wire
	reverse   map[string]Key // wire → canonical
}

// NewMapNormalizer creates a normalizer bound to a venue.
func NewMapNormalizer(venue, prefix, suffix string) *MapNormalizer {
	return &MapNormalizer{
		venue:     strings.ToUpper(venue),
		prefix:    prefix,
		suffix:    suffix,
		overrides: make(map[Key]string),
		reverse:   make(map[string]Key),
	}
}

// Override pins an explicit wire symbol for a canonical key.
func (n *MapNormalizer) Override(k Key, wire string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overrides[k] = wire
	n.reverse[wire] = k
}

// WireSymbol returns the broker wire format for k.
func (n *MapNormalizer) WireSymbol(k Key) (string, error) {
	if k.IsZero() || k.Symbol == "" {
		return "", fmt.Errorf("empty symbol key")
	}
	if k.Venue != n.venue {
		return "", fmt.Errorf("key %s does not belong to venue %s", k, n.venue)
	}

	n.mu.RLock()
	wire, ok := n.overrides[k]
	n.mu.RUnlock()
	if ok {
		return wire, nil
	}

	return n.prefix + k.Symbol + n.suffix, nil
}

// CanonicalKey resolves a wire symbol to its canonical key.
func (n *MapNormalizer) CanonicalKey(wire string) (Key, bool) {
	if wire == "" {
		return Key{}, false
	}

	n.mu.RLock()
	k, ok := n.reverse[wire]
	n.mu.RUnlock()
	if ok {
		return k, true
	}

	sym := wire
	if n.prefix != "" {
		if !strings.HasPrefix(sym, n.prefix) {
			return Key{}, false
		}
		sym = strings.TrimPrefix(sym, n.prefix)
	}
	if n.suffix != "" {
		if !strings.HasSuffix(sym, n.suffix) {
			return Key{}, false
		}
		sym = strings.TrimSuffix(sym, n.suffix)
	}
	if sym == "" {
		return Key{}, false
	}

	return New(n.venue, sym), true
}
