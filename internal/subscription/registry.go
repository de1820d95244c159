package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// Entry records one watched symbol.
type Entry struct {
	ID           uuid.UUID    // Stable identity, assigned on first Add
	Key          symbol.Key   // Canonical venue+symbol key
	Detail       model.Detail // Requested delivery detail
	SubscribedAt time.Time    // When the symbol was first subscribed
}

// Registry holds the current subscription set. All accessors are safe for
// concurrent use; snapshots returned by Keys and Entries are copies.
type Registry struct {
	mu      sync.RWMutex
	entries map[symbol.Key]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[symbol.Key]*Entry),
	}
}

// Add registers a key. Re-adding an existing key updates the detail and
// preserves the entry's identity and subscription time.
func (r *Registry) Add(k symbol.Key, detail model.Detail) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[k]; ok {
		e.Detail = detail
		return *e
	}

	e := &Entry{
		ID:           uuid.New(),
		Key:          k,
		Detail:       detail,
		SubscribedAt: time.Now(),
	}
	r.entries[k] = e
	return *e
}

// Remove deletes a key. Removing an absent key is a no-op; the return value
// reports whether anything was removed.
func (r *Registry) Remove(k symbol.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[k]; !ok {
		return false
	}
	delete(r.entries, k)
	return true
}

// Get returns the entry for a key.
func (r *Registry) Get(k symbol.Key) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[k]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsEmpty reports whether no symbols are registered.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// Len returns the number of registered symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns a snapshot of all registered keys.
func (r *Registry) Keys() []symbol.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]symbol.Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Entries returns a snapshot of all entries.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}
