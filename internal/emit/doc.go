// Package emit normalizes inbound market data into the canonical tick and
// depth shapes and delivers them to consumer callbacks.
//
// The emitter:
//   - Accepts push events and pull quote records, whichever path is active
//   - Maps wire symbols back to canonical keys via the symbol normalizer
//   - Is the only component that calls outward into consumer code, and does
//     so from its own dispatch goroutine so a slow consumer can never stall
//     the feed paths
package emit
