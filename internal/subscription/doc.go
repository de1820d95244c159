// Package subscription implements the watched-symbol registry.
//
// The registry:
//   - Tracks every symbol a consumer has asked for, with its delivery detail
//   - Is the single source of truth consulted by the delivery controller,
//     the batch fetch scheduler, and the push channel wiring
//   - Never issues network calls; it is pure bookkeeping
package subscription
