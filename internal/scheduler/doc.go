// Package scheduler implements the batched, rate-limited pull path.
//
// The batch fetcher:
//   - Coalesces bursts of new subscriptions into one debounced fetch
//   - Runs the periodic full-registry refresh while the pull path is active
//   - Chunks every fetch to the provider's max symbols per call, pacing
//     chunks through a rate limiter with a minimum inter-chunk delay
//   - Skips failed chunks and applies a one-time extended backoff to a
//     rate-limited chunk before retrying it once
//
// At most one refresh cycle is in flight at a time; a timer tick that lands
// while a cycle is still running is dropped.
package scheduler
