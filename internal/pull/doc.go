// Package pull implements the broker's request/response quote client.
//
// The pull client:
//   - Fetches current quotes for a batch of wire symbols in one call
//   - Retries retryable failures with exponential backoff and jitter
//   - Surfaces rate-limit rejections as typed errors so the scheduler can
//     back off the affected chunk only
//
// Chunking to the provider's max-symbols-per-call and pacing between chunks
// belong to the scheduler package; this client issues single calls.
package pull
