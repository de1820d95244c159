// Package recorder persists delivered ticks to TimescaleDB in batches.
//
// The recorder hangs off the emitter as a tick sink: Record never blocks the
// dispatch path beyond a mutex-guarded append. Rows flush when the batch
// fills or on a timer, whichever comes first, using append-only inserts with
// ON CONFLICT DO NOTHING.
package recorder
