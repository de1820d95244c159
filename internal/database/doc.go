// Package database manages the TimescaleDB connection pool used by the tick
// recorder. The pool is optional: the feed engine runs fully in-memory when
// recording is disabled.
package database
