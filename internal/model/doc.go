// Package model defines the canonical data shapes that cross the feed
// engine's boundary: ticks, depth snapshots, and the requested delivery
// detail. Everything here is transient; ownership transfers to the consumer
// on delivery and nothing is persisted by the engine itself.
package model
