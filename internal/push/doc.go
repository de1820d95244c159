// Package push defines the streaming-transport contract the feed engine
// depends on, plus its websocket binding.
//
// The channel:
//   - Connects with an explicit handshake timeout
//   - Batch-subscribes canonical keys (normalized to wire symbols on the way
//     out) with command/response correlation
//   - Exposes three inbound event streams: ticks, depth, connection status
//   - Detects stale connections via ping/pong heartbeat
//
// Recovery policy lives in the delivery controller: a failed or dropped
// channel is reported on the status stream and the controller decides
// whether to fall back to pull.
package push
