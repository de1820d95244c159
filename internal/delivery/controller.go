package delivery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/subscription"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// Controller is the delivery-mode state machine. Subscribe and Unsubscribe
// return immediately; network work happens asynchronously and transient
// failures surface only in logs and the mode, never as errors to the caller.
type Controller struct {
	cfg      Config
	registry *subscription.Registry
	clock    SessionClock
	channel  push.Channel
	batcher  Batcher
	sink     Sink
	logger   *slog.Logger

	mode atomic.Int32

	// inTransition serializes mode transitions: a trigger arriving while a
	// connect/disconnect is in flight is dropped, not queued.
	inTransition atomic.Bool

	stopped atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. Zero config durations take defaults.
func New(cfg Config, registry *subscription.Registry, clock SessionClock, channel push.Channel, batcher Batcher, sink Sink, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.SessionCheckInterval <= 0 {
		cfg.SessionCheckInterval = def.SessionCheckInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		registry: registry,
		clock:    clock,
		channel:  channel,
		batcher:  batcher,
		sink:     sink,
		logger:   logger,
	}
}

// Start launches the event loop and the session monitor.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.eventLoop()
	go c.sessionLoop()

	c.logger.Info("delivery controller started",
		"venue", c.cfg.Venue,
		"session_check_interval", c.cfg.SessionCheckInterval,
	)
	return nil
}

// Shutdown tears down any active path and stops all loops. Safe to call more
// than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.teardown()
	c.mode.Store(int32(ModeUninitialized))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("delivery controller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mode returns the current delivery mode.
func (c *Controller) Mode() Mode {
	return Mode(c.mode.Load())
}

// Live reports whether the streaming path is serving subscribers.
func (c *Controller) Live() bool {
	return c.Mode() == ModePushActive
}

// Status returns a snapshot for health reporting.
func (c *Controller) Status() Status {
	m := c.Mode()
	return Status{
		Mode:          m,
		ModeLabel:     m.String(),
		Live:          m == ModePushActive,
		Subscriptions: c.registry.Len(),
		SessionOpen:   c.clock.IsOpen(c.cfg.Venue, time.Now()),
	}
}

// Subscribe registers one key. Idempotent; re-subscribing updates the detail.
func (c *Controller) Subscribe(key symbol.Key, detail model.Detail) {
	c.SubscribeBatch([]symbol.Key{key}, detail)
}

// SubscribeBatch registers keys and ensures a delivery path serves them.
func (c *Controller) SubscribeBatch(keys []symbol.Key, detail model.Detail) {
	if c.stopped.Load() || len(keys) == 0 {
		return
	}
	if !detail.Valid() {
		c.logger.Warn("unknown delivery detail, using quote", "detail", string(detail))
		detail = model.DetailQuote
	}

	for _, k := range keys {
		c.registry.Add(k, detail)
	}

	switch c.Mode() {
	case ModeUninitialized:
		c.activate()
	case ModePushActive:
		c.pushSubscribe(keys, detail)
	case ModePullActive:
		c.batcher.Enqueue(keys)
	case ModeTransitioning:
		// The in-flight transition re-reads the registry when it resolves.
	}
}

// Unsubscribe removes one key. Removing an unknown key is a no-op. Removing
// the last key tears down the active path.
func (c *Controller) Unsubscribe(key symbol.Key) {
	if c.stopped.Load() {
		return
	}
	if !c.registry.Remove(key) {
		return
	}

	if c.registry.IsEmpty() {
		c.deactivate()
		return
	}

	if c.Mode() == ModePushActive {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
			defer cancel()
			if err := c.channel.Unsubscribe(ctx, key); err != nil {
				c.logger.Warn("push unsubscribe failed", "key", key.String(), "err", err)
			}
		}()
	}
}

// activate picks the initial path for the first subscription: push when the
// session is open, pull otherwise.
func (c *Controller) activate() {
	if c.clock.IsOpen(c.cfg.Venue, time.Now()) {
		c.tryPush("first subscription, session open")
		return
	}

	if !c.inTransition.CompareAndSwap(false, true) {
		return
	}
	c.enterPull("first subscription, session closed")
	c.inTransition.Store(false)
	c.maybeDeactivate()
}

// tryPush attempts a transition to the push path. On connect failure or
// timeout it falls back to pull; either way the transition resolves.
func (c *Controller) tryPush(reason string) {
	if !c.inTransition.CompareAndSwap(false, true) {
		return
	}
	c.mode.Store(int32(ModeTransitioning))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connectOrFallback(reason)
		c.inTransition.Store(false)
		c.maybeDeactivate()
	}()
}

func (c *Controller) connectOrFallback(reason string) {
	if c.stopped.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	err := c.channel.Connect(ctx)
	cancel()

	if err != nil {
		c.logger.Warn("push connect failed, using pull",
			"reason", reason,
			"err", err,
		)
		c.enterPull(reason)
		return
	}

	c.batcher.StopRefresh()
	c.batcher.CancelPending()
	c.mode.Store(int32(ModePushActive))
	c.logger.Info("push path active", "reason", reason)

	c.pushSubscribeAll()
}

// switchToPull moves from push to pull after a session close or channel
// failure.
func (c *Controller) switchToPull(reason string) {
	if !c.inTransition.CompareAndSwap(false, true) {
		return
	}
	c.mode.Store(int32(ModeTransitioning))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.channel.Disconnect(); err != nil {
			c.logger.Warn("push disconnect failed", "err", err)
		}
		c.enterPull(reason)
		c.inTransition.Store(false)
		c.maybeDeactivate()
	}()
}

// enterPull makes the pull path active: stage every registered key for a
// coalesced fetch and start the periodic refresh.
func (c *Controller) enterPull(reason string) {
	if c.stopped.Load() {
		return
	}

	c.mode.Store(int32(ModePullActive))

	keys := c.registry.Keys()
	if len(keys) > 0 {
		c.batcher.Enqueue(keys)
	}
	c.batcher.StartRefresh()

	c.logger.Info("pull path active", "reason", reason, "symbols", len(keys))
}

// pushSubscribeAll subscribes the full registry on the channel, one batch per
// detail level.
func (c *Controller) pushSubscribeAll() {
	byDetail := make(map[model.Detail][]symbol.Key)
	for _, e := range c.registry.Entries() {
		byDetail[e.Detail] = append(byDetail[e.Detail], e.Key)
	}

	for detail, keys := range byDetail {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		err := c.channel.SubscribeBatch(ctx, keys, detail)
		cancel()
		if err != nil {
			c.logger.Warn("push batch subscribe failed",
				"detail", string(detail),
				"keys", len(keys),
				"err", err,
			)
		}
	}
}

// pushSubscribe subscribes a key set asynchronously while already push-active.
func (c *Controller) pushSubscribe(keys []symbol.Key, detail model.Detail) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()
		if err := c.channel.SubscribeBatch(ctx, keys, detail); err != nil {
			c.logger.Warn("push subscribe failed", "keys", len(keys), "err", err)
		}
	}()
}

// deactivate tears down the active path once the registry is empty.
func (c *Controller) deactivate() {
	if !c.inTransition.CompareAndSwap(false, true) {
		// An in-flight transition rechecks the registry when it resolves.
		return
	}

	c.teardown()
	c.mode.Store(int32(ModeUninitialized))
	c.logger.Info("no subscriptions left, delivery paths torn down")
	c.inTransition.Store(false)

	// A subscribe racing the teardown can land while the guard is held and
	// have its staged keys cancelled. Recheck and bring a path back up for
	// it, the converse of maybeDeactivate.
	if !c.stopped.Load() && !c.registry.IsEmpty() {
		c.activate()
	}
}

// maybeDeactivate handles a registry that emptied while a transition was in
// flight.
func (c *Controller) maybeDeactivate() {
	if c.stopped.Load() || !c.registry.IsEmpty() {
		return
	}
	if c.Mode() == ModeUninitialized {
		return
	}
	c.deactivate()
}

// teardown stops both paths. Idempotent; each component tolerates being
// stopped when not running.
func (c *Controller) teardown() {
	if err := c.channel.Disconnect(); err != nil {
		c.logger.Warn("disconnect during teardown failed", "err", err)
	}
	c.batcher.StopRefresh()
	c.batcher.CancelPending()
}

// eventLoop routes inbound channel events: data to the sink, status changes
// to the state machine.
func (c *Controller) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.channel.Ticks():
			if !ok {
				return
			}
			c.sink.HandlePushTick(ev)
		case ev, ok := <-c.channel.Depth():
			if !ok {
				return
			}
			c.sink.HandlePushDepth(ev)
		case st, ok := <-c.channel.Status():
			if !ok {
				return
			}
			c.handleStatus(st)
		}
	}
}

func (c *Controller) handleStatus(st push.StatusEvent) {
	switch st.State {
	case push.StateConnected:
		c.logger.Info("push channel connected")
	case push.StateDisconnected, push.StateError:
		if c.Mode() == ModePushActive {
			c.logger.Warn("push channel lost",
				"state", string(st.State),
				"err", st.Err,
			)
			c.switchToPull("channel failure")
		}
	}
}

// sessionLoop re-evaluates the session clock on a fixed interval.
func (c *Controller) sessionLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SessionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.checkSession()
		}
	}
}

// checkSession requests a mode transition when the active path no longer
// matches the session state. A still-failing push connect leaves the pull
// path active; the next tick retries.
func (c *Controller) checkSession() {
	if c.registry.IsEmpty() {
		return
	}

	open := c.clock.IsOpen(c.cfg.Venue, time.Now())

	switch c.Mode() {
	case ModeUninitialized:
		// Subscribers exist but no path is serving them; a subscribe lost a
		// race with a teardown. Bring a path up.
		c.activate()
	case ModePullActive:
		if open {
			c.tryPush("session open")
		}
	case ModePushActive:
		if !open {
			c.switchToPull("session closed")
		}
	}
}
