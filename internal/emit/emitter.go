package emit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/pull"
	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// outbound is one queued delivery: exactly one of tick or depth is set.
type outbound struct {
	tick  *model.Tick
	depth *model.DepthSnapshot
}

// Emitter normalizes inbound records and dispatches them to consumer sinks.
type Emitter struct {
	norm   symbol.Normalizer
	logger *slog.Logger

	queue *Queue[outbound]

	// Consumer sinks; one replaceable subscriber per event kind.
	sinkMu  sync.RWMutex
	onTick  func(model.Tick)
	onDepth func(model.DepthSnapshot)

	wg sync.WaitGroup
}

// NewEmitter creates an emitter.
func NewEmitter(norm symbol.Normalizer, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		norm:   norm,
		logger: logger,
		queue:  NewQueue[outbound](1024),
	}
}

// OnTick registers the tick sink, replacing any previous one.
func (e *Emitter) OnTick(fn func(model.Tick)) {
	e.sinkMu.Lock()
	e.onTick = fn
	e.sinkMu.Unlock()
}

// OnDepth registers the depth sink, replacing any previous one.
func (e *Emitter) OnDepth(fn func(model.DepthSnapshot)) {
	e.sinkMu.Lock()
	e.onDepth = fn
	e.sinkMu.Unlock()
}

// Start begins the dispatch goroutine.
func (e *Emitter) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.dispatchLoop()
	return nil
}

// Stop drains and shuts down the dispatcher.
func (e *Emitter) Stop(ctx context.Context) error {
	e.queue.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns dispatch queue counters.
func (e *Emitter) Stats() QueueStats {
	return e.queue.Stats()
}

// HandlePushTick normalizes and queues a streaming tick.
func (e *Emitter) HandlePushTick(ev push.TickEvent) {
	key, ok := e.norm.CanonicalKey(ev.WireSymbol)
	if !ok {
		e.logger.Debug("dropping tick for unknown wire symbol", "sym", ev.WireSymbol)
		return
	}

	e.queue.Push(outbound{tick: &model.Tick{
		Key:           key,
		LastPrice:     ev.Last,
		Open:          ev.Open,
		High:          ev.High,
		Low:           ev.Low,
		PrevClose:     ev.PrevClose,
		Volume:        ev.Volume,
		Change:        ev.Change,
		ChangePercent: ev.ChangePercent,
		Bid:           ev.Bid,
		Ask:           ev.Ask,
		Source:        model.SourcePush,
		ExchangeTS:    ev.ExchangeTS,
		ReceivedAt:    ev.ReceivedAt.UnixMicro(),
	}})
}

// HandlePushDepth normalizes and queues a streaming depth update.
func (e *Emitter) HandlePushDepth(ev push.DepthEvent) {
	key, ok := e.norm.CanonicalKey(ev.WireSymbol)
	if !ok {
		e.logger.Debug("dropping depth for unknown wire symbol", "sym", ev.WireSymbol)
		return
	}

	e.queue.Push(outbound{depth: &model.DepthSnapshot{
		Key:        key,
		Bids:       levels(ev.Bids),
		Asks:       levels(ev.Asks),
		Source:     model.SourcePush,
		ExchangeTS: ev.ExchangeTS,
		ReceivedAt: ev.ReceivedAt.UnixMicro(),
	}})
}

// HandleQuotes normalizes and queues a batch of pulled quote records.
// Implements the scheduler's QuoteHandler.
func (e *Emitter) HandleQuotes(recs []pull.QuoteRecord) error {
	now := time.Now().UnixMicro()

	for _, rec := range recs {
		key, ok := e.norm.CanonicalKey(rec.Symbol)
		if !ok {
			e.logger.Debug("dropping quote for unknown wire symbol", "sym", rec.Symbol)
			continue
		}

		e.queue.Push(outbound{tick: &model.Tick{
			Key:           key,
			LastPrice:     rec.Last,
			Open:          rec.Open,
			High:          rec.High,
			Low:           rec.Low,
			PrevClose:     rec.PrevClose,
			Volume:        rec.Volume,
			Change:        rec.Change,
			ChangePercent: rec.ChangePercent,
			Bid:           rec.Bid,
			Ask:           rec.Ask,
			Source:        model.SourcePull,
			ExchangeTS:    rec.Timestamp,
			ReceivedAt:    now,
		}})

		if len(rec.Bids) > 0 || len(rec.Asks) > 0 {
			e.queue.Push(outbound{depth: &model.DepthSnapshot{
				Key:        key,
				Bids:       levels(rec.Bids),
				Asks:       levels(rec.Asks),
				Source:     model.SourcePull,
				ExchangeTS: rec.Timestamp,
				ReceivedAt: now,
			}})
		}
	}

	return nil
}

// dispatchLoop drains the queue and invokes consumer sinks.
func (e *Emitter) dispatchLoop() {
	defer e.wg.Done()

	for {
		item, ok := e.queue.Pop()
		if !ok {
			return
		}

		e.sinkMu.RLock()
		onTick := e.onTick
		onDepth := e.onDepth
		e.sinkMu.RUnlock()

		switch {
		case item.tick != nil:
			if onTick != nil {
				onTick(*item.tick)
			}
		case item.depth != nil:
			if onDepth != nil {
				onDepth(*item.depth)
			}
		}
	}
}

// levels converts wire [price, size] pairs to PriceLevels.
func levels(raw [][2]float64) []model.PriceLevel {
	if len(raw) == 0 {
		return nil
	}
	out := make([]model.PriceLevel, len(raw))
	for i, l := range raw {
		out[i] = model.PriceLevel{Price: l[0], Size: int64(l[1])}
	}
	return out
}
