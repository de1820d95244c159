package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/quotedesk/marketfeed/internal/pull"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// KeySource provides the full set of keys to refresh.
type KeySource interface {
	Keys() []symbol.Key
}

// QuoteFetcher issues one batched pull call.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]pull.QuoteRecord, error)
}

// QuoteHandler receives fetched quote records.
type QuoteHandler interface {
	HandleQuotes(recs []pull.QuoteRecord) error
}

// QuoteHandlerFunc is a function adapter for QuoteHandler.
type QuoteHandlerFunc func([]pull.QuoteRecord) error

func (f QuoteHandlerFunc) HandleQuotes(recs []pull.QuoteRecord) error {
	return f(recs)
}

// Config holds batch fetcher configuration.
type Config struct {
	RefreshInterval   time.Duration // Full-registry refresh cadence (default: 10s)
	Debounce          time.Duration // Coalescing window for subscribe bursts (default: 200ms)
	BatchCap          int           // Max symbols per pull call (default: 50)
	ChunkDelay        time.Duration // Minimum delay between chunks (default: 500ms)
	RequestsPerSecond float64       // Pull-call rate limit (default: 2)
	RateLimitBackoff  time.Duration // Extended backoff after a 429 (default: 5s)
	FetchTimeout      time.Duration // Per-call timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval:   10 * time.Second,
		Debounce:          200 * time.Millisecond,
		BatchCap:          50,
		ChunkDelay:        500 * time.Millisecond,
		RequestsPerSecond: 2,
		RateLimitBackoff:  5 * time.Second,
		FetchTimeout:      10 * time.Second,
	}
}

// BatchFetcher coalesces ad-hoc subscribes and runs the periodic refresh.
type BatchFetcher struct {
	cfg     Config
	fetcher QuoteFetcher
	source  KeySource
	handler QuoteHandler
	norm    symbol.Normalizer
	logger  *slog.Logger

	limiter *rate.Limiter

	// Pending coalesced fetch. The debounce timer is a single slot:
	// replacing it always stops the previous handle first.
	mu       sync.Mutex
	pending  map[symbol.Key]struct{}
	debounce *time.Timer

	// Refresh loop control.
	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc

	inFlight atomic.Bool // at most one refresh cycle at a time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a BatchFetcher. Zero config fields fall back to defaults; a
// zero BatchCap or rate would otherwise stall fetching outright.
func New(cfg Config, fetcher QuoteFetcher, source KeySource, handler QuoteHandler, norm symbol.Normalizer, logger *slog.Logger) *BatchFetcher {
	def := DefaultConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.BatchCap <= 0 {
		cfg.BatchCap = def.BatchCap
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = def.ChunkDelay
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchFetcher{
		cfg:     cfg,
		fetcher: fetcher,
		source:  source,
		handler: handler,
		norm:    norm,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		pending: make(map[symbol.Key]struct{}),
	}
}

// Start binds the fetcher's lifetime to ctx. It does not start the refresh
// loop; that is the delivery controller's call to make.
func (b *BatchFetcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	return nil
}

// Stop cancels everything: the refresh loop, any pending debounce, and any
// in-flight fetch. Safe to call more than once.
func (b *BatchFetcher) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.CancelPending()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue adds keys to the pending set and (re)starts the debounce window.
// When the window elapses, all accumulated keys go out in one coalesced
// fetch.
func (b *BatchFetcher) Enqueue(keys []symbol.Key) {
	if len(keys) == 0 {
		return
	}

	b.mu.Lock()
	for _, k := range keys {
		b.pending[k] = struct{}{}
	}
	if b.debounce != nil {
		b.debounce.Stop()
	}
	b.debounce = time.AfterFunc(b.cfg.Debounce, b.fireDebounce)
	b.mu.Unlock()
}

// Flush fires any pending debounced fetch immediately.
func (b *BatchFetcher) Flush() {
	b.mu.Lock()
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.mu.Unlock()

	b.fireDebounce()
}

// CancelPending drops the pending set and stops the debounce timer without
// fetching.
func (b *BatchFetcher) CancelPending() {
	b.mu.Lock()
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.pending = make(map[symbol.Key]struct{})
	b.mu.Unlock()
}

// StartRefresh begins the periodic full-registry refresh loop. No-op if the
// loop is already running.
func (b *BatchFetcher) StartRefresh() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	if b.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.refreshCancel = cancel

	b.wg.Add(1)
	go b.refreshLoop(ctx)

	b.logger.Info("refresh loop started",
		"interval", b.cfg.RefreshInterval,
		"batch_cap", b.cfg.BatchCap,
	)
}

// StopRefresh stops the periodic refresh loop. No-op if not running.
func (b *BatchFetcher) StopRefresh() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	if b.refreshCancel == nil {
		return
	}
	b.refreshCancel()
	b.refreshCancel = nil

	b.logger.Info("refresh loop stopped")
}

// RefreshRunning reports whether the periodic loop is active.
func (b *BatchFetcher) RefreshRunning() bool {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	return b.refreshCancel != nil
}

// fireDebounce drains the pending set and fetches it in one coalesced call.
func (b *BatchFetcher) fireDebounce() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	keys := make([]symbol.Key, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	b.pending = make(map[symbol.Key]struct{})
	b.debounce = nil
	b.mu.Unlock()

	if b.ctx == nil || b.ctx.Err() != nil {
		return
	}

	b.logger.Debug("coalesced fetch firing", "keys", len(keys))
	b.fetchKeys(b.ctx, keys)
}

// refreshLoop runs the periodic full-registry refresh.
func (b *BatchFetcher) refreshLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refreshCycle(ctx)
		}
	}
}

// refreshCycle fetches every registered key once. Guarded so a tick landing
// during a running cycle is dropped rather than stacking cycles.
func (b *BatchFetcher) refreshCycle(ctx context.Context) {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.logger.Debug("refresh cycle still in flight, skipping tick")
		return
	}
	defer b.inFlight.Store(false)

	keys := b.source.Keys()
	if len(keys) == 0 {
		return
	}

	start := time.Now()
	fetched := b.fetchKeys(ctx, keys)

	b.logger.Debug("refresh cycle complete",
		"symbols", len(keys),
		"fetched", fetched,
		"duration", time.Since(start),
	)
}

// fetchKeys fetches quotes for keys in chunks of at most BatchCap, pacing
// chunks with the rate limiter and the configured inter-chunk delay.
// Returns the number of records handed to the handler.
func (b *BatchFetcher) fetchKeys(ctx context.Context, keys []symbol.Key) int {
	total := 0

	for i := 0; i < len(keys); i += b.cfg.BatchCap {
		end := i + b.cfg.BatchCap
		if end > len(keys) {
			end = len(keys)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return total
			case <-time.After(b.cfg.ChunkDelay):
			}
		}

		total += b.fetchChunk(ctx, keys[i:end])
	}

	return total
}

// fetchChunk issues one pull call. Failures are skipped; a rate-limit
// rejection gets one extended backoff and one retry of this chunk only.
func (b *BatchFetcher) fetchChunk(ctx context.Context, keys []symbol.Key) int {
	wires := make([]string, 0, len(keys))
	for _, k := range keys {
		wire, err := b.norm.WireSymbol(k)
		if err != nil {
			b.logger.Warn("skipping unmappable key", "key", k.String(), "err", err)
			continue
		}
		wires = append(wires, wire)
	}
	if len(wires) == 0 {
		return 0
	}

	recs, err := b.doFetch(ctx, wires)
	if err != nil && pull.IsRateLimited(err) {
		b.logger.Warn("pull rate limited, backing off chunk",
			"symbols", len(wires),
			"backoff", b.cfg.RateLimitBackoff,
		)

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(b.cfg.RateLimitBackoff):
		}

		recs, err = b.doFetch(ctx, wires)
	}
	if err != nil {
		b.logger.Warn("chunk fetch failed, skipping",
			"symbols", len(wires),
			"err", err,
		)
		return 0
	}

	if b.handler != nil && len(recs) > 0 {
		if err := b.handler.HandleQuotes(recs); err != nil {
			b.logger.Warn("quote handler failed", "err", err)
			return 0
		}
	}

	return len(recs)
}

// doFetch waits for rate-limiter headroom and issues the call with the
// per-call timeout.
func (b *BatchFetcher) doFetch(ctx context.Context, wires []string) ([]pull.QuoteRecord, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
	defer cancel()

	return b.fetcher.FetchQuotes(fetchCtx, wires)
}
