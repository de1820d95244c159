package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quotedesk/marketfeed/internal/model"
)

// DB is the slice of the connection pool the recorder needs.
// *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds recorder configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before flushing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: 1 * time.Second,
	}
}

// Metrics tracks recorder counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// tickRow is the quote_ticks table shape.
type tickRow struct {
	ExchangeTS int64
	ReceivedAt int64
	Venue      string
	Symbol     string
	LastPrice  float64
	Bid        float64
	Ask        float64
	Volume     int64
	Source     string
}

// TickRecorder batches delivered ticks and writes them to the tick store.
type TickRecorder struct {
	cfg    Config
	logger *slog.Logger

	db DB

	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a TickRecorder.
func New(cfg Config, db DB, logger *slog.Logger) *TickRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickRecorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (r *TickRecorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("tick recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the flush loop and writes any remaining rows.
func (r *TickRecorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping tick recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("tick recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("tick recorder stop timed out")
	}

	// Final flush runs on the caller's context; r.ctx is already cancelled
	// and would fail the insert.
	r.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (r *TickRecorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// Record adds one delivered tick to the batch. Safe to use as an emitter
// sink.
func (r *TickRecorder) Record(tk model.Tick) {
	row := r.transform(tk)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// flushLoop periodically flushes the batch.
func (r *TickRecorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// transform converts a Tick to a tickRow.
func (r *TickRecorder) transform(tk model.Tick) tickRow {
	return tickRow{
		ExchangeTS: tk.ExchangeTS,
		ReceivedAt: tk.ReceivedAt,
		Venue:      tk.Key.Venue,
		Symbol:     tk.Key.Symbol,
		LastPrice:  tk.LastPrice,
		Bid:        tk.Bid,
		Ask:        tk.Ask,
		Volume:     tk.Volume,
		Source:     tk.Source,
	}
}

// flush writes the current batch to the database.
func (r *TickRecorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]tickRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *TickRecorder) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO quote_ticks (exchange_ts, received_at, venue, symbol, last_price, bid, ask, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (venue, symbol, received_at) DO NOTHING
		`, row.ExchangeTS, row.ReceivedAt, row.Venue, row.Symbol, row.LastPrice, row.Bid, row.Ask, row.Volume, row.Source)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
