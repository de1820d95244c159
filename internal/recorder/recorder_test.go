package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// fakeDB records the context and row count of every SendBatch call.
type fakeDB struct {
	mu   sync.Mutex
	ctxs []context.Context
	rows []int
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs = append(f.ctxs, ctx)
	f.rows = append(f.rows, b.Len())
	return &fakeResults{}
}

func (f *fakeDB) calls() ([]context.Context, []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]context.Context(nil), f.ctxs...), append([]int(nil), f.rows...)
}

// fakeResults reports every queued insert as affecting one row.
type fakeResults struct{}

func (f *fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeResults) Query() (pgx.Rows, error) { return nil, nil }
func (f *fakeResults) QueryRow() pgx.Row        { return nil }
func (f *fakeResults) Close() error             { return nil }

func TestTickRecorder_Transform(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)

	tk := model.Tick{
		Key:        symbol.New("NASDAQ", "AAPL"),
		LastPrice:  231.5,
		Bid:        231.4,
		Ask:        231.6,
		Volume:     125000,
		Source:     model.SourcePush,
		ExchangeTS: 1756100000000000,
		ReceivedAt: 1756100000000150,
	}

	row := r.transform(tk)

	if row.Venue != "NASDAQ" {
		t.Errorf("Venue = %s, want NASDAQ", row.Venue)
	}
	if row.Symbol != "AAPL" {
		t.Errorf("Symbol = %s, want AAPL", row.Symbol)
	}
	if row.LastPrice != 231.5 {
		t.Errorf("LastPrice = %v, want 231.5", row.LastPrice)
	}
	if row.ExchangeTS != 1756100000000000 {
		t.Errorf("ExchangeTS = %d, want 1756100000000000", row.ExchangeTS)
	}
	if row.ReceivedAt != 1756100000000150 {
		t.Errorf("ReceivedAt = %d, want 1756100000000150", row.ReceivedAt)
	}
	if row.Source != model.SourcePush {
		t.Errorf("Source = %s, want %s", row.Source, model.SourcePush)
	}
}

func TestTickRecorder_RecordAddsToBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	r := New(cfg, nil, nil)

	r.Record(model.Tick{Key: symbol.New("NASDAQ", "AAPL"), LastPrice: 1})
	r.Record(model.Tick{Key: symbol.New("NASDAQ", "MSFT"), LastPrice: 2})

	r.batchMu.Lock()
	batchLen := len(r.batch)
	r.batchMu.Unlock()

	if batchLen != 2 {
		t.Errorf("batch length = %d, want 2", batchLen)
	}
}

func TestTickRecorder_Lifecycle(t *testing.T) {
	cfg := Config{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	r := New(cfg, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestTickRecorder_StopFlushesFinalBatch(t *testing.T) {
	db := &fakeDB{}
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	r := New(cfg, db, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Below BatchSize, so the row sits in the batch until Stop.
	r.Record(model.Tick{Key: symbol.New("NASDAQ", "AAPL"), LastPrice: 1})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ctxs, rows := db.calls()
	if len(ctxs) != 1 {
		t.Fatalf("SendBatch calls = %d, want 1", len(ctxs))
	}
	if err := ctxs[0].Err(); err != nil {
		t.Errorf("final flush ran on a done context: %v", err)
	}
	if rows[0] != 1 {
		t.Errorf("final batch rows = %d, want 1", rows[0])
	}
	if got := r.Stats().Inserts; got != 1 {
		t.Errorf("Inserts = %d, want 1", got)
	}
}

func TestTickRecorder_Stats(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Flushes != 0 {
		t.Errorf("initial Flushes = %d, want 0", stats.Flushes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
