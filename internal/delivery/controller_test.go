package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quotedesk/marketfeed/internal/model"
	"github.com/quotedesk/marketfeed/internal/push"
	"github.com/quotedesk/marketfeed/internal/subscription"
	"github.com/quotedesk/marketfeed/internal/symbol"
)

// fakeChannel implements push.Channel with scripted connect results.
type fakeChannel struct {
	mu          sync.Mutex
	connectErr  error
	connected   bool
	connects    int
	disconnects int
	batches     [][]symbol.Key
	unsubs      []symbol.Key

	ticks  chan push.TickEvent
	depth  chan push.DepthEvent
	status chan push.StatusEvent
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		ticks:  make(chan push.TickEvent, 16),
		depth:  make(chan push.DepthEvent, 16),
		status: make(chan push.StatusEvent, 16),
	}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) SubscribeBatch(ctx context.Context, keys []symbol.Key, detail model.Detail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]symbol.Key(nil), keys...))
	return nil
}

func (f *fakeChannel) Unsubscribe(ctx context.Context, key symbol.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, key)
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Ticks() <-chan push.TickEvent    { return f.ticks }
func (f *fakeChannel) Depth() <-chan push.DepthEvent   { return f.depth }
func (f *fakeChannel) Status() <-chan push.StatusEvent { return f.status }

func (f *fakeChannel) setConnectErr(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *fakeChannel) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeBatcher records pull-side scheduling calls. A test can set the stop
// gate to hold StopRefresh open and widen teardown race windows.
type fakeBatcher struct {
	mu       sync.Mutex
	enqueued [][]symbol.Key
	running  bool
	starts   int
	stops    int
	cancels  int

	stopEntered chan struct{}
	stopRelease chan struct{}
}

func (f *fakeBatcher) Enqueue(keys []symbol.Key) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, append([]symbol.Key(nil), keys...))
	f.mu.Unlock()
}

func (f *fakeBatcher) CancelPending() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeBatcher) StartRefresh() {
	f.mu.Lock()
	f.running = true
	f.starts++
	f.mu.Unlock()
}

func (f *fakeBatcher) StopRefresh() {
	f.mu.Lock()
	entered, release := f.stopEntered, f.stopRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	f.running = false
	f.stops++
	f.mu.Unlock()
}

func (f *fakeBatcher) RefreshRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeBatcher) enqueuedKeys() map[symbol.Key]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[symbol.Key]bool)
	for _, call := range f.enqueued {
		for _, k := range call {
			seen[k] = true
		}
	}
	return seen
}

func (f *fakeBatcher) lastEnqueue() []symbol.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueued) == 0 {
		return nil
	}
	return f.enqueued[len(f.enqueued)-1]
}

// fakeClock reports a settable session state.
type fakeClock struct {
	open atomic.Bool
}

func (f *fakeClock) IsOpen(venue string, at time.Time) bool {
	return f.open.Load()
}

// fakeSink counts routed push events.
type fakeSink struct {
	ticks  atomic.Int64
	depths atomic.Int64
}

func (f *fakeSink) HandlePushTick(push.TickEvent)   { f.ticks.Add(1) }
func (f *fakeSink) HandlePushDepth(push.DepthEvent) { f.depths.Add(1) }

type fixture struct {
	ctrl     *Controller
	registry *subscription.Registry
	channel  *fakeChannel
	batcher  *fakeBatcher
	clock    *fakeClock
	sink     *fakeSink
}

func newFixture(t *testing.T, open bool) *fixture {
	t.Helper()

	fx := &fixture{
		registry: subscription.NewRegistry(),
		channel:  newFakeChannel(),
		batcher:  &fakeBatcher{},
		clock:    &fakeClock{},
		sink:     &fakeSink{},
	}
	fx.clock.open.Store(open)

	cfg := DefaultConfig()
	cfg.Venue = "NASDAQ"
	cfg.SessionCheckInterval = time.Hour // session checks driven manually
	cfg.ConnectTimeout = time.Second
	cfg.CallTimeout = time.Second

	fx.ctrl = New(cfg, fx.registry, fx.clock, fx.channel, fx.batcher, fx.sink, nil)
	if err := fx.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		fx.ctrl.Shutdown(ctx)
	})
	return fx
}

func keysN(n int) []symbol.Key {
	keys := make([]symbol.Key, n)
	for i := range keys {
		keys[i] = symbol.New("NASDAQ", fmt.Sprintf("S%03d", i))
	}
	return keys
}

func waitForMode(t *testing.T, c *Controller, want Mode) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Mode() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mode = %v, want %v", c.Mode(), want)
}

func TestController_ClosedVenueEntersPull(t *testing.T) {
	fx := newFixture(t, false)

	keys := keysN(3)
	for _, k := range keys {
		fx.ctrl.Subscribe(k, model.DetailQuote)
	}

	waitForMode(t, fx.ctrl, ModePullActive)

	seen := fx.batcher.enqueuedKeys()
	for _, k := range keys {
		if !seen[k] {
			t.Errorf("key %v never staged for pull", k)
		}
	}
	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop not started")
	}
	if n := fx.channel.batchCount(); n != 0 {
		t.Errorf("push batches = %d, want 0 while venue closed", n)
	}
}

func TestController_OpenVenueEntersPush(t *testing.T) {
	fx := newFixture(t, true)

	fx.ctrl.SubscribeBatch(keysN(60), model.DetailQuote)

	waitForMode(t, fx.ctrl, ModePushActive)

	if n := fx.channel.batchCount(); n != 1 {
		t.Fatalf("push batches = %d, want exactly 1", n)
	}
	fx.channel.mu.Lock()
	batch := fx.channel.batches[0]
	fx.channel.mu.Unlock()
	if len(batch) != 60 {
		t.Errorf("batch size = %d, want 60", len(batch))
	}

	fx.batcher.mu.Lock()
	pulls := len(fx.batcher.enqueued)
	fx.batcher.mu.Unlock()
	if pulls != 0 {
		t.Errorf("pull enqueues = %d, want 0 while push active", pulls)
	}
}

func TestController_ConnectFailureFallsBackToPull(t *testing.T) {
	fx := newFixture(t, true)
	fx.channel.setConnectErr(errors.New("dial refused"))

	keys := keysN(2)
	fx.ctrl.SubscribeBatch(keys, model.DetailQuote)

	waitForMode(t, fx.ctrl, ModePullActive)

	seen := fx.batcher.enqueuedKeys()
	if !seen[keys[0]] || !seen[keys[1]] {
		t.Error("keys not staged for pull after connect failure")
	}
	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop not started after connect failure")
	}
}

func TestController_ChannelDropSwitchesToPull(t *testing.T) {
	fx := newFixture(t, true)

	keys := keysN(10)
	fx.ctrl.SubscribeBatch(keys, model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePushActive)

	fx.channel.status <- push.StatusEvent{State: push.StateDisconnected, At: time.Now()}

	waitForMode(t, fx.ctrl, ModePullActive)

	last := fx.batcher.lastEnqueue()
	if len(last) != 10 {
		t.Errorf("pull staged %d keys after drop, want 10", len(last))
	}
	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop not started after drop")
	}
	if fx.channel.IsConnected() {
		t.Error("channel still connected after fallback")
	}
}

func TestController_UnsubscribeLastTearsDown(t *testing.T) {
	fx := newFixture(t, false)

	key := symbol.New("NASDAQ", "AAPL")
	fx.ctrl.Subscribe(key, model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePullActive)

	fx.ctrl.Unsubscribe(key)

	waitForMode(t, fx.ctrl, ModeUninitialized)
	if fx.batcher.RefreshRunning() {
		t.Error("refresh loop still running with empty registry")
	}

	fx.batcher.mu.Lock()
	cancels := fx.batcher.cancels
	fx.batcher.mu.Unlock()
	if cancels == 0 {
		t.Error("pending batch not cancelled on teardown")
	}
}

func TestController_SubscribeDuringTeardownKeepsPath(t *testing.T) {
	fx := newFixture(t, false)

	first := symbol.New("NASDAQ", "AAPL")
	fx.ctrl.Subscribe(first, model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePullActive)

	entered := make(chan struct{})
	release := make(chan struct{})
	fx.batcher.mu.Lock()
	fx.batcher.stopEntered = entered
	fx.batcher.stopRelease = release
	fx.batcher.mu.Unlock()

	done := make(chan struct{})
	go func() {
		fx.ctrl.Unsubscribe(first)
		close(done)
	}()

	// The teardown is now parked inside StopRefresh.
	<-entered

	// A new subscriber lands mid-teardown; its staged fetch is about to be
	// dropped by the teardown's CancelPending.
	second := symbol.New("NASDAQ", "MSFT")
	fx.ctrl.Subscribe(second, model.DetailQuote)

	fx.batcher.mu.Lock()
	fx.batcher.stopEntered = nil
	fx.batcher.mu.Unlock()
	close(release)
	<-done

	// The controller must notice the survivor and serve it rather than
	// parking on an empty-registry mode with a subscriber present.
	waitForMode(t, fx.ctrl, ModePullActive)

	if fx.registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", fx.registry.Len())
	}
	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop not running for surviving subscriber")
	}

	restaged := false
	for _, k := range fx.batcher.lastEnqueue() {
		if k == second {
			restaged = true
		}
	}
	if !restaged {
		t.Errorf("surviving key %v not restaged after teardown", second)
	}
}

func TestController_SessionOpenConnectFailStaysPull(t *testing.T) {
	fx := newFixture(t, false)

	fx.ctrl.SubscribeBatch(keysN(2), model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePullActive)

	// Venue opens but the push transport is down; each monitor pass retries
	// and leaves the pull path serving.
	fx.clock.open.Store(true)
	fx.channel.setConnectErr(errors.New("dial refused"))

	for i := 0; i < 3; i++ {
		fx.ctrl.checkSession()
		waitForMode(t, fx.ctrl, ModePullActive)
	}

	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop stopped despite failed connects")
	}
	fx.channel.mu.Lock()
	connects := fx.channel.connects
	fx.channel.mu.Unlock()
	if connects < 3 {
		t.Errorf("connect attempts = %d, want one per monitor pass", connects)
	}
}

func TestController_SessionTransitions(t *testing.T) {
	fx := newFixture(t, false)

	fx.ctrl.SubscribeBatch(keysN(4), model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePullActive)

	// Closed → open: monitor promotes to push.
	fx.clock.open.Store(true)
	fx.ctrl.checkSession()
	waitForMode(t, fx.ctrl, ModePushActive)

	if fx.batcher.RefreshRunning() {
		t.Error("refresh loop running while push active")
	}

	// Open → closed: monitor demotes to pull.
	fx.clock.open.Store(false)
	fx.ctrl.checkSession()
	waitForMode(t, fx.ctrl, ModePullActive)

	if fx.channel.IsConnected() {
		t.Error("channel connected while pull active")
	}
	if !fx.batcher.RefreshRunning() {
		t.Error("refresh loop not running while pull active")
	}
}

func TestController_UnsubscribeWhilePushActive(t *testing.T) {
	fx := newFixture(t, true)

	keys := keysN(2)
	fx.ctrl.SubscribeBatch(keys, model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePushActive)

	fx.ctrl.Unsubscribe(keys[0])

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fx.channel.mu.Lock()
		n := len(fx.channel.unsubs)
		fx.channel.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	fx.channel.mu.Lock()
	defer fx.channel.mu.Unlock()
	if len(fx.channel.unsubs) != 1 || fx.channel.unsubs[0] != keys[0] {
		t.Errorf("unsubs = %v, want [%v]", fx.channel.unsubs, keys[0])
	}
	if got := fx.ctrl.Mode(); got != ModePushActive {
		t.Errorf("mode = %v, want %v (one key remains)", got, ModePushActive)
	}
}

func TestController_UnknownKeyUnsubscribeIsNoop(t *testing.T) {
	fx := newFixture(t, false)

	fx.ctrl.Subscribe(symbol.New("NASDAQ", "AAPL"), model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePullActive)

	fx.ctrl.Unsubscribe(symbol.New("NASDAQ", "NOPE"))

	if got := fx.ctrl.Mode(); got != ModePullActive {
		t.Errorf("mode = %v, want %v", got, ModePullActive)
	}
	if fx.registry.Len() != 1 {
		t.Errorf("registry len = %d, want 1", fx.registry.Len())
	}
}

func TestController_ModeMatchesRegistryEmptiness(t *testing.T) {
	fx := newFixture(t, false)

	check := func(step string) {
		t.Helper()
		// Let any in-flight transition resolve.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			m := fx.ctrl.Mode()
			if m != ModeTransitioning && (m == ModeUninitialized) == fx.registry.IsEmpty() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("%s: mode = %v with registry len %d", step, fx.ctrl.Mode(), fx.registry.Len())
	}

	a := symbol.New("NASDAQ", "AAPL")
	b := symbol.New("NASDAQ", "MSFT")

	check("initial")
	fx.ctrl.Subscribe(a, model.DetailQuote)
	check("after first subscribe")
	fx.ctrl.Subscribe(b, model.DetailQuoteDepth)
	check("after second subscribe")
	fx.ctrl.Unsubscribe(a)
	check("after first unsubscribe")
	fx.ctrl.Unsubscribe(b)
	check("after last unsubscribe")
	fx.ctrl.Subscribe(a, model.DetailQuote)
	check("after resubscribe")
}

func TestController_RoutesPushEventsToSink(t *testing.T) {
	fx := newFixture(t, true)

	fx.ctrl.Subscribe(symbol.New("NASDAQ", "AAPL"), model.DetailQuoteDepth)
	waitForMode(t, fx.ctrl, ModePushActive)

	fx.channel.ticks <- push.TickEvent{WireSymbol: "AAPL", Last: 231.5, ReceivedAt: time.Now()}
	fx.channel.depth <- push.DepthEvent{WireSymbol: "AAPL", ReceivedAt: time.Now()}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fx.sink.ticks.Load() == 1 && fx.sink.depths.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("sink got %d ticks / %d depths, want 1/1", fx.sink.ticks.Load(), fx.sink.depths.Load())
}

func TestController_ShutdownIdempotent(t *testing.T) {
	fx := newFixture(t, true)

	fx.ctrl.Subscribe(symbol.New("NASDAQ", "AAPL"), model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePushActive)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := fx.ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := fx.ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}

	if fx.channel.IsConnected() {
		t.Error("channel still connected after shutdown")
	}
	if fx.batcher.RefreshRunning() {
		t.Error("refresh loop still running after shutdown")
	}
	if got := fx.ctrl.Mode(); got != ModeUninitialized {
		t.Errorf("mode = %v, want %v", got, ModeUninitialized)
	}
}

func TestController_StatusSnapshot(t *testing.T) {
	fx := newFixture(t, true)

	fx.ctrl.SubscribeBatch(keysN(3), model.DetailQuote)
	waitForMode(t, fx.ctrl, ModePushActive)

	st := fx.ctrl.Status()
	if !st.Live {
		t.Error("Live = false while push active")
	}
	if st.ModeLabel != "push_active" {
		t.Errorf("ModeLabel = %q, want push_active", st.ModeLabel)
	}
	if st.Subscriptions != 3 {
		t.Errorf("Subscriptions = %d, want 3", st.Subscriptions)
	}
	if !st.SessionOpen {
		t.Error("SessionOpen = false with open clock")
	}
}
