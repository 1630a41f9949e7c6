package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeChannel struct {
	frames chan []byte
	fail   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case b := <-f.frames:
		return b, nil
	case err := <-f.fail:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	ch  *fakeChannel
	err error
}

func (d *fakeDialer) push(ch *fakeChannel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{ch: ch, err: err})
}

func (d *fakeDialer) Dial(ctx context.Context) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, errors.New("no connection queued")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.ch, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) scheduled() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

type fakeSink struct {
	mu        sync.Mutex
	trades    []domain.Trade
	book      domain.OrderBookSnapshot
	market    domain.MarketSnapshot
	orders    map[string]domain.Order
	connected bool
}

func newFakeSink() *fakeSink { return &fakeSink{orders: map[string]domain.Order{}} }

func (s *fakeSink) ApplyTrade(t domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append([]domain.Trade{t}, s.trades...)
}

func (s *fakeSink) ReplaceOrderBook(b domain.OrderBookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book = b
}

func (s *fakeSink) ReplaceMarket(m domain.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = m
}

func (s *fakeSink) ApplyOrderUpdate(o domain.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return false
	}
	s.orders[o.ID] = o
	return true
}

func (s *fakeSink) SetConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *fakeSink) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *fakeSink) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func newTestController(t *testing.T, d Dialer, sink Sink) (*Controller, *fakeClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewController(Config{Symbol: "BTC-USDT"}, d, sink, logger)
	clock := &fakeClock{}
	c.afterFunc = clock.afterFunc
	t.Cleanup(c.Disconnect)
	return c, clock
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		time.Second, 5*time.Millisecond, "want state %s, have %s", want, c.State())
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestControllerConnectAndDispatch(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	sink := newFakeSink()
	c, _ := newTestController(t, d, sink)

	assert.Equal(t, StateDisconnected, c.State())
	c.Connect(context.Background())
	waitState(t, c, StateConnected)
	assert.True(t, sink.isConnected())

	ch.frames <- []byte(`{"type":"trade","id":"t1","symbol":"BTCUSDT","price":"100","quantity":"1","side":"sell"}`)
	ch.frames <- []byte(`not json`)
	ch.frames <- []byte(`{"type":"trade","id":"t2","symbol":"ETHUSDT","price":"1","quantity":"1"}`)
	ch.frames <- []byte(`{"type":"orderbook","symbol":{"base":"BTC","quote":"USDT"},
		"bids":[{"price":"1","quantity":"1"},{"price":"2","quantity":"1"}],"asks":[]}`)
	ch.frames <- []byte(`{"type":"market_data","symbol":"BTCUSDT","last_price":"50000"}`)
	ch.frames <- []byte(`{"type":"trade","data":{"id":"t3","price":"101","quantity":"2"}}`)

	require.Eventually(t, func() bool { return sink.tradeCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.market.Price.Equal(decimal.NewFromInt(50000))
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "t3", sink.trades[0].ID)
	assert.Equal(t, "t1", sink.trades[1].ID)
	assert.Equal(t, domain.SideSell, sink.trades[1].Side)
	require.Len(t, sink.book.Bids, 2)
	assert.True(t, sink.book.Bids[0].Price.Equal(decimal.NewFromInt(2)))
}

func TestControllerOrderUpdateOnlyForKnownOrders(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	sink := newFakeSink()
	sink.orders["o-1"] = domain.Order{ID: "o-1", Status: domain.OrderStatusPending}
	c, _ := newTestController(t, d, sink)

	c.Connect(context.Background())
	waitState(t, c, StateConnected)

	ch.frames <- []byte(`{"type":"order_update","id":"o-2","order_type":"limit","quantity":"1","status":"filled"}`)
	ch.frames <- []byte(`{"type":"order_update","id":"o-1","order_type":"limit","quantity":"1","filled_quantity":"1","status":"filled"}`)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.orders["o-1"].Status == domain.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	_, unknown := sink.orders["o-2"]
	assert.False(t, unknown)
}

func TestControllerSchedulesSingleRetryOnDrop(t *testing.T) {
	first := newFakeChannel()
	second := newFakeChannel()
	d := &fakeDialer{}
	d.push(first, nil)
	d.push(second, nil)
	sink := newFakeSink()
	c, clock := newTestController(t, d, sink)

	c.Connect(context.Background())
	waitState(t, c, StateConnected)

	first.fail <- errors.New("connection reset")
	waitState(t, c, StateReconnecting)
	assert.False(t, sink.isConnected())
	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)

	timers := clock.scheduled()
	require.Len(t, timers, 1)
	assert.Equal(t, DefaultReconnectDelay, timers[0].delay)
	assert.Equal(t, 1, d.callCount())

	timers[0].fn()
	waitState(t, c, StateConnected)
	assert.Equal(t, 2, d.callCount())
	assert.True(t, sink.isConnected())

	second.frames <- []byte(`{"type":"trade","id":"t1","price":"1","quantity":"1"}`)
	require.Eventually(t, func() bool { return sink.tradeCount() == 1 }, time.Second, 5*time.Millisecond)

	// A second firing of the consumed timer must not dial again.
	timers[0].fn()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, d.callCount())
}

func TestControllerDialFailureSchedulesRetry(t *testing.T) {
	d := &fakeDialer{}
	d.push(nil, errors.New("refused"))
	c, clock := newTestController(t, d, newFakeSink())

	c.Connect(context.Background())
	waitState(t, c, StateReconnecting)
	require.Len(t, clock.scheduled(), 1)
}

func TestControllerDisconnectCancelsPendingRetry(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	c, clock := newTestController(t, d, newFakeSink())

	c.Connect(context.Background())
	waitState(t, c, StateConnected)
	ch.fail <- errors.New("gone")
	waitState(t, c, StateReconnecting)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	timers := clock.scheduled()
	require.Len(t, timers, 1)
	assert.True(t, timers[0].stopped)

	// Even if the runtime fires it anyway, nothing happens.
	timers[0].fn()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, d.callCount())
}

func TestControllerDisconnectClosesChannelAndIgnoresLateFrames(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	sink := newFakeSink()
	c, clock := newTestController(t, d, sink)

	c.Connect(context.Background())
	waitState(t, c, StateConnected)

	c.Disconnect()
	assert.True(t, ch.isClosed())
	assert.False(t, sink.isConnected())
	assert.Empty(t, clock.scheduled())
}

func TestControllerConnectIsIdempotentWhileConnected(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	c, _ := newTestController(t, d, newFakeSink())

	c.Connect(context.Background())
	waitState(t, c, StateConnected)
	c.Connect(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.callCount())
}

func TestControllerStateHook(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	c, _ := newTestController(t, d, newFakeSink())

	var mu sync.Mutex
	var seen []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	c.Connect(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, seen)
}

// gatedSink parks inside ApplyTrade until release is closed.
type gatedSink struct {
	*fakeSink
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) ApplyTrade(tr domain.Trade) {
	close(g.entered)
	<-g.release
	g.fakeSink.ApplyTrade(tr)
}

func TestControllerDisconnectWaitsForRunningHandler(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	sink := &gatedSink{fakeSink: newFakeSink(), entered: make(chan struct{}), release: make(chan struct{})}
	c, _ := newTestController(t, d, sink)

	c.Connect(context.Background())
	waitState(t, c, StateConnected)

	ch.frames <- []byte(`{"type":"trade","id":"t1","price":"1","quantity":"1"}`)
	<-sink.entered

	returned := make(chan struct{})
	go func() {
		c.Disconnect()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Disconnect returned while a frame handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not return")
	}
	assert.Equal(t, StateDisconnected, c.State())
	settled := sink.tradeCount()
	assert.Equal(t, 1, settled)

	ch.frames <- []byte(`{"type":"trade","id":"t2","price":"1","quantity":"1"}`)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, sink.tradeCount())
}

func TestControllerStateHookKeepsOrderAcrossGoroutines(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	d.push(ch, nil)
	c, _ := newTestController(t, d, newFakeSink())

	gate := make(chan struct{})
	var mu sync.Mutex
	var seen []State
	c.OnStateChange(func(s State) {
		if s == StateConnecting {
			<-gate
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	go c.Connect(context.Background())
	// The dial goroutine reaches Connected while the Connecting hook is parked.
	waitState(t, c, StateConnected)
	time.Sleep(20 * time.Millisecond)
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
