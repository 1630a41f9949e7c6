package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "ts:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSnapshotCacheMarketRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	sc := NewSnapshotCache(c, time.Minute)
	ctx := context.Background()

	_, err := sc.GetMarket(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	observed := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := domain.MarketSnapshot{
		Symbol: "BTCUSDT", Price: d("61000.5"), Change24h: d("-120"), ChangePct24h: d("-0.19"),
		Volume24h: d("1500.25"), High24h: d("62000"), Low24h: d("60000"), ObservedAt: observed,
	}
	require.NoError(t, sc.SetMarket(ctx, in))

	out, err := sc.GetMarket(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, out.Price.Equal(in.Price))
	assert.True(t, out.Change24h.Equal(in.Change24h))
	assert.True(t, out.ChangePct24h.Equal(in.ChangePct24h))
	assert.True(t, out.Volume24h.Equal(in.Volume24h))
	assert.True(t, out.ObservedAt.Equal(observed), "nanoseconds survive")

	assert.True(t, mr.Exists("ts:market:BTCUSDT"))
	assert.Equal(t, time.Minute, mr.TTL("ts:market:BTCUSDT"))
}

func TestDecodeMarket(t *testing.T) {
	snap, err := decodeMarket("ETHUSDT", map[string]string{"price": "3000", "ts": "1700000000000000000"})
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(d("3000")))
	assert.True(t, snap.Change24h.IsZero())
	assert.True(t, snap.Volume24h.IsZero())
	assert.True(t, snap.High24h.IsZero())
	assert.Equal(t, int64(1700000000000000000), snap.ObservedAt.UnixNano())

	_, err = decodeMarket("ETHUSDT", map[string]string{"ts": "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = decodeMarket("ETHUSDT", map[string]string{"price": "x", "ts": "1"})
	assert.ErrorContains(t, err, "parse price")

	_, err = decodeMarket("ETHUSDT", map[string]string{"price": "1"})
	assert.ErrorContains(t, err, "parse ts")
}

func TestSnapshotCacheOrderBookRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	sc := NewSnapshotCache(c, 0)
	ctx := context.Background()

	_, err := sc.GetOrderBook(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)
	book := domain.NewOrderBookSnapshot("BTCUSDT",
		[]domain.OrderBookLevel{{Price: d("99"), Quantity: d("1")}, {Price: d("100"), Quantity: d("2")}},
		[]domain.OrderBookLevel{{Price: d("101"), Quantity: d("0.5")}},
		ts)
	require.NoError(t, sc.SetOrderBook(ctx, book))

	got, err := sc.GetOrderBook(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, got.Bids, 2)
	require.Len(t, got.Asks, 1)
	assert.True(t, got.Bids[0].Price.Equal(d("100")))
	assert.True(t, got.Asks[0].Quantity.Equal(d("0.5")))
	assert.True(t, got.Timestamp.Equal(ts))

	assert.Equal(t, "100", mr.HGet("ts:book:BTCUSDT:bbo", "bid"))
	assert.Equal(t, "101", mr.HGet("ts:book:BTCUSDT:bbo", "ask"))

	// A one-sided book clears the stale side of the bbo.
	require.NoError(t, sc.SetOrderBook(ctx, domain.NewOrderBookSnapshot("BTCUSDT",
		[]domain.OrderBookLevel{{Price: d("98"), Quantity: d("1")}}, nil, ts)))
	assert.Equal(t, "98", mr.HGet("ts:book:BTCUSDT:bbo", "bid"))
	assert.Empty(t, mr.HGet("ts:book:BTCUSDT:bbo", "ask"))
}

func TestDecodeLevels(t *testing.T) {
	levels, err := decodeLevels("")
	require.NoError(t, err)
	assert.Nil(t, levels)

	levels, err = decodeLevels(`[{"price":"1.5","quantity":"2"}]`)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Price.Equal(d("1.5")))

	_, err = decodeLevels(`{`)
	assert.Error(t, err)
}

func TestEventBusHistoryPages(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx := context.Background()

	msgs, err := bus.History(ctx, "state:BTCUSDT", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, "state:BTCUSDT", []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	var all []string
	last := "0"
	pages := 0
	for {
		page, err := bus.History(ctx, "state:BTCUSDT", last, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		assert.LessOrEqual(t, len(page), 2)
		for _, m := range page {
			all = append(all, string(m.Payload))
		}
		last = page[len(page)-1].ID
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{`{"n":0}`, `{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`}, all)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 2, 200*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "orders:u1")
		require.NoError(t, err)
		assert.True(t, ok, "action %d", i)
	}
	ok, err := rl.Allow(ctx, "orders:u1")
	require.NoError(t, err)
	assert.False(t, ok, "third action in the window is blocked")

	ok, err = rl.Allow(ctx, "orders:u2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	time.Sleep(250 * time.Millisecond)
	ok, err = rl.Allow(ctx, "orders:u1")
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the earlier actions")
}

func TestRateLimiterReportsOutage(t *testing.T) {
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Minute)
	mr.Close()

	_, err := rl.Allow(context.Background(), "orders:u1")
	assert.Error(t, err)
}
