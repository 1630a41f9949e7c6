package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestApplyTradeTruncatesTape(t *testing.T) {
	s := NewStore("BTCUSDT")
	for i := 0; i < MaxTrades; i++ {
		s.ApplyTrade(domain.Trade{ID: fmt.Sprintf("t%d", i), Price: dec(1), Quantity: dec(1)})
	}
	require.Len(t, s.Trades(), MaxTrades)

	s.ApplyTrade(domain.Trade{ID: "newest", Price: dec(2), Quantity: dec(1)})

	tape := s.Trades()
	require.Len(t, tape, MaxTrades)
	assert.Equal(t, "newest", tape[0].ID)
	assert.Equal(t, "t99", tape[1].ID)
	assert.Equal(t, "t1", tape[MaxTrades-1].ID, "oldest trade t0 must be dropped")
}

func TestReplaceTradesBounds(t *testing.T) {
	s := NewStore("BTCUSDT")
	in := make([]domain.Trade, MaxTrades+20)
	for i := range in {
		in[i] = domain.Trade{ID: fmt.Sprintf("t%d", i)}
	}
	s.ReplaceTrades(in)
	tape := s.Trades()
	require.Len(t, tape, MaxTrades)
	assert.Equal(t, "t0", tape[0].ID)
}

func TestReplaceOrderBookSortsSides(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.ReplaceOrderBook(domain.OrderBookSnapshot{
		Bids: []domain.OrderBookLevel{{Price: dec(1)}, {Price: dec(3)}, {Price: dec(2)}},
		Asks: []domain.OrderBookLevel{{Price: dec(9)}, {Price: dec(7)}},
	})

	book := s.OrderBook()
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.True(t, book.Bids[0].Price.Equal(dec(3)))
	assert.True(t, book.Bids[2].Price.Equal(dec(1)))
	assert.True(t, book.Asks[0].Price.Equal(dec(7)))

	// Mutating the copy leaves the store untouched.
	book.Bids[0].Price = dec(100)
	assert.True(t, s.OrderBook().Bids[0].Price.Equal(dec(3)))
}

func TestOrderLifecycle(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.PrependOrder(domain.Order{ID: "a", Quantity: dec(1)})
	s.PrependOrder(domain.Order{ID: "b", Quantity: dec(1)})

	orders := s.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "b", orders[0].ID)
	assert.Equal(t, domain.OrderStatusPending, orders[0].Status)

	ok := s.ApplyOrderUpdate(domain.Order{ID: "a", Quantity: dec(1), FilledQuantity: dec(5), Status: domain.OrderStatusFilled})
	require.True(t, ok)
	a, found := s.Order("a")
	require.True(t, found)
	assert.True(t, a.FilledQuantity.Equal(dec(1)), "filled is clamped to quantity")

	assert.False(t, s.ApplyOrderUpdate(domain.Order{ID: "zzz"}))
	assert.Len(t, s.Orders(), 2)

	assert.True(t, s.RemoveOrder("a"))
	assert.False(t, s.RemoveOrder("a"))
	assert.Len(t, s.Orders(), 1)
}

type recordingObserver struct {
	mu      sync.Mutex
	markets int
	books   int
	trades  int
}

func (r *recordingObserver) MarketReplaced(domain.MarketSnapshot, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets++
}

func (r *recordingObserver) OrderBookReplaced(domain.OrderBookSnapshot, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books++
}

func (r *recordingObserver) TradeApplied(domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades++
}

func TestObserversAreNotified(t *testing.T) {
	s := NewStore("BTCUSDT")
	obs := &recordingObserver{}
	s.AddObserver(obs)

	s.SetMarket(domain.MarketSnapshot{Price: dec(1)}, "Binance API")
	s.ReplaceMarket(domain.MarketSnapshot{Price: dec(2)})
	s.ReplaceOrderBook(domain.OrderBookSnapshot{})
	s.ApplyTrade(domain.Trade{ID: "x"})

	assert.Equal(t, 2, obs.markets)
	assert.Equal(t, 1, obs.books)
	assert.Equal(t, 1, obs.trades)

	snap, source := s.Market()
	assert.True(t, snap.Price.Equal(dec(2)))
	assert.Equal(t, "push", source)
}

func TestViewIsConsistentCopy(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.SetConnected(true)
	s.ApplyTrade(domain.Trade{ID: "t"})
	v := s.View()
	assert.True(t, v.Connected)
	assert.Equal(t, "BTCUSDT", v.Symbol)
	require.Len(t, v.Trades, 1)
	assert.NotNil(t, v.Orders)
	assert.WithinDuration(t, time.Now(), v.CapturedAt, time.Second)
}

func TestViewJSON(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.SetMarket(domain.MarketSnapshot{Symbol: "BTCUSDT", Price: dec(45000)}, "Binance")
	s.ReplaceOrderBook(domain.NewOrderBookSnapshot("BTCUSDT",
		[]domain.OrderBookLevel{{Price: dec(44990), Quantity: dec(1)}}, nil, time.Now()))
	s.PrependOrder(domain.Order{ID: "m", Type: domain.OrderTypeMarket, Quantity: dec(2)})

	raw, err := json.Marshal(s.View())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	market := doc["market"].(map[string]any)
	assert.Equal(t, "45000", market["price"])
	assert.Equal(t, "Binance", market["source"])

	book := doc["order_book"].(map[string]any)
	assert.Len(t, book["bids"], 1)
	assert.Empty(t, book["asks"])
	assert.NotNil(t, book["asks"])

	orders := doc["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].(map[string]any)["price"])
	assert.Equal(t, "2", orders[0].(map[string]any)["quantity"])
}

func TestPlaceholders(t *testing.T) {
	now := time.Now()
	book := PlaceholderOrderBook("BTCUSDT", decimal.Zero, now)
	require.Len(t, book.Bids, 10)
	require.Len(t, book.Asks, 10)
	assert.True(t, book.Bids[0].Price.Equal(dec(44990)))
	assert.True(t, book.Asks[0].Price.Equal(dec(45010)))
	for i := 1; i < len(book.Bids); i++ {
		assert.True(t, book.Bids[i-1].Price.GreaterThan(book.Bids[i].Price))
		assert.True(t, book.Asks[i-1].Price.LessThan(book.Asks[i].Price))
	}

	centred := PlaceholderOrderBook("BTCUSDT", dec(50000), now)
	assert.True(t, centred.Bids[0].Price.Equal(dec(49990)))

	trades := PlaceholderTrades(decimal.Zero, now)
	require.Len(t, trades, 20)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.SideSell, trades[1].Side)
	assert.True(t, trades[0].OccurredAt.After(trades[1].OccurredAt))
	assert.NotEqual(t, trades[0].ID, trades[1].ID)
}

func TestPlaceholdersStayPositiveForSmallPrices(t *testing.T) {
	for _, mid := range []string{"100", "42.5", "0.0003"} {
		m := decimal.RequireFromString(mid)
		book := PlaceholderOrderBook("DOGEUSDT", m, time.Now())
		require.Len(t, book.Bids, 10, mid)
		for _, l := range book.Bids {
			assert.True(t, l.Price.IsPositive(), "bid %s for mid %s", l.Price, mid)
			assert.True(t, l.Price.LessThan(m))
		}
		for _, tr := range PlaceholderTrades(m, time.Now()) {
			assert.True(t, tr.Price.IsPositive(), "trade %s for mid %s", tr.Price, mid)
		}
	}
}
