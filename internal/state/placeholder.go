package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// Levels per side and tape length.
const (
	placeholderLevels = 10
	placeholderTrades = 20
)

// Centre price when none is known, book tick and tape price step.
var (
	placeholderBase = decimal.NewFromInt(45000)
	placeholderTick = decimal.NewFromInt(10)
	placeholderStep = decimal.NewFromInt(50)
)

// spacing returns step, shrunk when n steps below mid would reach zero.
func spacing(mid, step decimal.Decimal, n int) decimal.Decimal {
	span := step.Mul(decimal.NewFromInt(int64(n)))
	if span.LessThan(mid) {
		return step
	}
	return mid.Div(decimal.NewFromInt(int64(n + 1)))
}

// PlaceholderOrderBook synthesises a symmetric book around mid, or around
// 45000 when mid is zero. It stands in for a failed REST fetch. Every bid
// stays above zero.
func PlaceholderOrderBook(symbol string, mid decimal.Decimal, now time.Time) domain.OrderBookSnapshot {
	if !mid.IsPositive() {
		mid = placeholderBase
	}
	bids := make([]domain.OrderBookLevel, 0, placeholderLevels)
	asks := make([]domain.OrderBookLevel, 0, placeholderLevels)
	tick := spacing(mid, placeholderTick, placeholderLevels)
	for i := 0; i < placeholderLevels; i++ {
		offset := tick.Mul(decimal.NewFromInt(int64(i + 1)))
		qty := decimal.New(int64(i+1), -1) // 0.1, 0.2, ...
		bids = append(bids, domain.OrderBookLevel{Price: mid.Sub(offset), Quantity: qty})
		asks = append(asks, domain.OrderBookLevel{Price: mid.Add(offset), Quantity: qty})
	}
	return domain.NewOrderBookSnapshot(symbol, bids, asks, now)
}

// PlaceholderTrades synthesises a newest-first tape around mid, alternating
// buy and sell, one second apart.
func PlaceholderTrades(mid decimal.Decimal, now time.Time) []domain.Trade {
	if !mid.IsPositive() {
		mid = placeholderBase
	}
	trades := make([]domain.Trade, 0, placeholderTrades)
	step := spacing(mid, placeholderStep, placeholderTrades/2)
	for i := 0; i < placeholderTrades; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		trades = append(trades, domain.Trade{
			ID:         uuid.NewString(),
			Price:      mid.Add(step.Mul(decimal.NewFromInt(int64(i - placeholderTrades/2)))),
			Quantity:   decimal.New(int64(10+5*i), -2), // 0.10, 0.15, ...
			Side:       side,
			OccurredAt: now.Add(-time.Duration(i) * time.Second),
		})
	}
	return trades
}
