package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBookLevel is a single aggregated price level.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBookSnapshot is a full depth snapshot. Bids are sorted by descending
// price and asks by ascending price; use NewOrderBookSnapshot to build one
// from unsorted input.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// NewOrderBookSnapshot copies and sorts the given levels so the snapshot
// satisfies the side ordering invariant.
func NewOrderBookSnapshot(symbol string, bids, asks []OrderBookLevel, ts time.Time) OrderBookSnapshot {
	b := append([]OrderBookLevel(nil), bids...)
	a := append([]OrderBookLevel(nil), asks...)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })
	return OrderBookSnapshot{Symbol: symbol, Bids: b, Asks: a, Timestamp: ts}
}

// BestBid returns the highest bid, or zero and false for an empty side.
func (s OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or zero and false for an empty side.
func (s OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// Clone returns a deep copy of the snapshot.
func (s OrderBookSnapshot) Clone() OrderBookSnapshot {
	s.Bids = append([]OrderBookLevel(nil), s.Bids...)
	s.Asks = append([]OrderBookLevel(nil), s.Asks...)
	return s
}
