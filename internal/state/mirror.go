package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/marketdata"
)

const (
	mirrorBuffer  = 64
	mirrorTimeout = 2 * time.Second
)

// Mirror copies Store changes to an external cache and event bus. It is an
// Observer; the network writes happen on Run's goroutine so the Store's
// callers never wait on them. When the buffer is full changes are dropped.
type Mirror struct {
	cache   domain.SnapshotCache
	bus     domain.EventBus
	channel string
	events  chan mirrorItem
	logger  *slog.Logger
}

type mirrorItem struct {
	market *domain.MarketSnapshot
	source string
	book   *domain.OrderBookSnapshot
	trade  *domain.Trade
}

// mirrorEvent is the compact message published on the bus.
type mirrorEvent struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol,omitempty"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Side     string `json:"side,omitempty"`
	BestBid  string `json:"best_bid,omitempty"`
	BestAsk  string `json:"best_ask,omitempty"`
	TS       int64  `json:"ts"`
}

// NewMirror creates a Mirror publishing on channel. Either cache or bus may
// be nil.
func NewMirror(cache domain.SnapshotCache, bus domain.EventBus, channel string, logger *slog.Logger) *Mirror {
	return &Mirror{
		cache:   cache,
		bus:     bus,
		channel: channel,
		events:  make(chan mirrorItem, mirrorBuffer),
		logger:  logger.With(slog.String("component", "mirror")),
	}
}

func (m *Mirror) enqueue(it mirrorItem) {
	select {
	case m.events <- it:
	default:
		m.logger.Warn("mirror buffer full, dropping change")
	}
}

// MarketReplaced queues snap. The terminal provider's fixed snapshot is
// published but never cached, so the cache only ever serves real quotes.
func (m *Mirror) MarketReplaced(snap domain.MarketSnapshot, source string) {
	m.enqueue(mirrorItem{market: &snap, source: source})
}

// OrderBookReplaced queues book. Only server books are cached; placeholders
// and books read back from the cache are published only.
func (m *Mirror) OrderBookReplaced(book domain.OrderBookSnapshot, source string) {
	m.enqueue(mirrorItem{book: &book, source: source})
}

func (m *Mirror) TradeApplied(t domain.Trade) { m.enqueue(mirrorItem{trade: &t}) }

// Run drains changes until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it := <-m.events:
			m.write(ctx, it)
		}
	}
}

func (m *Mirror) write(ctx context.Context, it mirrorItem) {
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	var ev mirrorEvent
	switch {
	case it.market != nil:
		if m.cache != nil && it.source != marketdata.DefaultName {
			if err := m.cache.SetMarket(ctx, *it.market); err != nil {
				m.logger.WarnContext(ctx, "mirror market failed", slog.String("error", err.Error()))
			}
		}
		ev = mirrorEvent{Type: "market", Symbol: it.market.Symbol, Price: it.market.Price.String(),
			TS: it.market.ObservedAt.UnixMilli()}

	case it.book != nil:
		if m.cache != nil && it.source == BookFromServer {
			if err := m.cache.SetOrderBook(ctx, *it.book); err != nil {
				m.logger.WarnContext(ctx, "mirror order book failed", slog.String("error", err.Error()))
			}
		}
		ev = mirrorEvent{Type: "orderbook", Symbol: it.book.Symbol, TS: it.book.Timestamp.UnixMilli()}
		if bid, ok := it.book.BestBid(); ok {
			ev.BestBid = bid.String()
		}
		if ask, ok := it.book.BestAsk(); ok {
			ev.BestAsk = ask.String()
		}

	case it.trade != nil:
		ev = mirrorEvent{Type: "trade", Price: it.trade.Price.String(), Quantity: it.trade.Quantity.String(),
			Side: string(it.trade.Side), TS: it.trade.OccurredAt.UnixMilli()}

	default:
		return
	}

	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, m.channel, payload); err != nil {
		m.logger.WarnContext(ctx, "mirror publish failed", slog.String("error", err.Error()))
	}
}
