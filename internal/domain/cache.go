package domain

import "context"

// SnapshotCache mirrors the latest market and order book snapshots outside
// the process so other readers, and the cache-backed provider, can see them.
type SnapshotCache interface {
	SetMarket(ctx context.Context, snap MarketSnapshot) error
	GetMarket(ctx context.Context, symbol string) (MarketSnapshot, error)
	SetOrderBook(ctx context.Context, snap OrderBookSnapshot) error
	GetOrderBook(ctx context.Context, symbol string) (OrderBookSnapshot, error)
}

// EventBus publishes compact state-change events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
