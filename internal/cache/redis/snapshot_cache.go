package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache with Redis hashes.
//
// Key schema:
//
//	market:{symbol}      - hash: price, change, change_pct, volume, high, low, ts
//	book:{symbol}        - hash: bids (JSON), asks (JSON), ts
//	book:{symbol}:bbo    - hash: bid, ask
//
// ts is a Unix nanosecond timestamp.
type SnapshotCache struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A positive ttl expires mirrored
// keys so a dead writer does not leave stale data behind forever.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{c: c, ttl: ttl}
}

func (sc *SnapshotCache) marketKey(symbol string) string { return sc.c.Key("market:" + symbol) }
func (sc *SnapshotCache) bookKey(symbol string) string   { return sc.c.Key("book:" + symbol) }
func (sc *SnapshotCache) bboKey(symbol string) string    { return sc.c.Key("book:" + symbol + ":bbo") }

// SetMarket stores the snapshot.
func (sc *SnapshotCache) SetMarket(ctx context.Context, snap domain.MarketSnapshot) error {
	key := sc.marketKey(snap.Symbol)
	fields := map[string]any{
		"price":      snap.Price.String(),
		"change":     snap.Change24h.String(),
		"change_pct": snap.ChangePct24h.String(),
		"volume":     snap.Volume24h.String(),
		"high":       snap.High24h.String(),
		"low":        snap.Low24h.String(),
		"ts":         strconv.FormatInt(snap.ObservedAt.UnixNano(), 10),
	}

	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if sc.ttl > 0 {
		pipe.Expire(ctx, key, sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetMarket returns the stored snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) GetMarket(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	vals, err := sc.c.rdb.HGetAll(ctx, sc.marketKey(symbol)).Result()
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return decodeMarket(symbol, vals)
}

func decodeMarket(symbol string, vals map[string]string) (domain.MarketSnapshot, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	// Optional numbers fall back to zero.
	opt := func(field string) decimal.Decimal {
		d, err := decimal.NewFromString(vals[field])
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	return domain.MarketSnapshot{
		Symbol:       symbol,
		Price:        price,
		Change24h:    opt("change"),
		ChangePct24h: opt("change_pct"),
		Volume24h:    opt("volume"),
		High24h:      opt("high"),
		Low24h:       opt("low"),
		ObservedAt:   time.Unix(0, tsNano).UTC(),
	}, nil
}

// bookLevel is the JSON form of a level inside the book hash.
type bookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func encodeLevels(levels []domain.OrderBookLevel) ([]byte, error) {
	out := make([]bookLevel, len(levels))
	for i, l := range levels {
		out[i] = bookLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return json.Marshal(out)
}

func decodeLevels(raw string) ([]domain.OrderBookLevel, error) {
	if raw == "" {
		return nil, nil
	}
	var in []bookLevel
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	out := make([]domain.OrderBookLevel, len(in))
	for i, l := range in {
		out[i] = domain.OrderBookLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return out, nil
}

// SetOrderBook replaces the stored book and best bid/offer atomically.
func (sc *SnapshotCache) SetOrderBook(ctx context.Context, snap domain.OrderBookSnapshot) error {
	bids, err := encodeLevels(snap.Bids)
	if err != nil {
		return fmt.Errorf("redis: encode bids %s: %w", snap.Symbol, err)
	}
	asks, err := encodeLevels(snap.Asks)
	if err != nil {
		return fmt.Errorf("redis: encode asks %s: %w", snap.Symbol, err)
	}

	bookKey, bboKey := sc.bookKey(snap.Symbol), sc.bboKey(snap.Symbol)
	pipe := sc.c.rdb.TxPipeline()
	pipe.Del(ctx, bookKey, bboKey)
	pipe.HSet(ctx, bookKey, map[string]any{
		"bids": string(bids),
		"asks": string(asks),
		"ts":   strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
	})
	bbo := map[string]any{}
	if bid, ok := snap.BestBid(); ok {
		bbo["bid"] = bid.String()
	}
	if ask, ok := snap.BestAsk(); ok {
		bbo["ask"] = ask.String()
	}
	if len(bbo) > 0 {
		pipe.HSet(ctx, bboKey, bbo)
	}
	if sc.ttl > 0 {
		pipe.Expire(ctx, bookKey, sc.ttl)
		pipe.Expire(ctx, bboKey, sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set order book %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetOrderBook returns the stored book or domain.ErrNotFound.
func (sc *SnapshotCache) GetOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	vals, err := sc.c.rdb.HGetAll(ctx, sc.bookKey(symbol)).Result()
	if err != nil && err != redis.Nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get order book %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}

	bids, err := decodeLevels(vals["bids"])
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode bids %s: %w", symbol, err)
	}
	asks, err := decodeLevels(vals["asks"])
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode asks %s: %w", symbol, err)
	}
	var ts time.Time
	if n, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		ts = time.Unix(0, n).UTC()
	}
	return domain.NewOrderBookSnapshot(symbol, bids, asks, ts), nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
