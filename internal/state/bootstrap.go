package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// DefaultFetchTimeout bounds each bootstrap REST call.
const DefaultFetchTimeout = 5 * time.Second

// MarketResolver produces the initial market snapshot.
type MarketResolver interface {
	Resolve(ctx context.Context) (domain.MarketSnapshot, string, error)
}

// RESTSource is the slice of the server REST API bootstrap needs.
type RESTSource interface {
	GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
	GetUserOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

// Connector starts the push channel.
type Connector interface {
	Connect(ctx context.Context)
}

// BookCache holds the last order book mirrored from the server.
type BookCache interface {
	GetOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
}

// BootstrapConfig controls Initialize.
type BootstrapConfig struct {
	UserID     string // empty skips the orders step
	Depth      int
	TradeLimit int
	Timeout    time.Duration

	// BookCache, when set, is tried before the placeholder book. Entries
	// older than BookMaxAge are ignored; zero accepts any age.
	BookCache  BookCache
	BookMaxAge time.Duration
}

// Report says how each bootstrap step went. A nil error means the step used
// real data.
type Report struct {
	Provider          string
	MarketErr         error
	OrderBookErr      error
	TradesErr         error
	OrdersErr         error
	OrderBookFallback bool
	OrderBookCached   bool // the fallback came from the cache
	TradesFallback    bool
	Connected         bool // Connect was called
}

// Initialize runs the bootstrap sequence: market snapshot, order book, trade
// tape, the user's orders, then the push channel. Steps never abort each
// other. Failed book and tape fetches are replaced with placeholders; market
// data and orders are never faked.
func (s *Store) Initialize(ctx context.Context, cfg BootstrapConfig, resolver MarketResolver,
	rest RESTSource, conn Connector, logger *slog.Logger) Report {

	logger = logger.With(slog.String("component", "bootstrap"), slog.String("symbol", s.symbol))
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.TradeLimit <= 0 || cfg.TradeLimit > MaxTrades {
		cfg.TradeLimit = MaxTrades
	}

	var rep Report

	// 1. Market snapshot.
	if snap, provider, err := resolver.Resolve(ctx); err != nil {
		rep.MarketErr = err
		logger.ErrorContext(ctx, "market data unavailable", slog.String("error", err.Error()))
	} else {
		rep.Provider = provider
		s.SetMarket(snap, provider)
		logger.InfoContext(ctx, "market snapshot loaded",
			slog.String("provider", provider),
			slog.String("price", snap.Price.String()),
		)
	}
	mid, _ := s.Market()

	// 2. Order book.
	if book, err := fetch(ctx, cfg.Timeout, func(ctx context.Context) (domain.OrderBookSnapshot, error) {
		return rest.GetOrderBook(ctx, s.symbol, cfg.Depth)
	}); err != nil {
		rep.OrderBookErr = fmt.Errorf("state: order book: %w", err)
		rep.OrderBookFallback = true
		if cached, ok := s.cachedBook(ctx, cfg, logger); ok {
			rep.OrderBookCached = true
			s.SetOrderBook(cached, BookFromCache)
			logger.WarnContext(ctx, "order book fetch failed, using cached book", slog.String("error", err.Error()))
		} else {
			s.SetOrderBook(PlaceholderOrderBook(s.symbol, mid.Price, time.Now().UTC()), BookFromPlaceholder)
			logger.WarnContext(ctx, "order book fetch failed, using placeholder", slog.String("error", err.Error()))
		}
	} else {
		s.ReplaceOrderBook(book)
	}

	// 3. Trade tape.
	if trades, err := fetch(ctx, cfg.Timeout, func(ctx context.Context) ([]domain.Trade, error) {
		return rest.GetTrades(ctx, s.symbol, cfg.TradeLimit)
	}); err != nil {
		rep.TradesErr = fmt.Errorf("state: trades: %w", err)
		rep.TradesFallback = true
		s.ReplaceTrades(PlaceholderTrades(mid.Price, time.Now().UTC()))
		logger.WarnContext(ctx, "trade fetch failed, using placeholder", slog.String("error", err.Error()))
	} else {
		s.ReplaceTrades(trades)
	}

	// 3b. The user's own orders.
	if cfg.UserID != "" {
		if orders, err := fetch(ctx, cfg.Timeout, func(ctx context.Context) ([]domain.Order, error) {
			return rest.GetUserOrders(ctx, cfg.UserID)
		}); err != nil {
			rep.OrdersErr = fmt.Errorf("state: orders: %w", err)
			logger.WarnContext(ctx, "order fetch failed", slog.String("error", err.Error()))
		} else {
			s.ReplaceOrders(orders)
		}
	}

	// 4. Push channel.
	if conn != nil {
		conn.Connect(ctx)
		rep.Connected = true
	}

	logger.InfoContext(ctx, "bootstrap complete",
		slog.Bool("order_book_fallback", rep.OrderBookFallback),
		slog.Bool("order_book_cached", rep.OrderBookCached),
		slog.Bool("trades_placeholder", rep.TradesFallback),
		slog.Int("orders", len(s.Orders())),
	)
	return rep
}

// cachedBook returns a fresh enough cached book, if there is one.
func (s *Store) cachedBook(ctx context.Context, cfg BootstrapConfig, logger *slog.Logger) (domain.OrderBookSnapshot, bool) {
	if cfg.BookCache == nil {
		return domain.OrderBookSnapshot{}, false
	}
	book, err := fetch(ctx, cfg.Timeout, func(ctx context.Context) (domain.OrderBookSnapshot, error) {
		return cfg.BookCache.GetOrderBook(ctx, s.symbol)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "cached order book unavailable", slog.String("error", err.Error()))
		}
		return domain.OrderBookSnapshot{}, false
	}
	if cfg.BookMaxAge > 0 && time.Since(book.Timestamp) > cfg.BookMaxAge {
		return domain.OrderBookSnapshot{}, false
	}
	return book, true
}

func fetch[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
