package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// MarketDataSource is the trading server's own market data endpoint.
type MarketDataSource interface {
	GetMarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
}

// BackendProvider asks the trading server for its ticker.
type BackendProvider struct {
	source  MarketDataSource
	symbol  string
	timeout time.Duration
}

// NewBackendProvider creates the provider for the trading server.
func NewBackendProvider(source MarketDataSource, symbol string, timeout time.Duration) *BackendProvider {
	return &BackendProvider{source: source, symbol: symbol, timeout: orDefault(timeout)}
}

func (p *BackendProvider) Name() string { return "Backend API" }

func (p *BackendProvider) FetchData(ctx context.Context) (domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.source.GetMarketData(ctx, p.symbol)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/backend: %w", err)
	}
	if snap.Price.IsZero() {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/backend: empty price for %s", p.symbol)
	}
	return snap, nil
}
