package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// DefaultName is the name of the terminal provider.
const DefaultName = "Default Data"

// DefaultProvider is the terminal fallback. It has no network dependency and
// always returns the same fixed figures, stamped with the current time.
type DefaultProvider struct {
	symbol string
	now    func() time.Time
}

// NewDefaultProvider creates the terminal provider.
func NewDefaultProvider(symbol string) *DefaultProvider {
	return &DefaultProvider{symbol: symbol, now: time.Now}
}

func (p *DefaultProvider) Name() string { return DefaultName }

// FetchData never fails.
func (p *DefaultProvider) FetchData(context.Context) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{
		Symbol:       p.symbol,
		Price:        decimal.NewFromInt(45000),
		Change24h:    decimal.NewFromInt(1250),
		ChangePct24h: decimal.RequireFromString("2.86"),
		Volume24h:    decimal.RequireFromString("1234.56"),
		High24h:      decimal.NewFromInt(46500),
		Low24h:       decimal.NewFromInt(43800),
		ObservedAt:   p.now().UTC(),
	}, nil
}
