package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// CacheProvider serves the last snapshot mirrored into the shared cache. It
// fails when nothing is cached or the entry is older than maxAge.
type CacheProvider struct {
	cache   domain.SnapshotCache
	symbol  string
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewCacheProvider creates a cache-backed provider.
func NewCacheProvider(cache domain.SnapshotCache, symbol string, maxAge, timeout time.Duration) *CacheProvider {
	return &CacheProvider{
		cache:   cache,
		symbol:  symbol,
		maxAge:  maxAge,
		timeout: orDefault(timeout),
		now:     time.Now,
	}
}

func (p *CacheProvider) Name() string { return "Snapshot Cache" }

func (p *CacheProvider) FetchData(ctx context.Context) (domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.cache.GetMarket(ctx, p.symbol)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/cache: %w", err)
	}
	if p.maxAge > 0 {
		if age := p.now().Sub(snap.ObservedAt); age > p.maxAge {
			return domain.MarketSnapshot{}, fmt.Errorf("marketdata/cache: snapshot is stale (%s old)", age.Round(time.Second))
		}
	}
	return snap, nil
}
