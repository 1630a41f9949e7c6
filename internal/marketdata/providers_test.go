package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

func TestBinanceProvider_MapsTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000.10","priceChange":"120.5",
			"priceChangePercent":"0.24","volume":"812.3","highPrice":"50500","lowPrice":"49100",
			"closeTime":1700000000000}`))
	}))
	defer srv.Close()

	p := NewBinanceProvider(srv.URL, "btcusdt", time.Second)
	snap, err := p.FetchData(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("50000.10")))
	assert.True(t, snap.Change24h.Equal(decimal.RequireFromString("120.5")))
	assert.True(t, snap.High24h.Equal(decimal.NewFromInt(50500)))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), snap.ObservedAt)
}

func TestBinanceProvider_MissingOptionalFieldsAreZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lastPrice":"50000"}`))
	}))
	defer srv.Close()

	snap, err := NewBinanceProvider(srv.URL, "BTCUSDT", time.Second).FetchData(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Volume24h.IsZero())
	assert.True(t, snap.Low24h.IsZero())
	assert.False(t, snap.ObservedAt.IsZero())
}

func TestBinanceProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "banned", http.StatusTeapot)
	}))
	defer srv.Close()

	_, err := NewBinanceProvider(srv.URL, "BTCUSDT", time.Second).FetchData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 418")
}

func TestBinanceProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewBinanceProvider(srv.URL, "BTCUSDT", 50*time.Millisecond).FetchData(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCoinGeckoProvider_MapsSimplePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":49950.5,"usd_24h_change":-1.25,"usd_24h_vol":123456789,"last_updated_at":1700000000}}`))
	}))
	defer srv.Close()

	snap, err := NewCoinGeckoProvider(srv.URL, "bitcoin", "BTCUSDT", time.Second).FetchData(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("49950.5")))
	assert.True(t, snap.ChangePct24h.Equal(decimal.RequireFromString("-1.25")))
	assert.True(t, snap.Change24h.IsZero())
	assert.True(t, snap.High24h.IsZero())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), snap.ObservedAt)
}

func TestCoinGeckoProvider_UnknownCoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewCoinGeckoProvider(srv.URL, "bitcoin", "BTCUSDT", time.Second).FetchData(context.Background())
	assert.Error(t, err)
}

type stubSource struct {
	snap domain.MarketSnapshot
	err  error
}

func (s stubSource) GetMarketData(context.Context, string) (domain.MarketSnapshot, error) {
	return s.snap, s.err
}

func TestBackendProvider(t *testing.T) {
	ok := NewBackendProvider(stubSource{snap: domain.MarketSnapshot{Price: decimal.NewFromInt(10)}}, "BTCUSDT", time.Second)
	snap, err := ok.FetchData(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(10)))

	down := NewBackendProvider(stubSource{err: errors.New("connection refused")}, "BTCUSDT", time.Second)
	_, err = down.FetchData(context.Background())
	assert.Error(t, err)

	empty := NewBackendProvider(stubSource{}, "BTCUSDT", time.Second)
	_, err = empty.FetchData(context.Background())
	assert.Error(t, err)
}

type memCache struct {
	market map[string]domain.MarketSnapshot
}

func (m *memCache) SetMarket(_ context.Context, s domain.MarketSnapshot) error {
	m.market[s.Symbol] = s
	return nil
}

func (m *memCache) GetMarket(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	s, ok := m.market[symbol]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memCache) SetOrderBook(context.Context, domain.OrderBookSnapshot) error { return nil }

func (m *memCache) GetOrderBook(context.Context, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

func TestCacheProvider_FreshAndStale(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cache := &memCache{market: map[string]domain.MarketSnapshot{}}
	p := NewCacheProvider(cache, "BTCUSDT", time.Minute, time.Second)
	p.now = func() time.Time { return now }

	_, err := p.FetchData(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_ = cache.SetMarket(context.Background(), domain.MarketSnapshot{
		Symbol: "BTCUSDT", Price: decimal.NewFromInt(1), ObservedAt: now.Add(-30 * time.Second),
	})
	_, err = p.FetchData(context.Background())
	require.NoError(t, err)

	_ = cache.SetMarket(context.Background(), domain.MarketSnapshot{
		Symbol: "BTCUSDT", Price: decimal.NewFromInt(1), ObservedAt: now.Add(-5 * time.Minute),
	})
	_, err = p.FetchData(context.Background())
	assert.ErrorContains(t, err, "stale")
}

func TestDefaultProvider_NeverFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := NewDefaultProvider("BTCUSDT").FetchData(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(45000)))
	assert.Equal(t, "BTCUSDT", snap.Symbol)
}
