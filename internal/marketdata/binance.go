package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// binanceTicker is the subset of /api/v3/ticker/24hr we read. Binance sends
// numbers as strings, which decimal accepts directly.
type binanceTicker struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChange        decimal.Decimal `json:"priceChange"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	CloseTime          int64           `json:"closeTime"`
}

// BinanceProvider reads the public Binance 24h ticker.
type BinanceProvider struct {
	baseURL    string
	symbol     string
	httpClient *http.Client
	now        func() time.Time
}

// NewBinanceProvider creates a provider for symbol (e.g. "BTCUSDT").
//
// baseURL is the REST root, e.g. "https://api.binance.com".
func NewBinanceProvider(baseURL, symbol string, timeout time.Duration) *BinanceProvider {
	return &BinanceProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		symbol:     strings.ToUpper(symbol),
		httpClient: &http.Client{Timeout: orDefault(timeout)},
		now:        time.Now,
	}
}

func (p *BinanceProvider) Name() string { return "Binance API" }

func (p *BinanceProvider) FetchData(ctx context.Context) (domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.httpClient.Timeout)
	defer cancel()

	endpoint := p.baseURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(p.symbol)

	var t binanceTicker
	if err := getJSON(ctx, p.httpClient, endpoint, &t); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/binance: %w", err)
	}
	if t.LastPrice.IsZero() {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/binance: missing lastPrice for %s", p.symbol)
	}

	observed := p.now().UTC()
	if t.CloseTime > 0 {
		observed = time.UnixMilli(t.CloseTime).UTC()
	}

	return domain.MarketSnapshot{
		Symbol:       p.symbol,
		Price:        t.LastPrice,
		Change24h:    t.PriceChange,
		ChangePct24h: t.PriceChangePercent,
		Volume24h:    t.Volume,
		High24h:      t.HighPrice,
		Low24h:       t.LowPrice,
		ObservedAt:   observed,
	}, nil
}
