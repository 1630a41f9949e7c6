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

// CoinGeckoProvider reads the CoinGecko simple price endpoint. CoinGecko has
// no absolute change or high/low in this response; those stay zero.
type CoinGeckoProvider struct {
	baseURL    string
	coinID     string
	symbol     string
	httpClient *http.Client
	now        func() time.Time
}

// NewCoinGeckoProvider creates a provider for coinID (e.g. "bitcoin"),
// reported under symbol.
func NewCoinGeckoProvider(baseURL, coinID, symbol string, timeout time.Duration) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		coinID:     coinID,
		symbol:     symbol,
		httpClient: &http.Client{Timeout: orDefault(timeout)},
		now:        time.Now,
	}
}

func (p *CoinGeckoProvider) Name() string { return "CoinGecko API" }

func (p *CoinGeckoProvider) FetchData(ctx context.Context) (domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.httpClient.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("ids", p.coinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_last_updated_at", "true")
	endpoint := p.baseURL + "/api/v3/simple/price?" + q.Encode()

	var body map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, p.httpClient, endpoint, &body); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/coingecko: %w", err)
	}

	coin, ok := body[p.coinID]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/coingecko: %s missing from response", p.coinID)
	}
	price := coin["usd"]
	if price.IsZero() {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata/coingecko: missing usd price for %s", p.coinID)
	}

	observed := p.now().UTC()
	if ts := coin["last_updated_at"]; ts.IsPositive() {
		observed = time.Unix(ts.IntPart(), 0).UTC()
	}

	return domain.MarketSnapshot{
		Symbol:       p.symbol,
		Price:        price,
		ChangePct24h: coin["usd_24h_change"],
		Volume24h:    coin["usd_24h_vol"],
		ObservedAt:   observed,
	}, nil
}
