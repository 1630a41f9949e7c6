package exchange

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// --------------------------------------------------------------------------
// Wire helpers
// --------------------------------------------------------------------------

// APISymbol is the server's {base, quote} pair.
type APISymbol struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// SplitSymbol parses "BTCUSDT", "BTC-USDT" or "BTC/USDT" the same way the
// server does: an explicit separator wins, otherwise the first three
// characters are the base currency.
func SplitSymbol(s string) APISymbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"-", "/"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			return APISymbol{Base: base, Quote: quote}
		}
	}
	if len(s) >= 6 {
		return APISymbol{Base: s[:3], Quote: s[3:]}
	}
	return APISymbol{Base: s}
}

// NormalizeSymbol folds "btc-usdt", "BTC/USDT" and "BTCUSDT" to "BTCUSDT".
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "/", "", " ", "").Replace(s))
}

// flexSymbol unmarshals from either a plain string ("BTCUSDT") or the
// server's {base, quote} object, normalising to "BASEQUOTE".
type flexSymbol string

func (f *flexSymbol) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexSymbol(NormalizeSymbol(s))
		return nil
	}
	var pair APISymbol
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	*f = flexSymbol(strings.ToUpper(pair.Base + pair.Quote))
	return nil
}

// String returns the normalised symbol, "" when the field was absent.
func (f flexSymbol) String() string { return string(f) }

// flexTime unmarshals from an RFC 3339 string or a Unix millisecond number.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*f = flexTime(t)
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexTime(time.UnixMilli(ms))
	return nil
}

// orNow returns the decoded time in UTC, or now when the field was absent.
func (f flexTime) orNow() time.Time {
	t := time.Time(f)
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// --------------------------------------------------------------------------
// Market data
// --------------------------------------------------------------------------

// APIMarketData is the server's 24h ticker. It is also the payload of a
// "market_data" push frame. The lightweight server build names some fields
// differently (price, price_change_percentage_24h, total_volume); both
// spellings are accepted.
type APIMarketData struct {
	Symbol            flexSymbol      `json:"symbol"`
	LastPrice         decimal.Decimal `json:"last_price"`
	Price             decimal.Decimal `json:"price"`
	Volume24h         decimal.Decimal `json:"volume_24h"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	PriceChange24h    decimal.Decimal `json:"price_change_24h"`
	PriceChangePct24h decimal.Decimal `json:"price_change_pct_24h"`
	PriceChangePctAlt decimal.Decimal `json:"price_change_percentage_24h"`
	High24h           decimal.Decimal `json:"high_24h"`
	Low24h            decimal.Decimal `json:"low_24h"`
	Timestamp         flexTime        `json:"timestamp"`
}

// ToDomain converts to a canonical snapshot. When the server omits the
// percentage it is derived from the absolute change and the implied open.
func (m *APIMarketData) ToDomain(fallbackSymbol string) domain.MarketSnapshot {
	symbol := string(m.Symbol)
	if symbol == "" {
		symbol = fallbackSymbol
	}
	price := firstNonZero(m.LastPrice, m.Price)
	pct := firstNonZero(m.PriceChangePct24h, m.PriceChangePctAlt)
	if pct.IsZero() && !m.PriceChange24h.IsZero() {
		open := price.Sub(m.PriceChange24h)
		if open.IsPositive() {
			pct = m.PriceChange24h.Div(open).Mul(decimal.NewFromInt(100)).Round(4)
		}
	}
	return domain.MarketSnapshot{
		Symbol:       symbol,
		Price:        price,
		Change24h:    m.PriceChange24h,
		ChangePct24h: pct,
		Volume24h:    firstNonZero(m.Volume24h, m.TotalVolume),
		High24h:      m.High24h,
		Low24h:       m.Low24h,
		ObservedAt:   m.Timestamp.orNow(),
	}
}

func firstNonZero(vals ...decimal.Decimal) decimal.Decimal {
	for _, v := range vals {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

// --------------------------------------------------------------------------
// Order book and trades
// --------------------------------------------------------------------------

// APILevel is one depth level. The server names the size total_quantity;
// quantity is accepted as well.
type APILevel struct {
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
}

func (l APILevel) toDomain() domain.OrderBookLevel {
	qty := l.Quantity
	if qty.IsZero() {
		qty = l.TotalQuantity
	}
	return domain.OrderBookLevel{Price: l.Price, Quantity: qty}
}

// APIOrderBook is the depth snapshot returned by GET /orderbook/{symbol} and
// carried by "orderbook" push frames.
type APIOrderBook struct {
	Symbol    flexSymbol `json:"symbol"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp flexTime   `json:"timestamp"`
}

// ToDomain converts and sorts the snapshot.
func (b *APIOrderBook) ToDomain(fallbackSymbol string) domain.OrderBookSnapshot {
	symbol := string(b.Symbol)
	if symbol == "" {
		symbol = fallbackSymbol
	}
	bids := make([]domain.OrderBookLevel, 0, len(b.Bids))
	for _, l := range b.Bids {
		bids = append(bids, l.toDomain())
	}
	asks := make([]domain.OrderBookLevel, 0, len(b.Asks))
	for _, l := range b.Asks {
		asks = append(asks, l.toDomain())
	}
	return domain.NewOrderBookSnapshot(symbol, bids, asks, b.Timestamp.orNow())
}

// APITrade is one trade print. The server does not always report an
// aggressor side; buy is assumed then.
type APITrade struct {
	ID        string          `json:"id"`
	Symbol    flexSymbol      `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      string          `json:"side"`
	Timestamp flexTime        `json:"timestamp"`
}

// ToDomain converts to a domain trade.
func (t *APITrade) ToDomain() domain.Trade {
	side := domain.Side(strings.ToLower(t.Side))
	if !side.Valid() {
		side = domain.SideBuy
	}
	return domain.Trade{
		ID:         t.ID,
		Price:      t.Price,
		Quantity:   t.Quantity,
		Side:       side,
		OccurredAt: t.Timestamp.orNow(),
	}
}

// --------------------------------------------------------------------------
// Orders
// --------------------------------------------------------------------------

// APIOrder is an order as the server serialises it. The order kind is under
// order_type because "type" is the push frame discriminator.
type APIOrder struct {
	ID             string           `json:"id"`
	Symbol         flexSymbol       `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"order_type"`
	Price          *decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	Status         string           `json:"status"`
	Timestamp      flexTime         `json:"timestamp"`
	CreatedAt      flexTime         `json:"created_at"`
	UserID         string           `json:"user_id,omitempty"`
}

// ToDomain converts to a normalised domain order.
func (o *APIOrder) ToDomain() domain.Order {
	created := time.Time(o.CreatedAt)
	if created.IsZero() {
		created = o.Timestamp.orNow()
	}
	return domain.Order{
		ID:             o.ID,
		Symbol:         string(o.Symbol),
		Side:           domain.Side(strings.ToLower(o.Side)),
		Type:           domain.OrderType(strings.ToLower(o.OrderType)),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Status:         domain.ParseOrderStatus(strings.ToLower(o.Status)),
		CreatedAt:      created.UTC(),
	}.Normalize()
}

// APIOrderRequest is the body of POST /orders.
type APIOrderRequest struct {
	Symbol    APISymbol        `json:"symbol"`
	Side      string           `json:"side"`
	OrderType string           `json:"order_type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	UserID    string           `json:"user_id"`
}

// APIOrderResponse covers both response shapes the server may produce:
// {success, order} or {order_id, status, message}.
type APIOrderResponse struct {
	Success *bool     `json:"success"`
	Order   *APIOrder `json:"order"`
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// APICancelResponse is the body of DELETE /orders/{id}.
type APICancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
