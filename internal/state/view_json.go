package state

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// JSON documents for View. Decimals are encoded as strings so no precision
// is lost.

type marketDoc struct {
	Symbol       string    `json:"symbol"`
	Price        string    `json:"price"`
	Change24h    string    `json:"change_24h"`
	ChangePct24h string    `json:"change_pct_24h"`
	Volume24h    string    `json:"volume_24h"`
	High24h      string    `json:"high_24h"`
	Low24h       string    `json:"low_24h"`
	ObservedAt   time.Time `json:"observed_at"`
	Source       string    `json:"source,omitempty"`
}

type levelDoc struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type bookDoc struct {
	Symbol    string     `json:"symbol"`
	Bids      []levelDoc `json:"bids"`
	Asks      []levelDoc `json:"asks"`
	Timestamp time.Time  `json:"timestamp"`
}

type tradeDoc struct {
	ID         string    `json:"id"`
	Price      string    `json:"price"`
	Quantity   string    `json:"quantity"`
	Side       string    `json:"side"`
	OccurredAt time.Time `json:"timestamp"`
}

// OrderDoc is the JSON form of a domain.Order.
type OrderDoc struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"order_type"`
	Price          *string   `json:"price"`
	Quantity       string    `json:"quantity"`
	FilledQuantity string    `json:"filled_quantity"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type viewDoc struct {
	Symbol     string     `json:"symbol"`
	Market     marketDoc  `json:"market"`
	OrderBook  bookDoc    `json:"order_book"`
	Trades     []tradeDoc `json:"trades"`
	Orders     []OrderDoc `json:"orders"`
	Connected  bool       `json:"connected"`
	CapturedAt time.Time  `json:"captured_at"`
}

// NewOrderDoc converts o. Market orders have a null price.
func NewOrderDoc(o domain.Order) OrderDoc {
	doc := OrderDoc{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Quantity:       o.Quantity.String(),
		FilledQuantity: o.FilledQuantity.String(),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
	}
	if o.Price != nil {
		p := o.Price.String()
		doc.Price = &p
	}
	return doc
}

// NewOrderDocs converts a slice, never returning nil.
func NewOrderDocs(orders []domain.Order) []OrderDoc {
	out := make([]OrderDoc, 0, len(orders))
	for _, o := range orders {
		out = append(out, NewOrderDoc(o))
	}
	return out
}

func levelDocs(levels []domain.OrderBookLevel) []levelDoc {
	out := make([]levelDoc, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelDoc{Price: l.Price.String(), Quantity: l.Quantity.String()})
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (v View) MarshalJSON() ([]byte, error) {
	doc := viewDoc{
		Symbol: v.Symbol,
		Market: marketDoc{
			Symbol:       v.Market.Symbol,
			Price:        v.Market.Price.String(),
			Change24h:    v.Market.Change24h.String(),
			ChangePct24h: v.Market.ChangePct24h.String(),
			Volume24h:    v.Market.Volume24h.String(),
			High24h:      v.Market.High24h.String(),
			Low24h:       v.Market.Low24h.String(),
			ObservedAt:   v.Market.ObservedAt,
			Source:       v.MarketSource,
		},
		OrderBook: bookDoc{
			Symbol:    v.OrderBook.Symbol,
			Bids:      levelDocs(v.OrderBook.Bids),
			Asks:      levelDocs(v.OrderBook.Asks),
			Timestamp: v.OrderBook.Timestamp,
		},
		Trades:     make([]tradeDoc, 0, len(v.Trades)),
		Orders:     NewOrderDocs(v.Orders),
		Connected:  v.Connected,
		CapturedAt: v.CapturedAt,
	}
	for _, t := range v.Trades {
		doc.Trades = append(doc.Trades, tradeDoc{
			ID:         t.ID,
			Price:      t.Price.String(),
			Quantity:   t.Quantity.String(),
			Side:       string(t.Side),
			OccurredAt: t.OccurredAt,
		})
	}
	return json.Marshal(doc)
}
