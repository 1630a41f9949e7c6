package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the 24h ticker view of a single symbol. A snapshot always
// replaces the previous one wholesale; fields are never merged.
type MarketSnapshot struct {
	Symbol       string
	Price        decimal.Decimal
	Change24h    decimal.Decimal
	ChangePct24h decimal.Decimal
	Volume24h    decimal.Decimal
	High24h      decimal.Decimal
	Low24h       decimal.Decimal
	ObservedAt   time.Time
}

// IsZero reports whether the snapshot has never been populated.
func (m MarketSnapshot) IsZero() bool {
	return m.ObservedAt.IsZero() && m.Price.IsZero()
}
