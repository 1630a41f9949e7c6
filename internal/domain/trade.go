package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor or order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is one print on the public trade tape.
type Trade struct {
	ID         string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Side       Side
	OccurredAt time.Time
}
