package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderRequestValidate(t *testing.T) {
	price := decimal.NewFromInt(100)
	zero := decimal.Zero
	base := OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeLimit, Price: &price, Quantity: decimal.NewFromInt(1)}
	assert.NoError(t, base.Validate())

	market := base
	market.Type = OrderTypeMarket
	market.Price = nil
	assert.NoError(t, market.Validate())

	cases := map[string]func(r *OrderRequest){
		"no symbol":          func(r *OrderRequest) { r.Symbol = "" },
		"bad side":           func(r *OrderRequest) { r.Side = "hold" },
		"zero quantity":      func(r *OrderRequest) { r.Quantity = decimal.Zero },
		"limit without":      func(r *OrderRequest) { r.Price = nil },
		"limit zero price":   func(r *OrderRequest) { r.Price = &zero },
		"market with price":  func(r *OrderRequest) { r.Type = OrderTypeMarket },
		"unknown order type": func(r *OrderRequest) { r.Type = "stop" },
	}
	for name, mutate := range cases {
		req := base
		mutate(&req)
		assert.ErrorIs(t, req.Validate(), ErrInvalidOrder, name)
	}
}
