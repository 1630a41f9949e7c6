package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType selects limit or market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// ParseOrderStatus maps server status strings onto OrderStatus. The server
// reports freshly accepted orders as "new", which is pending locally.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "new", "pending", "open", "":
		return OrderStatusPending
	case "partially_filled", "partiallyfilled":
		return OrderStatusPartiallyFilled
	case "filled":
		return OrderStatusFilled
	case "cancelled", "canceled":
		return OrderStatusCancelled
	case "rejected":
		return OrderStatusRejected
	default:
		return OrderStatus(s)
	}
}

// Order is one of the user's own orders. Price is nil for market orders.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           OrderType
	Price          *decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
}

// Normalize enforces the record invariants: market orders carry no price and
// the filled quantity stays within [0, Quantity].
func (o Order) Normalize() Order {
	if o.Type == OrderTypeMarket {
		o.Price = nil
	}
	if o.FilledQuantity.IsNegative() {
		o.FilledQuantity = decimal.Zero
	}
	if o.FilledQuantity.GreaterThan(o.Quantity) {
		o.FilledQuantity = o.Quantity
	}
	if o.Status == "" {
		o.Status = OrderStatusPending
	}
	return o
}

// OrderRequest is what the caller submits. Whoever builds one from user
// input checks it with Validate; the order client forwards it as is.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Price    *decimal.Decimal
	Quantity decimal.Decimal
	UserID   string
}

// Validate reports the first problem with r as an ErrInvalidOrder.
func (r OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case !r.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, r.Side)
	case !r.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch r.Type {
	case OrderTypeLimit:
		if r.Price == nil || !r.Price.IsPositive() {
			return fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
		}
	case OrderTypeMarket:
		if r.Price != nil {
			return fmt.Errorf("%w: market order takes no price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, r.Type)
	}
	return nil
}

// OrderResult wraps the server response after order submission.
type OrderResult struct {
	Success bool
	Order   Order
	Message string
}
