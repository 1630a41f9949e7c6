package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/state"
)

// OrderActions is the order lifecycle client.
type OrderActions interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	Cancel(ctx context.Context, orderID string) error
}

// OrderLister lists the locally known orders.
type OrderLister interface {
	Orders() []domain.Order
}

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	actions OrderActions
	orders  OrderLister
	logger  *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(actions OrderActions, orders OrderLister, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		actions: actions,
		orders:  orders,
		logger:  logger.With(slog.String("handler", "orders")),
	}
}

type placeOrderRequest struct {
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	OrderType string           `json:"order_type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
}

type placeOrderResponse struct {
	Success bool           `json:"success"`
	Order   state.OrderDoc `json:"order"`
	Message string         `json:"message,omitempty"`
}

// ListOrders returns the local order list, newest first.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": state.NewOrderDocs(h.orders.Orders()),
	})
}

// PlaceOrder submits an order.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := domain.OrderRequest{
		Symbol:   strings.ToUpper(strings.TrimSpace(body.Symbol)),
		Side:     domain.Side(strings.ToLower(body.Side)),
		Type:     domain.OrderType(strings.ToLower(body.OrderType)),
		Quantity: body.Quantity,
		Price:    body.Price,
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeLimit
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.actions.Submit(r.Context(), req)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{
		Success: true,
		Order:   state.NewOrderDoc(result.Order),
		Message: result.Message,
	})
}

// CancelOrder cancels an order by id.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if err := h.actions.Cancel(r.Context(), id); err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": id,
	})
}

// writeActionError maps order errors to statuses.
func (h *OrderHandler) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrOrderRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "order action failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "trading server unavailable")
	}
}
