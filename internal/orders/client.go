// Package orders submits and cancels the user's orders. Both actions are
// pessimistic: local state changes only after the server has confirmed.
package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// Gateway is the server side of order actions.
type Gateway interface {
	PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, userID string) error
}

// Ledger is the local order collection.
type Ledger interface {
	PrependOrder(domain.Order)
	RemoveOrder(id string) bool
}

// Limiter throttles order actions per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Alerter forwards operator alerts. Event names match the audit events plus
// EventRejected.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Audit and alert events.
const (
	EventSubmitted = "order_submitted"
	EventCancelled = "order_cancelled"
	EventRejected  = "order_rejected"
)

// Client runs order actions for one user.
type Client struct {
	gateway Gateway
	ledger  Ledger
	userID  string
	audit   domain.AuditStore
	limiter Limiter
	alerts  Alerter
	logger  *slog.Logger
}

// NewClient creates a Client acting on behalf of userID.
func NewClient(gateway Gateway, ledger Ledger, userID string, logger *slog.Logger) *Client {
	return &Client{
		gateway: gateway,
		ledger:  ledger,
		userID:  userID,
		logger:  logger.With(slog.String("component", "orders")),
	}
}

// WithAudit journals every confirmed action to store.
func (c *Client) WithAudit(store domain.AuditStore) *Client {
	c.audit = store
	return c
}

// WithLimiter throttles submissions and cancellations for the user.
func (c *Client) WithLimiter(l Limiter) *Client {
	c.limiter = l
	return c
}

// WithAlerts sends an alert after every server-side outcome.
func (c *Client) WithAlerts(a Alerter) *Client {
	c.alerts = a
	return c
}

// Submit sends req to the server as given; checking it is the caller's job.
// On success the server's order is prepended locally; on failure an
// *domain.OrderActionError is returned and nothing changes locally.
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.UserID == "" {
		req.UserID = c.userID
	}
	if err := c.throttle(ctx); err != nil {
		return domain.OrderResult{Message: err.Error()}, &domain.OrderActionError{Action: "submit", Err: err}
	}

	res, err := c.gateway.PostOrder(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "order submission failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		res.Success = false
		c.alert(ctx, EventRejected, "Order rejected",
			fmt.Sprintf("%s %s %s: %v", req.Side, req.Quantity, req.Symbol, err))
		return res, &domain.OrderActionError{Action: "submit", Err: err}
	}

	c.ledger.PrependOrder(res.Order)
	c.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", res.Order.ID),
		slog.String("status", string(res.Order.Status)),
	)

	c.journal(ctx, EventSubmitted, res.Order.ID, map[string]any{
		"symbol":   res.Order.Symbol,
		"side":     string(res.Order.Side),
		"type":     string(res.Order.Type),
		"quantity": res.Order.Quantity.String(),
		"price":    priceString(res.Order),
		"status":   string(res.Order.Status),
	})
	c.alert(ctx, EventSubmitted, "Order submitted",
		fmt.Sprintf("%s %s %s %s (%s)", res.Order.ID, res.Order.Side, res.Order.Quantity, res.Order.Symbol, res.Order.Status))
	return res, nil
}

// Cancel asks the server to cancel orderID. The local record is removed only
// after the server confirms.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.throttle(ctx); err != nil {
		return &domain.OrderActionError{Action: "cancel", OrderID: orderID, Err: err}
	}
	if err := c.gateway.CancelOrder(ctx, orderID, c.userID); err != nil {
		c.logger.WarnContext(ctx, "order cancellation failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return &domain.OrderActionError{Action: "cancel", OrderID: orderID, Err: err}
	}

	removed := c.ledger.RemoveOrder(orderID)
	c.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", orderID),
		slog.Bool("was_local", removed),
	)

	c.journal(ctx, EventCancelled, orderID, map[string]any{"user_id": c.userID})
	c.alert(ctx, EventCancelled, "Order cancelled", orderID)
	return nil
}

// throttle fails open when the limiter itself is unavailable.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	ok, err := c.limiter.Allow(ctx, "orders:"+c.userID)
	if err != nil {
		c.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("orders: %w: too many order actions", domain.ErrRateLimited)
	}
	return nil
}

// journal appends to the audit store. Failures are logged only.
func (c *Client) journal(ctx context.Context, event, orderID string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, orderID, detail); err != nil {
		c.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// alert failures are logged only.
func (c *Client) alert(ctx context.Context, event, title, message string) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Notify(ctx, event, title, message); err != nil {
		c.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func priceString(o domain.Order) string {
	if o.Price == nil {
		return ""
	}
	return o.Price.String()
}
