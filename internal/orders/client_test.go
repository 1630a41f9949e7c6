package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/state"
)

type fakeGateway struct {
	postResult domain.OrderResult
	postErr    error
	cancelErr  error

	posted    []domain.OrderRequest
	cancelled []string
}

func (g *fakeGateway) PostOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	g.posted = append(g.posted, req)
	return g.postResult, g.postErr
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID, userID string) error {
	g.cancelled = append(g.cancelled, orderID+"@"+userID)
	return g.cancelErr
}

type fakeAudit struct {
	events []string
	err    error
}

func (a *fakeAudit) Log(_ context.Context, event, orderID string, _ map[string]any) error {
	a.events = append(a.events, event+":"+orderID)
	return a.err
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestClient(gw Gateway, store *state.Store) *Client {
	return NewClient(gw, store, "user-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func limitRequest() domain.OrderRequest {
	price := decimal.NewFromInt(45000)
	return domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Price:    &price,
		Quantity: decimal.RequireFromString("0.5"),
	}
}

func TestSubmitPrependsServerOrder(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	store.PrependOrder(domain.Order{ID: "older", Quantity: decimal.NewFromInt(1)})

	req := limitRequest()
	gw := &fakeGateway{postResult: domain.OrderResult{
		Success: true,
		Order: domain.Order{
			ID: "o-1", Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
			Price: req.Price, Quantity: req.Quantity, Status: domain.OrderStatusPending,
			CreatedAt: time.Now(),
		},
	}}
	audit := &fakeAudit{}
	c := newTestClient(gw, store).WithAudit(audit)

	res, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, gw.posted, 1)
	assert.Equal(t, "user-1", gw.posted[0].UserID)

	orders := store.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "o-1", orders[0].ID)
	assert.Equal(t, domain.OrderStatusPending, orders[0].Status)
	assert.True(t, orders[0].FilledQuantity.IsZero())
	assert.Equal(t, []string{EventSubmitted + ":o-1"}, audit.events)
}

func TestSubmitFailureLeavesStateUntouched(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	gw := &fakeGateway{postErr: domain.ErrOrderRejected}
	audit := &fakeAudit{}
	c := newTestClient(gw, store).WithAudit(audit)

	res, err := c.Submit(context.Background(), limitRequest())
	require.Error(t, err)
	assert.False(t, res.Success)

	var actionErr *domain.OrderActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "submit", actionErr.Action)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	assert.Empty(t, store.Orders())
	assert.Empty(t, audit.events)
}

func TestSubmitForwardsRequestAsGiven(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	gw := &fakeGateway{postErr: fmt.Errorf("%w: price required", domain.ErrOrderRejected)}
	c := newTestClient(gw, store)

	req := limitRequest()
	req.Price = nil
	_, err := c.Submit(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	require.Len(t, gw.posted, 1, "the server decides, not the client")
	assert.Nil(t, gw.posted[0].Price)
	assert.Equal(t, "user-1", gw.posted[0].UserID)
	assert.Empty(t, store.Orders())
}

func TestSubmitMarketOrderWithoutPrice(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	gw := &fakeGateway{postResult: domain.OrderResult{Success: true, Order: domain.Order{
		ID: "m-1", Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	}}}
	c := newTestClient(gw, store)

	_, err := c.Submit(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	o, ok := store.Order("m-1")
	require.True(t, ok)
	assert.Nil(t, o.Price)
}

func TestCancelSuccessRemovesLocally(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	store.PrependOrder(domain.Order{ID: "o-1", Quantity: decimal.NewFromInt(1)})
	gw := &fakeGateway{}
	audit := &fakeAudit{err: errors.New("db down")}
	c := newTestClient(gw, store).WithAudit(audit)

	require.NoError(t, c.Cancel(context.Background(), "o-1"), "audit failures are not returned")
	assert.Equal(t, []string{"o-1@user-1"}, gw.cancelled)
	assert.Empty(t, store.Orders())
	assert.Equal(t, []string{EventCancelled + ":o-1"}, audit.events)
}

func TestCancelFailureLeavesOrder(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	store.PrependOrder(domain.Order{ID: "o-1", Quantity: decimal.NewFromInt(1)})
	gw := &fakeGateway{cancelErr: domain.ErrNotFound}
	c := newTestClient(gw, store)

	err := c.Cancel(context.Background(), "o-1")
	require.Error(t, err)

	var actionErr *domain.OrderActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "cancel", actionErr.Action)
	assert.Equal(t, "o-1", actionErr.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, ok := store.Order("o-1")
	assert.True(t, ok)
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func TestLimiterBlocksActions(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	store.PrependOrder(domain.Order{ID: "o-1", Quantity: decimal.NewFromInt(1)})
	gw := &fakeGateway{}
	lim := &fakeLimiter{allow: false}
	c := newTestClient(gw, store).WithLimiter(lim)

	_, err := c.Submit(context.Background(), limitRequest())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	err = c.Cancel(context.Background(), "o-1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	assert.Empty(t, gw.posted)
	assert.Empty(t, gw.cancelled)
	assert.Equal(t, []string{"orders:user-1", "orders:user-1"}, lim.keys)
	assert.Len(t, store.Orders(), 1)
}

func TestLimiterFailsOpen(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	gw := &fakeGateway{postResult: domain.OrderResult{Success: true, Order: domain.Order{ID: "o-9", Quantity: decimal.NewFromInt(1)}}}
	c := newTestClient(gw, store).WithLimiter(&fakeLimiter{err: errors.New("redis down")})

	_, err := c.Submit(context.Background(), limitRequest())
	require.NoError(t, err)
	assert.Len(t, gw.posted, 1)
}

type fakeAlerter struct {
	events []string
	err    error
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return a.err
}

func TestAlertsFollowServerOutcome(t *testing.T) {
	store := state.NewStore("BTCUSDT")
	gw := &fakeGateway{postErr: domain.ErrOrderRejected}
	alerts := &fakeAlerter{err: errors.New("webhook down")}
	c := newTestClient(gw, store).WithAlerts(alerts)

	_, err := c.Submit(context.Background(), limitRequest())
	require.Error(t, err)

	// Local validation failures never reach the server, so no alert.
	bad := limitRequest()
	bad.Symbol = ""
	_, err = c.Submit(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	gw.postErr = nil
	gw.postResult = domain.OrderResult{Success: true, Order: domain.Order{ID: "o-9", Quantity: decimal.NewFromInt(1)}}
	_, err = c.Submit(context.Background(), limitRequest())
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), "o-9"))
	assert.Equal(t, []string{EventRejected, EventSubmitted, EventCancelled}, alerts.events)
}
