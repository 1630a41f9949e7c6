// Package exchange is the client for the trading server: REST calls for
// bootstrap and order actions, and the WebSocket push channel dialer.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradesync/internal/crypto"
	"github.com/alanyoungcy/tradesync/internal/domain"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

// RESTClient talks to the trading server's HTTP API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	hmacAuth   *crypto.HMACAuth
}

// NewRESTClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080". hmac may be nil for unsigned requests.
func NewRESTClient(baseURL string, timeout time.Duration, hmac *crypto.HMACAuth) *RESTClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		hmacAuth:   hmac,
	}
}

// GetMarketData fetches the server's 24h ticker for symbol. It makes the
// client usable as the source behind the "Backend API" provider.
func (c *RESTClient) GetMarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/market-data/"+url.PathEscape(symbol), nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("exchange/rest: get market data %s: %w", symbol, err)
	}

	var md APIMarketData
	if err := json.Unmarshal(respBody, &md); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("exchange/rest: decode market data: %w", err)
	}
	return md.ToDomain(symbol), nil
}

// GetOrderBook fetches a depth snapshot. depth <= 0 leaves the server default.
func (c *RESTClient) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	path := "/orderbook/" + url.PathEscape(symbol)
	if depth > 0 {
		path += "?depth=" + strconv.Itoa(depth)
	}

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("exchange/rest: get order book %s: %w: %w", symbol, domain.ErrRestFetch, err)
	}

	var book APIOrderBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("exchange/rest: decode order book: %w: %w", domain.ErrRestFetch, err)
	}
	return book.ToDomain(symbol), nil
}

// GetTrades fetches recent trades, newest first as the server returns them.
func (c *RESTClient) GetTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	path := "/trades/" + url.PathEscape(symbol)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange/rest: get trades %s: %w: %w", symbol, domain.ErrRestFetch, err)
	}

	var apiTrades []APITrade
	if err := json.Unmarshal(respBody, &apiTrades); err != nil {
		return nil, fmt.Errorf("exchange/rest: decode trades: %w: %w", domain.ErrRestFetch, err)
	}

	trades := make([]domain.Trade, 0, len(apiTrades))
	for i := range apiTrades {
		trades = append(trades, apiTrades[i].ToDomain())
	}
	return trades, nil
}

// GetUserOrders fetches every order the server holds for userID.
func (c *RESTClient) GetUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/orders/user/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("exchange/rest: get orders for %s: %w", userID, err)
	}

	var apiOrders []APIOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("exchange/rest: decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(apiOrders))
	for i := range apiOrders {
		orders = append(orders, apiOrders[i].ToDomain())
	}
	return orders, nil
}

// PostOrder submits an order. A rejected submission is returned as an error
// wrapping domain.ErrOrderRejected together with the server's message.
func (c *RESTClient) PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	body := APIOrderRequest{
		Symbol:    SplitSymbol(req.Symbol),
		Side:      string(req.Side),
		OrderType: string(req.Type),
		Quantity:  req.Quantity,
		Price:     req.Price,
		UserID:    req.UserID,
	}
	if req.Type == domain.OrderTypeMarket {
		body.Price = nil
	}

	respBody, err := c.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange/rest: post order: %w", err)
	}

	var resp APIOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange/rest: decode order result: %w", err)
	}

	if resp.Success != nil && !*resp.Success {
		return domain.OrderResult{Message: resp.Message},
			fmt.Errorf("exchange/rest: %w: %s", domain.ErrOrderRejected, resp.Message)
	}

	var order domain.Order
	switch {
	case resp.Order != nil:
		order = resp.Order.ToDomain()
		if order.Symbol == "" {
			order.Symbol = req.Symbol
		}
	case resp.OrderID != "":
		// Acknowledgement only: the order is rebuilt from the request.
		order = domain.Order{
			ID:        resp.OrderID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Type:      req.Type,
			Price:     req.Price,
			Quantity:  req.Quantity,
			Status:    domain.ParseOrderStatus(strings.ToLower(resp.Status)),
			CreatedAt: time.Now().UTC(),
		}.Normalize()
	default:
		return domain.OrderResult{Message: resp.Message},
			fmt.Errorf("exchange/rest: %w: response carried no order", domain.ErrOrderRejected)
	}

	return domain.OrderResult{Success: true, Order: order, Message: resp.Message}, nil
}

// CancelOrder cancels orderID on behalf of userID.
func (c *RESTClient) CancelOrder(ctx context.Context, orderID, userID string) error {
	path := "/orders/" + url.PathEscape(orderID) + "?user_id=" + url.QueryEscape(userID)

	respBody, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("exchange/rest: cancel order %s: %w", orderID, err)
	}

	var result APICancelResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("exchange/rest: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exchange/rest: %w: cancel failed: %s", domain.ErrOrderRejected, result.Message)
	}
	return nil
}

// Health checks the server's /health endpoint.
func (c *RESTClient) Health(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/health", nil); err != nil {
		return fmt.Errorf("exchange/rest: health: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, optionally signs, sends, and reads one request under the
// client's timeout. It returns the raw response body.
func (c *RESTClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrOrderRejected, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
