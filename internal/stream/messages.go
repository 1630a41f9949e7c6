package stream

import (
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/tradesync/internal/platform/exchange"
)

// Frame types on the push channel.
const (
	FrameTrade       = "trade"
	FrameOrderBook   = "orderbook"
	FrameMarketData  = "market_data"
	FrameOrderUpdate = "order_update"
	FrameError       = "error"
)

// envelope is the discriminator of a push frame. The payload is normally
// flattened next to "type"; a nested "data" object is accepted too.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type errorFrame struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// handleFrame decodes one frame and applies it to the sink. Malformed and
// unknown frames are logged and dropped.
func (c *Controller) handleFrame(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	payload := raw
	if len(env.Data) > 0 && env.Data[0] == '{' {
		payload = env.Data
	}

	switch env.Type {
	case FrameTrade:
		var t exchange.APITrade
		if !c.decode(env.Type, payload, &t) || !c.forSymbol(t.Symbol.String()) {
			return
		}
		c.sink.ApplyTrade(t.ToDomain())

	case FrameOrderBook:
		var b exchange.APIOrderBook
		if !c.decode(env.Type, payload, &b) || !c.forSymbol(b.Symbol.String()) {
			return
		}
		c.sink.ReplaceOrderBook(b.ToDomain(c.symbol))

	case FrameMarketData:
		var m exchange.APIMarketData
		if !c.decode(env.Type, payload, &m) || !c.forSymbol(m.Symbol.String()) {
			return
		}
		c.sink.ReplaceMarket(m.ToDomain(c.symbol))

	case FrameOrderUpdate:
		var o exchange.APIOrder
		if !c.decode(env.Type, payload, &o) || !c.forSymbol(o.Symbol.String()) {
			return
		}
		if o.ID == "" {
			c.logger.Warn("dropping order update without id")
			return
		}
		order := o.ToDomain()
		if order.Symbol == "" {
			order.Symbol = c.symbol
		}
		if !c.sink.ApplyOrderUpdate(order) {
			c.logger.Debug("ignoring update for unknown order", slog.String("order_id", order.ID))
		}

	case FrameError:
		var e errorFrame
		if !c.decode(env.Type, payload, &e) {
			return
		}
		c.logger.Warn("server reported error",
			slog.String("message", e.Message),
			slog.String("code", e.Code),
		)

	default:
		c.logger.Debug("dropping frame of unknown type", slog.String("type", env.Type))
	}
}

func (c *Controller) decode(frameType string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		c.logger.Warn("dropping malformed frame",
			slog.String("type", frameType),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// forSymbol reports whether a frame for symbol concerns this controller. A
// frame without a symbol is accepted.
func (c *Controller) forSymbol(symbol string) bool {
	if symbol == "" || c.symbol == "" || symbol == c.symbol {
		return true
	}
	c.logger.Debug("dropping frame for other symbol", slog.String("symbol", symbol))
	return false
}
