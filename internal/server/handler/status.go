package handler

import (
	"net/http"
	"time"
)

// StatusSource reports live process status.
type StatusSource interface {
	StreamState() string
	MarketProvider() string
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	symbol    string
	startedAt time.Time
	source    StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, symbol string, startedAt time.Time, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, symbol: symbol, startedAt: startedAt, source: source}
}

// GetStatus reports mode, symbol, uptime and the push channel state.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"symbol":          h.symbol,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"stream_state":    h.source.StreamState(),
		"market_provider": h.source.MarketProvider(),
	})
}
