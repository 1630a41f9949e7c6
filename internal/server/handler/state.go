package handler

import (
	"net/http"

	"github.com/alanyoungcy/tradesync/internal/state"
)

// StateReader is the read side of the local store.
type StateReader interface {
	View() state.View
}

// StateHandler serves GET /api/state.
type StateHandler struct {
	store StateReader
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(store StateReader) *StateHandler {
	return &StateHandler{store: store}
}

// GetState returns a consistent copy of the whole local state.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.View())
}
