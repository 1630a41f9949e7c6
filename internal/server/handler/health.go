package handler

import (
	"context"
	"net/http"
	"time"
)

// Probe checks one backing service.
type Probe func(ctx context.Context) error

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	probes map[string]Probe
}

// NewHealthHandler creates a HealthHandler. Each probe is reported by name;
// any failing probe turns the response into a 503.
func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// HealthCheck runs every probe with a short deadline.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
