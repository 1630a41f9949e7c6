// Package marketdata resolves a market snapshot from an ordered list of
// independent sources. Each Provider wraps one source; the Resolver walks them
// in priority order and returns the first success, ending with a terminal
// provider that cannot fail.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// DefaultTimeout bounds a single provider fetch.
const DefaultTimeout = 5 * time.Second

// Provider is one source of market data.
type Provider interface {
	// FetchData returns a canonical snapshot or an error. Implementations
	// apply their own bounded timeout.
	FetchData(ctx context.Context) (domain.MarketSnapshot, error)
	// Name is stable and unique within a Resolver.
	Name() string
}

// getJSON performs a GET against url and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
