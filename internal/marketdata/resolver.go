package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// Resolver tries providers strictly in priority order and returns the first
// success. The terminal provider, when present, always sits last.
type Resolver struct {
	mu        sync.RWMutex
	providers []Provider // non-terminal, in priority order
	terminal  Provider
	lastUsed  string

	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewResolver creates a Resolver. terminal may be nil, in which case Resolve
// can fail with domain.ErrAllSourcesExhausted.
func NewResolver(logger *slog.Logger, terminal Provider, providers ...Provider) *Resolver {
	return &Resolver{
		providers:      append([]Provider(nil), providers...),
		terminal:       terminal,
		attemptTimeout: DefaultTimeout + time.Second,
		logger:         logger.With(slog.String("component", "resolver")),
	}
}

// WithAttemptTimeout overrides the per-attempt deadline after which the
// resolver abandons a provider and moves on.
func (r *Resolver) WithAttemptTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.attemptTimeout = d
	}
	return r
}

// Resolve returns the first successful snapshot and the name of the provider
// that produced it.
func (r *Resolver) Resolve(ctx context.Context) (domain.MarketSnapshot, string, error) {
	chain := r.chain()

	for _, p := range chain {
		snap, err := r.attempt(ctx, p)
		if err != nil {
			fetchErr := &domain.ProviderFetchError{Provider: p.Name(), Err: err}
			r.logger.WarnContext(ctx, "market data provider failed",
				slog.String("provider", p.Name()),
				slog.String("error", fetchErr.Error()),
			)
			continue
		}

		r.mu.Lock()
		r.lastUsed = p.Name()
		r.mu.Unlock()

		r.logger.DebugContext(ctx, "market data resolved",
			slog.String("provider", p.Name()),
			slog.String("price", snap.Price.String()),
		)
		return snap, p.Name(), nil
	}

	return domain.MarketSnapshot{}, "", fmt.Errorf("marketdata: resolve over %d providers: %w",
		len(chain), domain.ErrAllSourcesExhausted)
}

// attempt runs one provider under its own deadline. A result delivered after
// the deadline lands in the buffered channel and is dropped.
func (r *Resolver) attempt(ctx context.Context, p Provider) (domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	type result struct {
		snap domain.MarketSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := p.FetchData(ctx)
		done <- result{snap: snap, err: err}
	}()

	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		return domain.MarketSnapshot{}, fmt.Errorf("attempt abandoned: %w", ctx.Err())
	}
}

// AddProvider inserts p immediately before the terminal provider.
func (r *Resolver) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// RemoveProvider removes the provider with the given name. Unknown names are
// ignored.
func (r *Resolver) RemoveProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal != nil && r.terminal.Name() == name {
		r.terminal = nil
	}
	kept := r.providers[:0]
	for _, p := range r.providers {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	r.providers = kept
}

// Providers returns provider names in resolution order.
func (r *Resolver) Providers() []string {
	chain := r.chain()
	names := make([]string, len(chain))
	for i, p := range chain {
		names[i] = p.Name()
	}
	return names
}

// LastUsed returns the name of the provider behind the most recent success,
// or "" before the first one.
func (r *Resolver) LastUsed() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUsed
}

func (r *Resolver) chain() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers)+1)
	out = append(out, r.providers...)
	if r.terminal != nil {
		out = append(out, r.terminal)
	}
	return out
}
