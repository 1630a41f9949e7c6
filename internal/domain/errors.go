package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAllSourcesExhausted is the single user-facing failure of market data
	// resolution. Individual provider failures never escape the resolver.
	ErrAllSourcesExhausted = errors.New("service busy: all market data sources exhausted")

	// ErrRestFetch marks a failed order book or trade tape REST fetch.
	ErrRestFetch = errors.New("rest fetch failed")

	// ErrChannelClosed marks a dropped push channel.
	ErrChannelClosed = errors.New("push channel closed")

	// ErrOrderRejected marks an order action the server refused.
	ErrOrderRejected = errors.New("order action rejected")

	// ErrInvalidOrder marks a request refused locally before any network call.
	ErrInvalidOrder = errors.New("invalid order request")
)

// ProviderFetchError is one failed provider attempt.
type ProviderFetchError struct {
	Provider string
	Err      error
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderFetchError) Unwrap() error { return e.Err }

// OrderActionError is a submit or cancel failure, reported to the caller
// as-is.
type OrderActionError struct {
	Action  string // "submit" or "cancel"
	OrderID string
	Err     error
}

func (e *OrderActionError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("order %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("order %s %s: %v", e.Action, e.OrderID, e.Err)
}

func (e *OrderActionError) Unwrap() error { return e.Err }
