package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is one row of the order action journal.
type AuditEntry struct {
	ID        int64
	Event     string
	OrderID   string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only journal of order actions.
type AuditStore interface {
	Log(ctx context.Context, event, orderID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
