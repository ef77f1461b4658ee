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

// AnswerStore persists the answer history.
type AnswerStore interface {
	Insert(ctx context.Context, answer Answer) error
	Latest(ctx context.Context, symbol string) (Answer, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Answer, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Answer, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
