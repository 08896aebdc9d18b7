package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound     = errors.New("propintel: not found")
	ErrUnauthorized = errors.New("propintel: unauthorized")
	ErrForbidden    = errors.New("propintel: forbidden")
	// ErrNoData marks an extraction that succeeded at the HTTP level but
	// produced no usable records.
	ErrNoData = errors.New("propintel: no data extracted")
)

// SnapshotRepository is the durable key-value store behind the extraction
// snapshot. Load returns (nil, nil) when the stored payload is missing or
// unparseable; a corrupt payload is logged, never surfaced.
type SnapshotRepository interface {
	Load(ctx context.Context, key string) ([]Property, error)
	Save(ctx context.Context, key string, batch []Property) error
	Clear(ctx context.Context, key string) error
	// MarkEmailSent patches the single emailSent flag of one property in
	// place, by id, without rewriting the rest of the batch semantics.
	MarkEmailSent(ctx context.Context, key, propertyID string) error
	LogMiss(ctx context.Context, filename string, status int, reason string) error
}

// ExtractorClient talks to the PDF extraction backend and its sibling
// email/contact endpoints.
type ExtractorClient interface {
	Extract(ctx context.Context, filename string, pdf io.Reader) ([]map[string]any, error)
	ContactBroker(ctx context.Context, msg ContactMessage) (string, error)
	EmailLogs(ctx context.Context) ([]EmailLog, error)
	ResendEmail(ctx context.Context, id string) error
	SyncProperty(ctx context.Context, title string, property Property) error
}

// Cache fronts the snapshot store with JSON values. A zero ttl means the
// entry never expires.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// BackendError carries the extraction backend's HTTP status and detail
// message so callers can surface the server's wording verbatim.
type BackendError struct {
	Status int
	Detail string
}

func (e *BackendError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}
