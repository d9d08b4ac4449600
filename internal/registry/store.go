package registry

import (
	"context"
	"embed"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Row is the persisted form of a registry entry: identity columns for
// lookup plus the JSON-encoded entry itself. Keeping the entry as an
// opaque payload means a schema drift in Entry cannot strand rows; the
// Registry validates and repairs on read instead.
type Row struct {
	UserID    string
	JobID     string
	Status    string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable backend for the job registry.
type Store interface {
	// List returns all rows for a user, oldest submission first.
	List(ctx context.Context, userID string) ([]Row, error)
	// Get returns the row for (userID, jobID), or nil when absent.
	Get(ctx context.Context, userID, jobID string) (*Row, error)
	// Put inserts or replaces a row by (userID, jobID).
	Put(ctx context.Context, row Row) error
	// Delete removes a row by identity. Missing rows are not an error.
	Delete(ctx context.Context, userID, jobID string) error
	// Prune deletes rows in any of the given statuses whose last update
	// is before the cutoff, across all users. Returns rows removed.
	Prune(ctx context.Context, statuses []string, before time.Time) (int64, error)
	// Close releases the underlying connection.
	Close() error
}
