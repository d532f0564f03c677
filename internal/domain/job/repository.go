package job

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// RecentFilter selects records for the duplicate-window check.
type RecentFilter struct {
	UserID   string
	Type     Type
	Statuses []Status
	Since    time.Time

	// ExcludeID skips one record, used when a worker re-checks its own job.
	ExcludeID string

	// IncludeForced counts forced records too. The enqueue check ignores them.
	IncludeForced bool

	// Before, when set, only matches records created strictly before it.
	Before time.Time
}

// Repository stores job records.
type Repository interface {
	// Create inserts a new record.
	Create(ctx context.Context, record *Record) error

	// CreateUnlessRecent inserts the record unless another record matches
	// the filter. The check and the insert are atomic per user and type.
	// The bool is false when a match exists and nothing was inserted.
	CreateUnlessRecent(ctx context.Context, record *Record, filter RecentFilter) (bool, error)

	// FindByID returns a record by id.
	// Returns shared.ErrJobNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// ExistsRecent reports whether any record matches the filter.
	ExistsRecent(ctx context.Context, filter RecentFilter) (bool, error)

	// LeaseNext atomically picks the highest-priority leasable record
	// (oldest first among equal priorities) and moves it to processing.
	// Returns shared.ErrNoJobAvailable if nothing is leasable.
	LeaseNext(ctx context.Context, now time.Time) (*Record, error)

	// Update persists a record after a state-machine transition.
	Update(ctx context.Context, record *Record) error

	// ListByCreatedRange returns records created within [from, to).
	ListByCreatedRange(ctx context.Context, from, to time.Time) ([]*Record, error)

	// RecentForUser returns the user's records created since the given time, newest first.
	RecentForUser(ctx context.Context, userID string, since time.Time) ([]*Record, error)

	// LastCreatedAt returns when the newest record for the user was created.
	// The bool is false when the user has no records.
	LastCreatedAt(ctx context.Context, userID string) (time.Time, bool, error)
}

// MetricsReader is the read-only aggregate view over job records.
type MetricsReader interface {
	// Metrics returns counts and average durations grouped by type and status.
	Metrics(ctx context.Context, from, to time.Time) ([]MetricsRow, error)
}
