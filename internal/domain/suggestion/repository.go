package suggestion

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores suggestions.
type Repository interface {
	// SaveReplacingActive deactivates every active suggestion of the user and
	// inserts s as the new active one, in a single transaction. Version and
	// PreviousVersionRef are assigned from the user's latest suggestion.
	SaveReplacingActive(ctx context.Context, s *Suggestion) error

	// ActivateExclusive deactivates all other suggestions of the user and
	// persists s (already accepted), in a single transaction.
	ActivateExclusive(ctx context.Context, s *Suggestion) error

	// Update persists review or task-completion changes. It never sets
	// active on a stored suggestion that is inactive; s.Active reflects the
	// stored value afterwards.
	Update(ctx context.Context, s *Suggestion) error

	// FindByID returns a suggestion by id.
	// Returns shared.ErrSuggestionNotFound if it does not exist.
	FindByID(ctx context.Context, id string) (*Suggestion, error)

	// FindLatestActive returns the user's newest active suggestion.
	// Returns shared.ErrSuggestionNotFound if there is none.
	FindLatestActive(ctx context.Context, userID string) (*Suggestion, error)

	// FindLatestAccepted returns the user's newest active and accepted suggestion.
	// Returns shared.ErrSuggestionNotFound if there is none.
	FindLatestAccepted(ctx context.Context, userID string) (*Suggestion, error)

	// ExistsGeneratedSince reports whether the user has a suggestion with the
	// given origin created at or after since.
	ExistsGeneratedSince(ctx context.Context, userID string, by GeneratedBy, since time.Time) (bool, error)

	// DeactivateCreatedBefore deactivates active suggestions created before the cutoff.
	DeactivateCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteUnacceptedBefore removes never-accepted suggestions created before the cutoff.
	DeleteUnacceptedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrackerRepository stores per-user trackers.
type TrackerRepository interface {
	// Get returns the user's tracker, or a fresh one if none exists yet.
	Get(ctx context.Context, userID string) (*Tracker, error)

	// Save upserts the tracker.
	Save(ctx context.Context, t *Tracker) error
}
