// Package command contains write operations on suggestions (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR
// ══════════════════════════════════════════════════════════════════════════════

// Role is the caller's role as carried by the auth token.
type Role string

const (
	RoleStudent Role = "student"
	RoleMentor  Role = "mentor"
	RoleAdmin   Role = "admin"
)

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	return r == RoleStudent || r == RoleMentor || r == RoleAdmin
}

// Actor identifies who issues a command.
type Actor struct {
	ID   string
	Role Role
}

// IsStaff reports whether the actor is a mentor or an admin.
func (a Actor) IsStaff() bool {
	return a.Role == RoleMentor || a.Role == RoleAdmin
}

// authorize lets students act on their own suggestions only.
func authorize(actor Actor, s *suggestion.Suggestion) error {
	if actor.ID == "" || !actor.Role.IsValid() {
		return shared.ErrUnauthorized
	}
	if actor.IsStaff() || s.IsOwnedBy(actor.ID) {
		return nil
	}
	return shared.ErrNotSuggestionOwner
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SuggestionHandler executes suggestion lifecycle commands.
type SuggestionHandler struct {
	suggestions suggestion.Repository
	trackers    suggestion.TrackerRepository
	events      shared.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the SuggestionHandler.
type Option func(*SuggestionHandler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *SuggestionHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *SuggestionHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithEvents publishes lifecycle events.
func WithEvents(events shared.EventPublisher) Option {
	return func(h *SuggestionHandler) {
		h.events = events
	}
}

// NewSuggestionHandler creates a new SuggestionHandler.
func NewSuggestionHandler(
	suggestions suggestion.Repository,
	trackers suggestion.TrackerRepository,
	opts ...Option,
) *SuggestionHandler {
	h := &SuggestionHandler{
		suggestions: suggestions,
		trackers:    trackers,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SuggestionHandler) load(ctx context.Context, id string, actor Actor) (*suggestion.Suggestion, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: suggestion id is required", shared.ErrInvalidInput)
	}
	s, err := h.suggestions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCEPT
// ══════════════════════════════════════════════════════════════════════════════

// AcceptCommand accepts a suggestion and makes it the user's only active plan.
type AcceptCommand struct {
	SuggestionID string
	Actor        Actor
}

// Accept marks the suggestion accepted and deactivates the user's others.
func (h *SuggestionHandler) Accept(ctx context.Context, cmd AcceptCommand) (*suggestion.Suggestion, error) {
	s, err := h.load(ctx, cmd.SuggestionID, cmd.Actor)
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	now := h.now()
	if err := s.Accept(now); err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	if err := h.suggestions.ActivateExclusive(ctx, s); err != nil {
		return nil, fmt.Errorf("accept: activate: %w", err)
	}

	h.refreshTracker(ctx, s, true)
	h.publish(shared.NewSuggestionAcceptedEvent(s.UserID, s.ID, cmd.Actor.ID))
	h.logger.Info("suggestion accepted", "suggestion_id", s.ID, "user_id", s.UserID, "actor_id", cmd.Actor.ID)
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW
// ══════════════════════════════════════════════════════════════════════════════

// ReviewCommand records a mentor review.
type ReviewCommand struct {
	SuggestionID string
	Actor        Actor
	Notes        string

	// Approved, when set, also accepts (true) or un-accepts (false) the plan.
	Approved *bool
}

// Review records the review. Only mentors and admins may review.
func (h *SuggestionHandler) Review(ctx context.Context, cmd ReviewCommand) (*suggestion.Suggestion, error) {
	if !cmd.Actor.IsStaff() {
		return nil, fmt.Errorf("review: %w", shared.ErrForbidden)
	}
	s, err := h.load(ctx, cmd.SuggestionID, cmd.Actor)
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	if err := s.MarkReviewed(cmd.Actor.ID, cmd.Notes, cmd.Approved, h.now()); err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	approved := cmd.Approved != nil && *cmd.Approved
	if approved {
		err = h.suggestions.ActivateExclusive(ctx, s)
	} else {
		err = h.suggestions.Update(ctx, s)
	}
	if err != nil {
		return nil, fmt.Errorf("review: save: %w", err)
	}

	if approved {
		h.refreshTracker(ctx, s, true)
		h.publish(shared.NewSuggestionAcceptedEvent(s.UserID, s.ID, cmd.Actor.ID))
	}
	h.logger.Info("suggestion reviewed", "suggestion_id", s.ID, "reviewer_id", cmd.Actor.ID, "approved", approved)
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DISMISS
// ══════════════════════════════════════════════════════════════════════════════

// DismissCommand rejects a suggestion.
type DismissCommand struct {
	SuggestionID string
	Actor        Actor
	Reason       string
}

// Dismiss takes the suggestion out of rotation.
func (h *SuggestionHandler) Dismiss(ctx context.Context, cmd DismissCommand) (*suggestion.Suggestion, error) {
	s, err := h.load(ctx, cmd.SuggestionID, cmd.Actor)
	if err != nil {
		return nil, fmt.Errorf("dismiss: %w", err)
	}

	s.Dismiss(cmd.Reason, h.now())
	if err := h.suggestions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("dismiss: save: %w", err)
	}
	h.logger.Info("suggestion dismissed", "suggestion_id", s.ID, "actor_id", cmd.Actor.ID)
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE TASK
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskCommand marks one plan task done.
type CompleteTaskCommand struct {
	SuggestionID string
	Actor        Actor

	// Day is the 1-based plan day.
	Day int

	// TaskIndex is the 0-based index within the day.
	TaskIndex int
}

// CompleteTaskResult reports the plan progress after the update.
type CompleteTaskResult struct {
	Suggestion *suggestion.Suggestion
	Progress   suggestion.Progress
}

// CompleteTask marks the task completed and refreshes the tracker.
func (h *SuggestionHandler) CompleteTask(ctx context.Context, cmd CompleteTaskCommand) (*CompleteTaskResult, error) {
	if cmd.Day < 1 || cmd.TaskIndex < 0 {
		return nil, fmt.Errorf("complete task: %w: day %d, task %d", shared.ErrValueOutOfRange, cmd.Day, cmd.TaskIndex)
	}
	s, err := h.load(ctx, cmd.SuggestionID, cmd.Actor)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	if err := s.CompleteTask(cmd.Day, cmd.TaskIndex, h.now()); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	if err := h.suggestions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("complete task: save: %w", err)
	}

	h.refreshTracker(ctx, s, false)
	return &CompleteTaskResult{Suggestion: s, Progress: s.Progress()}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// refreshTracker updates the per-user tracker. Failures are logged only.
func (h *SuggestionHandler) refreshTracker(ctx context.Context, s *suggestion.Suggestion, activated bool) {
	if h.trackers == nil {
		return
	}
	t, err := h.trackers.Get(ctx, s.UserID)
	if err != nil {
		h.logger.Warn("tracker load failed", "user_id", s.UserID, "error", err)
		return
	}
	if activated {
		t.ActivePlanID = s.ID
	}
	if t.ActivePlanID != s.ID {
		return
	}
	t.RecordProgress(s, h.now())
	if err := h.trackers.Save(ctx, t); err != nil {
		h.logger.Warn("tracker save failed", "user_id", s.UserID, "error", err)
	}
}

func (h *SuggestionHandler) publish(event shared.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(event); err != nil {
		h.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
