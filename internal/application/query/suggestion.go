// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVE SUGGESTION
// ══════════════════════════════════════════════════════════════════════════════

// SuggestionView is the read model of a student's active plan.
type SuggestionView struct {
	*suggestion.Suggestion
	Progress      suggestion.Progress `json:"progress"`
	DaysRemaining int                 `json:"daysRemaining"`
	Running       bool                `json:"running"`
}

// TodayView is the plan day matching the current date.
type TodayView struct {
	SuggestionID string          `json:"suggestionId,omitempty"`
	HasPlan      bool            `json:"hasPlan"`
	Day          *suggestion.Day `json:"day,omitempty"`

	// NextTask is the first open task on or after today.
	NextTask *suggestion.Task `json:"nextTask,omitempty"`
	NextDay  int              `json:"nextDay,omitempty"`

	Progress suggestion.Progress `json:"progress"`
}

// SuggestionQueries reads suggestions for students and mentors.
type SuggestionQueries struct {
	suggestions suggestion.Repository
	now         func() time.Time
}

// NewSuggestionQueries creates the query service. A nil clock means time.Now.
func NewSuggestionQueries(suggestions suggestion.Repository, now func() time.Time) *SuggestionQueries {
	if now == nil {
		now = time.Now
	}
	return &SuggestionQueries{suggestions: suggestions, now: now}
}

// Active returns the user's latest active suggestion with its progress.
// Returns shared.ErrSuggestionNotFound when the user has no active plan.
func (q *SuggestionQueries) Active(ctx context.Context, userID string) (*SuggestionView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	s, err := q.suggestions.FindLatestActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := q.now()
	return &SuggestionView{
		Suggestion:    s,
		Progress:      s.Progress(),
		DaysRemaining: s.DaysRemaining(now),
		Running:       s.IsRunning(now),
	}, nil
}

// Today returns today's tasks from the active plan. A user without an
// active plan gets an empty view, not an error.
func (q *SuggestionQueries) Today(ctx context.Context, userID string) (*TodayView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	s, err := q.suggestions.FindLatestActive(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return &TodayView{}, nil
	}
	if err != nil {
		return nil, err
	}

	now := q.now()
	view := &TodayView{SuggestionID: s.ID, HasPlan: true, Progress: s.Progress()}
	if day, ok := s.TodayTasks(now); ok {
		view.Day = &day
	}
	if day, task, ok := s.NextTask(now); ok {
		view.NextTask = &task
		view.NextDay = day.Day
	}
	return view, nil
}
