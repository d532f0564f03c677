package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// SuggestionRepository is an in-memory suggestion.Repository.
type SuggestionRepository struct {
	mu    sync.Mutex
	items map[string]*suggestion.Suggestion
	order []string
	now   func() time.Time
}

// NewSuggestionRepository creates an empty repository.
func NewSuggestionRepository() *SuggestionRepository {
	return &SuggestionRepository{
		items: make(map[string]*suggestion.Suggestion),
		now:   time.Now,
	}
}

var _ suggestion.Repository = (*SuggestionRepository)(nil)

// SaveReplacingActive implements suggestion.Repository.
func (r *SuggestionRepository) SaveReplacingActive(_ context.Context, s *suggestion.Suggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[s.ID]; ok {
		return shared.ErrAlreadyExists
	}

	s.FollowUp(r.latestLocked(s.UserID, func(*suggestion.Suggestion) bool { return true }))
	for _, existing := range r.items {
		if existing.UserID == s.UserID && existing.Active {
			existing.Deactivate(s.CreatedAt)
		}
	}
	s.Active = true
	r.items[s.ID] = cloneSuggestion(s)
	r.order = append(r.order, s.ID)
	return nil
}

// ActivateExclusive implements suggestion.Repository.
func (r *SuggestionRepository) ActivateExclusive(_ context.Context, s *suggestion.Suggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[s.ID]; !ok {
		return shared.ErrSuggestionNotFound
	}
	for id, existing := range r.items {
		if id != s.ID && existing.UserID == s.UserID && existing.Active {
			existing.Deactivate(s.UpdatedAt)
		}
	}
	r.items[s.ID] = cloneSuggestion(s)
	return nil
}

// Update implements suggestion.Repository.
func (r *SuggestionRepository) Update(_ context.Context, s *suggestion.Suggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[s.ID]
	if !ok {
		return shared.ErrSuggestionNotFound
	}
	// Only the replace and activate paths may turn a suggestion active.
	s.Active = s.Active && existing.Active
	r.items[s.ID] = cloneSuggestion(s)
	return nil
}

// FindByID implements suggestion.Repository.
func (r *SuggestionRepository) FindByID(_ context.Context, id string) (*suggestion.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[id]
	if !ok {
		return nil, shared.ErrSuggestionNotFound
	}
	return cloneSuggestion(s), nil
}

// FindLatestActive implements suggestion.Repository.
func (r *SuggestionRepository) FindLatestActive(_ context.Context, userID string) (*suggestion.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.latestLocked(userID, func(s *suggestion.Suggestion) bool { return s.Active })
	if s == nil {
		return nil, shared.ErrSuggestionNotFound
	}
	return cloneSuggestion(s), nil
}

// FindLatestAccepted implements suggestion.Repository.
func (r *SuggestionRepository) FindLatestAccepted(_ context.Context, userID string) (*suggestion.Suggestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.latestLocked(userID, func(s *suggestion.Suggestion) bool { return s.Active && s.Accepted })
	if s == nil {
		return nil, shared.ErrSuggestionNotFound
	}
	return cloneSuggestion(s), nil
}

// ExistsGeneratedSince implements suggestion.Repository.
func (r *SuggestionRepository) ExistsGeneratedSince(_ context.Context, userID string, by suggestion.GeneratedBy, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.items {
		if s.UserID == userID && s.GeneratedBy == by && !s.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// DeactivateCreatedBefore implements suggestion.Repository.
func (r *SuggestionRepository) DeactivateCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.items {
		if s.Active && s.CreatedAt.Before(cutoff) {
			s.Deactivate(r.now())
			n++
		}
	}
	return n, nil
}

// DeleteUnacceptedBefore implements suggestion.Repository.
func (r *SuggestionRepository) DeleteUnacceptedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	kept := r.order[:0]
	for _, id := range r.order {
		s := r.items[id]
		if !s.Accepted && s.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return n, nil
}

// ForUser returns every suggestion of the user in insertion order. Used by tests.
func (r *SuggestionRepository) ForUser(userID string) []*suggestion.Suggestion {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*suggestion.Suggestion
	for _, id := range r.order {
		if s := r.items[id]; s.UserID == userID {
			out = append(out, cloneSuggestion(s))
		}
	}
	return out
}

// latestLocked returns the newest matching suggestion; later inserts win ties.
func (r *SuggestionRepository) latestLocked(userID string, match func(*suggestion.Suggestion) bool) *suggestion.Suggestion {
	var latest *suggestion.Suggestion
	for _, id := range r.order {
		s := r.items[id]
		if s.UserID != userID || !match(s) {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			latest = s
		}
	}
	return latest
}

func cloneSuggestion(s *suggestion.Suggestion) *suggestion.Suggestion {
	c := *s
	c.Insights = append([]suggestion.Insight(nil), s.Insights...)
	c.MicroSupport = append([]suggestion.MicroSupport(nil), s.MicroSupport...)
	c.Resources = append([]suggestion.Resource(nil), s.Resources...)
	c.MentorActions = append([]string(nil), s.MentorActions...)
	c.Days = make([]suggestion.Day, len(s.Days))
	for i, d := range s.Days {
		d.Tasks = append([]suggestion.Task(nil), d.Tasks...)
		c.Days[i] = d
	}
	return &c
}

// TrackerRepository is an in-memory suggestion.TrackerRepository.
type TrackerRepository struct {
	mu       sync.Mutex
	trackers map[string]suggestion.Tracker
}

// NewTrackerRepository creates an empty repository.
func NewTrackerRepository() *TrackerRepository {
	return &TrackerRepository{trackers: make(map[string]suggestion.Tracker)}
}

var _ suggestion.TrackerRepository = (*TrackerRepository)(nil)

// Get implements suggestion.TrackerRepository.
func (r *TrackerRepository) Get(_ context.Context, userID string) (*suggestion.Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[userID]; ok {
		return &t, nil
	}
	return suggestion.NewTracker(userID, time.Now()), nil
}

// Save implements suggestion.TrackerRepository.
func (r *TrackerRepository) Save(_ context.Context, t *suggestion.Tracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trackers[t.UserID] = *t
	return nil
}
