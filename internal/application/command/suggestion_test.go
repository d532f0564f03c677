package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
)

var (
	student = Actor{ID: "u1", Role: RoleStudent}
	other   = Actor{ID: "u2", Role: RoleStudent}
	mentor  = Actor{ID: "m1", Role: RoleMentor}
)

type recorder struct{ events []shared.Event }

func (r *recorder) Publish(e shared.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	now         time.Time
	suggestions *memory.SuggestionRepository
	trackers    *memory.TrackerRepository
	events      *recorder
	handler     *SuggestionHandler
}

func newFixture() *fixture {
	f := &fixture{
		now:         time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		suggestions: memory.NewSuggestionRepository(),
		trackers:    memory.NewTrackerRepository(),
		events:      &recorder{},
	}
	f.handler = NewSuggestionHandler(f.suggestions, f.trackers,
		WithClock(func() time.Time { return f.now }),
		WithEvents(f.events),
	)
	return f
}

func (f *fixture) plan(t *testing.T, user string) *suggestion.Suggestion {
	t.Helper()
	days := make([]suggestion.Day, 7)
	for i := range days {
		days[i] = suggestion.Day{
			Day:  i + 1,
			Date: f.now.AddDate(0, 0, i),
			Tasks: []suggestion.Task{
				{Description: "read notes", DurationMinutes: 45},
				{Description: "practice", DurationMinutes: 60},
			},
		}
	}
	s, err := suggestion.New(suggestion.NewSuggestionParams{
		UserID:      user,
		Plan:        suggestion.Plan{PlanLength: 7, Days: days},
		RiskProfile: risk.NewProfile(),
	}, f.now)
	require.NoError(t, err)
	require.NoError(t, f.suggestions.SaveReplacingActive(context.Background(), s))
	return s
}

func TestAccept_IsExclusive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.plan(t, "u1")
	f.now = f.now.Add(time.Hour)
	second := f.plan(t, "u1")

	// Re-accepting the older plan deactivates the newer one.
	accepted, err := f.handler.Accept(ctx, AcceptCommand{SuggestionID: first.ID, Actor: student})
	require.NoError(t, err)
	assert.True(t, accepted.Accepted)
	assert.True(t, accepted.Applied)
	assert.True(t, accepted.Active)

	got, err := f.suggestions.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	tracker, err := f.trackers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, tracker.ActivePlanID)
	assert.Equal(t, 14, tracker.TotalTasks)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, shared.EventSuggestionAccepted, f.events.events[0].EventType())
}

func TestAccept_Authorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.plan(t, "u1")

	_, err := f.handler.Accept(ctx, AcceptCommand{SuggestionID: s.ID, Actor: other})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.handler.Accept(ctx, AcceptCommand{SuggestionID: s.ID, Actor: Actor{ID: "x"}})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = f.handler.Accept(ctx, AcceptCommand{SuggestionID: "missing", Actor: student})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.handler.Accept(ctx, AcceptCommand{SuggestionID: s.ID, Actor: mentor})
	assert.NoError(t, err)
}

func TestAccept_DismissedIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.plan(t, "u1")

	dismissed, err := f.handler.Dismiss(ctx, DismissCommand{SuggestionID: s.ID, Actor: student, Reason: "too much"})
	require.NoError(t, err)
	assert.False(t, dismissed.Active)
	assert.Equal(t, "too much", dismissed.DismissReason)

	_, err = f.handler.Accept(ctx, AcceptCommand{SuggestionID: s.ID, Actor: student})
	assert.ErrorIs(t, err, shared.ErrSuggestionDismissed)
}

func TestReview(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.plan(t, "u1")

	_, err := f.handler.Review(ctx, ReviewCommand{SuggestionID: s.ID, Actor: student})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	reviewed, err := f.handler.Review(ctx, ReviewCommand{SuggestionID: s.ID, Actor: mentor, Notes: "looks fine"})
	require.NoError(t, err)
	assert.True(t, reviewed.Reviewed)
	assert.False(t, reviewed.Accepted)
	assert.Empty(t, f.events.events)

	approve := true
	reviewed, err = f.handler.Review(ctx, ReviewCommand{SuggestionID: s.ID, Actor: mentor, Approved: &approve})
	require.NoError(t, err)
	assert.True(t, reviewed.Accepted)
	assert.Equal(t, "looks fine", reviewed.Notes)
	assert.Equal(t, "m1", reviewed.ReviewedBy)
	assert.Len(t, f.events.events, 1)

	reject := false
	reviewed, err = f.handler.Review(ctx, ReviewCommand{SuggestionID: s.ID, Actor: mentor, Approved: &reject})
	require.NoError(t, err)
	assert.False(t, reviewed.Accepted)
}

func TestCompleteTask(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.plan(t, "u1")
	_, err := f.handler.Accept(ctx, AcceptCommand{SuggestionID: s.ID, Actor: student})
	require.NoError(t, err)

	res, err := f.handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: s.ID, Actor: student, Day: 1, TaskIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.CompletedTasks)
	assert.Equal(t, 7, res.Progress.Percent)
	assert.True(t, res.Suggestion.Days[0].Tasks[1].Completed)

	tracker, err := f.trackers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.TasksCompleted)
	require.NotNil(t, tracker.LastTaskCompletedAt)

	// Completing again is idempotent.
	res, err = f.handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: s.ID, Actor: student, Day: 1, TaskIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progress.CompletedTasks)

	_, err = f.handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: s.ID, Actor: student, Day: 9, TaskIndex: 0})
	assert.ErrorIs(t, err, shared.ErrTaskNotFound)

	_, err = f.handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: s.ID, Actor: student, Day: 0})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = f.handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: s.ID, Actor: other, Day: 1})
	assert.ErrorIs(t, err, shared.ErrNotSuggestionOwner)
}

// replacingRepo saves a newer plan for the same user right after the first
// FindByID, between a command's load and its write.
type replacingRepo struct {
	*memory.SuggestionRepository
	replacement *suggestion.Suggestion
	once        sync.Once
}

func (r *replacingRepo) FindByID(ctx context.Context, id string) (*suggestion.Suggestion, error) {
	s, err := r.SuggestionRepository.FindByID(ctx, id)
	r.once.Do(func() {
		if saveErr := r.SuggestionRepository.SaveReplacingActive(ctx, r.replacement); saveErr != nil {
			panic(saveErr)
		}
	})
	return s, err
}

func activeFor(repo *memory.SuggestionRepository, user string) []*suggestion.Suggestion {
	var out []*suggestion.Suggestion
	for _, s := range repo.ForUser(user) {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

func newPlanAt(t *testing.T, user string, at time.Time) *suggestion.Suggestion {
	days := make([]suggestion.Day, 7)
	for i := range days {
		days[i] = suggestion.Day{
			Day:   i + 1,
			Date:  at.AddDate(0, 0, i),
			Tasks: []suggestion.Task{{Description: "revise", DurationMinutes: 30}},
		}
	}
	s, err := suggestion.New(suggestion.NewSuggestionParams{
		UserID:      user,
		Plan:        suggestion.Plan{PlanLength: 7, Days: days},
		RiskProfile: risk.NewProfile(),
	}, at)
	assert.NoError(t, err)
	return s
}

func TestCompleteTask_DoesNotReactivateReplacedPlan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	old := f.plan(t, "u1")

	repo := &replacingRepo{
		SuggestionRepository: f.suggestions,
		replacement:          newPlanAt(t, "u1", f.now.Add(time.Minute)),
	}
	handler := NewSuggestionHandler(repo, f.trackers, WithClock(func() time.Time { return f.now }))

	res, err := handler.CompleteTask(ctx, CompleteTaskCommand{SuggestionID: old.ID, Actor: student, Day: 1, TaskIndex: 0})
	require.NoError(t, err)
	assert.False(t, res.Suggestion.Active)
	assert.True(t, res.Suggestion.Days[0].Tasks[0].Completed)

	active := activeFor(f.suggestions, "u1")
	require.Len(t, active, 1)
	assert.Equal(t, repo.replacement.ID, active[0].ID)
}

func TestReview_DoesNotReactivateReplacedPlan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	old := f.plan(t, "u1")

	repo := &replacingRepo{
		SuggestionRepository: f.suggestions,
		replacement:          newPlanAt(t, "u1", f.now.Add(time.Minute)),
	}
	handler := NewSuggestionHandler(repo, f.trackers, WithClock(func() time.Time { return f.now }))

	_, err := handler.Review(ctx, ReviewCommand{SuggestionID: old.ID, Actor: mentor, Notes: "ok"})
	require.NoError(t, err)

	active := activeFor(f.suggestions, "u1")
	require.Len(t, active, 1)
	assert.Equal(t, repo.replacement.ID, active[0].ID)
}

func TestConcurrentTaskUpdatesAndReplacements_KeepOneActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.plan(t, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.handler.CompleteTask(ctx, CompleteTaskCommand{
				SuggestionID: first.ID, Actor: student, Day: i%7 + 1, TaskIndex: i % 2,
			})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			next := newPlanAt(t, "u1", f.now.Add(time.Duration(i+1)*time.Minute))
			assert.NoError(t, f.suggestions.SaveReplacingActive(ctx, next))
		}(i)
	}
	wg.Wait()

	assert.Len(t, activeFor(f.suggestions, "u1"), 1)
	got, err := f.suggestions.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
