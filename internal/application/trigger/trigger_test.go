package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/internal/infrastructure/messaging"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
)

type fixture struct {
	now         time.Time
	jobs        *memory.JobRepository
	queue       *queue.Service
	suggestions *memory.SuggestionRepository
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		now:         time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		jobs:        memory.NewJobRepository(),
		suggestions: memory.NewSuggestionRepository(),
	}
	clock := func() time.Time { return f.now }
	f.queue = queue.NewService(f.jobs, queue.DefaultConfig(), queue.WithClock(clock))
	f.svc = NewService(f.queue, f.suggestions, DefaultConfig(), WithClock(clock))
	return f
}

func (f *fixture) storeSuggestion(t *testing.T, user string, by suggestion.GeneratedBy, at time.Time) {
	t.Helper()
	days := make([]suggestion.Day, 7)
	for i := range days {
		days[i] = suggestion.Day{Day: i + 1, Tasks: []suggestion.Task{{Description: "x", DurationMinutes: 30}}}
	}
	s, err := suggestion.New(suggestion.NewSuggestionParams{
		UserID:      user,
		Plan:        suggestion.Plan{PlanLength: 7, Days: days},
		RiskProfile: risk.NewProfile(),
		GeneratedBy: by,
	}, at)
	require.NoError(t, err)
	require.NoError(t, f.suggestions.SaveReplacingActive(context.Background(), s))
}

func (f *fixture) finishAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		rec, err := f.queue.Lease(ctx)
		if err != nil {
			return
		}
		_, err = f.queue.MarkCompleted(ctx, rec.ID, "s")
		require.NoError(t, err)
	}
}

func TestOnAcademicDataChanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	event := shared.NewAcademicDataChangedEvent(shared.EventAttendanceChanged, "u1", "Maths", "erp")

	rec, err := f.svc.OnAcademicDataChanged(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, job.PriorityEvent, rec.Priority)
	assert.Equal(t, job.TriggeredByEvent, rec.TriggeredBy)
	assert.False(t, rec.Forced)

	// A second change inside the window is absorbed.
	rec, err = f.svc.OnAcademicDataChanged(ctx, event)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Len(t, f.jobs.All(), 1)
}

func TestSubscribe_EnqueuesFromBus(t *testing.T) {
	f := newFixture()
	cfg := messaging.DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	bus := messaging.NewInMemoryEventBus(cfg)
	require.NoError(t, f.svc.Subscribe(bus))

	require.NoError(t, bus.Publish(shared.NewAcademicDataChangedEvent(shared.EventMarksChanged, "u1", "DBMS", "erp")))
	require.NoError(t, bus.Publish(shared.NewAcademicDataChangedEvent(shared.EventAttendanceChanged, "u2", "Maths", "erp")))
	require.NoError(t, bus.Publish(shared.NewJobFailedEvent("u3", "j", "e")))

	records := f.jobs.All()
	require.Len(t, records, 2)
	assert.Equal(t, "u1", records[0].UserID)
	assert.Equal(t, "u2", records[1].UserID)
}

func TestManual(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rec, err := f.svc.Manual(ctx, ManualRequest{UserID: "u1", RequestedBy: "mentor-1"})
	require.NoError(t, err)
	assert.Equal(t, job.PriorityManual, rec.Priority)
	assert.Equal(t, job.TypeMentorAgent, rec.Type)
	assert.Equal(t, job.DefaultMaxAttempts, rec.MaxAttempts)

	_, err = f.svc.Manual(ctx, ManualRequest{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrRateLimited)

	rec, err = f.svc.Manual(ctx, ManualRequest{UserID: "u1", Force: true})
	require.NoError(t, err)
	assert.True(t, rec.Forced)
	assert.Equal(t, job.ForcedMaxAttempts, rec.MaxAttempts)
}

func TestStudentRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res := f.svc.StudentRequest(ctx, "u1")
	assert.True(t, res.Accepted)
	assert.Equal(t, MessageAccepted, res.Message)
	require.NotEmpty(t, res.JobID)

	rec, err := f.queue.Status(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.TriggeredByAPI, rec.TriggeredBy)
	assert.Equal(t, job.PriorityStudentRequest, rec.Priority)

	// Still queued: refused.
	res = f.svc.StudentRequest(ctx, "u1")
	assert.False(t, res.Accepted)
	assert.Equal(t, MessageOncePerDay, res.Message)

	// Generated a few hours ago: refused.
	f.finishAll(t)
	f.storeSuggestion(t, "u1", suggestion.GeneratedByStudentRequest, f.now)
	f.now = f.now.Add(23 * time.Hour)
	res = f.svc.StudentRequest(ctx, "u1")
	assert.False(t, res.Accepted)

	// After the rolling day it is allowed again.
	f.now = f.now.Add(time.Hour)
	res = f.svc.StudentRequest(ctx, "u1")
	assert.True(t, res.Accepted)
}

func TestStudentRequest_IgnoresOtherOrigins(t *testing.T) {
	f := newFixture()
	f.storeSuggestion(t, "u1", suggestion.GeneratedByAuto, f.now)

	res := f.svc.StudentRequest(context.Background(), "u1")
	assert.True(t, res.Accepted)
}
