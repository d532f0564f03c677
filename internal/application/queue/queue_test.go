package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService() (*Service, *memory.JobRepository, *fakeClock) {
	repo := memory.NewJobRepository()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewService(repo, DefaultConfig(), WithClock(clock.Now)), repo, clock
}

func eventRequest(user string) EnqueueRequest {
	return EnqueueRequest{
		UserID:      user,
		Type:        job.TypeMentorAgent,
		Priority:    job.PriorityEvent,
		TriggeredBy: job.TriggeredByEvent,
	}
}

func TestEnqueue_DuplicateWindow(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := newTestService()

	first, err := svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, first.Status)
	assert.Equal(t, job.DefaultMaxAttempts, first.MaxAttempts)

	_, err = svc.Enqueue(ctx, eventRequest("u1"))
	assert.ErrorIs(t, err, shared.ErrRateLimited)
	assert.True(t, IsRateLimited(err))
	assert.Len(t, repo.All(), 1)

	// Different type or user is independent.
	other := eventRequest("u1")
	other.Type = job.TypeAdhoc
	_, err = svc.Enqueue(ctx, other)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, eventRequest("u2"))
	require.NoError(t, err)

	clock.Advance(6*time.Hour + time.Second)
	_, err = svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)
	assert.Len(t, repo.All(), 4)
}

func TestEnqueue_DuplicateStatuses(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		finish   func(svc *Service, id string)
		rejected bool
	}{
		{"processing", func(*Service, string) {}, true},
		{"completed", func(svc *Service, id string) { _, _ = svc.MarkCompleted(ctx, id, "s1") }, true},
		{"failed", func(svc *Service, id string) { _, _ = svc.MarkFailed(ctx, id, errors.New("x"), "") }, false},
		{"retrying", func(svc *Service, id string) { _, _ = svc.Retry(ctx, id) }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.Enqueue(ctx, eventRequest("u1"))
			require.NoError(t, err)
			leased, err := svc.Lease(ctx)
			require.NoError(t, err)
			tc.finish(svc, leased.ID)

			_, err = svc.Enqueue(ctx, eventRequest("u1"))
			assert.Equal(t, tc.rejected, errors.Is(err, shared.ErrRateLimited))
		})
	}
}

func TestEnqueue_ForceAlwaysCreates(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	_, err := svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)

	forced := eventRequest("u1")
	forced.Force = true
	forced.TriggeredBy = job.TriggeredByManual
	forced.Priority = job.PriorityManual
	for i := 0; i < 3; i++ {
		rec, err := svc.Enqueue(ctx, forced)
		require.NoError(t, err)
		assert.Equal(t, job.ForcedMaxAttempts, rec.MaxAttempts)
	}
	assert.Len(t, repo.All(), 4)

	// The non-forced record still occupies the window.
	_, err = svc.Enqueue(ctx, eventRequest("u1"))
	assert.ErrorIs(t, err, shared.ErrRateLimited)
}

func TestEnqueue_SweepWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	sweep := EnqueueRequest{UserID: "u1", Type: job.TypeMentorAgent, TriggeredBy: job.TriggeredByScheduler}
	rec, err := svc.Enqueue(ctx, sweep)
	require.NoError(t, err)
	_, err = svc.Lease(ctx)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, rec.ID, "s1")
	require.NoError(t, err)

	clock.Advance(3 * 24 * time.Hour)
	_, err = svc.Enqueue(ctx, sweep)
	assert.ErrorIs(t, err, shared.ErrRateLimited)

	// On-demand triggers use the shorter window.
	_, err = svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)
}

func TestLease_PriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	mk := func(user string, priority int) *job.Record {
		req := eventRequest(user)
		req.Priority = priority
		rec, err := svc.Enqueue(ctx, req)
		require.NoError(t, err)
		clock.Advance(time.Second)
		return rec
	}
	low := mk("a", job.PrioritySweep)
	event1 := mk("b", job.PriorityEvent)
	manual := mk("c", job.PriorityManual)
	event2 := mk("d", job.PriorityEvent)

	var order []string
	for i := 0; i < 4; i++ {
		rec, err := svc.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, rec.Status)
		assert.NotNil(t, rec.StartedAt)
		order = append(order, rec.ID)
	}
	assert.Equal(t, []string{manual.ID, event1.ID, event2.ID, low.ID}, order)

	_, err := svc.Lease(ctx)
	assert.ErrorIs(t, err, shared.ErrNoJobAvailable)
}

func TestRetry_ExhaustsIntoFailed(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	rec, err := svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)

	for attempt := 1; attempt <= rec.MaxAttempts; attempt++ {
		leased, err := svc.Lease(ctx)
		require.NoError(t, err)
		assert.Equal(t, attempt, leased.Attempt)
		clock.Advance(time.Second)
		after, err := svc.Retry(ctx, leased.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, after.Attempt, after.MaxAttempts)
	}

	final, err := svc.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "max retry attempts reached")
	assert.NotNil(t, final.FinishedAt)
	assert.Equal(t, int64(1000), final.DurationMs)
}

func TestInFlightAndDuplicateExists(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	inFlight, err := svc.InFlight(ctx, "u1", job.TypeMentorAgent)
	require.NoError(t, err)
	assert.False(t, inFlight)

	forced := eventRequest("u1")
	forced.Force = true
	rec, err := svc.Enqueue(ctx, forced)
	require.NoError(t, err)

	inFlight, err = svc.InFlight(ctx, "u1", job.TypeMentorAgent)
	require.NoError(t, err)
	assert.True(t, inFlight)

	other, err := svc.Enqueue(ctx, forced)
	require.NoError(t, err)
	_, err = svc.Lease(ctx)
	require.NoError(t, err)

	plain := *other
	plain.Forced = false
	dup, err := svc.DuplicateExists(ctx, &plain)
	require.NoError(t, err)
	assert.False(t, dup, "forced records are ignored by the duplicate check")

	_, err = svc.MarkCompleted(ctx, rec.ID, "s1")
	require.NoError(t, err)
	dup, err = svc.DuplicateExists(ctx, rec)
	require.NoError(t, err)
	assert.False(t, dup, "forced jobs never see duplicates")
}

func TestEnqueue_ConcurrentSameUserCreatesOne(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enqueue(ctx, eventRequest("u1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, shared.ErrJobRateLimited):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 49, rejected)
	assert.Len(t, repo.All(), 1)
}

func TestDuplicateExists_OnlyNewerLeasedDuplicateYields(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := newTestService()

	older, err := job.NewRecord(job.NewRecordParams{UserID: "u1", Type: job.TypeMentorAgent, TriggeredBy: job.TriggeredByEvent}, clock.Now())
	require.NoError(t, err)
	newer, err := job.NewRecord(job.NewRecordParams{UserID: "u1", Type: job.TypeMentorAgent, TriggeredBy: job.TriggeredByEvent}, clock.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	clock.Advance(time.Minute)
	first, err := svc.Lease(ctx)
	require.NoError(t, err)
	second, err := svc.Lease(ctx)
	require.NoError(t, err)
	require.Equal(t, older.ID, first.ID)
	require.Equal(t, newer.ID, second.ID)

	dup, err := svc.DuplicateExists(ctx, first)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = svc.DuplicateExists(ctx, second)
	require.NoError(t, err)
	assert.True(t, dup)

	// Once the older job completes, a later lease of the newer one still yields.
	_, err = svc.MarkCompleted(ctx, first.ID, "s1")
	require.NoError(t, err)
	dup, err = svc.DuplicateExists(ctx, second)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()
	from := clock.Now()

	rec, err := svc.Enqueue(ctx, eventRequest("u1"))
	require.NoError(t, err)
	_, err = svc.Lease(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = svc.MarkCompleted(ctx, rec.ID, "s1")
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, eventRequest("u2"))
	require.NoError(t, err)

	rows, err := svc.Metrics(ctx, from, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []job.MetricsRow{
		{Type: job.TypeMentorAgent, Status: job.StatusCompleted, Count: 1, AvgDurationMs: 2000},
		{Type: job.TypeMentorAgent, Status: job.StatusQueued, Count: 1},
	}, rows)

	_, err = svc.Metrics(ctx, from, from)
	assert.True(t, shared.IsValidation(err))
}
