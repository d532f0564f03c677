package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/application/planner"
	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/notification"
	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/internal/domain/textgen"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
	"github.com/mentorlink/study-agent/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.EventType
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type panickingSource struct{ student.Source }

func (panickingSource) Snapshot(context.Context, string) (*student.Snapshot, error) {
	panic("records system exploded")
}

func planJSON(days int) string {
	var b strings.Builder
	b.WriteString(`{"insights":[{"title":"Focus","detail":"Keep going","severity":"low"}],"plan":[`)
	for i := 0; i < days; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"day":%d,"tasks":[{"time":"18:00","task":"Revise notes","durationMinutes":45}]}`, i+1)
	}
	b.WriteString(`],"resources":[],"mentorActions":[],"confidence":0.8}`)
	return b.String()
}

func lowRiskStudent(id string) *student.Snapshot {
	return &student.Snapshot{
		UserID:     id,
		Name:       "Ravi",
		MentorID:   "mentor-1",
		Attendance: []student.SubjectAttendance{{Subject: "Maths", Attended: 45, Total: 50}},
		Assessments: []student.SubjectAssessments{
			{Subject: "Maths", Scores: []*float64{student.Score(25), student.Score(26)}},
		},
	}
}

func highRiskStudent(id string) *student.Snapshot {
	return &student.Snapshot{
		UserID:     id,
		Name:       "Meera",
		MentorID:   "mentor-1",
		Attendance: []student.SubjectAttendance{{Subject: "Physics", Attended: 20, Total: 40}},
		Assessments: []student.SubjectAssessments{
			{Subject: "Physics", Scores: []*float64{student.Score(10), student.Score(9)}},
		},
		Semesters: []student.SemesterResult{
			{Semester: 1, SGPA: 8.1, CGPA: 8.1},
			{Semester: 2, SGPA: 7.0, CGPA: 7.5},
		},
	}
}

type harness struct {
	clock       *clock
	jobs        *memory.JobRepository
	queue       *queue.Service
	suggestions *memory.SuggestionRepository
	trackers    *memory.TrackerRepository
	students    *memory.StudentSource
	notifier    *memory.Notifier
	events      *recordingPublisher
	processor   *Processor
	pool        *Pool
}

func newHarness(t *testing.T, gen textgen.Generator) *harness {
	t.Helper()

	noSleep := func(context.Context, time.Duration) error { return nil }
	h := &harness{
		clock:       &clock{t: start},
		jobs:        memory.NewJobRepository(),
		suggestions: memory.NewSuggestionRepository(),
		trackers:    memory.NewTrackerRepository(),
		students:    memory.NewStudentSource(),
		notifier:    memory.NewNotifier(),
		events:      &recordingPublisher{},
	}
	h.queue = queue.NewService(h.jobs, queue.DefaultConfig(), queue.WithClock(h.clock.Now))
	h.processor = NewProcessor(Dependencies{
		Queue:       h.queue,
		Students:    h.students,
		Profiler:    risk.NewProfiler(risk.DefaultConfig()),
		Planner:     planner.New(gen, planner.DefaultConfig(), planner.WithSleep(noSleep)),
		Suggestions: h.suggestions,
		Trackers:    h.trackers,
		Notifier:    h.notifier,
		Alerter:     h.notifier,
		Events:      h.events,
	},
		WithClock(h.clock.Now),
		WithNotifyRetrier(retry.NotifierRetrier(retry.WithSleep(noSleep))),
	)
	h.pool = NewPool(h.queue, h.processor, PoolConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond}, nil)
	return h
}

func (h *harness) enqueue(t *testing.T, user string, by job.TriggeredBy, force bool) *job.Record {
	t.Helper()
	rec, err := h.queue.Enqueue(context.Background(), queue.EnqueueRequest{
		UserID:      user,
		Type:        job.TypeMentorAgent,
		Priority:    job.PriorityEvent,
		TriggeredBy: by,
		Force:       force,
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) runNext(t *testing.T) (Outcome, error) {
	t.Helper()
	rec, err := h.queue.Lease(context.Background())
	require.NoError(t, err)
	return h.processor.Process(context.Background(), rec)
}

func categories(events []notification.Event) []notification.Category {
	var out []notification.Category
	for _, e := range events {
		out = append(out, e.Category)
	}
	return out
}

func alwaysFailing() textgen.Generator {
	return textgen.GeneratorFunc(func(context.Context, string, textgen.Options) (string, error) {
		return "", errors.New("provider unavailable")
	})
}

func replying(text string) textgen.Generator {
	return textgen.GeneratorFunc(func(context.Context, string, textgen.Options) (string, error) {
		return text, nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSOR
// ══════════════════════════════════════════════════════════════════════════════

func TestProcess_GeneratesPlan(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.students.Put(lowRiskStudent("u1"))
	rec := h.enqueue(t, "u1", job.TriggeredByEvent, false)

	out, err := h.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, out.Status)
	assert.False(t, out.Fallback)

	stored, err := h.queue.Status(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, stored.Status)
	assert.Equal(t, out.SuggestionID, stored.ResultRef)
	assert.Len(t, stored.InputHash, 16)
	assert.NotNil(t, stored.FinishedAt)

	s, err := h.suggestions.FindLatestActive(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, out.SuggestionID, s.ID)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 7, s.PlanLength)
	assert.Equal(t, suggestion.GeneratedByAuto, s.GeneratedBy)
	assert.Equal(t, "mentor-1", s.MentorID)
	assert.Equal(t, risk.LevelLow, s.RiskProfile.OverallRisk)
	assert.Equal(t, "func", s.ModelUsed)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), s.Days[0].Date)

	// Low risk: the mentor is not bothered.
	assert.Equal(t, []notification.Category{notification.CategoryStudyPlanGenerated}, categories(h.notifier.Events()))
	assert.Equal(t, notification.PriorityMedium, h.notifier.Events()[0].Priority)
	assert.Empty(t, h.notifier.Alerts())
	assert.Equal(t, []shared.EventType{shared.EventPlanGenerated}, h.events.Types())

	tracker, err := h.trackers.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, tracker.ActivePlanID)
	assert.Equal(t, 1, tracker.TotalPlansGenerated)
	assert.Equal(t, 7, tracker.TotalTasks)
}

func TestProcess_ProviderFailureFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		snapshot   *student.Snapshot
		length     int
		categories []notification.Category
	}{
		{
			name:     "high risk",
			snapshot: highRiskStudent("u1"),
			length:   14,
			categories: []notification.Category{
				notification.CategoryStudyPlanGenerated,
				notification.CategoryStudentAtRisk,
			},
		},
		{
			name:       "low risk",
			snapshot:   lowRiskStudent("u1"),
			length:     7,
			categories: []notification.Category{notification.CategoryStudyPlanGenerated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, alwaysFailing())
			h.students.Put(tt.snapshot)
			h.enqueue(t, "u1", job.TriggeredByManual, true)

			out, err := h.runNext(t)
			require.NoError(t, err)
			assert.Equal(t, job.StatusCompleted, out.Status)
			assert.True(t, out.Fallback)

			s, err := h.suggestions.FindByID(context.Background(), out.SuggestionID)
			require.NoError(t, err)
			assert.True(t, s.Fallback)
			assert.Equal(t, tt.length, s.PlanLength)
			assert.Len(t, s.Days, tt.length)
			assert.Equal(t, suggestion.GeneratedByManual, s.GeneratedBy)

			assert.Equal(t, tt.categories, categories(h.notifier.Events()))
			assert.Empty(t, h.notifier.Alerts(), "fallback plans never alert operators")
		})
	}
}

func TestProcess_HighRiskNotifiesMentor(t *testing.T) {
	h := newHarness(t, replying(planJSON(14)))
	h.students.Put(highRiskStudent("u1"))
	h.enqueue(t, "u1", job.TriggeredByEvent, false)

	out, err := h.runNext(t)
	require.NoError(t, err)

	events := h.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].RecipientID)
	assert.Equal(t, notification.PriorityHigh, events[0].Priority)
	assert.Equal(t, "mentor-1", events[1].RecipientID)
	assert.Equal(t, "Student Requires Attention: Meera", events[1].Title)
	assert.Equal(t, "/mentor/review-plan/"+out.SuggestionID, events[1].ActionURL)
}

func TestProcess_NewPlanReplacesActive(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.students.Put(lowRiskStudent("u1"))
	ctx := context.Background()

	h.enqueue(t, "u1", job.TriggeredByManual, true)
	first, err := h.runNext(t)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	h.enqueue(t, "u1", job.TriggeredByAPI, true)
	second, err := h.runNext(t)
	require.NoError(t, err)

	active, err := h.suggestions.FindLatestActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.SuggestionID, active.ID)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, first.SuggestionID, active.PreviousVersionRef)
	assert.Equal(t, suggestion.GeneratedByStudentRequest, active.GeneratedBy)

	old, err := h.suggestions.FindByID(ctx, first.SuggestionID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	tracker, err := h.trackers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.TotalPlansGenerated)
}

func TestProcess_SnapshotFailureKeepsPriorPlan(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.students.Put(lowRiskStudent("u1"))
	ctx := context.Background()

	h.enqueue(t, "u1", job.TriggeredByManual, true)
	first, err := h.runNext(t)
	require.NoError(t, err)

	h.students.FailWith(errors.New("connection refused"))
	rec := h.enqueue(t, "u1", job.TriggeredByManual, true)
	out, err := h.runNext(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrDataLoad)
	assert.Equal(t, job.StatusFailed, out.Status)

	stored, err := h.queue.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "load student snapshot")
	assert.NotEmpty(t, stored.ErrorStack)

	active, err := h.suggestions.FindLatestActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.SuggestionID, active.ID)

	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, rec.ID, alerts[0].JobID)
	assert.Equal(t, string(StageLoad), alerts[0].Stage)

	assert.Equal(t, notification.CategorySystemError, h.notifier.Events()[len(h.notifier.Events())-1].Category)
	assert.Equal(t, []shared.EventType{shared.EventPlanGenerated, shared.EventJobFailed}, h.events.Types())
}

func TestProcess_DuplicateRecheckSkipsJob(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.students.Put(lowRiskStudent("u1"))
	ctx := context.Background()

	h.enqueue(t, "u1", job.TriggeredByEvent, false)
	_, err := h.runNext(t)
	require.NoError(t, err)

	// A racing record that slipped past the enqueue check.
	racer, err := job.NewRecord(job.NewRecordParams{
		UserID:      "u1",
		Type:        job.TypeMentorAgent,
		TriggeredBy: job.TriggeredByEvent,
	}, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.jobs.Create(ctx, racer))

	out, err := h.runNext(t)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
	assert.Equal(t, job.StatusFailed, out.Status)

	stored, err := h.queue.Status(ctx, racer.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Len(t, h.suggestions.ForUser("u1"), 1)
	assert.Empty(t, h.notifier.Alerts())
	assert.Len(t, h.notifier.Events(), 1)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(shared.Event) error {
	panic("event sink exploded")
}

func TestProcess_PanicAfterCompletionKeepsJobCompleted(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.students.Put(lowRiskStudent("u1"))
	h.processor.deps.Events = panickingPublisher{}
	ctx := context.Background()

	rec := h.enqueue(t, "u1", job.TriggeredByEvent, false)

	out, err := h.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, out.Status)
	assert.NotEmpty(t, out.SuggestionID)

	stored, err := h.queue.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, stored.Status)
	assert.Equal(t, out.SuggestionID, stored.ResultRef)
	assert.Empty(t, h.notifier.Alerts())
	assert.NotContains(t, categories(h.notifier.Events()), notification.CategorySystemError)
}

func TestProcess_PanicIsRetriedThenFails(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	h.processor.deps.Students = panickingSource{}
	ctx := context.Background()

	rec := h.enqueue(t, "u1", job.TriggeredByEvent, false)

	out, err := h.runNext(t)
	assert.ErrorIs(t, err, shared.ErrUnexpected)
	assert.Equal(t, job.StatusRetrying, out.Status)
	assert.Empty(t, h.notifier.Alerts())

	stored, err := h.queue.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRetrying, stored.Status)
	assert.Equal(t, 2, stored.Attempt)

	out, err = h.runNext(t)
	assert.ErrorIs(t, err, shared.ErrUnexpected)
	assert.Equal(t, job.StatusFailed, out.Status)

	stored, err = h.queue.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "records system exploded")
	assert.Contains(t, stored.ErrorStack, "panic")

	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, string(StageLoad), alerts[0].Stage)
}

func TestGeneratedByFor(t *testing.T) {
	assert.Equal(t, suggestion.GeneratedByStudentRequest, GeneratedByFor(job.TriggeredByAPI))
	assert.Equal(t, suggestion.GeneratedByManual, GeneratedByFor(job.TriggeredByManual))
	assert.Equal(t, suggestion.GeneratedByAuto, GeneratedByFor(job.TriggeredByEvent))
	assert.Equal(t, suggestion.GeneratedByAuto, GeneratedByFor(job.TriggeredByScheduler))
}

// ══════════════════════════════════════════════════════════════════════════════
// POOL
// ══════════════════════════════════════════════════════════════════════════════

func TestPool_DrainInPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gen := textgen.GeneratorFunc(func(_ context.Context, prompt string, _ textgen.Options) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range []string{"a", "b", "c"} {
			if strings.Contains(prompt, `"userId": "`+id+`"`) {
				order = append(order, id)
			}
		}
		return planJSON(7), nil
	})
	h := newHarness(t, gen)
	ctx := context.Background()

	for _, tc := range []struct {
		user     string
		priority int
	}{{"a", job.PrioritySweep}, {"b", job.PriorityManual}, {"c", job.PriorityEvent}} {
		h.students.Put(lowRiskStudent(tc.user))
		_, err := h.queue.Enqueue(ctx, queue.EnqueueRequest{
			UserID:      tc.user,
			Type:        job.TypeMentorAgent,
			Priority:    tc.priority,
			TriggeredBy: job.TriggeredByEvent,
		})
		require.NoError(t, err)
	}

	n, err := h.pool.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestPool_RunProcessesUntilCancelled(t *testing.T) {
	h := newHarness(t, replying(planJSON(7)))
	for i := 0; i < 6; i++ {
		user := fmt.Sprintf("u%d", i)
		h.students.Put(lowRiskStudent(user))
		h.enqueue(t, user, job.TriggeredByEvent, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, rec := range h.jobs.All() {
			if rec.Status != job.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Len(t, h.notifier.Events(), 6)
}

func TestRateLimited(t *testing.T) {
	base := replying("{}")
	_, wrapped := RateLimited(base, 0).(*rateLimitedGenerator)
	assert.False(t, wrapped)

	limited := RateLimited(base, 1)
	assert.Equal(t, "func", limited.Model())

	_, err := limited.Generate(context.Background(), "p", textgen.DefaultOptions())
	require.NoError(t, err)

	// The second call within the minute would have to wait ~60s.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Generate(ctx, "p", textgen.DefaultOptions())
	assert.Error(t, err)
}

func TestRateLimited_WaitIsNotBoundByCallTimeout(t *testing.T) {
	var deadlines []bool
	base := textgen.GeneratorFunc(func(ctx context.Context, _ string, _ textgen.Options) (string, error) {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		return planJSON(7), nil
	})
	// 600 per minute: a burst of 600, then one call every 100ms.
	limited := RateLimited(base, 600)
	for i := 0; i < 600; i++ {
		_, err := limited.Generate(context.Background(), "p", textgen.Options{})
		require.NoError(t, err)
	}

	cfg := planner.DefaultConfig()
	cfg.MaxAttempts = 1
	cfg.Timeout = 10 * time.Millisecond
	p := planner.New(limited, cfg)

	res, err := p.Generate(context.Background(), lowRiskStudent("u1"), risk.NewProfile(), start)
	require.NoError(t, err)
	assert.False(t, res.Fallback, "the call waits for a token instead of timing out")
	assert.True(t, deadlines[len(deadlines)-1], "the call itself is bounded by the timeout")
}
