package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/config"
	"github.com/mentorlink/study-agent/internal/application/trigger"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
)

func inMemoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("MONGO_URI", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("LLM_PROVIDER", "offline")
	t.Setenv("LLM_BACKOFF_STEP", "1ms")
	t.Setenv("FEATURE_SWEEPS_WEEKLY", "false")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), inMemoryConfig(t), logger, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNew_InMemory(t *testing.T) {
	a := newTestApp(t)

	assert.IsType(t, &memory.JobRepository{}, a.Jobs)
	assert.IsType(t, &memory.StudentSource{}, a.Students)
	assert.IsType(t, &memory.Notifier{}, a.Notifier)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Cache)
	assert.Nil(t, a.ChangeFeed)

	status := a.Health.Check(context.Background())
	assert.True(t, status.Healthy)
}

func TestNew_WeeklySweepDisabledByFlag(t *testing.T) {
	a := newTestApp(t)

	enabled := map[string]bool{}
	for _, info := range a.Scheduler.ListJobs() {
		enabled[info.Name] = info.Enabled
	}
	assert.Equal(t, map[string]bool{
		"daily_sweep":  true,
		"weekly_sweep": false,
		"housekeeping": true,
	}, enabled)
}

func TestNew_ManualTriggerProducesFallbackPlan(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	a.Students.(*memory.StudentSource).Put(&student.Snapshot{
		UserID:     "stu-1",
		Name:       "Asha",
		MentorID:   "mentor-1",
		Attendance: []student.SubjectAttendance{{Subject: "Physics", Attended: 20, Total: 40}},
		Assessments: []student.SubjectAssessments{
			{Subject: "Physics", Scores: []*float64{student.Score(10), student.Score(9)}},
		},
	})

	rec, err := a.Triggers.Manual(ctx, trigger.ManualRequest{UserID: "stu-1", RequestedBy: "test"})
	require.NoError(t, err)

	n, err := a.Pool.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, err := a.JobQueries.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.ResultRef)

	view, err := a.SuggestionQueries.Active(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", view.UserID)
	assert.True(t, view.Fallback)
}

func TestNew_HousekeepingRunsNow(t *testing.T) {
	a := newTestApp(t)

	res, err := a.Scheduler.RunNow(context.Background(), "housekeeping")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestOperations_ReportsSchedulerAndBus(t *testing.T) {
	a := newTestApp(t)

	_, err := a.Scheduler.RunNow(context.Background(), "housekeeping")
	require.NoError(t, err)

	ops := a.Operations(10)
	assert.False(t, ops.Scheduler.Running)
	require.Len(t, ops.Scheduler.Jobs, 3)
	require.Len(t, ops.Scheduler.History, 1)
	assert.Equal(t, "housekeeping", ops.Scheduler.History[0].Job)
	assert.True(t, ops.Scheduler.History[0].Manual)
	assert.Empty(t, ops.Scheduler.History[0].Error)
	assert.EqualValues(t, 1, ops.Scheduler.Totals.Executions)
	assert.EqualValues(t, 1, ops.Scheduler.Totals.Successes)
	require.NotNil(t, ops.EventBus)

	names := make([]string, 0, len(ops.Scheduler.Jobs))
	for _, j := range ops.Scheduler.Jobs {
		names = append(names, j.Name)
		assert.NotNil(t, j.NextRun, j.Name)
	}
	assert.ElementsMatch(t, []string{"daily_sweep", "weekly_sweep", "housekeeping"}, names)
}
