package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/pkg/retry"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=study_agent")
	assert.Contains(t, dsn, "connect_timeout=10")

	cfg.URL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(10), pc.MaxConns)
}

func TestGetMigrations(t *testing.T) {
	migs := GetMigrations()
	require.Len(t, migs, 3)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
	assert.Contains(t, migs[0].UpSQL, "agent_jobs")
	assert.Contains(t, migs[1].UpSQL, "idx_mentor_suggestions_one_active")
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.True(t, IsNoRows(pgx.ErrNoRows))

	assert.True(t, IsTransientConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransientConflict(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsTransientConflict(&pgconn.PgError{Code: "23505"}))
}

func noWait(context.Context, time.Duration) error { return nil }

func TestRetryConflicts_RerunsSerializationFailures(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	}, retry.WithSleep(noWait))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConflicts_OtherErrorsFailOnce(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	}, retry.WithSleep(noWait))

	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, 1, calls)
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", *nullString("x"))
	assert.Equal(t, "", deref(nil))

	rec := &job.Record{DurationMs: 42}
	assert.Nil(t, nullDuration(rec))
	now := time.Now()
	rec.FinishedAt = &now
	assert.Equal(t, int64(42), *nullDuration(rec))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (requires STUDY_AGENT_TEST_DATABASE_URL)
// ══════════════════════════════════════════════════════════════════════════════

func openTestDB(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("STUDY_AGENT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STUDY_AGENT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `TRUNCATE agent_jobs, mentor_suggestions, study_plan_trackers`)
	require.NoError(t, err)
	return conn
}

func TestJobRepository_Integration(t *testing.T) {
	conn := openTestDB(t)
	repo := NewJobRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	low, err := job.NewRecord(job.NewRecordParams{UserID: "u1", Type: job.TypeMentorAgent, TriggeredBy: job.TriggeredByScheduler}, now)
	require.NoError(t, err)
	high, err := job.NewRecord(job.NewRecordParams{UserID: "u2", Type: job.TypeMentorAgent, Priority: job.PriorityManual, TriggeredBy: job.TriggeredByManual}, now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, low))
	require.NoError(t, repo.Create(ctx, high))

	leased, err := repo.LeaseNext(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, high.ID, leased.ID)
	assert.Equal(t, job.StatusProcessing, leased.Status)

	require.NoError(t, leased.Complete("", now.Add(3*time.Second)))
	require.NoError(t, repo.Update(ctx, leased))

	exists, err := repo.ExistsRecent(ctx, job.RecentFilter{
		UserID: "u1", Type: job.TypeMentorAgent, Statuses: job.DuplicateStatuses, Since: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, exists)

	rows, err := repo.Metrics(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, ok, err := repo.LastCreatedAt(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.FindByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, shared.ErrJobNotFound)
}

func TestSuggestionRepository_Integration(t *testing.T) {
	conn := openTestDB(t)
	repo := NewSuggestionRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	newPlan := func(at time.Time) *suggestion.Suggestion {
		days := make([]suggestion.Day, 7)
		for i := range days {
			days[i] = suggestion.Day{Day: i + 1, Date: at.AddDate(0, 0, i), Tasks: []suggestion.Task{{Description: "read", DurationMinutes: 30}}}
		}
		s, err := suggestion.New(suggestion.NewSuggestionParams{
			UserID: "u1", Plan: suggestion.Plan{PlanLength: 7, Days: days}, RiskProfile: risk.NewProfile(),
		}, at)
		require.NoError(t, err)
		return s
	}

	first := newPlan(now)
	second := newPlan(now.Add(time.Minute))
	require.NoError(t, repo.SaveReplacingActive(ctx, first))
	require.NoError(t, repo.SaveReplacingActive(ctx, second))
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.ID, second.PreviousVersionRef)

	active, err := repo.FindLatestActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.True(t, strings.EqualFold(active.Days[0].Tasks[0].Description, "read"))

	require.NoError(t, first.Accept(now.Add(2*time.Minute)))
	require.NoError(t, repo.ActivateExclusive(ctx, first))
	accepted, err := repo.FindLatestAccepted(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, accepted.ID)

	got, err := repo.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	trackers := NewTrackerRepository(conn)
	tr, err := trackers.Get(ctx, "u1")
	require.NoError(t, err)
	tr.RecordGenerated(first, now)
	require.NoError(t, trackers.Save(ctx, tr))
	tr, err = trackers.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, tr.ActivePlanID)
	assert.Equal(t, 7, tr.TotalTasks)
}
