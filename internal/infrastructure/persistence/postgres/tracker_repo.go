package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// TrackerRepository implements suggestion.TrackerRepository for PostgreSQL.
type TrackerRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewTrackerRepository creates a new TrackerRepository.
func NewTrackerRepository(conn *Connection) *TrackerRepository {
	return &TrackerRepository{conn: conn, now: time.Now}
}

var _ suggestion.TrackerRepository = (*TrackerRepository)(nil)

// Get returns the user's tracker, or a fresh one if none is stored.
func (r *TrackerRepository) Get(ctx context.Context, userID string) (*suggestion.Tracker, error) {
	query := `
		SELECT user_id, active_plan_id, total_plans_generated, last_generated_at,
		       tasks_completed, total_tasks, progress_percent, last_task_completed_at, updated_at
		FROM study_plan_trackers
		WHERE user_id = $1
	`

	var (
		t            suggestion.Tracker
		activePlanID *string
	)
	err := r.conn.QueryRow(ctx, query, userID).Scan(
		&t.UserID,
		&activePlanID,
		&t.TotalPlansGenerated,
		&t.LastGeneratedAt,
		&t.TasksCompleted,
		&t.TotalTasks,
		&t.ProgressPercent,
		&t.LastTaskCompletedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return suggestion.NewTracker(userID, r.now()), nil
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}
	t.ActivePlanID = deref(activePlanID)
	return &t, nil
}

// Save upserts the tracker.
func (r *TrackerRepository) Save(ctx context.Context, t *suggestion.Tracker) error {
	query := `
		INSERT INTO study_plan_trackers (
			user_id, active_plan_id, total_plans_generated, last_generated_at,
			tasks_completed, total_tasks, progress_percent, last_task_completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			active_plan_id = EXCLUDED.active_plan_id,
			total_plans_generated = EXCLUDED.total_plans_generated,
			last_generated_at = EXCLUDED.last_generated_at,
			tasks_completed = EXCLUDED.tasks_completed,
			total_tasks = EXCLUDED.total_tasks,
			progress_percent = EXCLUDED.progress_percent,
			last_task_completed_at = EXCLUDED.last_task_completed_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		t.UserID,
		nullString(t.ActivePlanID),
		t.TotalPlansGenerated,
		t.LastGeneratedAt,
		t.TasksCompleted,
		t.TotalTasks,
		t.ProgressPercent,
		t.LastTaskCompletedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save tracker: %w", err)
	}
	return nil
}
