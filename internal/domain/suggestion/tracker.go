package suggestion

import "time"

// Tracker is the per-user summary of plan generation and progress.
type Tracker struct {
	UserID              string     `json:"userId"`
	ActivePlanID        string     `json:"activePlanId,omitempty"`
	TotalPlansGenerated int        `json:"totalPlansGenerated"`
	LastGeneratedAt     *time.Time `json:"lastGeneratedAt,omitempty"`
	TasksCompleted      int        `json:"tasksCompleted"`
	TotalTasks          int        `json:"totalTasks"`
	ProgressPercent     int        `json:"progressPercent"`
	LastTaskCompletedAt *time.Time `json:"lastTaskCompletedAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// NewTracker creates an empty tracker for a user.
func NewTracker(userID string, now time.Time) *Tracker {
	return &Tracker{UserID: userID, UpdatedAt: now}
}

// RecordGenerated points the tracker at a freshly generated suggestion.
func (t *Tracker) RecordGenerated(s *Suggestion, now time.Time) {
	t.ActivePlanID = s.ID
	t.TotalPlansGenerated++
	t.LastGeneratedAt = &now
	t.applyProgress(s.Progress())
	t.UpdatedAt = now
}

// RecordProgress refreshes the progress counters from the active suggestion.
func (t *Tracker) RecordProgress(s *Suggestion, now time.Time) {
	before := t.TasksCompleted
	t.applyProgress(s.Progress())
	if t.TasksCompleted > before {
		t.LastTaskCompletedAt = &now
	}
	t.UpdatedAt = now
}

func (t *Tracker) applyProgress(p Progress) {
	t.TasksCompleted = p.CompletedTasks
	t.TotalTasks = p.TotalTasks
	t.ProgressPercent = p.Percent
}
