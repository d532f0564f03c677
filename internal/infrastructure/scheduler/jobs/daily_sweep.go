package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// DailySweepJob enqueues a plan for every active student who has no
// accepted active plan or whose latest one is at least StaleAfter old.
type DailySweepJob struct {
	sweeper
	suggestions suggestion.Repository
}

// NewDailySweepJob creates the daily sweep.
func NewDailySweepJob(
	students student.Source,
	suggestions suggestion.Repository,
	q *queue.Service,
	logger *slog.Logger,
	now func() time.Time,
	config SweepConfig,
) *DailySweepJob {
	logger, now, config = defaults(logger, now, config)
	j := &DailySweepJob{suggestions: suggestions}
	j.sweeper = sweeper{
		name:     "daily_sweep",
		students: students,
		queue:    q,
		logger:   logger,
		config:   config,
		now:      now,
	}
	j.sweeper.needsPlan = j.needsPlan
	return j
}

// Name returns the job name.
func (j *DailySweepJob) Name() string {
	return "daily_sweep"
}

// Description returns a human-readable description.
func (j *DailySweepJob) Description() string {
	return "Enqueues plans for students without a fresh accepted plan"
}

// Run executes the sweep.
func (j *DailySweepJob) Run(ctx context.Context) error {
	return j.run(ctx)
}

// LastStats returns the stats of the previous run, or nil.
func (j *DailySweepJob) LastStats() *SweepStats {
	return j.lastStats()
}

func (j *DailySweepJob) needsPlan(ctx context.Context, s student.Summary, now time.Time) (bool, error) {
	latest, err := j.suggestions.FindLatestAccepted(ctx, s.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(latest.CreatedAt) >= j.config.StaleAfter, nil
}
