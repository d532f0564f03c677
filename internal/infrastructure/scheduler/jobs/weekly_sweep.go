package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// WeeklySweepJob enqueues a plan for every active student with no job
// record created in the last StaleAfter.
type WeeklySweepJob struct {
	sweeper
}

// NewWeeklySweepJob creates the weekly sweep.
func NewWeeklySweepJob(
	students student.Source,
	q *queue.Service,
	logger *slog.Logger,
	now func() time.Time,
	config SweepConfig,
) *WeeklySweepJob {
	logger, now, config = defaults(logger, now, config)
	j := &WeeklySweepJob{}
	j.sweeper = sweeper{
		name:     "weekly_sweep",
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
func (j *WeeklySweepJob) Name() string {
	return "weekly_sweep"
}

// Description returns a human-readable description.
func (j *WeeklySweepJob) Description() string {
	return "Enqueues plans for students without any job this week"
}

// Run executes the sweep.
func (j *WeeklySweepJob) Run(ctx context.Context) error {
	return j.run(ctx)
}

// LastStats returns the stats of the previous run, or nil.
func (j *WeeklySweepJob) LastStats() *SweepStats {
	return j.lastStats()
}

func (j *WeeklySweepJob) needsPlan(ctx context.Context, s student.Summary, now time.Time) (bool, error) {
	last, ok, err := j.queue.LastJobAt(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	return !ok || now.Sub(last) >= j.config.StaleAfter, nil
}
