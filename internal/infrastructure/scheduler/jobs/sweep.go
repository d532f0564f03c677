// Package jobs contains the scheduled pipeline jobs: the sweeps that keep
// every active student's study plan fresh and suggestion housekeeping.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP CORE
// ══════════════════════════════════════════════════════════════════════════════

// SweepConfig contains configuration shared by both sweeps.
type SweepConfig struct {
	// Concurrency is the number of students checked in parallel.
	Concurrency int

	// StaleAfter is the age at which a student needs a new plan.
	StaleAfter time.Duration

	// Timeout bounds the whole sweep.
	Timeout time.Duration
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency: 8,
		StaleAfter:  7 * 24 * time.Hour,
		Timeout:     30 * time.Minute,
	}
}

// SweepStats summarises one sweep run.
type SweepStats struct {
	StartedAt   time.Time
	Duration    time.Duration
	Considered  int
	Enqueued    int
	Fresh       int
	RateLimited int
	Failed      int
}

// needsPlanFunc decides whether a student should get a new job.
type needsPlanFunc func(ctx context.Context, s student.Summary, now time.Time) (bool, error)

// sweeper walks every active student and enqueues low-priority jobs.
type sweeper struct {
	name      string
	students  student.Source
	queue     *queue.Service
	logger    *slog.Logger
	config    SweepConfig
	now       func() time.Time
	needsPlan needsPlanFunc

	last atomic.Pointer[SweepStats]
}

func (w *sweeper) run(ctx context.Context) error {
	now := w.now()
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	active, err := w.students.ActiveStudents(ctx)
	if err != nil {
		return fmt.Errorf("%s: list active students: %w", w.name, err)
	}

	var enqueued, fresh, limited, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.config.Concurrency, 1))

	for _, s := range active {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			needed, err := w.needsPlan(gctx, s, now)
			if err != nil {
				failed.Add(1)
				w.logger.Warn("sweep check failed", "job", w.name, "user_id", s.UserID, "error", err)
				return nil
			}
			if !needed {
				fresh.Add(1)
				return nil
			}

			_, err = w.queue.Enqueue(gctx, queue.EnqueueRequest{
				UserID:      s.UserID,
				Type:        job.TypeMentorAgent,
				Priority:    job.PrioritySweep,
				TriggeredBy: job.TriggeredByScheduler,
			})
			switch {
			case err == nil:
				enqueued.Add(1)
			case queue.IsRateLimited(err):
				limited.Add(1)
			default:
				failed.Add(1)
				w.logger.Warn("sweep enqueue failed", "job", w.name, "user_id", s.UserID, "error", err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	stats := &SweepStats{
		StartedAt:   now,
		Duration:    w.now().Sub(now),
		Considered:  len(active),
		Enqueued:    int(enqueued.Load()),
		Fresh:       int(fresh.Load()),
		RateLimited: int(limited.Load()),
		Failed:      int(failed.Load()),
	}
	w.last.Store(stats)

	w.logger.Info("sweep finished",
		"job", w.name,
		"considered", stats.Considered,
		"enqueued", stats.Enqueued,
		"fresh", stats.Fresh,
		"rate_limited", stats.RateLimited,
		"failed", stats.Failed,
	)

	if waitErr != nil {
		return fmt.Errorf("%s: %w", w.name, waitErr)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%s: %d of %d students failed", w.name, stats.Failed, stats.Considered)
	}
	return nil
}

func (w *sweeper) lastStats() *SweepStats {
	return w.last.Load()
}

func defaults(logger *slog.Logger, now func() time.Time, config SweepConfig) (*slog.Logger, func() time.Time, SweepConfig) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if config.StaleAfter <= 0 {
		config = DefaultSweepConfig()
	}
	return logger, now, config
}
