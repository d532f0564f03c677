package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/infrastructure/scheduler"
)

// Locker takes named single-holder locks. The Redis locker implements it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ExclusiveJob runs the wrapped job only on the replica holding its lock.
// Replicas that lose the race skip the run without error.
type ExclusiveJob struct {
	scheduler.Job
	locker Locker
	ttl    time.Duration
	logger *slog.Logger
}

// Exclusive wraps job with a lock held for at most ttl.
func Exclusive(job scheduler.Job, locker Locker, ttl time.Duration, logger *slog.Logger) *ExclusiveJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExclusiveJob{Job: job, locker: locker, ttl: ttl, logger: logger}
}

// Run implements scheduler.Job.
func (j *ExclusiveJob) Run(ctx context.Context) error {
	release, ok, err := j.locker.TryLock(ctx, "job:"+j.Name(), j.ttl)
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Info("job lock held elsewhere, skipping", "job", j.Name())
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			j.logger.Warn("failed to release job lock", "job", j.Name(), "error", err)
		}
	}()
	return j.Job.Run(ctx)
}

// ExclusiveEntries wraps every entry's job with the locker.
func ExclusiveEntries(entries []scheduler.Entry, locker Locker, ttl time.Duration, logger *slog.Logger) []scheduler.Entry {
	out := make([]scheduler.Entry, len(entries))
	for i, e := range entries {
		out[i] = scheduler.Entry{Spec: e.Spec, Job: Exclusive(e.Job, locker, ttl, logger)}
	}
	return out
}
