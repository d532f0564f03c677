// Package queue implements the job queue operations on top of the job
// repository: duplicate-window enqueueing, priority leasing and the
// state-machine transitions workers drive.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// Config contains the duplicate windows per trigger kind.
type Config struct {
	// OnDemandWindow applies to event, manual and API triggers.
	OnDemandWindow time.Duration

	// SweepWindow applies to scheduled sweeps.
	SweepWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		OnDemandWindow: 6 * time.Hour,
		SweepWindow:    7 * 24 * time.Hour,
	}
}

// EnqueueRequest describes a job to enqueue.
type EnqueueRequest struct {
	UserID      string
	Type        job.Type
	Priority    int
	Force       bool
	TriggeredBy job.TriggeredBy

	// Window overrides the duplicate window derived from TriggeredBy.
	Window time.Duration
}

// Service is the job queue.
type Service struct {
	repo   job.Repository
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new queue service.
func NewService(repo job.Repository, config Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WindowFor returns the duplicate window for a trigger source.
func (s *Service) WindowFor(triggeredBy job.TriggeredBy) time.Duration {
	if triggeredBy == job.TriggeredByScheduler {
		return s.config.SweepWindow
	}
	return s.config.OnDemandWindow
}

// Enqueue creates a queued record unless a non-forced record for the same
// user and type exists in queued, processing or completed state within the
// window. The rejection is shared.ErrJobRateLimited and creates no record.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*job.Record, error) {
	now := s.now()

	record, err := job.NewRecord(job.NewRecordParams{
		UserID:      req.UserID,
		Type:        req.Type,
		Priority:    req.Priority,
		Forced:      req.Force,
		TriggeredBy: req.TriggeredBy,
	}, now)
	if err != nil {
		return nil, err
	}

	if req.Force {
		if err := s.repo.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	} else {
		window := req.Window
		if window <= 0 {
			window = s.WindowFor(req.TriggeredBy)
		}
		created, err := s.repo.CreateUnlessRecent(ctx, record, job.RecentFilter{
			UserID:   req.UserID,
			Type:     req.Type,
			Statuses: job.DuplicateStatuses,
			Since:    now.Add(-window),
		})
		if err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		if !created {
			s.logger.Info("enqueue rejected by duplicate window",
				"user_id", req.UserID,
				"job_type", req.Type,
				"triggered_by", req.TriggeredBy,
				"window", window,
			)
			return nil, shared.ErrJobRateLimited
		}
	}

	s.logger.Info("job enqueued",
		"job_id", record.ID,
		"user_id", record.UserID,
		"job_type", record.Type,
		"priority", record.Priority,
		"forced", record.Forced,
		"triggered_by", record.TriggeredBy,
	)
	return record, nil
}

// Lease hands the next job to a worker. Returns shared.ErrNoJobAvailable when the queue is empty.
func (s *Service) Lease(ctx context.Context) (*job.Record, error) {
	return s.repo.LeaseNext(ctx, s.now())
}

// MarkCompleted finishes a job with a reference to its suggestion.
func (s *Service) MarkCompleted(ctx context.Context, id, resultRef string) (*job.Record, error) {
	return s.mutate(ctx, id, func(r *job.Record, now time.Time) error {
		return r.Complete(resultRef, now)
	})
}

// MarkFailed finishes a job with an error and optional stack.
func (s *Service) MarkFailed(ctx context.Context, id string, cause error, stack string) (*job.Record, error) {
	return s.mutate(ctx, id, func(r *job.Record, now time.Time) error {
		return r.Fail(cause, stack, now)
	})
}

// Retry schedules another attempt or fails the job once attempts are exhausted.
func (s *Service) Retry(ctx context.Context, id string) (*job.Record, error) {
	return s.mutate(ctx, id, func(r *job.Record, now time.Time) error {
		_, err := r.Retry(now)
		return err
	})
}

// RecordInputHash stores the fingerprint of the data a job ran against.
func (s *Service) RecordInputHash(ctx context.Context, id, hash string) error {
	_, err := s.mutate(ctx, id, func(r *job.Record, _ time.Time) error {
		r.InputHash = hash
		return nil
	})
	return err
}

// Status returns the current state of a job.
func (s *Service) Status(ctx context.Context, id string) (*job.Record, error) {
	return s.repo.FindByID(ctx, id)
}

// Metrics aggregates jobs created in [from, to) by type and status.
func (s *Service) Metrics(ctx context.Context, from, to time.Time) ([]job.MetricsRow, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", shared.ErrInvalidInput)
	}
	if reader, ok := s.repo.(job.MetricsReader); ok {
		return reader.Metrics(ctx, from, to)
	}
	records, err := s.repo.ListByCreatedRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return job.Aggregate(records), nil
}

// RecentForUser returns the user's jobs created within the lookback.
func (s *Service) RecentForUser(ctx context.Context, userID string, lookback time.Duration) ([]*job.Record, error) {
	return s.repo.RecentForUser(ctx, userID, s.now().Add(-lookback))
}

// InFlight reports whether a job of the type is queued, processing or
// retrying for the user.
func (s *Service) InFlight(ctx context.Context, userID string, jobType job.Type) (bool, error) {
	return s.repo.ExistsRecent(ctx, job.RecentFilter{
		UserID:        userID,
		Type:          jobType,
		Statuses:      []job.Status{job.StatusQueued, job.StatusProcessing, job.StatusRetrying},
		IncludeForced: true,
	})
}

// DuplicateExists re-checks the window for a leased job, ignoring the job
// itself. A job yields to completed jobs in the window and to processing jobs
// created before it, so two leased duplicates never both give way.
func (s *Service) DuplicateExists(ctx context.Context, r *job.Record) (bool, error) {
	if r.Forced {
		return false, nil
	}
	since := s.now().Add(-s.WindowFor(r.TriggeredBy))

	completed, err := s.repo.ExistsRecent(ctx, job.RecentFilter{
		UserID:    r.UserID,
		Type:      r.Type,
		Statuses:  []job.Status{job.StatusCompleted},
		Since:     since,
		ExcludeID: r.ID,
	})
	if err != nil || completed {
		return completed, err
	}
	return s.repo.ExistsRecent(ctx, job.RecentFilter{
		UserID:    r.UserID,
		Type:      r.Type,
		Statuses:  []job.Status{job.StatusProcessing},
		Since:     since,
		Before:    r.CreatedAt,
		ExcludeID: r.ID,
	})
}

// LastJobAt returns when the newest job for the user was created.
func (s *Service) LastJobAt(ctx context.Context, userID string) (time.Time, bool, error) {
	return s.repo.LastCreatedAt(ctx, userID)
}

func (s *Service) mutate(ctx context.Context, id string, fn func(r *job.Record, now time.Time) error) (*job.Record, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(record, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	return record, nil
}

// IsRateLimited reports whether err is a duplicate-window rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, shared.ErrRateLimited)
}
