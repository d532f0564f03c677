// Package trigger turns the on-demand entry points into queued jobs:
// academic data changes, mentor or admin requests and student self-requests.
// Scheduled sweeps live in the scheduler jobs.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// Messages returned to students.
const (
	MessageAccepted    = "Your study plan is being generated. You will be notified when ready."
	MessageOncePerDay  = "You can only request a new plan once per day"
	MessageUnavailable = "Failed to generate plan. Please try again later."
)

// Config contains trigger settings.
type Config struct {
	// StudentRequestInterval is the rolling window for student self-requests.
	StudentRequestInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StudentRequestInterval: 24 * time.Hour}
}

// Service enqueues jobs for on-demand triggers.
type Service struct {
	queue       *queue.Service
	suggestions suggestion.Repository
	config      Config
	logger      *slog.Logger
	now         func() time.Time
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

// NewService creates a trigger service.
func NewService(q *queue.Service, suggestions suggestion.Repository, config Config, opts ...Option) *Service {
	s := &Service{
		queue:       q,
		suggestions: suggestions,
		config:      config,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// Subscribe registers the academic-data handlers on the bus.
func (s *Service) Subscribe(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{shared.EventAttendanceChanged, shared.EventMarksChanged} {
		if err := bus.Subscribe(t, s.handleEvent); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

func (s *Service) handleEvent(event shared.Event) error {
	_, err := s.OnAcademicDataChanged(context.Background(), event)
	return err
}

// OnAcademicDataChanged enqueues an elevated-priority job for the student
// whose attendance or marks changed. A duplicate within the window is not
// an error; the returned record is nil in that case.
func (s *Service) OnAcademicDataChanged(ctx context.Context, event shared.Event) (*job.Record, error) {
	rec, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		UserID:      event.AggregateID(),
		Type:        job.TypeMentorAgent,
		Priority:    job.PriorityEvent,
		TriggeredBy: job.TriggeredByEvent,
	})
	if shared.IsRateLimited(err) {
		s.logger.Debug("academic change ignored, recent job exists",
			"user_id", event.AggregateID(),
			"event_type", event.EventType(),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue for %s: %w", event.EventType(), err)
	}
	return rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// ManualRequest is a mentor or admin request.
type ManualRequest struct {
	UserID      string
	Type        job.Type
	Force       bool
	RequestedBy string
}

// Manual enqueues a highest-priority job. Without Force it is subject to the
// duplicate window and returns shared.ErrJobRateLimited on rejection.
func (s *Service) Manual(ctx context.Context, req ManualRequest) (*job.Record, error) {
	jobType := req.Type
	if jobType == "" {
		jobType = job.TypeMentorAgent
	}
	rec, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		UserID:      req.UserID,
		Type:        jobType,
		Priority:    job.PriorityManual,
		Force:       req.Force,
		TriggeredBy: job.TriggeredByManual,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual trigger accepted",
		"job_id", rec.ID,
		"user_id", req.UserID,
		"requested_by", req.RequestedBy,
		"forced", req.Force,
	)
	return rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT SELF-REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// Result is the user-facing outcome of a student request.
type Result struct {
	Accepted bool   `json:"success"`
	Message  string `json:"message"`
	JobID    string `json:"jobId,omitempty"`
}

// StudentRequest enqueues a plan for a student at most once per rolling
// interval. A refusal is reported in the Result, not as an error.
func (s *Service) StudentRequest(ctx context.Context, userID string) Result {
	log := s.logger.With("user_id", userID)
	since := s.now().Add(-s.config.StudentRequestInterval)

	recent, err := s.suggestions.ExistsGeneratedSince(ctx, userID, suggestion.GeneratedByStudentRequest, since)
	if err != nil {
		log.Error("student request check failed", "error", err)
		return Result{Message: MessageUnavailable}
	}
	inFlight, err := s.queue.InFlight(ctx, userID, job.TypeMentorAgent)
	if err != nil {
		log.Error("student request check failed", "error", err)
		return Result{Message: MessageUnavailable}
	}
	if recent || inFlight {
		log.Info("student request refused", "recent", recent, "in_flight", inFlight)
		return Result{Message: MessageOncePerDay}
	}

	rec, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		UserID:      userID,
		Type:        job.TypeMentorAgent,
		Priority:    job.PriorityStudentRequest,
		Force:       true,
		TriggeredBy: job.TriggeredByAPI,
	})
	if err != nil {
		log.Error("student request enqueue failed", "error", err)
		return Result{Message: MessageUnavailable}
	}
	log.Info("student request accepted", "job_id", rec.ID)
	return Result{Accepted: true, Message: MessageAccepted, JobID: rec.ID}
}
