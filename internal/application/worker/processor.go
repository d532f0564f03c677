// Package worker runs leased jobs through the plan-generation pipeline:
// load the snapshot, profile risk, generate a plan, persist it and notify.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentorlink/study-agent/internal/application/planner"
	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/notification"
	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/pkg/retry"
)

// Stage names the pipeline step a job was in when it failed.
type Stage string

const (
	StageDuplicateCheck Stage = "duplicate_check"
	StageLoad           Stage = "load_snapshot"
	StageProfile        Stage = "profile"
	StageGenerate       Stage = "generate"
	StagePersist        Stage = "persist"
	StageComplete       Stage = "complete"
	StageAnnounce       Stage = "announce"
)

// Dependencies are the collaborators of the Processor.
type Dependencies struct {
	Queue       *queue.Service
	Students    student.Source
	Profiler    *risk.Profiler
	Planner     *planner.Planner
	Suggestions suggestion.Repository
	Trackers    suggestion.TrackerRepository
	Notifier    notification.Notifier
	Alerter     notification.Alerter

	// Events is optional.
	Events shared.EventPublisher
}

// Processor executes a single leased job.
type Processor struct {
	deps     Dependencies
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	notifyRe *retry.Retrier
}

// Option configures the Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithNotifyRetrier overrides the retry policy for notification delivery.
func WithNotifyRetrier(r *retry.Retrier) Option {
	return func(p *Processor) {
		if r != nil {
			p.notifyRe = r
		}
	}
}

// NewProcessor creates a Processor.
func NewProcessor(deps Dependencies, opts ...Option) *Processor {
	p := &Processor{
		deps:     deps,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/mentorlink/study-agent/worker"),
		now:      time.Now,
		notifyRe: retry.NotifierRetrier(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome summarises a processed job.
type Outcome struct {
	JobID        string
	SuggestionID string
	Fallback     bool
	Status       job.Status
}

// Process runs the pipeline for a leased job. The returned error is the
// failure recorded on the job; the job record itself is always updated.
func (p *Processor) Process(ctx context.Context, rec *job.Record) (out Outcome, err error) {
	ctx, span := p.tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("job.id", rec.ID),
		attribute.String("job.type", string(rec.Type)),
		attribute.String("user.id", rec.UserID),
		attribute.Int("job.attempt", rec.Attempt),
	))
	defer span.End()

	log := p.logger.With("job_id", rec.ID, "user_id", rec.UserID, "job_type", rec.Type)
	out = Outcome{JobID: rec.ID}
	stage := StageDuplicateCheck
	completed := false

	defer func() {
		if r := recover(); r != nil {
			// The job is already completed; the panic must not touch it again.
			if completed {
				log.Error("panic after job completed", "stage", stage, "panic", r, "stack", string(debug.Stack()))
				span.RecordError(fmt.Errorf("panic in stage %s: %v", stage, r))
				return
			}
			err = shared.WrapError("worker", "Process", shared.ErrUnexpected,
				fmt.Sprintf("panic in stage %s", stage), fmt.Errorf("%v", r))
			out.Status = p.fail(ctx, log, rec, stage, err, string(debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(stage))
		}
	}()

	dup, err := p.deps.Queue.DuplicateExists(ctx, rec)
	if err != nil {
		err = shared.WrapError("worker", "Process", shared.ErrUnexpected, "duplicate re-check", err)
		out.Status = p.fail(ctx, log, rec, stage, err, "")
		return out, err
	}
	if dup {
		log.Info("job superseded by a recent generation, skipping")
		out.Status = p.fail(ctx, log, rec, stage, shared.ErrJobRateLimited, "")
		return out, shared.ErrJobRateLimited
	}

	stage = StageLoad
	snapshot, err := p.deps.Students.Snapshot(ctx, rec.UserID)
	if err != nil {
		err = shared.WrapError("worker", "Process", shared.ErrDataLoad, "load student snapshot", err)
		out.Status = p.fail(ctx, log, rec, stage, err, string(debug.Stack()))
		return out, err
	}
	if raw, mErr := json.Marshal(snapshot); mErr == nil {
		if hErr := p.deps.Queue.RecordInputHash(ctx, rec.ID, planner.Hash(string(raw))); hErr != nil {
			log.Warn("failed to record input hash", "error", hErr)
		}
	}

	stage = StageProfile
	profile := p.deps.Profiler.Profile(snapshot)
	span.SetAttributes(attribute.String("risk.level", profile.OverallRisk.String()), attribute.Int("risk.score", profile.Score))

	stage = StageGenerate
	now := p.now()
	result, err := p.deps.Planner.Generate(ctx, snapshot, profile, now)
	if err != nil {
		err = shared.WrapError("worker", "Process", shared.ErrUnexpected, "generate plan", err)
		out.Status = p.fail(ctx, log, rec, stage, err, string(debug.Stack()))
		return out, err
	}
	if result.Fallback {
		log.Warn("serving fallback plan", "attempts", result.Attempts, "error", result.LastError)
	}

	stage = StagePersist
	s, err := suggestion.New(suggestion.NewSuggestionParams{
		UserID:      rec.UserID,
		MentorID:    snapshot.MentorID,
		Agent:       string(rec.Type),
		Plan:        result.Plan,
		RiskProfile: profile,
		GeneratedBy: GeneratedByFor(rec.TriggeredBy),
		Fallback:    result.Fallback,
		PromptHash:  result.PromptHash,
		OutputHash:  result.OutputHash,
		ModelUsed:   result.Model,
	}, p.now())
	if err == nil {
		err = p.deps.Suggestions.SaveReplacingActive(ctx, s)
	}
	if err != nil {
		err = shared.WrapError("worker", "Process", shared.ErrUnexpected, "persist suggestion", err)
		out.Status = p.fail(ctx, log, rec, stage, err, string(debug.Stack()))
		return out, err
	}
	p.updateTracker(ctx, log, s)

	stage = StageComplete
	done, err := p.deps.Queue.MarkCompleted(ctx, rec.ID, s.ID)
	if err != nil {
		err = shared.WrapError("worker", "Process", shared.ErrUnexpected, "mark completed", err)
		out.Status = p.fail(ctx, log, rec, stage, err, string(debug.Stack()))
		return out, err
	}
	completed = true

	out.SuggestionID = s.ID
	out.Fallback = s.Fallback
	out.Status = done.Status

	log.Info("study plan generated",
		"suggestion_id", s.ID,
		"version", s.Version,
		"plan_length", s.PlanLength,
		"risk", profile.OverallRisk,
		"fallback", s.Fallback,
		"duration_ms", done.DurationMs,
	)

	stage = StageAnnounce
	p.notifySuccess(ctx, log, snapshot, profile, s)
	p.publish(log, shared.NewPlanGeneratedEvent(rec.UserID, rec.ID, s.ID, profile.OverallRisk.String(), s.Fallback))
	return out, nil
}

// GeneratedByFor maps the trigger of a job to the origin stored on its suggestion.
func GeneratedByFor(t job.TriggeredBy) suggestion.GeneratedBy {
	switch t {
	case job.TriggeredByAPI:
		return suggestion.GeneratedByStudentRequest
	case job.TriggeredByManual:
		return suggestion.GeneratedByManual
	default:
		return suggestion.GeneratedByAuto
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// fail records the failure on the job. Unexpected failures with attempts left
// are handed back to the queue as retrying; everything else ends the job.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, rec *job.Record, stage Stage, cause error, stack string) job.Status {
	if errors.Is(cause, shared.ErrUnexpected) && rec.CanRetry() {
		_, err := p.deps.Queue.Retry(ctx, rec.ID)
		if err == nil {
			log.Warn("job attempt failed, scheduled for retry",
				"stage", stage,
				"attempt", rec.Attempt,
				"max_attempts", rec.MaxAttempts,
				"error", cause,
			)
			return job.StatusRetrying
		}
		log.Error("failed to schedule retry", "error", err)
	}

	if _, err := p.deps.Queue.MarkFailed(ctx, rec.ID, cause, stack); err != nil {
		log.Error("failed to mark job failed", "stage", stage, "cause", cause, "error", err)
	}

	if shared.IsRateLimited(cause) {
		return job.StatusFailed
	}

	log.Error("job failed", "stage", stage, "attempt", rec.Attempt, "error", cause)

	p.notify(ctx, log, notification.GenerationFailed(rec.UserID, rec.ID, p.now()))
	if shared.RequiresOperatorAlert(cause) && p.deps.Alerter != nil {
		p.deps.Alerter.Alert(ctx, notification.Alert{
			JobID:   rec.ID,
			UserID:  rec.UserID,
			JobType: string(rec.Type),
			Stage:   string(stage),
			Err:     cause,
			Stack:   stack,
		})
	}
	p.publish(log, shared.NewJobFailedEvent(rec.UserID, rec.ID, cause.Error()))
	return job.StatusFailed
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS
// ══════════════════════════════════════════════════════════════════════════════

func (p *Processor) updateTracker(ctx context.Context, log *slog.Logger, s *suggestion.Suggestion) {
	if p.deps.Trackers == nil {
		return
	}
	tracker, err := p.deps.Trackers.Get(ctx, s.UserID)
	if err != nil {
		log.Warn("failed to load plan tracker", "error", err)
		return
	}
	tracker.RecordGenerated(s, p.now())
	if err := p.deps.Trackers.Save(ctx, tracker); err != nil {
		log.Warn("failed to save plan tracker", "error", err)
	}
}

func (p *Processor) notifySuccess(ctx context.Context, log *slog.Logger, snapshot *student.Snapshot, profile risk.Profile, s *suggestion.Suggestion) {
	now := p.now()
	p.notify(ctx, log, notification.PlanReady(s.UserID, s.ID, s.PlanLength, profile.IsHigh(), now))

	if profile.NeedsMentorAttention() && snapshot.HasMentor() {
		name := snapshot.Name
		if name == "" {
			name = "Student"
		}
		p.notify(ctx, log, notification.StudentAtRisk(snapshot.MentorID, s.UserID, name, s.ID, profile.OverallRisk.String(), now))
	}
}

// notify delivers an event; delivery failures are logged and never fail the job.
func (p *Processor) notify(ctx context.Context, log *slog.Logger, event notification.Event) {
	if p.deps.Notifier == nil {
		return
	}
	err := p.notifyRe.Do(ctx, func(ctx context.Context) error {
		return p.deps.Notifier.Notify(ctx, event)
	})
	if err != nil {
		log.Warn("notification delivery failed",
			"recipient_id", event.RecipientID,
			"category", event.Category,
			"error", err,
		)
	}
}

func (p *Processor) publish(log *slog.Logger, event shared.Event) {
	if p.deps.Events == nil {
		return
	}
	if err := p.deps.Events.Publish(event); err != nil {
		log.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
