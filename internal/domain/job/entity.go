// Package job contains the bookkeeping model for plan-generation jobs.
//
// A Record moves through a small forward-only state machine:
//
//	queued -> processing -> completed | failed | retrying
//	retrying -> processing | failed
//
// Every mutation goes through a method on Record so the invariants
// (finishedAt set iff terminal, attempt never above maxAttempts) hold
// regardless of which store persists it.
package job

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies the purpose of a job.
type Type string

const (
	// TypeMentorAgent generates a study plan reviewed by the mentor.
	TypeMentorAgent Type = "mentor_agent"
	// TypeCareerPlanner is reserved for career-planning runs.
	TypeCareerPlanner Type = "career_planner"
	// TypeAdhoc covers one-off runs started by operators.
	TypeAdhoc Type = "adhoc"
)

// IsValid checks if the job type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeMentorAgent, TypeCareerPlanner, TypeAdhoc:
		return true
	default:
		return false
	}
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Status is the state of a job record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsLeasable reports whether a worker may pick the record up.
func (s Status) IsLeasable() bool {
	return s == StatusQueued || s == StatusRetrying
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// DuplicateStatuses are the statuses that count against the duplicate window.
var DuplicateStatuses = []Status{StatusQueued, StatusProcessing, StatusCompleted}

// transitions is the allowed state graph.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRetrying},
	StatusRetrying:   {StatusProcessing, StatusFailed},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TriggeredBy identifies what caused a job to be enqueued.
type TriggeredBy string

const (
	TriggeredByScheduler TriggeredBy = "scheduler"
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByEvent     TriggeredBy = "event"
	TriggeredByAPI       TriggeredBy = "api"
)

// IsValid checks if the trigger source is known.
func (t TriggeredBy) IsValid() bool {
	switch t {
	case TriggeredByScheduler, TriggeredByManual, TriggeredByEvent, TriggeredByAPI:
		return true
	default:
		return false
	}
}

// Priorities used by the trigger sources. Higher leases first.
const (
	PrioritySweep          = 0
	PriorityEvent          = 5
	PriorityStudentRequest = 5
	PriorityManual         = 10
)

// Attempt limits.
const (
	DefaultMaxAttempts = 2
	ForcedMaxAttempts  = 3
)

// ErrMaxAttemptsReached is recorded on jobs whose retries ran out.
var ErrMaxAttemptsReached = shared.ErrJobAttemptsExceeded

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Record is one unit of plan-generation work.
type Record struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Type        Type        `json:"jobType"`
	Status      Status      `json:"status"`
	Priority    int         `json:"priority"`
	Attempt     int         `json:"attempt"`
	MaxAttempts int         `json:"maxAttempts"`
	TriggeredBy TriggeredBy `json:"triggeredBy"`
	Forced      bool        `json:"forced"`

	// InputHash fingerprints the snapshot the job ran against.
	InputHash string `json:"inputHash,omitempty"`

	// ResultRef is the id of the suggestion produced by the job.
	ResultRef string `json:"resultRef,omitempty"`

	Error      string `json:"error,omitempty"`
	ErrorStack string `json:"errorStack,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
}

// NewRecordParams contains the inputs for NewRecord.
type NewRecordParams struct {
	UserID      string
	Type        Type
	Priority    int
	Forced      bool
	TriggeredBy TriggeredBy
	MaxAttempts int
}

// Validate checks the params.
func (p NewRecordParams) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("%w: unknown job type %q", shared.ErrInvalidInput, p.Type)
	}
	if !p.TriggeredBy.IsValid() {
		return fmt.Errorf("%w: unknown trigger %q", shared.ErrInvalidInput, p.TriggeredBy)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative", shared.ErrValueOutOfRange)
	}
	return nil
}

// NewRecord creates a queued record with attempt 1.
func NewRecord(params NewRecordParams, now time.Time) (*Record, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
		if params.Forced {
			maxAttempts = ForcedMaxAttempts
		}
	}

	return &Record{
		ID:          uuid.New().String(),
		UserID:      params.UserID,
		Type:        params.Type,
		Status:      StatusQueued,
		Priority:    params.Priority,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		TriggeredBy: params.TriggeredBy,
		Forced:      params.Forced,
		CreatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// Start moves a leasable record into processing.
func (r *Record) Start(now time.Time) error {
	if err := r.transition(StatusProcessing); err != nil {
		return err
	}
	r.StartedAt = &now
	return nil
}

// Complete finishes the record successfully with a reference to its result.
func (r *Record) Complete(resultRef string, now time.Time) error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.ResultRef = resultRef
	r.Error = ""
	r.ErrorStack = ""
	r.finish(now)
	return nil
}

// Fail finishes the record with an error.
func (r *Record) Fail(cause error, stack string, now time.Time) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	r.ErrorStack = stack
	r.finish(now)
	return nil
}

// Retry schedules another attempt. When the attempts are exhausted the record
// fails with ErrMaxAttemptsReached instead and the returned bool is false.
func (r *Record) Retry(now time.Time) (bool, error) {
	if !r.CanRetry() {
		return false, r.Fail(ErrMaxAttemptsReached, "", now)
	}
	if err := r.transition(StatusRetrying); err != nil {
		return false, err
	}
	r.Attempt++
	r.Error = ""
	r.ErrorStack = ""
	return true, nil
}

// CanRetry reports whether another attempt fits within MaxAttempts.
func (r *Record) CanRetry() bool {
	return r.Attempt < r.MaxAttempts
}

// IsTerminal reports whether the record is completed or failed.
func (r *Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Duration returns the processing time of a finished record.
func (r *Record) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

func (r *Record) transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return shared.NewDomainError("job", "transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move job %s from %s to %s", r.ID, r.Status, to))
	}
	r.Status = to
	return nil
}

func (r *Record) finish(now time.Time) {
	r.FinishedAt = &now
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// MetricsRow is the aggregate of jobs for one (type, status) pair.
type MetricsRow struct {
	Type          Type    `json:"jobType"`
	Status        Status  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Aggregate builds metrics rows from a set of records, ordered by type then status.
func Aggregate(records []*Record) []MetricsRow {
	type key struct {
		t Type
		s Status
	}
	type acc struct {
		count, timed int
		total        int64
	}

	buckets := make(map[key]*acc)
	var order []key
	for _, r := range records {
		k := key{r.Type, r.Status}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
			order = append(order, k)
		}
		a.count++
		if r.FinishedAt != nil && r.StartedAt != nil {
			a.timed++
			a.total += r.DurationMs
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].t != order[j].t {
			return order[i].t < order[j].t
		}
		return order[i].s < order[j].s
	})

	rows := make([]MetricsRow, 0, len(order))
	for _, k := range order {
		a := buckets[k]
		row := MetricsRow{Type: k.t, Status: k.s, Count: a.count}
		if a.timed > 0 {
			row.AvgDurationMs = float64(a.total) / float64(a.timed)
		}
		rows = append(rows, row)
	}
	return rows
}
