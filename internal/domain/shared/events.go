package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// Academic data changes reported by the records system.
	EventAttendanceChanged EventType = "academics.attendance_changed"
	EventMarksChanged      EventType = "academics.marks_changed"

	// Pipeline events
	EventPlanGenerated      EventType = "agent.plan_generated"
	EventJobFailed          EventType = "agent.job_failed"
	EventSuggestionAccepted EventType = "suggestion.accepted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For academic and pipeline events this is the user ID.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Academic Events
// ═══════════════════════════════════════════════════════════════════════════

// AcademicDataChangedEvent is emitted when attendance or IA marks change for a student.
type AcademicDataChangedEvent struct {
	BaseEvent
	Subject string `json:"subject,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Payload implements Event interface.
func (e AcademicDataChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject": e.Subject,
		"source":  e.Source,
	}
}

// NewAcademicDataChangedEvent creates an attendance or marks change event.
func NewAcademicDataChangedEvent(eventType EventType, userID, subject, source string) AcademicDataChangedEvent {
	return AcademicDataChangedEvent{
		BaseEvent: NewBaseEvent(eventType, userID),
		Subject:   subject,
		Source:    source,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pipeline Events
// ═══════════════════════════════════════════════════════════════════════════

// PlanGeneratedEvent is emitted after a suggestion has been persisted.
type PlanGeneratedEvent struct {
	BaseEvent
	JobID        string `json:"job_id"`
	SuggestionID string `json:"suggestion_id"`
	RiskLevel    string `json:"risk_level"`
	Fallback     bool   `json:"fallback"`
}

// Payload implements Event interface.
func (e PlanGeneratedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job_id":        e.JobID,
		"suggestion_id": e.SuggestionID,
		"risk_level":    e.RiskLevel,
		"fallback":      e.Fallback,
	}
}

// NewPlanGeneratedEvent creates a new PlanGeneratedEvent.
func NewPlanGeneratedEvent(userID, jobID, suggestionID, riskLevel string, fallback bool) PlanGeneratedEvent {
	return PlanGeneratedEvent{
		BaseEvent:    NewBaseEvent(EventPlanGenerated, userID),
		JobID:        jobID,
		SuggestionID: suggestionID,
		RiskLevel:    riskLevel,
		Fallback:     fallback,
	}
}

// JobFailedEvent is emitted when a job ends in the failed state.
type JobFailedEvent struct {
	BaseEvent
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// Payload implements Event interface.
func (e JobFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job_id": e.JobID,
		"error":  e.Error,
	}
}

// NewJobFailedEvent creates a new JobFailedEvent.
func NewJobFailedEvent(userID, jobID, errMsg string) JobFailedEvent {
	return JobFailedEvent{
		BaseEvent: NewBaseEvent(EventJobFailed, userID),
		JobID:     jobID,
		Error:     errMsg,
	}
}

// SuggestionAcceptedEvent is emitted when a student or mentor accepts a plan.
type SuggestionAcceptedEvent struct {
	BaseEvent
	SuggestionID string `json:"suggestion_id"`
	AcceptedBy   string `json:"accepted_by"`
}

// Payload implements Event interface.
func (e SuggestionAcceptedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"suggestion_id": e.SuggestionID,
		"accepted_by":   e.AcceptedBy,
	}
}

// NewSuggestionAcceptedEvent creates a new SuggestionAcceptedEvent.
func NewSuggestionAcceptedEvent(userID, suggestionID, acceptedBy string) SuggestionAcceptedEvent {
	return SuggestionAcceptedEvent{
		BaseEvent:    NewBaseEvent(EventSuggestionAccepted, userID),
		SuggestionID: suggestionID,
		AcceptedBy:   acceptedBy,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
