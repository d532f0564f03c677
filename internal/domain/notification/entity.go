// Package notification defines the structured events the pipeline hands to
// the delivery collaborator. Delivery, storage and read state are owned by
// the collaborator; this package only describes what is sent.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY
// ══════════════════════════════════════════════════════════════════════════════

// Category classifies a notification for routing by the collaborator.
type Category string

const (
	// CategoryStudyPlanGenerated tells the student a new plan is available.
	CategoryStudyPlanGenerated Category = "study_plan_generated"

	// CategoryStudentAtRisk asks the mentor to review a flagged student.
	CategoryStudentAtRisk Category = "student_at_risk"

	// CategorySystemError tells the student that generation failed.
	CategorySystemError Category = "system_error"

	// CategoryPipelineFailure is the operator alert for failed jobs.
	CategoryPipelineFailure Category = "pipeline_failure"
)

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryStudyPlanGenerated, CategoryStudentAtRisk, CategorySystemError, CategoryPipelineFailure:
		return true
	default:
		return false
	}
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT
// ══════════════════════════════════════════════════════════════════════════════

// Event is one notification handed to the delivery collaborator.
type Event struct {
	RecipientID string         `json:"recipientId"`
	Category    Category       `json:"category"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Priority    Priority       `json:"priority"`
	ActionURL   string         `json:"actionUrl,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Validate checks that the event can be delivered.
func (e Event) Validate() error {
	if e.RecipientID == "" {
		return fmt.Errorf("%w: recipient is required", shared.ErrInvalidInput)
	}
	if !e.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", shared.ErrInvalidInput, e.Category)
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", shared.ErrInvalidInput, e.Priority)
	}
	if e.Title == "" {
		return fmt.Errorf("%w: title", shared.ErrEmptyValue)
	}
	return nil
}

// PlanReady builds the student notification for a freshly generated plan.
func PlanReady(studentID, suggestionID string, planLength int, highRisk bool, now time.Time) Event {
	priority := PriorityMedium
	if highRisk {
		priority = PriorityHigh
	}
	return Event{
		RecipientID: studentID,
		Category:    CategoryStudyPlanGenerated,
		Title:       "Your Personalized Study Plan is Ready!",
		Body: fmt.Sprintf("A %d-day study plan has been generated based on your academic performance. Check it out now!",
			planLength),
		Priority:  priority,
		ActionURL: "/student/study-plan",
		Payload:   map[string]any{"suggestionId": suggestionID},
		CreatedAt: now,
	}
}

// StudentAtRisk builds the mentor notification for a medium or high risk student.
func StudentAtRisk(mentorID, studentID, studentName, suggestionID, riskLevel string, now time.Time) Event {
	return Event{
		RecipientID: mentorID,
		Category:    CategoryStudentAtRisk,
		Title:       "Student Requires Attention: " + studentName,
		Body: fmt.Sprintf("%s has been flagged with %s risk. Review their study plan and consider intervention.",
			studentName, riskLevel),
		Priority:  PriorityHigh,
		ActionURL: "/mentor/review-plan/" + suggestionID,
		Payload: map[string]any{
			"studentId":    studentID,
			"suggestionId": suggestionID,
			"riskLevel":    riskLevel,
		},
		CreatedAt: now,
	}
}

// GenerationFailed builds the student notification for a failed job.
func GenerationFailed(studentID, jobID string, now time.Time) Event {
	return Event{
		RecipientID: studentID,
		Category:    CategorySystemError,
		Title:       "Study Plan Generation Failed",
		Body:        "We encountered an error while generating your study plan. Our team has been notified. Please try again later.",
		Priority:    PriorityMedium,
		Payload:     map[string]any{"jobId": jobID},
		CreatedAt:   now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Notifier delivers notification events. Implementations own retries and storage.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Alert is a high-priority operator alert about a pipeline failure.
type Alert struct {
	JobID   string
	UserID  string
	JobType string
	Stage   string
	Err     error
	Stack   string
}

// Alerter raises operator alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert)
}
