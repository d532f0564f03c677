// Package suggestion contains the study-plan suggestion produced by the
// generation pipeline and its review lifecycle.
//
// At most one suggestion per user is active and accepted at a time. The
// exclusivity is enforced by the repository (ActivateExclusive and
// SaveReplacingActive run as single transactions); the entity only tracks
// its own state.
package suggestion

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Severity grades an insight.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// ResourceType classifies a learning resource.
type ResourceType string

const (
	ResourceVideo    ResourceType = "video"
	ResourceArticle  ResourceType = "article"
	ResourceCourse   ResourceType = "course"
	ResourceNotes    ResourceType = "notes"
	ResourcePractice ResourceType = "practice"
	ResourceOther    ResourceType = "other"
)

// IsValid checks if the resource type is known.
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceVideo, ResourceArticle, ResourceCourse, ResourceNotes, ResourcePractice, ResourceOther:
		return true
	default:
		return false
	}
}

// GeneratedBy records who asked for the suggestion.
type GeneratedBy string

const (
	GeneratedByAuto           GeneratedBy = "auto"
	GeneratedByManual         GeneratedBy = "manual"
	GeneratedByStudentRequest GeneratedBy = "student-request"
)

// IsValid checks if the origin is known.
func (g GeneratedBy) IsValid() bool {
	return g == GeneratedByAuto || g == GeneratedByManual || g == GeneratedByStudentRequest
}

// Allowed plan lengths in days.
var PlanLengths = []int{7, 14, 28}

// NearestPlanLength maps a day count onto the closest allowed plan length.
// Ties resolve to the shorter length.
func NearestPlanLength(days int) int {
	best := PlanLengths[0]
	for _, l := range PlanLengths[1:] {
		if abs(days-l) < abs(days-best) {
			best = l
		}
	}
	return best
}

// IsValidPlanLength checks if n is one of the allowed plan lengths.
func IsValidPlanLength(n int) bool {
	for _, l := range PlanLengths {
		if n == l {
			return true
		}
	}
	return false
}

// Task duration bounds in minutes.
const (
	MinTaskMinutes = 15
	MaxTaskMinutes = 180
)

// ══════════════════════════════════════════════════════════════════════════════
// PLAN VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Insight is one observation about the student's standing.
type Insight struct {
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
}

// Task is one scheduled activity within a day.
type Task struct {
	Time            string     `json:"time"`
	Description     string     `json:"task"`
	DurationMinutes int        `json:"durationMinutes"`
	Resource        string     `json:"resource,omitempty"`
	ResourceURL     string     `json:"resourceUrl,omitempty"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Day is one entry of the plan.
type Day struct {
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`
	Tasks []Task    `json:"tasks"`
}

// TotalMinutes sums the task durations of the day.
func (d Day) TotalMinutes() int {
	total := 0
	for _, t := range d.Tasks {
		total += t.DurationMinutes
	}
	return total
}

// MicroSupport is a short focused learning unit.
type MicroSupport struct {
	Title            string `json:"title"`
	Summary          string `json:"summary"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
	ResourceURL      string `json:"resourceUrl,omitempty"`
	ExampleProblem   string `json:"exampleProblem,omitempty"`
}

// Resource is a free learning resource suggested with the plan.
type Resource struct {
	Title string       `json:"title"`
	URL   string       `json:"url"`
	Type  ResourceType `json:"type"`
}

// Plan is the structured output of plan generation.
type Plan struct {
	Insights      []Insight      `json:"insights"`
	PlanLength    int            `json:"planLength"`
	Days          []Day          `json:"plan"`
	MicroSupport  []MicroSupport `json:"microSupport"`
	Resources     []Resource     `json:"resources"`
	MentorActions []string       `json:"mentorActions"`
	Confidence    float64        `json:"confidence"`
}

// TaskCount returns the number of tasks across all days.
func (p Plan) TaskCount() int {
	n := 0
	for _, d := range p.Days {
		n += len(d.Tasks)
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Review holds the mentor/student review state.
type Review struct {
	Reviewed      bool       `json:"reviewed"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	Notes         string     `json:"reviewNotes,omitempty"`
	Accepted      bool       `json:"accepted"`
	AcceptedAt    *time.Time `json:"acceptedAt,omitempty"`
	Dismissed     bool       `json:"dismissed"`
	DismissReason string     `json:"dismissReason,omitempty"`
	Applied       bool       `json:"applied"`
	AppliedAt     *time.Time `json:"appliedAt,omitempty"`
}

// Suggestion is a versioned study plan proposed to a student.
type Suggestion struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	MentorID string `json:"mentorId,omitempty"`
	Agent    string `json:"agent"`

	Plan
	RiskProfile risk.Profile `json:"riskProfile"`
	Review

	Version            int         `json:"version"`
	PreviousVersionRef string      `json:"previousVersionRef,omitempty"`
	GeneratedBy        GeneratedBy `json:"generatedBy"`
	Active             bool        `json:"active"`
	Fallback           bool        `json:"fallback"`

	PromptHash string `json:"promptHash,omitempty"`
	OutputHash string `json:"outputHash,omitempty"`
	ModelUsed  string `json:"modelUsed,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSuggestionParams contains the inputs for New.
type NewSuggestionParams struct {
	UserID      string
	MentorID    string
	Agent       string
	Plan        Plan
	RiskProfile risk.Profile
	GeneratedBy GeneratedBy
	Fallback    bool
	PromptHash  string
	OutputHash  string
	ModelUsed   string
}

// New creates an active, unreviewed suggestion. Version and previous
// version reference are assigned when the repository stores it.
func New(params NewSuggestionParams, now time.Time) (*Suggestion, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if !IsValidPlanLength(params.Plan.PlanLength) {
		return nil, fmt.Errorf("%w: plan length %d", shared.ErrValueOutOfRange, params.Plan.PlanLength)
	}
	if len(params.Plan.Days) != params.Plan.PlanLength {
		return nil, fmt.Errorf("%w: plan has %d days, expected %d",
			shared.ErrValidation, len(params.Plan.Days), params.Plan.PlanLength)
	}
	generatedBy := params.GeneratedBy
	if !generatedBy.IsValid() {
		generatedBy = GeneratedByAuto
	}

	return &Suggestion{
		ID:          uuid.New().String(),
		UserID:      params.UserID,
		MentorID:    params.MentorID,
		Agent:       params.Agent,
		Plan:        params.Plan,
		RiskProfile: params.RiskProfile,
		Version:     1,
		GeneratedBy: generatedBy,
		Active:      true,
		Fallback:    params.Fallback,
		PromptHash:  params.PromptHash,
		OutputHash:  params.OutputHash,
		ModelUsed:   params.ModelUsed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FollowUp links the suggestion to the one it replaces.
func (s *Suggestion) FollowUp(previous *Suggestion) {
	if previous == nil {
		s.Version = 1
		s.PreviousVersionRef = ""
		return
	}
	s.Version = previous.Version + 1
	s.PreviousVersionRef = previous.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Accept marks the suggestion accepted, applied and active.
// The caller must deactivate the user's other suggestions in the same step.
func (s *Suggestion) Accept(now time.Time) error {
	if s.Dismissed {
		return shared.ErrSuggestionDismissed
	}
	s.Accepted = true
	s.AcceptedAt = &now
	s.Applied = true
	s.AppliedAt = &now
	s.Active = true
	s.UpdatedAt = now
	return nil
}

// MarkReviewed records a mentor review. When approved is set, the
// acceptance flag follows it; an approval must then be activated
// exclusively like Accept.
func (s *Suggestion) MarkReviewed(reviewerID, notes string, approved *bool, now time.Time) error {
	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer id is required", shared.ErrInvalidInput)
	}
	s.Reviewed = true
	s.ReviewedBy = reviewerID
	s.ReviewedAt = &now
	if notes != "" {
		s.Notes = notes
	}
	s.UpdatedAt = now

	if approved == nil {
		return nil
	}
	if *approved {
		return s.Accept(now)
	}
	s.Accepted = false
	s.AcceptedAt = nil
	return nil
}

// Dismiss rejects the suggestion and takes it out of rotation.
func (s *Suggestion) Dismiss(reason string, now time.Time) {
	s.Dismissed = true
	s.DismissReason = reason
	s.Accepted = false
	s.Active = false
	s.UpdatedAt = now
}

// Deactivate takes the suggestion out of rotation without dismissing it.
func (s *Suggestion) Deactivate(now time.Time) {
	s.Active = false
	s.UpdatedAt = now
}

// CompleteTask marks the task at index on the given day (1-based) as completed.
func (s *Suggestion) CompleteTask(day, index int, now time.Time) error {
	for i := range s.Days {
		if s.Days[i].Day != day {
			continue
		}
		if index < 0 || index >= len(s.Days[i].Tasks) {
			return shared.ErrTaskNotFound
		}
		task := &s.Days[i].Tasks[index]
		if !task.Completed {
			task.Completed = true
			task.CompletedAt = &now
		}
		s.UpdatedAt = now
		return nil
	}
	return shared.ErrTaskNotFound
}

// TodayTasks returns the plan day matching the calendar date of now.
func (s *Suggestion) TodayTasks(now time.Time) (Day, bool) {
	for _, day := range s.Days {
		if timeutil.IsSameDay(day.Date, now) {
			return day, true
		}
	}
	return Day{}, false
}

// NextTask returns the first uncompleted task on or after today.
func (s *Suggestion) NextTask(now time.Time) (Day, Task, bool) {
	for _, day := range s.Days {
		if timeutil.IsBeforeDay(day.Date, now) {
			continue
		}
		for _, t := range day.Tasks {
			if !t.Completed {
				return day, t, true
			}
		}
	}
	return Day{}, Task{}, false
}

// Progress summarises task completion.
type Progress struct {
	CompletedTasks int `json:"completedTasks"`
	TotalTasks     int `json:"totalTasks"`
	Percent        int `json:"progressPercent"`
}

// Progress returns the completion state of the plan.
func (s *Suggestion) Progress() Progress {
	p := Progress{}
	for _, d := range s.Days {
		for _, t := range d.Tasks {
			p.TotalTasks++
			if t.Completed {
				p.CompletedTasks++
			}
		}
	}
	if p.TotalTasks > 0 {
		p.Percent = int(math.Round(float64(p.CompletedTasks) / float64(p.TotalTasks) * 100))
	}
	return p
}

// DaysRemaining counts whole days until the last plan day, never negative.
func (s *Suggestion) DaysRemaining(now time.Time) int {
	if len(s.Days) == 0 {
		return 0
	}
	last := s.Days[len(s.Days)-1].Date
	left := int(math.Ceil(last.Sub(now).Hours() / 24))
	if left < 0 {
		return 0
	}
	return left
}

// IsRunning reports whether the student is currently working through the plan.
func (s *Suggestion) IsRunning(now time.Time) bool {
	return s.Active && s.Accepted && !s.Dismissed && s.DaysRemaining(now) > 0
}

// IsOwnedBy checks whether the suggestion belongs to the user.
func (s *Suggestion) IsOwnedBy(userID string) bool {
	return s.UserID == userID
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
