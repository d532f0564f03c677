// Package student holds the read-only academic snapshot of a student
// and the port through which the pipeline loads it.
//
// The pipeline never mutates academic data. Attendance, marks and
// semester results are owned by the records system and arrive here
// as a point-in-time Snapshot.
package student

import (
	"context"
	"time"
)

// MaxAssessments is the number of internal assessments held per subject in a semester.
const MaxAssessments = 3

// AssessmentMaxScore is the maximum score of a single internal assessment.
const AssessmentMaxScore = 30.0

// SubjectAttendance is the attendance count for one subject.
type SubjectAttendance struct {
	Subject  string `json:"subject" bson:"subject"`
	Attended int    `json:"attended" bson:"attended"`
	Total    int    `json:"total" bson:"total"`
}

// SemesterResult is one entry of the SGPA/CGPA history.
type SemesterResult struct {
	Semester int     `json:"semester" bson:"semester"`
	SGPA     float64 `json:"sgpa" bson:"sgpa"`
	CGPA     float64 `json:"cgpa" bson:"cgpa"`
}

// SubjectAssessments holds up to three IA scores for a subject.
// A nil entry is an assessment that was held but has no recorded score.
// Assessments not yet held are simply absent from the slice.
type SubjectAssessments struct {
	Subject string     `json:"subject" bson:"subject"`
	Scores  []*float64 `json:"scores" bson:"scores"`
}

// ActivityPoint is one entry of the extracurricular activity log.
type ActivityPoint struct {
	Title  string    `json:"title" bson:"title"`
	Points int       `json:"points" bson:"points"`
	Date   time.Time `json:"date" bson:"date"`
}

// Assignment is a tracked coursework item with its completion flag.
type Assignment struct {
	Subject   string    `json:"subject" bson:"subject"`
	Title     string    `json:"title" bson:"title"`
	Completed bool      `json:"completed" bson:"completed"`
	DueDate   time.Time `json:"dueDate,omitempty" bson:"due_date,omitempty"`
}

// Snapshot is the per-student academic state the pipeline works from.
// Every collection may be empty; consumers must tolerate partial data.
type Snapshot struct {
	UserID      string               `json:"userId" bson:"user_id"`
	Name        string               `json:"name" bson:"name"`
	Email       string               `json:"email,omitempty" bson:"email,omitempty"`
	MentorID    string               `json:"mentorId,omitempty" bson:"mentor_id,omitempty"`
	Department  string               `json:"department,omitempty" bson:"department,omitempty"`
	Semester    int                  `json:"semester,omitempty" bson:"semester,omitempty"`
	Attendance  []SubjectAttendance  `json:"attendance" bson:"attendance"`
	Semesters   []SemesterResult     `json:"semesters" bson:"semesters"`
	Assessments []SubjectAssessments `json:"assessments" bson:"assessments"`
	Activities  []ActivityPoint      `json:"activities" bson:"activities"`
	Assignments []Assignment         `json:"assignments" bson:"assignments"`
	LoadedAt    time.Time            `json:"loadedAt" bson:"-"`
}

// HasMentor reports whether a mentor is assigned to the student.
func (s *Snapshot) HasMentor() bool {
	return s != nil && s.MentorID != ""
}

// TotalActivityPoints sums the activity log.
func (s *Snapshot) TotalActivityPoints() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, a := range s.Activities {
		total += a.Points
	}
	return total
}

// LatestCGPA returns the CGPA of the most recent semester, or 0 when there is no history.
func (s *Snapshot) LatestCGPA() float64 {
	if s == nil || len(s.Semesters) == 0 {
		return 0
	}
	return s.Semesters[len(s.Semesters)-1].CGPA
}

// Summary identifies an active student for sweeps.
type Summary struct {
	UserID   string `json:"userId" bson:"user_id"`
	Name     string `json:"name" bson:"name"`
	MentorID string `json:"mentorId,omitempty" bson:"mentor_id,omitempty"`
}

// Source is the read-only academic-data collaborator.
type Source interface {
	// Snapshot loads the current academic state of a student.
	// Returns shared.ErrStudentNotFound if the student is unknown.
	Snapshot(ctx context.Context, userID string) (*Snapshot, error)

	// ActiveStudents lists every student eligible for scheduled sweeps.
	ActiveStudents(ctx context.Context) ([]Summary, error)
}

// Score is a convenience constructor for IA scores in fixtures and adapters.
func Score(v float64) *float64 {
	return &v
}
