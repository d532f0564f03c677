// Package planner turns a student snapshot and risk profile into a
// structured multi-day study plan. Generation goes through the textgen
// port with linear-backoff retries; when every attempt fails the planner
// synthesizes a fallback plan so the pipeline always yields an artifact.
package planner

import (
	"sort"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// Input is the normalized view of a student handed to the model.
// Field order and slice order are fixed so the prompt is deterministic.
type Input struct {
	UserID      string            `json:"userId"`
	Name        string            `json:"name"`
	Department  string            `json:"department,omitempty"`
	Semester    int               `json:"semester"`
	CGPA        float64           `json:"cgpa"`
	SGPA        float64           `json:"sgpa"`
	Attendance  []AttendanceInput `json:"attendance"`
	Assessments []AssessmentInput `json:"internalMarks"`
	Semesters   []SemesterInput   `json:"semesters"`

	ActivityPoints     int `json:"activityPoints"`
	PendingAssignments int `json:"pendingAssignments"`

	RiskProfile risk.Profile `json:"riskProfile"`
	CurrentDate string       `json:"currentDate"`
}

// AttendanceInput is one subject's attendance.
type AttendanceInput struct {
	Subject    string `json:"subject"`
	Attended   int    `json:"attended"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

// AssessmentInput is one subject's IA scores.
type AssessmentInput struct {
	Subject string    `json:"subject"`
	Scores  []float64 `json:"scores"`
	Average float64   `json:"average"`
}

// SemesterInput is one entry of the grade history.
type SemesterInput struct {
	Semester int     `json:"semester"`
	SGPA     float64 `json:"sgpa"`
	CGPA     float64 `json:"cgpa"`
}

// BuildInput normalizes a snapshot and profile. Missing fields become
// empty collections or zero values; it never fails.
func BuildInput(s *student.Snapshot, profile risk.Profile, today time.Time) Input {
	in := Input{
		Name:        "Student",
		Attendance:  []AttendanceInput{},
		Assessments: []AssessmentInput{},
		Semesters:   []SemesterInput{},
		RiskProfile: profile,
		CurrentDate: today.Format(time.DateOnly),
	}
	if s == nil {
		return in
	}

	in.UserID = s.UserID
	if s.Name != "" {
		in.Name = s.Name
	}
	in.Department = s.Department
	in.Semester = s.Semester
	in.ActivityPoints = s.TotalActivityPoints()

	for _, a := range s.Attendance {
		in.Attendance = append(in.Attendance, AttendanceInput{
			Subject:    a.Subject,
			Attended:   a.Attended,
			Total:      a.Total,
			Percentage: risk.AttendancePercent(a.Attended, a.Total),
		})
	}

	for _, a := range s.Assessments {
		scores := make([]float64, 0, len(a.Scores))
		for _, sc := range a.Scores {
			if sc != nil {
				scores = append(scores, *sc)
			}
		}
		in.Assessments = append(in.Assessments, AssessmentInput{
			Subject: a.Subject,
			Scores:  scores,
			Average: risk.IAAverage(scores),
		})
	}

	semesters := make([]student.SemesterResult, len(s.Semesters))
	copy(semesters, s.Semesters)
	sort.SliceStable(semesters, func(i, j int) bool { return semesters[i].Semester < semesters[j].Semester })
	for _, sem := range semesters {
		in.Semesters = append(in.Semesters, SemesterInput{Semester: sem.Semester, SGPA: sem.SGPA, CGPA: sem.CGPA})
	}
	if n := len(semesters); n > 0 {
		latest := semesters[n-1]
		in.CGPA, in.SGPA = latest.CGPA, latest.SGPA
		if in.Semester == 0 {
			in.Semester = latest.Semester
		}
	}

	for _, a := range s.Assignments {
		if !a.Completed {
			in.PendingAssignments++
		}
	}

	return in
}
