package academics

import (
	"sort"
	"strings"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/student"
)

// Mapper converts records-system documents into domain snapshots.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ToSnapshot builds a snapshot from the student document and its internal
// marks. Only the marks of the most recent semester are used.
func (m *Mapper) ToSnapshot(doc *StudentDoc, marks []InternalMarksDoc, now time.Time) *student.Snapshot {
	snap := &student.Snapshot{
		UserID:      doc.USN,
		Name:        doc.Name,
		Email:       doc.Email,
		MentorID:    doc.MentorID,
		Department:  doc.Branch,
		Attendance:  m.toAttendance(doc.Attendance),
		Semesters:   m.toSemesters(doc.Academics.Semesters),
		Activities:  m.toActivities(doc.ActivityLog.Activities),
		Assignments: m.toAssignments(doc.Assignments),
		LoadedAt:    now,
	}
	if snap.Name == "" {
		snap.Name = "Student"
	}

	current := latestMarks(marks)
	if current != nil {
		snap.Assessments = m.toAssessments(current.Courses)
	}

	for _, s := range snap.Semesters {
		snap.Semester = max(snap.Semester, s.Semester)
	}
	if current != nil {
		snap.Semester = max(snap.Semester, current.Semester)
	}
	return snap
}

// ToSummary builds the sweep roster entry of a student.
func (m *Mapper) ToSummary(doc *StudentDoc) student.Summary {
	return student.Summary{UserID: doc.USN, Name: doc.Name, MentorID: doc.MentorID}
}

func (m *Mapper) toAttendance(docs []AttendanceDoc) []student.SubjectAttendance {
	out := make([]student.SubjectAttendance, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.SubjectName) == "" {
			continue
		}
		out = append(out, student.SubjectAttendance{
			Subject:  d.SubjectName,
			Attended: d.AttendedClasses,
			Total:    d.TotalClasses,
		})
	}
	return out
}

func (m *Mapper) toSemesters(docs []SemesterDoc) []student.SemesterResult {
	out := make([]student.SemesterResult, 0, len(docs))
	for _, d := range docs {
		out = append(out, student.SemesterResult{Semester: d.SemesterNumber, SGPA: d.SGPA, CGPA: d.CGPA})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Semester < out[j].Semester })
	return out
}

// toAssessments keeps scores up to the last recorded IA. Gaps before it are
// held assessments without a score and map to nil.
func (m *Mapper) toAssessments(courses []CourseDoc) []student.SubjectAssessments {
	out := make([]student.SubjectAssessments, 0, len(courses))
	for _, c := range courses {
		name := c.CourseName
		if name == "" {
			name = c.CourseCode
		}
		raw := []*float64{c.IA1, c.IA2, c.IA3}
		held := 0
		for i, s := range raw {
			if s != nil {
				held = i + 1
			}
		}
		out = append(out, student.SubjectAssessments{Subject: name, Scores: raw[:held]})
	}
	return out
}

func (m *Mapper) toActivities(docs []ActivityDoc) []student.ActivityPoint {
	out := make([]student.ActivityPoint, 0, len(docs))
	for _, d := range docs {
		if d.Status != "" && !strings.EqualFold(d.Status, "Completed") {
			continue
		}
		p := student.ActivityPoint{Title: d.Name, Points: d.Points}
		if d.DateCompleted != nil {
			p.Date = *d.DateCompleted
		}
		out = append(out, p)
	}
	return out
}

func (m *Mapper) toAssignments(docs []AssignmentDoc) []student.Assignment {
	out := make([]student.Assignment, 0, len(docs))
	for _, d := range docs {
		out = append(out, student.Assignment{
			Subject:   d.Subject,
			Title:     d.Title,
			Completed: d.Completed,
			DueDate:   d.DueDate,
		})
	}
	return out
}

func latestMarks(marks []InternalMarksDoc) *InternalMarksDoc {
	var latest *InternalMarksDoc
	for i := range marks {
		if latest == nil || marks[i].Semester > latest.Semester {
			latest = &marks[i]
		}
	}
	return latest
}
