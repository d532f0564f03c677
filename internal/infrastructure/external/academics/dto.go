package academics

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS-SYSTEM DOCUMENTS
// Shapes of the documents owned by the academic records system.
// ══════════════════════════════════════════════════════════════════════════════

// StudentDoc is a document of the students collection.
type StudentDoc struct {
	USN         string          `bson:"usn"`
	Name        string          `bson:"name"`
	Email       string          `bson:"email,omitempty"`
	MentorID    string          `bson:"mentorId,omitempty"`
	Branch      string          `bson:"branch,omitempty"`
	IsActive    *bool           `bson:"isActive,omitempty"`
	Academics   AcademicsDoc    `bson:"academics"`
	Attendance  []AttendanceDoc `bson:"attendance"`
	ActivityLog ActivityLogDoc  `bson:"aictActivityPoints"`
	Assignments []AssignmentDoc `bson:"assignments"`
}

// AcademicsDoc holds the semester history.
type AcademicsDoc struct {
	Semesters []SemesterDoc `bson:"semesters"`
}

// SemesterDoc is one semester result.
type SemesterDoc struct {
	SemesterNumber int     `bson:"semesterNumber"`
	SGPA           float64 `bson:"sgpa"`
	CGPA           float64 `bson:"cgpa"`
}

// AttendanceDoc is the attendance of one subject.
type AttendanceDoc struct {
	SubjectName     string `bson:"subjectName"`
	AttendedClasses int    `bson:"attendedClasses"`
	TotalClasses    int    `bson:"totalClasses"`
	Semester        int    `bson:"semester,omitempty"`
}

// ActivityLogDoc is the extracurricular activity record.
type ActivityLogDoc struct {
	CurrentPoints int           `bson:"currentPoints"`
	Activities    []ActivityDoc `bson:"activities"`
}

// ActivityDoc is one logged activity.
type ActivityDoc struct {
	Name          string     `bson:"name"`
	Points        int        `bson:"points"`
	Status        string     `bson:"status"`
	DateCompleted *time.Time `bson:"dateCompleted,omitempty"`
}

// AssignmentDoc is a tracked coursework item.
type AssignmentDoc struct {
	Subject   string    `bson:"subject"`
	Title     string    `bson:"title"`
	Completed bool      `bson:"completed"`
	DueDate   time.Time `bson:"dueDate,omitempty"`
}

// InternalMarksDoc is a document of the internal_marks collection: the IA
// scores of one student for one semester.
type InternalMarksDoc struct {
	USN      string      `bson:"usn"`
	Semester int         `bson:"semester"`
	Courses  []CourseDoc `bson:"courses"`
}

// CourseDoc holds the IA scores of one course. Absent scores are nil.
type CourseDoc struct {
	CourseCode string   `bson:"courseCode"`
	CourseName string   `bson:"courseName"`
	IA1        *float64 `bson:"ia1,omitempty"`
	IA2        *float64 `bson:"ia2,omitempty"`
	IA3        *float64 `bson:"ia3,omitempty"`
}
