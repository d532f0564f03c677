package academics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mentorlink/study-agent/internal/domain/student"
)

func f(v float64) *float64 { return &v }

func TestMapper_ToSnapshot(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	done := now.Add(-48 * time.Hour)

	doc := &StudentDoc{
		USN:      "1RV22CS001",
		Name:     "Meera",
		MentorID: "m-7",
		Branch:   "CSE",
		Academics: AcademicsDoc{Semesters: []SemesterDoc{
			{SemesterNumber: 2, SGPA: 7.9, CGPA: 8.0},
			{SemesterNumber: 1, SGPA: 8.1, CGPA: 8.1},
		}},
		Attendance: []AttendanceDoc{
			{SubjectName: "Maths", AttendedClasses: 30, TotalClasses: 40},
			{SubjectName: " ", AttendedClasses: 1, TotalClasses: 1},
		},
		ActivityLog: ActivityLogDoc{Activities: []ActivityDoc{
			{Name: "Hackathon", Points: 20, Status: "Completed", DateCompleted: &done},
			{Name: "NSS", Points: 10, Status: "Planned"},
		}},
		Assignments: []AssignmentDoc{{Subject: "Maths", Title: "Sheet 3"}},
	}
	marks := []InternalMarksDoc{
		{USN: "1RV22CS001", Semester: 2, Courses: []CourseDoc{
			{CourseName: "Maths", IA1: f(24), IA3: f(18)},
			{CourseCode: "CS201", IA1: f(20)},
			{CourseName: "Physics"},
		}},
		{USN: "1RV22CS001", Semester: 1, Courses: []CourseDoc{{CourseName: "Old", IA1: f(1)}}},
	}

	snap := NewMapper().ToSnapshot(doc, marks, now)

	assert.Equal(t, "1RV22CS001", snap.UserID)
	assert.Equal(t, "CSE", snap.Department)
	assert.True(t, snap.HasMentor())
	assert.Equal(t, 2, snap.Semester)
	assert.Equal(t, now, snap.LoadedAt)

	require.Len(t, snap.Semesters, 2)
	assert.Equal(t, 1, snap.Semesters[0].Semester)
	assert.InDelta(t, 8.0, snap.LatestCGPA(), 1e-9)

	assert.Equal(t, []student.SubjectAttendance{{Subject: "Maths", Attended: 30, Total: 40}}, snap.Attendance)

	require.Len(t, snap.Assessments, 3)
	maths := snap.Assessments[0]
	require.Len(t, maths.Scores, 3)
	assert.Equal(t, 24.0, *maths.Scores[0])
	assert.Nil(t, maths.Scores[1])
	assert.Equal(t, 18.0, *maths.Scores[2])
	assert.Equal(t, "CS201", snap.Assessments[1].Subject)
	assert.Len(t, snap.Assessments[1].Scores, 1)
	assert.Empty(t, snap.Assessments[2].Scores)

	require.Len(t, snap.Activities, 1)
	assert.Equal(t, 20, snap.TotalActivityPoints())
	assert.Equal(t, done, snap.Activities[0].Date)
	assert.Len(t, snap.Assignments, 1)
}

func TestMapper_EmptyDocument(t *testing.T) {
	snap := NewMapper().ToSnapshot(&StudentDoc{USN: "u"}, nil, time.Now())
	assert.Equal(t, "Student", snap.Name)
	assert.Empty(t, snap.Assessments)
	assert.Empty(t, snap.Attendance)
	assert.Zero(t, snap.Semester)
}

func TestStudentDoc_DecodesRecordsShape(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"usn":  "u1",
		"name": "Kiran",
		"academics": bson.M{"semesters": bson.A{
			bson.M{"semesterNumber": 3, "sgpa": 6.5, "cgpa": 7.1},
		}},
		"attendance": bson.A{bson.M{"subjectName": "DSA", "attendedClasses": 10, "totalClasses": 20}},
		"aictActivityPoints": bson.M{"currentPoints": 5, "activities": bson.A{
			bson.M{"name": "Talk", "points": 5, "status": "Completed"},
		}},
		"isActive": false,
	})
	require.NoError(t, err)

	var doc StudentDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, 3, doc.Academics.Semesters[0].SemesterNumber)
	assert.Equal(t, 20, doc.Attendance[0].TotalClasses)
	require.NotNil(t, doc.IsActive)
	assert.False(t, *doc.IsActive)
	assert.Equal(t, "u1", NewMapper().ToSummary(&doc).UserID)
}
