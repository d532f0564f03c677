package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/student"
)

func newTestProfiler() *Profiler {
	return NewProfiler(DefaultConfig())
}

func TestProfile_EmptySnapshot(t *testing.T) {
	p := newTestProfiler()

	for _, s := range []*student.Snapshot{nil, {}} {
		profile := p.Profile(s)
		assert.NotNil(t, profile.LowAttendance)
		assert.NotNil(t, profile.WeakSubjects)
		assert.NotNil(t, profile.MissingAssignments)
		assert.NotNil(t, profile.RiskFactors)
		assert.NotNil(t, profile.UrgentActions)
		assert.False(t, profile.CGPADrop)
		assert.Equal(t, LevelLow, profile.OverallRisk)
		assert.Equal(t, 0, profile.Score)
	}
}

func TestProfile_AttendanceAndCGPAExample(t *testing.T) {
	p := newTestProfiler()

	profile := p.Profile(&student.Snapshot{
		UserID: "u1",
		Attendance: []student.SubjectAttendance{
			{Subject: "Data Structures", Attended: 39, Total: 60},
		},
		Semesters: []student.SemesterResult{
			{Semester: 1, SGPA: 8.5},
			{Semester: 2, SGPA: 8.0},
		},
	})

	require.Len(t, profile.LowAttendance, 1)
	assert.Equal(t, 65, profile.LowAttendance[0].Percentage)
	assert.Equal(t, 10, profile.LowAttendance[0].Deficit)
	assert.Equal(t, 24, profile.LowAttendance[0].RequiredClasses)
	assert.True(t, profile.CGPADrop)
	assert.Equal(t, 7, profile.Score)
	assert.Equal(t, LevelMedium, profile.OverallRisk)
	assert.Equal(t, []string{FactorLowAttendance, FactorCGPADecline}, profile.RiskFactors)
	assert.Equal(t, []string{
		"Attend all upcoming classes without fail",
		"Meet with mentor to discuss academic strategy",
		"Review study methods and time management",
	}, profile.UrgentActions)
}

func TestProfile_AttendanceFlagBoundary(t *testing.T) {
	p := newTestProfiler()

	tests := []struct {
		attended, total int
		flagged         bool
	}{
		{75, 100, false},
		{74, 100, true},
		{0, 0, false},
		{3, 4, false},
		{0, 10, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.attended, tt.total), func(t *testing.T) {
			profile := p.Profile(&student.Snapshot{
				Attendance: []student.SubjectAttendance{{Subject: "Maths", Attended: tt.attended, Total: tt.total}},
			})
			assert.Equal(t, tt.flagged, len(profile.LowAttendance) == 1)
		})
	}
}

func TestRequiredClasses_ReachesThreshold(t *testing.T) {
	// Below 5/40 the threshold is out of reach within the cap.
	for attended := 5; attended <= 30; attended++ {
		total := 40
		n := RequiredClasses(attended, total, 75, 100)
		assert.LessOrEqual(t, n, 100)
		assert.GreaterOrEqual(t, float64(attended+n)/float64(total+n)*100, 75.0, "attended=%d", attended)
	}

	assert.Equal(t, 0, RequiredClasses(0, 0, 75, 100))
	assert.Equal(t, 100, RequiredClasses(0, 1000, 75, 100))
}

func TestProfile_CGPADropBoundary(t *testing.T) {
	p := newTestProfiler()

	tests := []struct {
		name     string
		previous float64
		latest   float64
		want     bool
	}{
		{"exactly 0.4", 8.4, 8.0, true},
		{"float noise at 0.4", 8.5, 8.1, true},
		{"just below", 8.39, 8.0, false},
		{"improvement", 7.0, 8.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := p.Profile(&student.Snapshot{
				Semesters: []student.SemesterResult{
					{Semester: 4, SGPA: tt.latest},
					{Semester: 3, SGPA: tt.previous},
				},
			})
			assert.Equal(t, tt.want, profile.CGPADrop)
		})
	}
}

func TestProfile_WeakSubjects(t *testing.T) {
	p := newTestProfiler()

	profile := p.Profile(&student.Snapshot{
		Assessments: []student.SubjectAssessments{
			{Subject: "Physics", Scores: []*float64{student.Score(10), student.Score(11), student.Score(9)}},
			{Subject: "Chemistry", Scores: []*float64{student.Score(20), student.Score(25)}},
			{Subject: "Biology", Scores: []*float64{student.Score(8), student.Score(14)}},
		},
	})

	require.Len(t, profile.WeakSubjects, 2)

	physics := profile.WeakSubjects[0]
	assert.Equal(t, "Physics", physics.Subject)
	assert.Equal(t, 10.0, physics.IAAverage)
	assert.Equal(t, 33, physics.Percentage)
	assert.Equal(t, 5.0, physics.Deficit)
	assert.Equal(t, TrendStable, physics.Trend)

	biology := profile.WeakSubjects[1]
	assert.Equal(t, TrendImproving, biology.Trend)
	assert.Equal(t, 11.0, biology.IAAverage)

	assert.Contains(t, profile.UrgentActions, "Urgent: Focus on Physics - schedule daily 1-hour revision")
	assert.Contains(t, profile.UrgentActions, "Urgent: Focus on Biology - schedule daily 1-hour revision")
}

func TestProfile_MissingWork(t *testing.T) {
	p := newTestProfiler()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	profile := p.Profile(&student.Snapshot{
		Assessments: []student.SubjectAssessments{
			{Subject: "Maths", Scores: []*float64{student.Score(0), nil, student.Score(22)}},
		},
		Assignments: []student.Assignment{
			{Subject: "Maths", Title: "Lab 1", Completed: false, DueDate: due},
			{Subject: "Maths", Title: "Lab 2", Completed: false, DueDate: future},
			{Subject: "Maths", Title: "Lab 0", Completed: true, DueDate: due},
		},
	})

	require.Len(t, profile.MissingAssignments, 4)
	assert.Equal(t, "IA1 - Maths", profile.MissingAssignments[0].Title)
	assert.Equal(t, "IA2 - Maths", profile.MissingAssignments[1].Title)
	assert.Equal(t, "Lab 1", profile.MissingAssignments[2].Title)
	assert.Equal(t, "Lab 2", profile.MissingAssignments[3].Title, "not yet due but unsubmitted")
	assert.Contains(t, profile.UrgentActions, "Complete 4 pending assignments immediately")
}

func TestClassify_AcrossFlagCombinations(t *testing.T) {
	p := newTestProfiler()

	for low := 0; low <= 3; low++ {
		for weak := 0; weak <= 3; weak++ {
			for _, drop := range []bool{false, true} {
				for missing := 0; missing <= 4; missing++ {
					profile := NewProfile()
					profile.LowAttendance = make([]AttendanceRisk, low)
					profile.WeakSubjects = make([]WeakSubject, weak)
					profile.CGPADrop = drop
					profile.MissingAssignments = make([]MissingWork, missing)

					score := 2*low + 3*weak + missing
					if drop {
						score += 5
					}
					require.Equal(t, score, p.Score(profile))

					want := LevelLow
					if score >= 10 {
						want = LevelHigh
					} else if score >= 5 {
						want = LevelMedium
					}
					assert.Equal(t, want, p.Classify(score), "score=%d", score)
				}
			}
		}
	}
}

func TestProfile_SubCheckPanicIsContained(t *testing.T) {
	p := newTestProfiler()
	var calls []string

	p.guard("boom", func() {
		calls = append(calls, "boom")
		panic("bad data")
	})
	p.guard("ok", func() {
		calls = append(calls, "ok")
	})

	assert.Equal(t, []string{"boom", "ok"}, calls)
}

func TestNeedsImmediateIntervention(t *testing.T) {
	profile := NewProfile()
	assert.False(t, profile.NeedsImmediateIntervention())

	profile.LowAttendance = []AttendanceRisk{{Percentage: 64}}
	assert.True(t, profile.NeedsImmediateIntervention())

	profile = NewProfile()
	profile.WeakSubjects = []WeakSubject{{Percentage: 34}}
	assert.True(t, profile.NeedsImmediateIntervention())

	profile = NewProfile()
	profile.OverallRisk = LevelHigh
	assert.True(t, profile.NeedsImmediateIntervention())
}
