// Package risk derives a per-student academic risk profile from a snapshot.
//
// The profiler is a pure function of the snapshot and its configuration.
// Profiles are never stored on their own; they travel embedded in the
// suggestion that was generated from them.
package risk

// Level is the aggregate risk classification.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// IsValid checks if the level is one of the known values.
func (l Level) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// String returns the string representation of the level.
func (l Level) String() string {
	return string(l)
}

// Trend describes how IA scores moved between the first and last assessment.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Risk factor labels attached to a profile.
const (
	FactorLowAttendance   = "Low Attendance"
	FactorWeakPerformance = "Weak Academic Performance"
	FactorCGPADecline     = "CGPA Decline"
	FactorIncompleteWork  = "Incomplete Assignments"
)

// Statuses carried by MissingWork.
const (
	StatusNotSubmitted = "not_submitted"
	StatusPending      = "pending"
)

// AttendanceRisk is a subject below the attendance threshold.
type AttendanceRisk struct {
	Subject         string `json:"subject"`
	Percentage      int    `json:"percentage"`
	Attended        int    `json:"attended"`
	Total           int    `json:"total"`
	Deficit         int    `json:"deficit"`
	RequiredClasses int    `json:"requiredClasses"`
}

// WeakSubject is a subject whose IA average is below threshold.
type WeakSubject struct {
	Subject    string    `json:"subject"`
	IAAverage  float64   `json:"iaAverage"`
	MaxMarks   float64   `json:"maxMarks"`
	Percentage int       `json:"percentage"`
	Deficit    float64   `json:"deficit"`
	Scores     []float64 `json:"scores"`
	Trend      Trend     `json:"trend"`
}

// MissingWork is an assessment or assignment that was not submitted.
type MissingWork struct {
	Subject string `json:"subject"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// Profile is the derived summary of academic warning signals.
// All slice fields are non-nil so the serialized form always carries them.
type Profile struct {
	LowAttendance      []AttendanceRisk `json:"lowAttendance"`
	WeakSubjects       []WeakSubject    `json:"weakSubjects"`
	CGPADrop           bool             `json:"cgpaDrop"`
	MissingAssignments []MissingWork    `json:"missingAssignments"`
	OverallRisk        Level            `json:"overallRisk"`
	RiskFactors        []string         `json:"riskFactors"`
	UrgentActions      []string         `json:"urgentActions"`
	Score              int              `json:"score"`
}

// NewProfile returns an empty low-risk profile.
func NewProfile() Profile {
	return Profile{
		LowAttendance:      []AttendanceRisk{},
		WeakSubjects:       []WeakSubject{},
		MissingAssignments: []MissingWork{},
		OverallRisk:        LevelLow,
		RiskFactors:        []string{},
		UrgentActions:      []string{},
	}
}

// HasLowAttendance reports whether any subject is under the attendance threshold.
func (p Profile) HasLowAttendance() bool {
	return len(p.LowAttendance) > 0
}

// HasWeakSubjects reports whether any subject is flagged weak.
func (p Profile) HasWeakSubjects() bool {
	return len(p.WeakSubjects) > 0
}

// IsHigh reports whether the profile is classified as high risk.
func (p Profile) IsHigh() bool {
	return p.OverallRisk == LevelHigh
}

// NeedsMentorAttention reports whether a mentor should be told about this profile.
func (p Profile) NeedsMentorAttention() bool {
	return p.OverallRisk == LevelHigh || p.OverallRisk == LevelMedium
}

// NeedsImmediateIntervention reports whether the profile warrants escalation
// beyond a regular study plan.
func (p Profile) NeedsImmediateIntervention() bool {
	if p.OverallRisk == LevelHigh {
		return true
	}
	for _, a := range p.LowAttendance {
		if a.Percentage < 65 {
			return true
		}
	}
	for _, w := range p.WeakSubjects {
		if w.Percentage < 35 {
			return true
		}
	}
	return false
}
