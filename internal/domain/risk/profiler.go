package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/mentorlink/study-agent/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Weights are the per-flag contributions to the aggregate risk score.
type Weights struct {
	LowAttendance     int
	WeakSubject       int
	CGPADrop          int
	MissingAssignment int
}

// DefaultWeights returns the empirically tuned weights used in production.
func DefaultWeights() Weights {
	return Weights{
		LowAttendance:     2,
		WeakSubject:       3,
		CGPADrop:          5,
		MissingAssignment: 1,
	}
}

// Config contains thresholds for the individual sub-checks.
type Config struct {
	Weights Weights

	// AttendanceThreshold is the minimum acceptable attendance percentage.
	AttendanceThreshold int

	// RequiredClassesCap bounds the "classes needed" simulation.
	RequiredClassesCap int

	// IAThreshold is the minimum acceptable IA average (out of 30).
	IAThreshold float64

	// PercentageThreshold is the minimum acceptable IA percentage.
	PercentageThreshold int

	// TrendDeadband is the score delta under which a trend is stable.
	TrendDeadband float64

	// CGPADropThreshold is the SGPA drop (inclusive) that raises the flag.
	CGPADropThreshold float64

	// HighScore and MediumScore are the lower bounds of each level.
	HighScore   int
	MediumScore int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		AttendanceThreshold: 75,
		RequiredClassesCap:  100,
		IAThreshold:         15,
		PercentageThreshold: 50,
		TrendDeadband:       2,
		CGPADropThreshold:   0.4,
		HighScore:           10,
		MediumScore:         5,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILER
// ══════════════════════════════════════════════════════════════════════════════

// Profiler turns a student snapshot into a risk profile. It never panics:
// each sub-check runs isolated and a failing check contributes no flags.
type Profiler struct {
	config Config
	logger *slog.Logger
}

// Option configures the Profiler.
type Option func(*Profiler)

// WithLogger sets the logger used to report failing sub-checks.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProfiler creates a new Profiler.
func NewProfiler(config Config, opts ...Option) *Profiler {
	if config.RequiredClassesCap <= 0 {
		config.RequiredClassesCap = 100
	}
	p := &Profiler{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile computes the risk profile of a snapshot. A nil snapshot yields an empty low-risk profile.
func (p *Profiler) Profile(s *student.Snapshot) Profile {
	profile := NewProfile()
	if s == nil {
		return profile
	}

	p.guard("attendance", func() {
		profile.LowAttendance = p.lowAttendance(s.Attendance)
	})
	p.guard("weak_subjects", func() {
		profile.WeakSubjects = p.weakSubjects(s.Assessments)
	})
	p.guard("cgpa_drop", func() {
		profile.CGPADrop = p.cgpaDrop(s.Semesters)
	})
	p.guard("missing_work", func() {
		profile.MissingAssignments = p.missingWork(s.Assessments, s.Assignments)
	})

	if len(profile.LowAttendance) > 0 {
		profile.RiskFactors = append(profile.RiskFactors, FactorLowAttendance)
	}
	if len(profile.WeakSubjects) > 0 {
		profile.RiskFactors = append(profile.RiskFactors, FactorWeakPerformance)
	}
	if profile.CGPADrop {
		profile.RiskFactors = append(profile.RiskFactors, FactorCGPADecline)
	}
	if len(profile.MissingAssignments) > 0 {
		profile.RiskFactors = append(profile.RiskFactors, FactorIncompleteWork)
	}

	profile.Score = p.Score(profile)
	profile.OverallRisk = p.Classify(profile.Score)
	profile.UrgentActions = urgentActions(profile)

	return profile
}

// Score computes the weighted aggregate of the flags in a profile.
func (p *Profiler) Score(profile Profile) int {
	w := p.config.Weights
	score := w.LowAttendance*len(profile.LowAttendance) +
		w.WeakSubject*len(profile.WeakSubjects) +
		w.MissingAssignment*len(profile.MissingAssignments)
	if profile.CGPADrop {
		score += w.CGPADrop
	}
	return score
}

// Classify maps a score onto a risk level.
func (p *Profiler) Classify(score int) Level {
	switch {
	case score >= p.config.HighScore:
		return LevelHigh
	case score >= p.config.MediumScore:
		return LevelMedium
	default:
		return LevelLow
	}
}

// guard runs a sub-check and swallows any panic so other checks still run.
func (p *Profiler) guard(check string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("risk sub-check failed", "check", check, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// ══════════════════════════════════════════════════════════════════════════════
// SUB-CHECKS
// ══════════════════════════════════════════════════════════════════════════════

func (p *Profiler) lowAttendance(records []student.SubjectAttendance) []AttendanceRisk {
	out := []AttendanceRisk{}
	for _, rec := range records {
		pct := AttendancePercent(rec.Attended, rec.Total)
		if pct >= p.config.AttendanceThreshold {
			continue
		}
		out = append(out, AttendanceRisk{
			Subject:         subjectName(rec.Subject),
			Percentage:      pct,
			Attended:        rec.Attended,
			Total:           rec.Total,
			Deficit:         p.config.AttendanceThreshold - pct,
			RequiredClasses: RequiredClasses(rec.Attended, rec.Total, p.config.AttendanceThreshold, p.config.RequiredClassesCap),
		})
	}
	return out
}

func (p *Profiler) weakSubjects(records []student.SubjectAssessments) []WeakSubject {
	out := []WeakSubject{}
	for _, rec := range records {
		scores := presentScores(rec.Scores)
		avg := IAAverage(scores)
		pct := percentOf(avg, student.AssessmentMaxScore)
		if avg >= p.config.IAThreshold && pct >= p.config.PercentageThreshold {
			continue
		}
		out = append(out, WeakSubject{
			Subject:    subjectName(rec.Subject),
			IAAverage:  avg,
			MaxMarks:   student.AssessmentMaxScore,
			Percentage: pct,
			Deficit:    round2(p.config.IAThreshold - avg),
			Scores:     scores,
			Trend:      ScoreTrend(scores, p.config.TrendDeadband),
		})
	}
	return out
}

func (p *Profiler) cgpaDrop(history []student.SemesterResult) bool {
	if len(history) < 2 {
		return false
	}
	sorted := make([]student.SemesterResult, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Semester < sorted[j].Semester
	})
	previous := sorted[len(sorted)-2].SGPA
	latest := sorted[len(sorted)-1].SGPA
	// Compare in hundredths so 8.5-8.1 is not lost to float error at the boundary.
	return math.Round((previous-latest)*100) >= math.Round(p.config.CGPADropThreshold*100)
}

func (p *Profiler) missingWork(assessments []student.SubjectAssessments, assignments []student.Assignment) []MissingWork {
	out := []MissingWork{}
	for _, rec := range assessments {
		name := subjectName(rec.Subject)
		for i, score := range rec.Scores {
			if i >= student.MaxAssessments {
				break
			}
			if score == nil || *score == 0 {
				out = append(out, MissingWork{
					Subject: name,
					Title:   fmt.Sprintf("IA%d - %s", i+1, name),
					Status:  StatusNotSubmitted,
				})
			}
		}
	}

	// Every unsubmitted assignment counts, whether or not it is due yet.
	for _, a := range assignments {
		if a.Completed {
			continue
		}
		title := a.Title
		if title == "" {
			title = "Assignment"
		}
		out = append(out, MissingWork{
			Subject: subjectName(a.Subject),
			Title:   title,
			Status:  StatusPending,
		})
	}
	return out
}

func urgentActions(profile Profile) []string {
	actions := []string{}

	if len(profile.LowAttendance) > 0 {
		actions = append(actions, "Attend all upcoming classes without fail")
		for _, a := range profile.LowAttendance {
			if a.Deficit > 10 {
				actions = append(actions, fmt.Sprintf("Priority: Improve %s attendance (currently %d%%)", a.Subject, a.Percentage))
			}
		}
	}

	for _, w := range profile.WeakSubjects {
		if w.Percentage < 40 {
			actions = append(actions, fmt.Sprintf("Urgent: Focus on %s - schedule daily 1-hour revision", w.Subject))
		}
	}

	if profile.CGPADrop {
		actions = append(actions,
			"Meet with mentor to discuss academic strategy",
			"Review study methods and time management",
		)
	}

	if n := len(profile.MissingAssignments); n > 0 {
		actions = append(actions, fmt.Sprintf("Complete %d pending assignments immediately", n))
	}

	return actions
}

// ══════════════════════════════════════════════════════════════════════════════
// ARITHMETIC HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// AttendancePercent returns the rounded attendance percentage; 100 when no classes were held.
func AttendancePercent(attended, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(attended) / float64(total) * 100))
}

// RequiredClasses simulates consecutive attended classes until the threshold is reached.
// The simulation is bounded by limit iterations and returns 0 when no classes were held.
func RequiredClasses(attended, total, threshold, limit int) int {
	if total <= 0 {
		return 0
	}
	n := 0
	present, held := attended, total
	for float64(present)/float64(held)*100 < float64(threshold) && n < limit {
		n++
		present++
		held++
	}
	return n
}

// IAAverage is the mean of the given scores rounded to two decimals; 0 for no scores.
func IAAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return round2(sum / float64(len(scores)))
}

// ScoreTrend compares the first and last scores against a deadband.
func ScoreTrend(scores []float64, deadband float64) Trend {
	if len(scores) < 2 {
		return TrendStable
	}
	diff := scores[len(scores)-1] - scores[0]
	switch {
	case diff > deadband:
		return TrendImproving
	case diff < -deadband:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func presentScores(scores []*float64) []float64 {
	out := make([]float64, 0, len(scores))
	for i, s := range scores {
		if i >= student.MaxAssessments {
			break
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func percentOf(value, max float64) int {
	if max == 0 {
		return 0
	}
	return int(math.Round(value / max * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func subjectName(name string) string {
	if name == "" {
		return "Unknown Subject"
	}
	return name
}
