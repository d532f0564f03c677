package planner

import (
	"fmt"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/pkg/timeutil"
)

// Fallback plan lengths.
const (
	FallbackDaysHighRisk = 14
	FallbackDaysDefault  = 7
)

// fallbackConfidence marks template plans as low confidence.
const fallbackConfidence = 0.3

// templateDay is the fixed daily schedule used when generation fails.
var templateDay = []suggestion.Task{
	{Time: "09:00", Description: "Review previous concepts", DurationMinutes: 30, ResourceURL: "https://www.youtube.com"},
	{Time: "09:45", Description: "Practice problems", DurationMinutes: 60, ResourceURL: "https://www.leetcode.com"},
	{Time: "11:00", Description: "Break", DurationMinutes: 15},
	{Time: "11:15", Description: "Learn new topic", DurationMinutes: 60, ResourceURL: "https://www.youtube.com"},
	{Time: "12:30", Description: "Lunch break", DurationMinutes: 30},
	{Time: "13:00", Description: "Quiz/Assessment", DurationMinutes: 45},
	{Time: "14:00", Description: "Review and notes", DurationMinutes: 30},
}

var templateResources = []suggestion.Resource{
	{Title: "YouTube Tutorials", URL: "https://www.youtube.com", Type: suggestion.ResourceVideo},
	{Title: "LeetCode Practice", URL: "https://www.leetcode.com", Type: suggestion.ResourcePractice},
	{Title: "GeeksforGeeks", URL: "https://www.geeksforgeeks.org", Type: suggestion.ResourceArticle},
}

var templateMentorActions = []string{
	"Review progress weekly",
	"Provide feedback on assignments",
	"Clarify doubts in weekly sessions",
}

// FallbackLength returns the plan length used for a template plan.
func FallbackLength(profile risk.Profile) int {
	if profile.IsHigh() {
		return FallbackDaysHighRisk
	}
	return FallbackDaysDefault
}

// TemplateDay returns a fresh copy of the fixed daily schedule for the given day number.
// Subject-specific revision and attendance reminders are folded into the generic slots.
func TemplateDay(n int, date time.Time, profile risk.Profile) suggestion.Day {
	tasks := make([]suggestion.Task, len(templateDay))
	copy(tasks, templateDay)

	if len(profile.WeakSubjects) > 0 {
		weak := profile.WeakSubjects[(n-1)%len(profile.WeakSubjects)]
		tasks[0].Description = fmt.Sprintf("Review previous concepts: %s", weak.Subject)
	}
	if len(profile.LowAttendance) > 0 {
		tasks[len(tasks)-1].Description = "Review and notes; attend every scheduled class tomorrow"
	}

	return suggestion.Day{Day: n, Date: date, Tasks: tasks}
}

// Fallback synthesizes a plan from fixed templates. It is deterministic for
// a given profile and date.
func Fallback(profile risk.Profile, today time.Time) suggestion.Plan {
	length := FallbackLength(profile)
	start := timeutil.StartOfDay(today)

	plan := suggestion.Plan{
		Insights:      fallbackInsights(profile),
		PlanLength:    length,
		Days:          make([]suggestion.Day, 0, length),
		MicroSupport:  []suggestion.MicroSupport{},
		Resources:     append([]suggestion.Resource(nil), templateResources...),
		MentorActions: append([]string(nil), templateMentorActions...),
		Confidence:    fallbackConfidence,
	}
	for i := 0; i < length; i++ {
		plan.Days = append(plan.Days, TemplateDay(i+1, start.AddDate(0, 0, i), profile))
	}
	return plan
}

func fallbackInsights(profile risk.Profile) []suggestion.Insight {
	insights := []suggestion.Insight{
		{Title: "Study Focus", Detail: "Focus on core concepts and fundamentals", Severity: suggestion.SeverityMedium},
		{Title: "Practice", Detail: "Daily practice is essential for mastery", Severity: suggestion.SeverityHigh},
	}
	for _, a := range profile.UrgentActions {
		if len(insights) >= maxInsights {
			break
		}
		insights = append(insights, suggestion.Insight{Title: "Action Needed", Detail: a, Severity: suggestion.SeverityHigh})
	}
	return insights
}
