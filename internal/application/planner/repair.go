package planner

import (
	"time"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/pkg/timeutil"
)

const (
	minTask     = suggestion.MinTaskMinutes
	maxTask     = suggestion.MaxTaskMinutes
	maxInsights = 5
)

// Repair normalizes a candidate plan in place of trusting the model:
//   - nil collections become empty
//   - each task duration is clamped to [15, 180]
//   - tasks past the daily budget are dropped (the first task of a day always stays)
//   - the day count is normalized to the nearest of 7/14/28 by padding with
//     template days or truncating
//   - days are renumbered and dated contiguously from today
//   - confidence is clamped to [0, 1]
func Repair(plan suggestion.Plan, profile risk.Profile, today time.Time, dailyBudget int) suggestion.Plan {
	start := timeutil.StartOfDay(today)

	if plan.Insights == nil {
		plan.Insights = []suggestion.Insight{}
	}
	if len(plan.Insights) > maxInsights {
		plan.Insights = plan.Insights[:maxInsights]
	}
	if plan.MicroSupport == nil {
		plan.MicroSupport = []suggestion.MicroSupport{}
	}
	if plan.Resources == nil {
		plan.Resources = []suggestion.Resource{}
	}
	if plan.MentorActions == nil {
		plan.MentorActions = []string{}
	}

	length := suggestion.NearestPlanLength(len(plan.Days))
	days := make([]suggestion.Day, 0, length)
	for i := 0; i < length; i++ {
		date := start.AddDate(0, 0, i)
		if i < len(plan.Days) {
			day := plan.Days[i]
			day.Day = i + 1
			day.Date = date
			day.Tasks = repairTasks(day.Tasks, dailyBudget)
			if len(day.Tasks) == 0 {
				day.Tasks = TemplateDay(i+1, date, profile).Tasks
			}
			days = append(days, day)
			continue
		}
		days = append(days, TemplateDay(i+1, date, profile))
	}
	plan.Days = days
	plan.PlanLength = len(days)

	switch {
	case plan.Confidence < 0:
		plan.Confidence = 0
	case plan.Confidence > 1:
		plan.Confidence = 1
	}

	return plan
}

func repairTasks(tasks []suggestion.Task, dailyBudget int) []suggestion.Task {
	out := make([]suggestion.Task, 0, len(tasks))
	total := 0
	for _, t := range tasks {
		t.DurationMinutes = ClampDuration(t.DurationMinutes)
		if dailyBudget > 0 && len(out) > 0 && total+t.DurationMinutes > dailyBudget {
			break
		}
		total += t.DurationMinutes
		out = append(out, t)
	}
	return out
}

// ClampDuration bounds a task duration to the allowed range.
func ClampDuration(minutes int) int {
	if minutes < minTask {
		return minTask
	}
	if minutes > maxTask {
		return maxTask
	}
	return minutes
}
