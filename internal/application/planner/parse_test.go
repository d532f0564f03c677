package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/risk"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"direct", `{"a":1}`, `{"a":1}`, true},
		{"fenced json", "text\n```json\n{\"a\":2}\n```\nmore", `{"a":2}`, true},
		{"fenced plain", "```\n{\"a\":3}\n```", `{"a":3}`, true},
		{"embedded", `The answer is {"a":{"b":4}} as requested.`, `{"a":{"b":4}}`, true},
		{"garbage", "no json here", "", false},
		{"broken", `{"a": }`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnparseable)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestParsePlan_RejectsEmptyPlan(t *testing.T) {
	_, err := ParsePlan(`{"insights":[],"plan":[]}`)
	assert.Error(t, err)

	_, err = ParsePlan(`{"plan":[{"day":1,"tasks":[{"time":"09:00","durationMinutes":30}]}]}`)
	assert.ErrorContains(t, err, "plan[0].tasks[0].task")
}

func TestParsePlan_NormalizesEnums(t *testing.T) {
	plan, err := ParsePlan(`{
		"insights":[{"title":"x","detail":"y","severity":"critical"}],
		"plan":[{"day":3,"tasks":[{"time":"09:00","task":"Read","durationMinutes":44.6}]}],
		"resources":[{"url":"https://example.org","type":"podcast"}],
		"mentorActions":["  ", "Call parent"]
	}`)
	require.NoError(t, err)

	assert.Equal(t, suggestion.SeverityMedium, plan.Insights[0].Severity)
	assert.Equal(t, 1, plan.Days[0].Day)
	assert.Equal(t, 45, plan.Days[0].Tasks[0].DurationMinutes)
	assert.Equal(t, suggestion.ResourceOther, plan.Resources[0].Type)
	assert.Equal(t, "https://example.org", plan.Resources[0].Title)
	assert.Equal(t, []string{"Call parent"}, plan.MentorActions)
}

func TestRepair_DailyBudgetAndEmptyDays(t *testing.T) {
	plan := suggestion.Plan{Days: []suggestion.Day{
		{Tasks: []suggestion.Task{
			{Description: "a", DurationMinutes: 180},
			{Description: "b", DurationMinutes: 100},
			{Description: "c", DurationMinutes: 60},
		}},
		{},
	}}

	out := Repair(plan, risk.NewProfile(), today, 300)
	require.Len(t, out.Days, 7)
	require.Len(t, out.Days[0].Tasks, 2)
	assert.Equal(t, "b", out.Days[0].Tasks[1].Description)
	assert.Equal(t, "Review previous concepts", out.Days[1].Tasks[0].Description)
	assert.Equal(t, []string{}, out.MentorActions)
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 15, ClampDuration(-3))
	assert.Equal(t, 15, ClampDuration(0))
	assert.Equal(t, 90, ClampDuration(90))
	assert.Equal(t, 180, ClampDuration(181))
}
