package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const promptTemplate = `You are an empathetic academic coach. Input: %s. Output only JSON. Analyze the student's attendance, IA marks, grade history, risk profile and pending work. Produce:
1) "insights": up to 5 prioritized observations {title, detail, severity: low|medium|high}.
2) "planLength": choose 7|14|28 days.
3) "plan": array of days [{day:1, date, tasks:[{time:'09:00', task:'Revise topic X', durationMinutes:60, resource:'text', resourceUrl:'url'}]}].
4) "microSupport": array of short learning units {title, summary, estimatedMinutes, resourceUrl, exampleProblem}.
5) "resources": free learning resources {title, url, type: video|article|course|notes|practice|other}, at least 2 per subject in the plan.
6) "mentorActions": short bullet suggestions for the mentor (meeting, exercise, encouragement).
7) "confidence": numeric 0-1.
Rules:
- No more than %d minutes of tasks per day; every task between %d and %d minutes.
- Include a break after every 90 minutes of study.
%s- Return only JSON.`

// StrictJSONPrefix is prepended to the prompt on retries.
const StrictJSONPrefix = "Your previous response was not valid JSON. Please respond ONLY with valid JSON matching the exact schema required. No markdown, no code blocks, no explanations - just pure JSON."

// BuildPrompt renders the deterministic prompt for an input.
func BuildPrompt(in Input, dailyBudgetMinutes int) (string, error) {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal planner input: %w", err)
	}

	var rules strings.Builder
	if len(in.RiskProfile.LowAttendance) > 0 {
		subjects := make([]string, 0, len(in.RiskProfile.LowAttendance))
		for _, a := range in.RiskProfile.LowAttendance {
			subjects = append(subjects, a.Subject)
		}
		fmt.Fprintf(&rules, "- Add a daily attendance reminder task for: %s.\n", strings.Join(subjects, ", "))
	}
	if len(in.RiskProfile.WeakSubjects) > 0 {
		subjects := make([]string, 0, len(in.RiskProfile.WeakSubjects))
		for _, w := range in.RiskProfile.WeakSubjects {
			subjects = append(subjects, w.Subject)
		}
		fmt.Fprintf(&rules, "- Add topic revision tasks for weak subjects: %s.\n", strings.Join(subjects, ", "))
	}
	if len(in.RiskProfile.MissingAssignments) > 0 {
		rules.WriteString("- Schedule time to complete the missing assessments and assignments first.\n")
	}

	return fmt.Sprintf(promptTemplate, string(data), dailyBudgetMinutes, minTask, maxTask, rules.String()), nil
}

// RetryPrompt is the prompt sent on attempts after the first.
func RetryPrompt(prompt string) string {
	return StrictJSONPrefix + "\n\n" + prompt
}

// Hash returns the first 16 hex characters of the SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
