package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/mentorlink/study-agent/internal/domain/suggestion"
	"github.com/mentorlink/study-agent/pkg/validate"
)

// ErrUnparseable is returned when no strategy yields a JSON object.
var ErrUnparseable = errors.New("failed to parse JSON from model response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ═══════════════════════════════════════════════════════════════════════════
// Wire format
// ═══════════════════════════════════════════════════════════════════════════

// planResponse is the model's answer as it arrives. Numbers are floats and
// dates are strings because models rarely honour exact types.
type planResponse struct {
	Insights      []insightResponse      `json:"insights" validate:"dive"`
	PlanLength    float64                `json:"planLength"`
	Plan          []dayResponse          `json:"plan" validate:"required,min=1,dive"`
	MicroSupport  []microSupportResponse `json:"microSupport" validate:"dive"`
	Resources     []resourceResponse     `json:"resources" validate:"dive"`
	MentorActions []string               `json:"mentorActions"`
	Confidence    float64                `json:"confidence"`
}

type insightResponse struct {
	Title    string `json:"title" validate:"required"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

type dayResponse struct {
	Day   float64        `json:"day"`
	Date  string         `json:"date"`
	Tasks []taskResponse `json:"tasks" validate:"dive"`
}

type taskResponse struct {
	Time            string  `json:"time"`
	Task            string  `json:"task" validate:"required"`
	DurationMinutes float64 `json:"durationMinutes"`
	Resource        string  `json:"resource"`
	ResourceURL     string  `json:"resourceUrl"`
}

type microSupportResponse struct {
	Title            string  `json:"title" validate:"required"`
	Summary          string  `json:"summary"`
	EstimatedMinutes float64 `json:"estimatedMinutes"`
	ResourceURL      string  `json:"resourceUrl"`
	ExampleProblem   string  `json:"exampleProblem"`
}

type resourceResponse struct {
	Title string `json:"title"`
	URL   string `json:"url" validate:"required"`
	Type  string `json:"type"`
}

// ═══════════════════════════════════════════════════════════════════════════
// Parsing
// ═══════════════════════════════════════════════════════════════════════════

// ExtractJSON finds a JSON object in raw model output. It tries the whole
// text, then a fenced code block, then the outermost {...} span.
func ExtractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)

	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	return nil, ErrUnparseable
}

// ParsePlan extracts, decodes and validates a model response. The result
// still needs Repair before it is usable.
func ParsePlan(text string) (suggestion.Plan, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return suggestion.Plan{}, err
	}

	var resp planResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return suggestion.Plan{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := validate.Struct(&resp); err != nil {
		return suggestion.Plan{}, fmt.Errorf("model response failed validation: %w", err)
	}

	return resp.toPlan(), nil
}

func (r planResponse) toPlan() suggestion.Plan {
	plan := suggestion.Plan{
		PlanLength:    int(r.PlanLength),
		Insights:      make([]suggestion.Insight, 0, len(r.Insights)),
		Days:          make([]suggestion.Day, 0, len(r.Plan)),
		MicroSupport:  make([]suggestion.MicroSupport, 0, len(r.MicroSupport)),
		Resources:     make([]suggestion.Resource, 0, len(r.Resources)),
		MentorActions: make([]string, 0, len(r.MentorActions)),
		Confidence:    r.Confidence,
	}

	for _, in := range r.Insights {
		sev := suggestion.Severity(strings.ToLower(in.Severity))
		if !sev.IsValid() {
			sev = suggestion.SeverityMedium
		}
		plan.Insights = append(plan.Insights, suggestion.Insight{Title: in.Title, Detail: in.Detail, Severity: sev})
	}

	for i, d := range r.Plan {
		day := suggestion.Day{Day: i + 1, Tasks: make([]suggestion.Task, 0, len(d.Tasks))}
		for _, t := range d.Tasks {
			url := t.ResourceURL
			if url == "" && looksLikeURL(t.Resource) {
				url = t.Resource
			}
			day.Tasks = append(day.Tasks, suggestion.Task{
				Time:            t.Time,
				Description:     t.Task,
				DurationMinutes: int(math.Round(t.DurationMinutes)),
				Resource:        t.Resource,
				ResourceURL:     url,
			})
		}
		plan.Days = append(plan.Days, day)
	}

	for _, m := range r.MicroSupport {
		plan.MicroSupport = append(plan.MicroSupport, suggestion.MicroSupport{
			Title:            m.Title,
			Summary:          m.Summary,
			EstimatedMinutes: int(math.Round(m.EstimatedMinutes)),
			ResourceURL:      m.ResourceURL,
			ExampleProblem:   m.ExampleProblem,
		})
	}

	for _, res := range r.Resources {
		typ := suggestion.ResourceType(strings.ToLower(res.Type))
		if !typ.IsValid() {
			typ = suggestion.ResourceOther
		}
		title := res.Title
		if title == "" {
			title = res.URL
		}
		plan.Resources = append(plan.Resources, suggestion.Resource{Title: title, URL: res.URL, Type: typ})
	}

	for _, a := range r.MentorActions {
		if a = strings.TrimSpace(a); a != "" {
			plan.MentorActions = append(plan.MentorActions, a)
		}
	}

	return plan
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
