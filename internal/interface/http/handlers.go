package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mentorlink/study-agent/internal/application/command"
	"github.com/mentorlink/study-agent/internal/application/query"
	"github.com/mentorlink/study-agent/internal/application/trigger"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/interface/http/handlers"
	"github.com/mentorlink/study-agent/pkg/logger"
	"github.com/mentorlink/study-agent/pkg/validate"
)

// HintForceTrigger tells staff how to bypass the duplicate window.
const HintForceTrigger = "Set force:true to override rate limit"

// HintRequestTomorrow accompanies a refused student request.
const HintRequestTomorrow = "Try again tomorrow or ask your mentor"

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness check endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil && !s.deps.HealthChecker.Check(r.Context()).Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "Service is not ready")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness check endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// AGENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// TriggerRequest is the body of POST /api/v1/agent/trigger.
type TriggerRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
	Type   string `json:"type" validate:"omitempty,oneof=mentor_agent career_planner adhoc"`
	Force  bool   `json:"force"`
}

// TriggerResponse is returned when a job is queued.
type TriggerResponse struct {
	JobID  string     `json:"jobId"`
	UserID string     `json:"userId"`
	Type   job.Type   `json:"type"`
	Status job.Status `json:"status"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireStaff(w, r)
	if !ok {
		return
	}

	var req TriggerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.deps.Triggers.Manual(r.Context(), trigger.ManualRequest{
		UserID:      req.UserID,
		Type:        job.Type(req.Type),
		Force:       req.Force,
		RequestedBy: actor.ID,
	})
	if shared.IsRateLimited(err) {
		writeAPIError(w, r, http.StatusTooManyRequests, &APIError{
			Code:    "rate_limited",
			Message: "Rate limit exceeded. A recent job exists for this user within the duplicate window.",
			Hint:    HintForceTrigger,
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, TriggerResponse{
		JobID:  rec.ID,
		UserID: rec.UserID,
		Type:   rec.Type,
		Status: rec.Status,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.ActorFrom(r.Context())

	rec, err := s.deps.Jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Students only see their own jobs; anything else looks missing.
	if !actor.IsStaff() && rec.UserID != actor.ID {
		s.writeError(w, r, shared.ErrJobNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r, r.PathValue("userId"))
	if !ok {
		return
	}

	lookback := query.DefaultRecentWindow
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 || n > 90 {
			s.writeError(w, r, fmt.Errorf("%w: days must be 1-90", shared.ErrValueOutOfRange))
			return
		}
		lookback = time.Duration(n) * 24 * time.Hour
	}

	recs, err := s.deps.Jobs.Recent(r.Context(), userID, lookback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// PlanRequest is the optional body of POST /api/v1/agent/request-plan.
// Staff may request on behalf of a student.
type PlanRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=64"`
}

func (s *Server) handleRequestPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	userID, ok := s.resolveUser(w, r, req.UserID)
	if !ok {
		return
	}

	if s.deps.Features != nil && !s.deps.Features.StudentRequestsAllowed(userID) {
		writeAPIError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:    "feature_disabled",
			Message: "Plan requests are not available right now",
		})
		return
	}

	res := s.deps.Triggers.StudentRequest(r.Context(), userID)
	switch {
	case res.Accepted:
		writeJSON(w, r, http.StatusAccepted, res)
	case res.Message == trigger.MessageOncePerDay:
		writeAPIError(w, r, http.StatusTooManyRequests, &APIError{
			Code:    "once_per_day",
			Message: res.Message,
			Hint:    HintRequestTomorrow,
		})
	default:
		writeAPIError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:    "unavailable",
			Message: res.Message,
		})
	}
}

// handleMetrics accepts from/to as RFC 3339 timestamps, or days as a
// shorthand for the window ending now.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireStaff(w, r); !ok {
		return
	}

	var (
		mq  query.MetricsQuery
		err error
		q   = r.URL.Query()
	)
	if v := q.Get("from"); v != "" {
		if mq.From, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: from must be RFC 3339", shared.ErrInvalidInput))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if mq.To, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: to must be RFC 3339", shared.ErrInvalidInput))
			return
		}
	}
	if v := q.Get("days"); v != "" && mq.From.IsZero() {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, fmt.Errorf("%w: days must be a positive integer", shared.ErrInvalidInput))
			return
		}
		to := mq.To
		if to.IsZero() {
			to = s.now()
		}
		mq.To, mq.From = to, to.Add(-time.Duration(n)*24*time.Hour)
	}
	if !mq.From.IsZero() && !mq.To.IsZero() && !mq.From.Before(mq.To) {
		s.writeError(w, r, fmt.Errorf("%w: from must be before to", shared.ErrInvalidInput))
		return
	}

	res, err := s.deps.Jobs.Metrics(r.Context(), mq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// defaultOperationsHistory bounds the run history served when no limit is given.
const defaultOperationsHistory = 20

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireStaff(w, r); !ok {
		return
	}
	if s.deps.Operations == nil {
		s.writeError(w, r, fmt.Errorf("%w: operations view not configured", shared.ErrServiceUnavailable))
		return
	}

	limit := defaultOperationsHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be 1-200", shared.ErrValueOutOfRange))
			return
		}
		limit = n
	}
	writeJSON(w, r, http.StatusOK, s.deps.Operations(limit))
}

// ══════════════════════════════════════════════════════════════════════════════
// SUGGESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleActiveSuggestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	view, err := s.deps.Suggestions.Active(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleTodayTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	view, err := s.deps.Suggestions.Today(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.ActorFrom(r.Context())
	sug, err := s.deps.Commands.Accept(r.Context(), command.AcceptCommand{
		SuggestionID: r.PathValue("id"),
		Actor:        actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sug)
}

// ReviewRequest is the body of POST /api/v1/suggestions/{id}/review.
type ReviewRequest struct {
	Approved *bool  `json:"approved"`
	Notes    string `json:"notes" validate:"max=2000"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.ActorFrom(r.Context())

	var req ReviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sug, err := s.deps.Commands.Review(r.Context(), command.ReviewCommand{
		SuggestionID: r.PathValue("id"),
		Actor:        actor,
		Notes:        req.Notes,
		Approved:     req.Approved,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sug)
}

// DismissRequest is the body of POST /api/v1/suggestions/{id}/dismiss.
type DismissRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.ActorFrom(r.Context())

	var req DismissRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sug, err := s.deps.Commands.Dismiss(r.Context(), command.DismissCommand{
		SuggestionID: r.PathValue("id"),
		Actor:        actor,
		Reason:       req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sug)
}

// CompleteTaskRequest is the body of POST /api/v1/suggestions/{id}/tasks/complete.
type CompleteTaskRequest struct {
	Day       int `json:"day" validate:"gte=1"`
	TaskIndex int `json:"taskIndex" validate:"gte=0"`
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := handlers.ActorFrom(r.Context())

	var req CompleteTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Commands.CompleteTask(r.Context(), command.CompleteTaskCommand{
		SuggestionID: r.PathValue("id"),
		Actor:        actor,
		Day:          req.Day,
		TaskIndex:    req.TaskIndex,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"suggestion": res.Suggestion,
		"progress":   res.Progress,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// requireStaff rejects non-staff actors with 403.
func (s *Server) requireStaff(w http.ResponseWriter, r *http.Request) (command.Actor, bool) {
	actor, ok := handlers.ActorFrom(r.Context())
	if !ok {
		s.writeError(w, r, shared.ErrUnauthorized)
		return command.Actor{}, false
	}
	if !actor.IsStaff() {
		s.writeError(w, r, fmt.Errorf("%w: mentor or admin role required", shared.ErrForbidden))
		return command.Actor{}, false
	}
	return actor, true
}

// resolveUser picks the subject user of a request. Students act on
// themselves; staff name the user explicitly.
func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	actor, ok := handlers.ActorFrom(r.Context())
	if !ok {
		s.writeError(w, r, shared.ErrUnauthorized)
		return "", false
	}
	switch {
	case requested == "" && actor.ID != handlers.ServiceActorID:
		return actor.ID, true
	case requested == "":
		s.writeError(w, r, fmt.Errorf("%w: userId is required", shared.ErrInvalidInput))
		return "", false
	case requested == actor.ID || actor.IsStaff():
		return requested, true
	default:
		s.writeError(w, r, fmt.Errorf("%w: cannot act for another student", shared.ErrForbidden))
		return "", false
	}
}

// decodeBody parses a JSON body into dst and validates it.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", shared.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON: %v", shared.ErrInvalidInput, err)
	}
	return validate.Struct(dst)
}

// writeError maps an error to a status code and writes it. Server-side
// failures are logged; their details are not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	apiErr := &APIError{Code: code, Message: err.Error()}

	var fields validate.Errors
	if errors.As(err, &fields) {
		apiErr.Message = "Request validation failed"
		apiErr.Fields = fields
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			logger.Err(err),
		)
		apiErr.Message = http.StatusText(status)
	}
	writeAPIError(w, r, status, apiErr)
}

// statusFor maps the domain error taxonomy to HTTP.
func statusFor(err error) (int, string) {
	var fields validate.Errors
	switch {
	case errors.As(err, &fields), shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsRateLimited(err):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrStateTransition),
		shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
