package app

import (
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/infrastructure/scheduler"
)

// Operations is the runtime view of the background components, served to
// staff on the operations endpoint.
type Operations struct {
	Scheduler SchedulerStatus `json:"scheduler"`
	EventBus  *EventBusStatus `json:"eventBus,omitempty"`
}

// SchedulerStatus describes the registered jobs and their recent runs.
type SchedulerStatus struct {
	Running bool           `json:"running"`
	Jobs    []ScheduledJob `json:"jobs"`
	Totals  RunTotals      `json:"totals"`
	History []JobRun       `json:"history"`
}

// ScheduledJob is one registered cron entry.
type ScheduledJob struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Enabled     bool       `json:"enabled"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	RunCount    int64      `json:"runCount"`
	FailCount   int64      `json:"failCount"`
}

// RunTotals aggregates every run since the process started.
type RunTotals struct {
	Executions        int64   `json:"executions"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	SuccessRate       float64 `json:"successRate"`
	AverageDurationMs int64   `json:"averageDurationMs"`
}

// JobRun is one finished scheduler run.
type JobRun struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Manual     bool      `json:"manual"`
	Error      string    `json:"error,omitempty"`
}

// EventBusStatus counts in-process event traffic.
type EventBusStatus struct {
	Published             map[shared.EventType]int64 `json:"published"`
	HandlerExecutions     int64                      `json:"handlerExecutions"`
	HandlerFailures       int64                      `json:"handlerFailures"`
	AverageHandlerLatency string                     `json:"averageHandlerLatency"`
}

// Operations reports scheduler and event bus state with at most
// historyLimit recent runs.
func (a *App) Operations(historyLimit int) Operations {
	var ops Operations

	if a.Scheduler != nil {
		ops.Scheduler = SchedulerStatus{
			Running: a.Scheduler.IsRunning(),
			Jobs:    scheduledJobs(a.Scheduler.ListJobs()),
			History: jobRuns(a.Scheduler.GetHistory(historyLimit)),
		}
		if m := a.Scheduler.GetMetrics(); m != nil {
			snap := m.Snapshot()
			ops.Scheduler.Totals = RunTotals{
				Executions:        snap.TotalExecutions,
				Successes:         snap.TotalSuccesses,
				Failures:          snap.TotalFailures,
				SuccessRate:       snap.SuccessRate,
				AverageDurationMs: snap.AverageDuration.Milliseconds(),
			}
		}
	}

	if a.Bus != nil {
		if m := a.Bus.Metrics(); m != nil {
			snap := m.Snapshot()
			ops.EventBus = &EventBusStatus{
				Published:             snap.Published,
				HandlerExecutions:     snap.TotalHandlerExecs,
				HandlerFailures:       snap.HandlerFailures,
				AverageHandlerLatency: snap.AverageHandlerTime.String(),
			}
		}
	}
	return ops
}

func scheduledJobs(infos []scheduler.JobInfo) []ScheduledJob {
	out := make([]ScheduledJob, 0, len(infos))
	for _, info := range infos {
		out = append(out, ScheduledJob{
			Name:        info.Name,
			Description: info.Description,
			Schedule:    info.Schedule,
			Enabled:     info.Enabled,
			NextRun:     optionalTime(info.NextRun),
			LastRun:     optionalTime(info.LastRun),
			RunCount:    info.RunCount,
			FailCount:   info.FailCount,
		})
	}
	return out
}

func jobRuns(results []scheduler.JobResult) []JobRun {
	out := make([]JobRun, 0, len(results))
	for _, r := range results {
		run := JobRun{
			Job:        r.JobName,
			StartedAt:  r.StartedAt,
			DurationMs: r.Duration.Milliseconds(),
			Success:    r.Success,
			Manual:     r.Manual,
		}
		if r.Error != nil {
			run.Error = r.Error.Error()
		}
		out = append(out, run)
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
