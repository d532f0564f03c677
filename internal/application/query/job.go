package query

import (
	"context"
	"fmt"
	"time"

	"github.com/mentorlink/study-agent/internal/application/queue"
	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Metrics window bounds.
const (
	DefaultMetricsWindow = 7 * 24 * time.Hour
	MaxMetricsWindow     = 90 * 24 * time.Hour
	DefaultRecentWindow  = 7 * 24 * time.Hour
)

// JobQueries reads job records and the metrics view.
type JobQueries struct {
	queue *queue.Service
	now   func() time.Time
}

// NewJobQueries creates the query service. A nil clock means time.Now.
func NewJobQueries(q *queue.Service, now func() time.Time) *JobQueries {
	if now == nil {
		now = time.Now
	}
	return &JobQueries{queue: q, now: now}
}

// Status returns a job record by id.
func (q *JobQueries) Status(ctx context.Context, id string) (*job.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", shared.ErrInvalidInput)
	}
	return q.queue.Status(ctx, id)
}

// MetricsQuery selects the metrics window. Zero values default to the last
// seven days ending now.
type MetricsQuery struct {
	From time.Time
	To   time.Time
}

// MetricsResult is the metrics view for a window.
type MetricsResult struct {
	From time.Time        `json:"from"`
	To   time.Time        `json:"to"`
	Rows []job.MetricsRow `json:"rows"`

	Total     int     `json:"total"`
	Failed    int     `json:"failed"`
	Completed int     `json:"completed"`
	FailRate  float64 `json:"failRate"`
}

// Metrics aggregates job counts and durations grouped by type and status.
func (q *JobQueries) Metrics(ctx context.Context, mq MetricsQuery) (*MetricsResult, error) {
	to := mq.To
	if to.IsZero() {
		to = q.now()
	}
	from := mq.From
	if from.IsZero() {
		from = to.Add(-DefaultMetricsWindow)
	}
	if to.Sub(from) > MaxMetricsWindow {
		return nil, fmt.Errorf("%w: window longer than %s", shared.ErrValueOutOfRange, MaxMetricsWindow)
	}

	rows, err := q.queue.Metrics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	res := &MetricsResult{From: from, To: to, Rows: rows}
	for _, r := range rows {
		res.Total += r.Count
		switch r.Status {
		case job.StatusFailed:
			res.Failed += r.Count
		case job.StatusCompleted:
			res.Completed += r.Count
		}
	}
	if finished := res.Failed + res.Completed; finished > 0 {
		res.FailRate = float64(res.Failed) / float64(finished)
	}
	return res, nil
}

// Recent returns the user's jobs created within the lookback, newest first.
func (q *JobQueries) Recent(ctx context.Context, userID string, lookback time.Duration) ([]*job.Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if lookback <= 0 {
		lookback = DefaultRecentWindow
	}
	return q.queue.RecentForUser(ctx, userID, lookback)
}
