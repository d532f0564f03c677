// Package alert delivers operator alerts about failed pipeline jobs.
//
// Sentry is the production sink; LogAlerter is used when no DSN is
// configured and Fanout combines several sinks.
package alert

import (
	"context"
	"log/slog"

	"github.com/mentorlink/study-agent/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG ALERTER
// ══════════════════════════════════════════════════════════════════════════════

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

var _ notification.Alerter = (*LogAlerter)(nil)

// Alert implements notification.Alerter.
func (l *LogAlerter) Alert(ctx context.Context, a notification.Alert) {
	l.logger.ErrorContext(ctx, "pipeline job failed",
		"job_id", a.JobID,
		"user_id", a.UserID,
		"job_type", a.JobType,
		"stage", a.Stage,
		"error", a.Err,
		"stack", a.Stack,
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// FANOUT
// ══════════════════════════════════════════════════════════════════════════════

// Fanout sends every alert to each of its sinks in order.
type Fanout []notification.Alerter

var _ notification.Alerter = Fanout(nil)

// Alert implements notification.Alerter.
func (f Fanout) Alert(ctx context.Context, a notification.Alert) {
	for _, sink := range f {
		if sink != nil {
			sink.Alert(ctx, a)
		}
	}
}
