package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mentorlink/study-agent/internal/domain/notification"
)

// SentryConfig configures the Sentry client.
type SentryConfig struct {
	DSN          string
	ServerName   string
	Release      string
	Environment  string
	FlushTimeout time.Duration

	// BeforeSend is passed through to the client. Tests use it to capture events.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// DefaultSentryConfig returns sensible defaults.
func DefaultSentryConfig() SentryConfig {
	return SentryConfig{
		ServerName:   "study-agent",
		Environment:  "development",
		FlushTimeout: 2 * time.Second,
	}
}

// SentryAlerter reports alerts as Sentry exceptions tagged with the job.
type SentryAlerter struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewSentryAlerter creates a client from cfg. An empty DSN yields a client
// that drops every event.
func NewSentryAlerter(cfg SentryConfig, logger *slog.Logger) (*SentryAlerter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultSentryConfig().FlushTimeout
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		AttachStacktrace: true,
		ServerName:       cfg.ServerName,
		Release:          cfg.Release,
		Environment:      cfg.Environment,
		BeforeSend:       cfg.BeforeSend,
	})
	if err != nil {
		return nil, err
	}

	return &SentryAlerter{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		flushTimeout: cfg.FlushTimeout,
		logger:       logger,
	}, nil
}

var _ notification.Alerter = (*SentryAlerter)(nil)

// Alert implements notification.Alerter.
func (s *SentryAlerter) Alert(_ context.Context, a notification.Alert) {
	err := a.Err
	if err == nil {
		err = errors.New("job failed without an error")
	}

	var id *sentry.EventID
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("job_id", a.JobID)
		scope.SetTag("job_type", a.JobType)
		scope.SetTag("stage", a.Stage)
		scope.SetUser(sentry.User{ID: a.UserID})
		scope.SetContext("job", sentry.Context{
			"id":    a.JobID,
			"user":  a.UserID,
			"type":  a.JobType,
			"stage": a.Stage,
		})
		if a.Stack != "" {
			scope.SetExtra("stack", a.Stack)
		}
		id = s.hub.CaptureException(err)
	})

	if id != nil {
		s.logger.Debug("alert sent to sentry", "event_id", string(*id), "job_id", a.JobID)
	}
}

// Flush waits for buffered events to be delivered.
func (s *SentryAlerter) Flush() bool {
	return s.hub.Flush(s.flushTimeout)
}
