package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// ══════════════════════════════════════════════════════════════════════════════
// HOUSEKEEPING JOB
// ══════════════════════════════════════════════════════════════════════════════

// HousekeepingConfig contains the retention cutoffs.
type HousekeepingConfig struct {
	// DeactivateAfter takes suggestions this old out of rotation.
	DeactivateAfter time.Duration

	// DeleteUnacceptedAfter removes never-accepted suggestions this old.
	DeleteUnacceptedAfter time.Duration
}

// DefaultHousekeepingConfig returns sensible defaults.
func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		DeactivateAfter:       30 * 24 * time.Hour,
		DeleteUnacceptedAfter: 90 * 24 * time.Hour,
	}
}

// HousekeepingResult reports what one run changed.
type HousekeepingResult struct {
	Deactivated int64 `json:"deactivated"`
	Deleted     int64 `json:"deleted"`
}

// HousekeepingJob retires old suggestions.
type HousekeepingJob struct {
	suggestions suggestion.Repository
	logger      *slog.Logger
	now         func() time.Time
	config      HousekeepingConfig
}

// NewHousekeepingJob creates the housekeeping job.
func NewHousekeepingJob(
	suggestions suggestion.Repository,
	logger *slog.Logger,
	now func() time.Time,
	config HousekeepingConfig,
) *HousekeepingJob {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if config.DeactivateAfter <= 0 || config.DeleteUnacceptedAfter <= 0 {
		config = DefaultHousekeepingConfig()
	}
	return &HousekeepingJob{suggestions: suggestions, logger: logger, now: now, config: config}
}

// Name returns the job name.
func (j *HousekeepingJob) Name() string {
	return "housekeeping"
}

// Description returns a human-readable description.
func (j *HousekeepingJob) Description() string {
	return "Deactivates stale suggestions and deletes old unaccepted ones"
}

// Run executes the job.
func (j *HousekeepingJob) Run(ctx context.Context) error {
	_, err := j.Execute(ctx)
	return err
}

// Execute runs the cleanup and reports the affected counts.
func (j *HousekeepingJob) Execute(ctx context.Context) (HousekeepingResult, error) {
	now := j.now()
	var res HousekeepingResult

	n, err := j.suggestions.DeactivateCreatedBefore(ctx, now.Add(-j.config.DeactivateAfter))
	if err != nil {
		return res, fmt.Errorf("housekeeping: deactivate: %w", err)
	}
	res.Deactivated = n

	n, err = j.suggestions.DeleteUnacceptedBefore(ctx, now.Add(-j.config.DeleteUnacceptedAfter))
	if err != nil {
		return res, fmt.Errorf("housekeeping: delete: %w", err)
	}
	res.Deleted = n

	j.logger.Info("housekeeping finished", "deactivated", res.Deactivated, "deleted", res.Deleted)
	return res, nil
}
