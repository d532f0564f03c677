package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// JobRepository implements job.Repository and job.MetricsReader for PostgreSQL.
type JobRepository struct {
	conn *Connection
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(conn *Connection) *JobRepository {
	return &JobRepository{conn: conn}
}

var (
	_ job.Repository    = (*JobRepository)(nil)
	_ job.MetricsReader = (*JobRepository)(nil)
)

const jobColumns = `
	id, user_id, job_type, status, priority, attempt, max_attempts, triggered_by,
	forced, input_hash, result_ref, error, error_stack,
	created_at, started_at, finished_at, duration_ms
`

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, rec *job.Record) error {
	return insertJob(ctx, r.conn, rec)
}

// CreateUnlessRecent runs the duplicate check and the insert under a
// transaction-scoped advisory lock on (user, type).
func (r *JobRepository) CreateUnlessRecent(ctx context.Context, rec *job.Record, f job.RecentFilter) (bool, error) {
	created := false

	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		created = false
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`,
			rec.UserID, string(rec.Type),
		); err != nil {
			return fmt.Errorf("failed to lock job window: %w", err)
		}

		exists, err := existsRecent(ctx, tx, f)
		if err != nil || exists {
			return err
		}
		if err := insertJob(ctx, tx, rec); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func insertJob(ctx context.Context, q Querier, rec *job.Record) error {
	query := `
		INSERT INTO agent_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := q.Exec(ctx, query, jobArgs(rec)...)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a record.
func (r *JobRepository) Update(ctx context.Context, rec *job.Record) error {
	query := `
		UPDATE agent_jobs SET
			status = $2,
			attempt = $3,
			input_hash = $4,
			result_ref = $5,
			error = $6,
			error_stack = $7,
			started_at = $8,
			finished_at = $9,
			duration_ms = $10
		WHERE id = $1
	`

	tag, err := r.conn.Exec(ctx, query,
		rec.ID,
		string(rec.Status),
		rec.Attempt,
		nullString(rec.InputHash),
		nullString(rec.ResultRef),
		nullString(rec.Error),
		nullString(rec.ErrorStack),
		rec.StartedAt,
		rec.FinishedAt,
		nullDuration(rec),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrJobNotFound
	}
	return nil
}

// LeaseNext claims the highest-priority leasable job. SKIP LOCKED lets several
// workers lease concurrently without handing out the same row twice.
func (r *JobRepository) LeaseNext(ctx context.Context, now time.Time) (*job.Record, error) {
	var leased *job.Record

	err := r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			SELECT ` + jobColumns + `
			FROM agent_jobs
			WHERE status IN ('queued', 'retrying')
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`
		rec, err := scanJob(tx.QueryRow(ctx, query))
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrNoJobAvailable
			}
			return fmt.Errorf("failed to select leasable job: %w", err)
		}

		if err := rec.Start(now); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE agent_jobs SET status = $2, started_at = $3 WHERE id = $1`,
			rec.ID, string(rec.Status), rec.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to lease job: %w", err)
		}
		leased = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// FindByID returns a job by id.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM agent_jobs WHERE id = $1`

	rec, err := scanJob(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// ExistsRecent reports whether a record matches the duplicate-window filter.
func (r *JobRepository) ExistsRecent(ctx context.Context, f job.RecentFilter) (bool, error) {
	return existsRecent(ctx, r.conn, f)
}

func existsRecent(ctx context.Context, q Querier, f job.RecentFilter) (bool, error) {
	var before *time.Time
	if !f.Before.IsZero() {
		before = &f.Before
	}

	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM agent_jobs
			WHERE user_id = $1
			  AND job_type = $2
			  AND created_at >= $3
			  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
			  AND ($5 = '' OR id::text <> $5)
			  AND ($6 OR NOT forced)
			  AND ($7::timestamptz IS NULL OR created_at < $7)
		)
	`

	var exists bool
	err := q.QueryRow(ctx, query,
		f.UserID, string(f.Type), f.Since, statuses, f.ExcludeID, f.IncludeForced, before,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent jobs: %w", err)
	}
	return exists, nil
}

// ListByCreatedRange returns jobs created within [from, to).
func (r *JobRepository) ListByCreatedRange(ctx context.Context, from, to time.Time) ([]*job.Record, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM agent_jobs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`
	return r.queryJobs(ctx, query, from, to)
}

// RecentForUser returns the user's jobs created since the given time, newest first.
func (r *JobRepository) RecentForUser(ctx context.Context, userID string, since time.Time) ([]*job.Record, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM agent_jobs
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`
	return r.queryJobs(ctx, query, userID, since)
}

// LastCreatedAt returns the creation time of the user's newest job.
func (r *JobRepository) LastCreatedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var last *time.Time
	err := r.conn.QueryRow(ctx,
		`SELECT MAX(created_at) FROM agent_jobs WHERE user_id = $1`, userID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last job time: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// Metrics aggregates jobs created within [from, to) by type and status.
func (r *JobRepository) Metrics(ctx context.Context, from, to time.Time) ([]job.MetricsRow, error) {
	query := `
		SELECT job_type, status, COUNT(*),
		       COALESCE(AVG(duration_ms) FILTER (WHERE started_at IS NOT NULL AND finished_at IS NOT NULL), 0)
		FROM agent_jobs
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY job_type, status
		ORDER BY job_type, status
	`

	rows, err := r.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query job metrics: %w", err)
	}
	defer rows.Close()

	var out []job.MetricsRow
	for rows.Next() {
		var (
			row         job.MetricsRow
			jobType, st string
			avgDuration float64
		)
		if err := rows.Scan(&jobType, &st, &row.Count, &avgDuration); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}
		row.Type = job.Type(jobType)
		row.Status = job.Status(st)
		row.AvgDurationMs = avgDuration
		out = append(out, row)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Methods
// ─────────────────────────────────────────────────────────────────────────────

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*job.Record, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*job.Record, 0)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jobArgs(rec *job.Record) []any {
	return []any{
		rec.ID,
		rec.UserID,
		string(rec.Type),
		string(rec.Status),
		rec.Priority,
		rec.Attempt,
		rec.MaxAttempts,
		string(rec.TriggeredBy),
		rec.Forced,
		nullString(rec.InputHash),
		nullString(rec.ResultRef),
		nullString(rec.Error),
		nullString(rec.ErrorStack),
		rec.CreatedAt,
		rec.StartedAt,
		rec.FinishedAt,
		nullDuration(rec),
	}
}

func scanJob(row pgx.Row) (*job.Record, error) {
	var (
		rec                                    job.Record
		jobType, status, triggeredBy           string
		inputHash, resultRef, errMsg, errStack *string
		durationMs                             *int64
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&jobType,
		&status,
		&rec.Priority,
		&rec.Attempt,
		&rec.MaxAttempts,
		&triggeredBy,
		&rec.Forced,
		&inputHash,
		&resultRef,
		&errMsg,
		&errStack,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
		&durationMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = job.Type(jobType)
	rec.Status = job.Status(status)
	rec.TriggeredBy = job.TriggeredBy(triggeredBy)
	rec.InputHash = deref(inputHash)
	rec.ResultRef = deref(resultRef)
	rec.Error = deref(errMsg)
	rec.ErrorStack = deref(errStack)
	if durationMs != nil {
		rec.DurationMs = *durationMs
	}
	return &rec, nil
}

// nullDuration stores duration only once the job has finished.
func nullDuration(rec *job.Record) *int64 {
	if rec.FinishedAt == nil {
		return nil
	}
	d := rec.DurationMs
	return &d
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
