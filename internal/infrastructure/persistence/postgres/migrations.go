package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_agent_jobs", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_mentor_suggestions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_study_plan_trackers", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE AGENT JOBS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS agent_jobs (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    job_type VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'queued',
    priority INTEGER NOT NULL DEFAULT 0,
    attempt INTEGER NOT NULL DEFAULT 1,
    max_attempts INTEGER NOT NULL DEFAULT 2,
    triggered_by VARCHAR(16) NOT NULL,
    forced BOOLEAN NOT NULL DEFAULT FALSE,
    input_hash VARCHAR(64),
    result_ref UUID,
    error TEXT,
    error_stack TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    started_at TIMESTAMP WITH TIME ZONE,
    finished_at TIMESTAMP WITH TIME ZONE,
    duration_ms BIGINT,

    CONSTRAINT valid_job_status CHECK (status IN ('queued', 'processing', 'completed', 'failed', 'retrying')),
    CONSTRAINT valid_job_type CHECK (job_type IN ('mentor_agent', 'career_planner', 'adhoc')),
    CONSTRAINT valid_triggered_by CHECK (triggered_by IN ('scheduler', 'manual', 'event', 'api')),
    CONSTRAINT valid_attempt CHECK (attempt >= 1)
);

-- Leasing: highest priority first, oldest first among equals.
CREATE INDEX IF NOT EXISTS idx_agent_jobs_leasable
    ON agent_jobs(priority DESC, created_at ASC)
    WHERE status IN ('queued', 'retrying');

-- Duplicate-window checks and per-user history.
CREATE INDEX IF NOT EXISTS idx_agent_jobs_user_type_created
    ON agent_jobs(user_id, job_type, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_agent_jobs_created_at ON agent_jobs(created_at);
`

const migration001Down = `
DROP TABLE IF EXISTS agent_jobs;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE MENTOR SUGGESTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS mentor_suggestions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    mentor_id VARCHAR(64),
    agent VARCHAR(32) NOT NULL DEFAULT 'mentor_agent',

    -- Plan body and risk profile as generated.
    plan JSONB NOT NULL,
    risk_profile JSONB NOT NULL,
    plan_length INTEGER NOT NULL,

    -- Review lifecycle.
    review JSONB NOT NULL DEFAULT '{}'::jsonb,
    accepted BOOLEAN NOT NULL DEFAULT FALSE,
    dismissed BOOLEAN NOT NULL DEFAULT FALSE,

    version INTEGER NOT NULL DEFAULT 1,
    previous_version_ref UUID REFERENCES mentor_suggestions(id) ON DELETE SET NULL,
    generated_by VARCHAR(20) NOT NULL DEFAULT 'auto',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    fallback BOOLEAN NOT NULL DEFAULT FALSE,

    prompt_hash VARCHAR(64),
    output_hash VARCHAR(64),
    model_used VARCHAR(100),

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_plan_length CHECK (plan_length IN (7, 14, 28)),
    CONSTRAINT valid_generated_by CHECK (generated_by IN ('auto', 'manual', 'student-request'))
);

CREATE INDEX IF NOT EXISTS idx_mentor_suggestions_user_created
    ON mentor_suggestions(user_id, created_at DESC);

-- At most one active suggestion per user.
CREATE UNIQUE INDEX IF NOT EXISTS idx_mentor_suggestions_one_active
    ON mentor_suggestions(user_id) WHERE active;

CREATE INDEX IF NOT EXISTS idx_mentor_suggestions_generated_by
    ON mentor_suggestions(user_id, generated_by, created_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS mentor_suggestions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE STUDY PLAN TRACKERS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS study_plan_trackers (
    user_id VARCHAR(64) PRIMARY KEY,
    active_plan_id UUID,
    total_plans_generated INTEGER NOT NULL DEFAULT 0,
    last_generated_at TIMESTAMP WITH TIME ZONE,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    total_tasks INTEGER NOT NULL DEFAULT 0,
    progress_percent INTEGER NOT NULL DEFAULT 0,
    last_task_completed_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_progress CHECK (progress_percent BETWEEN 0 AND 100)
);
`

const migration003Down = `
DROP TABLE IF EXISTS study_plan_trackers;
`
