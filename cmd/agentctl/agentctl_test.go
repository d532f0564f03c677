package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/application/command"
	"github.com/mentorlink/study-agent/internal/interface/http/handlers"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func setInMemoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("MONGO_URI", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("LLM_PROVIDER", "offline")
	t.Setenv("AUTH_JWT_SECRET", "test-secret-0123456789abcdef")
}

func TestAPIKeyHash_NeedsNoConfig(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "unknown-provider")

	hash, err := execute(t, "apikey", "hash", "service-key-0123456789")
	require.NoError(t, err)

	auth := handlers.NewAuthenticator(handlers.AuthConfig{APIKeyHashes: []string{hash}})
	assert.True(t, auth.CheckAPIKey("service-key-0123456789"))
	assert.False(t, auth.CheckAPIKey("other-key"))
}

func TestToken_IssuesParseableToken(t *testing.T) {
	setInMemoryEnv(t)

	token, err := execute(t, "token", "mentor-7", "--role", "mentor")
	require.NoError(t, err)

	auth := handlers.NewAuthenticator(handlers.AuthConfig{
		Secret: []byte("test-secret-0123456789abcdef"),
		Issuer: "study-agent",
	})
	actor, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, command.Actor{ID: "mentor-7", Role: command.RoleMentor}, actor)
}

func TestToken_RejectsUnknownRole(t *testing.T) {
	setInMemoryEnv(t)

	_, err := execute(t, "token", "x", "--role", "superuser")
	assert.ErrorContains(t, err, "unknown role")
}

func TestTrigger_UnknownStudentFailsJob(t *testing.T) {
	setInMemoryEnv(t)
	t.Setenv("LLM_BACKOFF_STEP", "1ms")

	out, err := execute(t, "trigger", "ghost", "--wait")
	require.NoError(t, err)

	var rec struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "ghost", rec.UserID)
	assert.Equal(t, "failed", rec.Status)
}

func TestTrigger_RejectsUnknownType(t *testing.T) {
	_, err := execute(t, "trigger", "u1", "--type", "essay")
	assert.ErrorContains(t, err, "unknown job type")
}

func TestHousekeeping_EmptyStore(t *testing.T) {
	setInMemoryEnv(t)

	out, err := execute(t, "housekeeping")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deactivated":0,"deleted":0}`, out)
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	setInMemoryEnv(t)

	_, err := execute(t, "migrate", "status")
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestSchedule_ListsRegisteredJobs(t *testing.T) {
	setInMemoryEnv(t)

	out, err := execute(t, "schedule", "--limit", "5")
	require.NoError(t, err)

	var ops struct {
		Scheduler struct {
			Jobs []struct {
				Name string `json:"name"`
			} `json:"jobs"`
		} `json:"scheduler"`
		EventBus map[string]any `json:"eventBus"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	names := make([]string, 0, len(ops.Scheduler.Jobs))
	for _, j := range ops.Scheduler.Jobs {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{"daily_sweep", "weekly_sweep", "housekeeping"}, names)
	assert.NotNil(t, ops.EventBus)
}

func TestSchedule_RejectsNegativeLimit(t *testing.T) {
	_, err := execute(t, "schedule", "--limit", "-1")
	assert.ErrorContains(t, err, "--limit")
}

func TestFeatures_ReflectsEnvironment(t *testing.T) {
	setInMemoryEnv(t)
	t.Setenv("FEATURE_TRIGGERS_STUDENT_REQUEST", "25")

	out, err := execute(t, "features")
	require.NoError(t, err)

	var flags []struct {
		Name           string `json:"name"`
		Enabled        bool   `json:"enabled"`
		RolloutPercent int    `json:"rolloutPercent"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &flags))
	require.Len(t, flags, 5)
	for _, f := range flags {
		if f.Name == "triggers.student_request" {
			assert.True(t, f.Enabled)
			assert.Equal(t, 25, f.RolloutPercent)
		}
	}
}
