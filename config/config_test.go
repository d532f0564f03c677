package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "offline")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "study-agent", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 6*time.Hour, cfg.Worker.OnDemandWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.Worker.SweepWindow)
	assert.Equal(t, 24*time.Hour, cfg.Worker.StudentRequestInterval)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 75, cfg.Risk.AttendanceThreshold)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.DailySweepSpec)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.False(t, cfg.Kafka.Enabled())
	assert.NotNil(t, cfg.Features)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "groq")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "agent")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.Equal(t, "postgres://agent:pw@db:5432/study_agent?sslmode=disable", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing api key", map[string]string{"LLM_PROVIDER": "openai"}, "LLM_API_KEY"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "bard"}, "not supported"},
		{"production needs database", map[string]string{"LLM_PROVIDER": "offline", "APP_ENV": "production"}, "DATABASE_URL"},
		{"bad risk levels", map[string]string{"LLM_PROVIDER": "offline", "RISK_HIGH_SCORE": "3"}, "RISK_HIGH_SCORE"},
		{"bad sample ratio", map[string]string{"LLM_PROVIDER": "offline", "OTEL_SAMPLER_RATIO": "2"}, "OTEL_SAMPLER_RATIO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	ff := NewFeatureFlags()
	assert.True(t, ff.IsEnabled(FeaturePlansLLM, nil))
	assert.False(t, ff.IsEnabled("unknown", nil))

	require.NoError(t, ff.DisableFeature(FeaturePlansLLM))
	assert.False(t, ff.IsEnabled(FeaturePlansLLM, nil))
	assert.True(t, ff.IsEnabled(FeaturePlansLLM, &FeatureContext{IsAdmin: true}))

	ff.SetUserOverride("u1", FeaturePlansLLM, true)
	assert.True(t, ff.IsEnabled(FeaturePlansLLM, &FeatureContext{UserID: "u1"}))
	ff.ClearUserOverrides("u1")
	assert.False(t, ff.IsEnabled(FeaturePlansLLM, &FeatureContext{UserID: "u1"}))

	assert.ErrorIs(t, ff.SetRolloutPercent(FeaturePlansLLM, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureTriggersStudentRequest, 50))

	in := 0
	for i := 0; i < 200; i++ {
		id := "student-" + string(rune('a'+i%26)) + time.Duration(i).String()
		first := ff.StudentRequestsAllowed(id)
		assert.Equal(t, first, ff.StudentRequestsAllowed(id))
		if first {
			in++
		}
	}
	assert.Greater(t, in, 0)
	assert.Less(t, in, 200)
}

func TestFeatureFlags_Env(t *testing.T) {
	t.Setenv("FEATURE_SWEEPS_WEEKLY", "false")
	t.Setenv("FEATURE_CACHE_SNAPSHOTS", "0")
	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureSweepsWeekly, nil))
	assert.False(t, ff.IsEnabled(FeatureCacheSnapshots, nil))
	assert.True(t, ff.IsEnabled(FeaturePlansLLM, nil))

	all := ff.GetAllFeatures()
	require.Len(t, all, 5)
	assert.Equal(t, 0, all[FeatureCacheSnapshots].RolloutPercent)
	all[FeaturePlansLLM].Enabled = false
	assert.True(t, ff.IsEnabled(FeaturePlansLLM, nil))
}
