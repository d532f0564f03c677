package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.SampleRatio = 1
	cfg.Writer = &buf

	tp, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "job.process")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "job.process")
	assert.Contains(t, buf.String(), "study-agent")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1))
	assert.Equal(t, 1.0, clamp(3))
	assert.Equal(t, 0.5, clamp(0.5))
}
