package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sceneboard/internal/config"
	"github.com/dshills/sceneboard/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	tp, shutdown, err := telemetry.Setup(context.Background(), config.Telemetry{ServiceName: "test"}, "dev")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("t").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopShutdownIgnoresCancelledContext(t *testing.T) {
	_, shutdown, err := telemetry.Setup(context.Background(), config.Telemetry{}, "dev")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	cfg := config.Telemetry{Endpoint: "http://192.0.2.1:4318", ServiceName: "test"}

	tp, shutdown, err := telemetry.Setup(context.Background(), cfg, "dev")
	require.NoError(t, err)

	_, span := tp.Tracer("t").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// Nothing was exported yet, so shutdown flushes an empty batch.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := telemetry.NewLogger(config.Log{Level: "warn", Format: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown", "scene", "s1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "s1", rec["scene"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	log := telemetry.NewLogger(config.Log{Level: "bogus", Format: "text"}, &buf)

	log.Debug("hidden")
	log.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
