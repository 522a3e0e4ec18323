package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/roach88/offsync/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Init(context.Background(), config.Observability{ServiceName: "test-service"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider(), "provider untouched when disabled")
}

func TestInit_EmptyServiceName(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Observability{TracingURL: "localhost:4318"})
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestInit_Enabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Init(context.Background(), config.Observability{
		ServiceName: "test-service",
		TracingURL:  "localhost:4318",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NotEqual(t, before, otel.GetTracerProvider())

	// Nothing was recorded, so shutdown does not need the collector.
	assert.NoError(t, shutdown(context.Background()))
}
