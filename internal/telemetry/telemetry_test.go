package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "fairwaycast-test",
		ServiceVersion: "0.0.1",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     0.5,
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestTracer_ReturnsGlobalTracer(t *testing.T) {
	assert.NotNil(t, telemetry.Tracer("forecast"))
}

func TestMeter_ReturnsGlobalMeter(t *testing.T) {
	assert.NotNil(t, telemetry.Meter("forecast"))
}
