package telemetry

import (
	"context"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/config"
)

func TestInitProviders_Disabled(t *testing.T) {
	providers, err := InitProviders(context.Background(), &config.OpenTelemetryConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitProviders_Enabled(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{
		Enabled:             true,
		ServiceName:         "victron-ble-test",
		ServiceVersion:      "test",
		Environment:         "test",
		Endpoint:            "localhost:4318",
		TracesEnabled:       true,
		TracesSamplingRatio: 1,
		MetricsEnabled:      true,
		MetricsIntervalMs:   60000,
	}

	providers, err := InitProviders(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// exporters never reached a collector; only make sure shutdown returns
	_ = providers.Shutdown(ctx)
}

func TestResolveProfileTypes(t *testing.T) {
	types, err := ResolveProfileTypes([]string{"cpu", "MUTEX", " cpu "})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileMutexCount,
		pyroscope.ProfileMutexDuration,
	}, types)

	_, err = ResolveProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestStartProfiler_Disabled(t *testing.T) {
	p, err := StartProfiler(&config.ProfilingConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Stop())
}
