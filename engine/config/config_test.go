package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, 50*time.Millisecond, c.Sync.Tolerance)
	require.Equal(t, "drop_oldest", c.Distribution.DropPolicy)
	require.Equal(t, 3, c.Pipeline.MaxRetries)
}

func TestValidateRejectsNegativeTolerance(t *testing.T) {
	c := Default()
	c.Sync.Tolerance = -1
	require.Error(t, c.Validate())
}

func TestValidateRejectsInvalidDropPolicy(t *testing.T) {
	c := Default()
	c.Distribution.DropPolicy = "drop_everything"
	require.Error(t, c.Validate())
}

func TestValidateRejectsZeroQueueDepth(t *testing.T) {
	c := New()
	c.Distribution.OutboundQueueDepth = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsReconnectDelayAboveMax(t *testing.T) {
	c := Default()
	c.Connector.MaxReconnectDelay = time.Second
	c.Connector.ReconnectDelay = 2 * time.Second
	require.Error(t, c.Validate())
}

func TestValidateRejectsSubUnityBackoffMultiplier(t *testing.T) {
	c := Default()
	c.Pipeline.BackoffMultiplier = 0.5
	require.Error(t, c.Validate())
}

func TestComposeAppliesProductionEnvironment(t *testing.T) {
	c, err := Compose(SyncPolicy{}, ConnectorPolicy{}, DistributionPolicy{OutboundQueueDepth: 10}, PipelinePolicy{})
	require.NoError(t, err)
	require.Equal(t, "production", c.Environment)
}

func TestComposeRejectsInvalidSection(t *testing.T) {
	_, err := Compose(SyncPolicy{Tolerance: -1}, ConnectorPolicy{}, DistributionPolicy{OutboundQueueDepth: 10}, PipelinePolicy{})
	require.Error(t, err)
}

func TestTelemetryPolicyNormalizeClampsPercent(t *testing.T) {
	p := TelemetryPolicy{Tracing: TracingPolicy{SamplePercent: 150}}
	require.Equal(t, float64(100), p.Normalize().Tracing.SamplePercent)
}

func TestStoreApplyAndRollback(t *testing.T) {
	s := NewStore(nil)
	original := s.Current().Sync.Tolerance

	updated := Default()
	updated.Sync.Tolerance = 10 * time.Millisecond
	require.NoError(t, s.Apply(updated))
	require.Equal(t, 10*time.Millisecond, s.Current().Sync.Tolerance)

	rolled := s.Rollback()
	require.Equal(t, original, rolled.Sync.Tolerance)
	require.Equal(t, original, s.Current().Sync.Tolerance)
}

func TestStoreApplyRejectsInvalidConfig(t *testing.T) {
	s := NewStore(nil)
	bad := Default()
	bad.Distribution.OutboundQueueDepth = -1
	err := s.Apply(bad)
	require.Error(t, err)
	require.NotEqual(t, -1, s.Current().Distribution.OutboundQueueDepth)
}
