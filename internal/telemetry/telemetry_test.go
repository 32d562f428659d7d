package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentlens/agentlens/config"
)

func TestInit_Disabled(t *testing.T) {
	t.Parallel()

	p, err := Init(config.TelemetryConfig{Enabled: false}, "test", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_NilReceiver(t *testing.T) {
	t.Parallel()

	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
