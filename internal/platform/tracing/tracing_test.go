package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ballotbox/internal/platform/config"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTelConfig{ServiceName: "ballotbox"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), config.OTelConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "ballotbox",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
