package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationResultAttributes(t *testing.T) {
	attrs := OperationResultAttributes("dev", "fetch_positions", ResultSuccess)
	require.Len(t, attrs, 3)
	require.Equal(t, AttrOperation, attrs[1].Key)
	require.Equal(t, "success", attrs[2].Value.AsString())
}

func TestEnvironmentDefaultsToDevelopment(t *testing.T) {
	SetEnvironment("")
	require.Equal(t, "development", Environment())
	SetEnvironment("PROD")
	require.Equal(t, "prod", Environment())
	SetEnvironment("")
}
