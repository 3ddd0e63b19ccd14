package appid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	identity, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, BinaryName, identity.BinaryName)
	require.Equal(t, ConfigName, identity.ConfigName)
	require.Equal(t, EnvPrefix, identity.EnvPrefix)
	require.NotEmpty(t, identity.Description)
}
