//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/config"
)

func TestOpenMemoryStore(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: driverLibsql, Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, driverLibsql, s.Driver())
	require.NoError(t, s.Close())
}

func TestOpenBackendMigratesLocalFile(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBackend(ctx, config.StoreConfig{
		Driver: driverLibsql,
		Path:   "file:" + t.TempDir() + "/quotapace.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	s, ok := backend.(*Store)
	require.True(t, ok)
	require.Contains(t, s.Describe(), "quotapace.db")

	// Local files run single-writer in WAL mode with a busy timeout.
	require.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.GreaterOrEqual(t, busyTimeout, 1000)

	count, err := backend.CountQuotas(ctx, StateQuery{All: true})
	require.NoError(t, err)
	require.Zero(t, count)
}
