package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gigledger/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, Migrate(conn))
	v1, err := Version(conn)
	require.NoError(t, err)
	require.Greater(t, v1, 0)

	// a second run has nothing to apply
	require.NoError(t, Migrate(conn))
	v2, err := Version(conn)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM workers`).Scan(&n))
	require.Zero(t, n)
}

func TestVersionOnFreshDatabase(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	v, err := Version(conn)
	require.NoError(t, err)
	require.Zero(t, v)
}
