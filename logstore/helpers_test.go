package logstore

import (
	"database/sql"
	"testing"

	"github.com/rubenv/pgtest"
	"github.com/stretchr/testify/require"
)

// openMemDbForTest opens a fresh ramsql database named after the test.
func openMemDbForTest(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(DriverMemory, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// openPostgresForTest starts an in-process postgres, skipping the test when no postgres
// binaries are installed.
func openPostgresForTest(t *testing.T) *sql.DB {
	t.Helper()
	pg, err := pgtest.Start()
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, pg.Stop())
	})

	return pg.DB
}
