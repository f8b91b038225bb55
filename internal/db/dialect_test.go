package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := DialectFor(DriverPostgres)
	require.Equal(t, `SELECT * FROM cats WHERE id=$1 AND name=$2`, pg.Rebind(`SELECT * FROM cats WHERE id=? AND name=?`))
	require.Equal(t, `SELECT '?' FROM t WHERE a=$1`, pg.Rebind(`SELECT '?' FROM t WHERE a=?`))

	lite := DialectFor("")
	require.Equal(t, DriverSQLite, lite.Driver)
	require.Equal(t, `SELECT 1 WHERE a=?`, lite.Rebind(`SELECT 1 WHERE a=?`))
}

func TestForUpdate(t *testing.T) {
	require.Equal(t, " FOR UPDATE", DialectFor(DriverPostgres).ForUpdate())
	require.Empty(t, DialectFor(DriverSQLite).ForUpdate())
}

func TestIsUniqueViolation(t *testing.T) {
	lite := DialectFor(DriverSQLite)
	require.True(t, lite.IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: missions.cat_id (2067)")))
	require.False(t, lite.IsUniqueViolation(errors.New("no such table")))
	require.False(t, lite.IsUniqueViolation(nil))

	pg := DialectFor(DriverPostgres)
	require.True(t, pg.IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "missions_cat_id_key" (SQLSTATE 23505)`)))
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())
	require.FileExists(t, Path(dir))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	_, err = Open(Config{Driver: DriverPostgres})
	require.Error(t, err)
}
