package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	core "revaudit/data/db"
	"revaudit/errors"
)

func newTestDB(t *testing.T) core.IDatabase {
	t.Helper()
	db, err := New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_ExecQuery(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, ExecDDL(ctx, db,
		`CREATE TABLE REVINFO (REV INTEGER PRIMARY KEY AUTOINCREMENT, REVTSTMP INTEGER NOT NULL)`,
	))

	res, err := db.Exec(ctx, "INSERT INTO REVINFO (REVTSTMP) VALUES (?)", int64(1000))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var ts int64
	require.NoError(t, db.QueryRow(ctx, "SELECT REVTSTMP FROM REVINFO WHERE REV = ?", id).Scan(&ts))
	assert.Equal(t, int64(1000), ts)

	assert.Equal(t, "sqlite", db.(core.IDialectNameProvider).GetDialectName())
}

// TestTx_RollbackDiscardsWrites 回滚后写入不可见
func TestTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, ExecDDL(ctx, db, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`))

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "a")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := db.Query(ctx, "SELECT id, name FROM t")
	require.NoError(t, err)
	records, err := core.ScanRecords(rows)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = tx.Begin(ctx)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeUnsupported))
}

func TestScanRecords_KeepsFirstDuplicateColumn(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, ExecDDL(ctx, db,
		`CREATE TABLE a (REV INTEGER, name TEXT)`,
		`CREATE TABLE b (REV INTEGER, city TEXT)`,
		`INSERT INTO a VALUES (1, 'x')`,
		`INSERT INTO b VALUES (2, 'y')`,
	))

	rows, err := db.Query(ctx, "SELECT a.*, b.* FROM a, b")
	require.NoError(t, err)
	records, err := core.ScanRecords(rows)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rev, ok := records[0].Int64("rev")
	require.True(t, ok)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, "y", records[0]["city"])
}
