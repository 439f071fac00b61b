package strategy

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"revaudit/audit"
	core "revaudit/data/db"
	"revaudit/data/db/basic"
	"revaudit/errors"
)

func newAuditDB(t *testing.T) core.IDatabase {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, basic.ExecDDL(context.Background(), db,
		`CREATE TABLE Person_AUD (id INTEGER NOT NULL, REV INTEGER NOT NULL, REVTYPE INTEGER,
			REVEND INTEGER, REVEND_TSTMP INTEGER, name TEXT, PRIMARY KEY (id, REV))`,
	))
	return db
}

func personRow(rev int64, rt audit.RevisionType, name string) Row {
	return Row{
		AuditTable:        "Person_AUD",
		ID:                map[string]any{"id": int64(1)},
		Revision:          rev,
		RevisionType:      rt,
		RevisionTimestamp: rev * 1000,
		Data:              map[string]any{"name": name},
	}
}

type revEnd struct {
	rev    int64
	end    sql.NullInt64
	endTS  sql.NullInt64
	revTyp int
}

func readRows(t *testing.T, db core.IDatabase) []revEnd {
	t.Helper()
	rows, err := db.Query(context.Background(),
		"SELECT REV, REVEND, REVEND_TSTMP, REVTYPE FROM Person_AUD WHERE id = ? ORDER BY REV", int64(1))
	require.NoError(t, err)
	defer rows.Close()
	var out []revEnd
	for rows.Next() {
		var r revEnd
		require.NoError(t, rows.Scan(&r.rev, &r.end, &r.endTS, &r.revTyp))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestDefaultStrategy_PerformAppendsOnly(t *testing.T) {
	ctx := context.Background()
	db := newAuditDB(t)
	s := New(audit.DefaultConfig())

	require.NoError(t, s.Perform(ctx, db, personRow(1, audit.RevisionAdd, "a")))
	require.NoError(t, s.Perform(ctx, db, personRow(2, audit.RevisionMod, "b")))

	rows := readRows(t, db)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].end.Valid)
	assert.Equal(t, int(audit.RevisionMod), rows[1].revTyp)
}

// TestValidityStrategy_Perform 删除行结束上一行的有效期，自身不会被关闭
func TestValidityStrategy_Perform(t *testing.T) {
	ctx := context.Background()
	db := newAuditDB(t)
	cfg := audit.DefaultConfig()
	cfg.Strategy = audit.StrategyValidity
	cfg.ValidityStoreRevendTimestamp = true
	s := New(cfg)

	require.NoError(t, s.Perform(ctx, db, personRow(1, audit.RevisionAdd, "a")))
	require.NoError(t, s.Perform(ctx, db, personRow(2, audit.RevisionMod, "b")))
	require.NoError(t, s.Perform(ctx, db, personRow(3, audit.RevisionDel, "")))

	err := s.Perform(ctx, db, personRow(4, audit.RevisionMod, "ghost"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConflict))

	require.NoError(t, s.Perform(ctx, db, personRow(5, audit.RevisionAdd, "again")))
	require.NoError(t, s.PerformCollectionChange(ctx, db, personRow(6, audit.RevisionMod, "c")))

	rows := readRows(t, db)
	require.Len(t, rows, 5)
	assert.Equal(t, int64(2), rows[0].end.Int64)
	assert.Equal(t, int64(2000), rows[0].endTS.Int64)
	assert.Equal(t, int64(3), rows[1].end.Int64)
	assert.False(t, rows[2].end.Valid, "删除行不应被关闭")
	assert.Equal(t, int64(6), rows[3].end.Int64)
	assert.False(t, rows[4].end.Valid)
}

func TestInsertRow_RequiresID(t *testing.T) {
	db := newAuditDB(t)
	err := New(audit.DefaultConfig()).Perform(context.Background(), db, Row{AuditTable: "Person_AUD"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}
