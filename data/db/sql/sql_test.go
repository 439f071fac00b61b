package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	core "revaudit/data/db"
	"revaudit/data/db/basic"
	"revaudit/data/db/dialect"
	"revaudit/errors"
)

func TestInsertBuilder_RowSortsColumns(t *testing.T) {
	b := &insertBuilder{dialect: dialect.New("sqlite"), table: "Person_AUD"}
	b.Row(map[string]any{"REVTYPE": 0, "REV": 1, "id": 7})

	q, args, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "Person_AUD" ("REV", "REVTYPE", "id") VALUES (?, ?, ?)`, q)
	assert.Equal(t, []any{1, 0, 7}, args)
}

func TestInsertBuilder_RejectsUnsafeIdentifiers(t *testing.T) {
	b := &insertBuilder{dialect: dialect.New("sqlite"), table: "t; drop table x"}
	b.Columns("a").Values(1)

	_, _, err := b.Build()
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestUpdateBuilder_Build(t *testing.T) {
	b := &updateBuilder{dialect: dialect.New("postgres"), table: "Person_AUD"}
	b.Set("REVEND", int64(3)).WhereEq("id", 7).Where(`"REVEND" IS NULL`)

	q, args, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Person_AUD" SET "REVEND" = ? WHERE "id" = ? AND "REVEND" IS NULL`, q)
	assert.Equal(t, []any{int64(3), 7}, args)
}

func TestDeleteBuilder_RequiresCondition(t *testing.T) {
	b := &deleteBuilder{dialect: dialect.New("mysql"), table: "person"}
	_, _, err := b.Build()
	assert.Error(t, err)

	b.WhereEq("id", 1)
	q, args, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `person` WHERE `id` = ?", q)
	assert.Equal(t, []any{1}, args)
}

func TestBuilders_AgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, basic.ExecDDL(ctx, db, `CREATE TABLE person (id INTEGER PRIMARY KEY, name TEXT)`))

	s := New(db)
	_, err = s.InsertInto("person").Row(map[string]any{"id": 1, "name": "Ann"}).Exec(ctx)
	require.NoError(t, err)
	_, err = s.Update("person").Set("name", "Bob").WhereEq("id", 1).Exec(ctx)
	require.NoError(t, err)

	var name string
	require.NoError(t, s.Select("name").From("person").Where("id = ?", 1).QueryRow(ctx).Scan(&name))
	assert.Equal(t, "Bob", name)

	res, err := s.DeleteFrom("person").WhereEq("id", 1).Exec(ctx)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	err = s.Select("name").From("bad name").QueryRow(ctx).Scan(&name)
	assert.Error(t, err)
}
