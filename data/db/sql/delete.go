package sql

import (
	"context"
	"database/sql"
	"strings"

	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	"revaudit/errors"
)

type deleteBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table     string
	whereCols []string
	eqArgs    []any
	where     []string
	args      []any
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

func (b *deleteBuilder) WhereEq(col string, val any) IDeleteBuilder {
	b.whereCols = append(b.whereCols, col)
	b.eqArgs = append(b.eqArgs, val)
	return b
}

func (b *deleteBuilder) Build() (string, []any, error) {
	table, err := quote(b.dialect, "表名", b.table)
	if err != nil {
		return "", nil, err
	}
	conds, args, err := whereClause(b.dialect, b.whereCols, b.eqArgs, b.where, b.args)
	if err != nil {
		return "", nil, err
	}
	if conds == "" {
		return "", nil, errors.NewError(errors.ErrCodeInvalidInput, "deleteBuilder: 拒绝生成无条件 DELETE")
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(table)
	sb.WriteString(conds)
	return sb.String(), args, nil
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}
