package sql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	"revaudit/errors"
)

type updateBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table     string
	setCols   []string
	setArgs   []any
	whereCols []string
	whereExpr []string
	whereArgs []any
	eqArgs    []any
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if col == "" {
		return b
	}
	b.setCols = append(b.setCols, col)
	b.setArgs = append(b.setArgs, val)
	return b
}

// SetMap 按列名排序追加，保证生成的 SQL 稳定
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Set(k, values[k])
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	if cond != "" {
		b.whereExpr = append(b.whereExpr, cond)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return b
}

func (b *updateBuilder) WhereEq(col string, val any) IUpdateBuilder {
	b.whereCols = append(b.whereCols, col)
	b.eqArgs = append(b.eqArgs, val)
	return b
}

func (b *updateBuilder) Build() (string, []any, error) {
	if len(b.setCols) == 0 {
		return "", nil, errors.NewError(errors.ErrCodeInvalidInput, "updateBuilder: 没有需要更新的列")
	}

	table, err := quote(b.dialect, "表名", b.table)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := make([]any, 0, len(b.setArgs)+len(b.eqArgs)+len(b.whereArgs))

	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	for i, col := range b.setCols {
		q, err := quote(b.dialect, "列名", col)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(q)
		sb.WriteString(" = ?")
	}
	args = append(args, b.setArgs...)

	conds, condArgs, err := whereClause(b.dialect, b.whereCols, b.eqArgs, b.whereExpr, b.whereArgs)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(conds)
	args = append(args, condArgs...)

	return sb.String(), args, nil
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}

// whereClause 先输出等值条件，再输出原始条件片段，以 AND 连接
func whereClause(d dialect.Dialect, eqCols []string, eqArgs []any, exprs []string, exprArgs []any) (string, []any, error) {
	if len(eqCols) == 0 && len(exprs) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(eqCols)+len(exprs))
	for _, col := range eqCols {
		q, err := quote(d, "列名", col)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, q+" = ?")
	}
	parts = append(parts, exprs...)

	args := make([]any, 0, len(eqArgs)+len(exprArgs))
	args = append(args, eqArgs...)
	args = append(args, exprArgs...)
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}
