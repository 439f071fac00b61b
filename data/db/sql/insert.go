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

type insertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table   string
	columns []string
	rows    [][]any
	err     error
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) == 0 {
		return b
	}
	b.rows = append(b.rows, vals)
	return b
}

func (b *insertBuilder) Row(values map[string]any) IInsertBuilder {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	if b.columns == nil {
		b.columns = cols
	} else if strings.Join(b.columns, ",") != strings.Join(cols, ",") {
		b.err = errors.NewError(errors.ErrCodeInvalidInput, "insertBuilder: 多行插入的列集合不一致")
		return b
	}

	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = values[c]
	}
	b.rows = append(b.rows, vals)
	return b
}

func (b *insertBuilder) Build() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(b.columns) == 0 {
		return "", nil, errors.NewError(errors.ErrCodeInvalidInput, "insertBuilder: 未指定列")
	}
	if len(b.rows) == 0 {
		return "", nil, errors.NewError(errors.ErrCodeInvalidInput, "insertBuilder: 至少需要一行数据")
	}

	table, err := quote(b.dialect, "表名", b.table)
	if err != nil {
		return "", nil, err
	}
	quotedCols := make([]string, len(b.columns))
	for i, col := range b.columns {
		if quotedCols[i], err = quote(b.dialect, "列名", col); err != nil {
			return "", nil, err
		}
	}

	var sb strings.Builder
	args := make([]any, 0, len(b.rows)*len(b.columns))
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quotedCols, ", "))
	sb.WriteString(") VALUES ")

	rowPlaceholder := "(" + strings.TrimRight(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, errors.NewErrorf(errors.ErrCodeInvalidInput,
				"insertBuilder: 第 %d 行值数量 %d 与列数量 %d 不一致", i, len(row), len(b.columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(rowPlaceholder)
		args = append(args, row...)
	}

	return sb.String(), args, nil
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}
