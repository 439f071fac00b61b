// Package pagination 提供按方言改写 SQL 以限制返回行数的 LimitHandler
package pagination

import (
	stdErrors "errors"

	"revaudit/errors"
)

// ErrMalformedSQL 输入 SQL 无法被安全改写（括号不平衡、缺少 SELECT/FROM 等）
var ErrMalformedSQL = stdErrors.New("pagination: malformed sql")

func init() {
	errors.Register(ErrMalformedSQL, errors.ErrCodeSQLSyntax, "SQL 无法安全改写")
}

// RowSelection 行选择范围：FirstRow 为从 0 开始的偏移，MaxRows 为 0 表示不限制
type RowSelection struct {
	FirstRow int
	MaxRows  int
}

// FirstRow 返回偏移量，nil 视为 0
func FirstRow(sel *RowSelection) int {
	if sel == nil || sel.FirstRow < 0 {
		return 0
	}
	return sel.FirstRow
}

// HasFirstRow 是否存在大于 0 的偏移
func HasFirstRow(sel *RowSelection) bool {
	return FirstRow(sel) > 0
}

// HasMaxRows 是否限制了最大行数
func HasMaxRows(sel *RowSelection) bool {
	return sel != nil && sel.MaxRows > 0
}

// Processed 改写结果
//
// StartArgs 需绑定在原查询参数之前（如 TOP(?)），EndArgs 绑定在之后（如行号上下界）。
type Processed struct {
	SQL       string
	StartArgs []any
	EndArgs   []any
}

// Bind 按占位符出现顺序返回完整参数列表
func (p Processed) Bind(args ...any) []any {
	out := make([]any, 0, len(p.StartArgs)+len(args)+len(p.EndArgs))
	out = append(out, p.StartArgs...)
	out = append(out, args...)
	out = append(out, p.EndArgs...)
	return out
}

// ParamCount 改写新增的占位符数量
func (p Processed) ParamCount() int {
	return len(p.StartArgs) + len(p.EndArgs)
}

// LimitHandler 方言相关的分页改写
type LimitHandler interface {
	SupportsLimit() bool
	SupportsLimitOffset() bool
	Process(sql string, sel *RowSelection) (Processed, error)
}

// NoopLimitHandler 不支持分页的方言：原样返回
type NoopLimitHandler struct{}

func (NoopLimitHandler) SupportsLimit() bool       { return false }
func (NoopLimitHandler) SupportsLimitOffset() bool { return false }

func (NoopLimitHandler) Process(sql string, _ *RowSelection) (Processed, error) {
	return Processed{SQL: sql}, nil
}

// LimitOffsetHandler 适用于 sqlite/postgres/mysql 的 "limit ? offset ?" 语法
type LimitOffsetHandler struct{}

func (LimitOffsetHandler) SupportsLimit() bool       { return true }
func (LimitOffsetHandler) SupportsLimitOffset() bool { return true }

func (LimitOffsetHandler) Process(sql string, sel *RowSelection) (Processed, error) {
	if !HasMaxRows(sel) {
		return Processed{SQL: sql}, nil
	}
	sql = trimStatement(sql)
	if HasFirstRow(sel) {
		return Processed{SQL: sql + " limit ? offset ?", EndArgs: []any{sel.MaxRows, FirstRow(sel)}}, nil
	}
	return Processed{SQL: sql + " limit ?", EndArgs: []any{sel.MaxRows}}, nil
}
