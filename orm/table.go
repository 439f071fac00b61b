package orm

import (
	"context"
	"strings"

	core "revaudit/data/db"
	dbsql "revaudit/data/db/sql"
	"revaudit/errors"
)

// TablePersister 以单表保存实体行：标识列 + State 返回的列
type TablePersister struct {
	Table     string
	IDColumns []string
}

var _ EntityWriter = (*TablePersister)(nil)

// NewTablePersister 创建单表持久化器；多个标识列时标识为 map[string]any
func NewTablePersister(table string, idColumns ...string) *TablePersister {
	if len(idColumns) == 0 {
		idColumns = []string{"id"}
	}
	return &TablePersister{Table: table, IDColumns: idColumns}
}

// idValues 将标识拆为列值
func (p *TablePersister) idValues(id any) (map[string]any, error) {
	if id == nil {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "表 %s 的实体标识为空", p.Table)
	}
	if len(p.IDColumns) == 1 {
		if m, ok := id.(map[string]any); ok {
			id = m[p.IDColumns[0]]
		}
		return map[string]any{p.IDColumns[0]: id}, nil
	}
	m, ok := id.(map[string]any)
	if !ok {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput,
			"表 %s 使用组合标识 %v，实体标识必须为 map[string]any", p.Table, p.IDColumns)
	}
	out := make(map[string]any, len(p.IDColumns))
	for _, col := range p.IDColumns {
		v, ok := m[col]
		if !ok {
			return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "表 %s 的组合标识缺少 %s", p.Table, col)
		}
		out[col] = v
	}
	return out, nil
}

func (p *TablePersister) Insert(ctx context.Context, db core.IDatabase, id any, state map[string]any) error {
	values, err := p.idValues(id)
	if err != nil {
		return err
	}
	for k, v := range state {
		values[k] = v
	}
	if _, err := dbsql.New(db).InsertInto(p.Table).Row(values).Exec(ctx); err != nil {
		return errors.WrapDatabaseError(ctx, err, "插入实体行: "+p.Table)
	}
	return nil
}

func (p *TablePersister) Update(ctx context.Context, db core.IDatabase, id any, state map[string]any) error {
	if len(state) == 0 {
		return nil
	}
	ids, err := p.idValues(id)
	if err != nil {
		return err
	}
	upd := dbsql.New(db).Update(p.Table).SetMap(state)
	for _, col := range p.IDColumns {
		upd.WhereEq(col, ids[col])
	}
	res, err := upd.Exec(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "更新实体行: "+p.Table)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.WrapError(ErrNotFound, errors.ErrCodeNotFound, "更新的实体行不存在: "+p.Table)
	}
	return nil
}

func (p *TablePersister) Delete(ctx context.Context, db core.IDatabase, id any) error {
	ids, err := p.idValues(id)
	if err != nil {
		return err
	}
	del := dbsql.New(db).DeleteFrom(p.Table)
	for _, col := range p.IDColumns {
		del.WhereEq(col, ids[col])
	}
	if _, err := del.Exec(ctx); err != nil {
		return errors.WrapDatabaseError(ctx, err, "删除实体行: "+p.Table)
	}
	return nil
}

// Load 读取实体行，返回不含标识列的状态
func (p *TablePersister) Load(ctx context.Context, db core.IDatabase, id any) (map[string]any, error) {
	ids, err := p.idValues(id)
	if err != nil {
		return nil, err
	}
	sel := dbsql.New(db).Select("*").From(p.Table)
	for _, col := range p.IDColumns {
		sel.Where(col+" = ?", ids[col])
	}
	rows, err := sel.Query(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取实体行: "+p.Table)
	}
	records, err := core.ScanRecords(rows)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取实体行: "+p.Table)
	}
	if len(records) == 0 {
		return nil, errors.WrapError(ErrNotFound, errors.ErrCodeNotFound, "实体行不存在: "+p.Table)
	}

	state := make(map[string]any, len(records[0]))
	for col, v := range records[0] {
		if p.isIDColumn(col) {
			continue
		}
		state[col] = v
	}
	return state, nil
}

func (p *TablePersister) isIDColumn(col string) bool {
	for _, c := range p.IDColumns {
		if strings.EqualFold(c, col) {
			return true
		}
	}
	return false
}

// TableCollectionWriter 以中间表保存集合：每个元素一行（owner 列 + element 列）
type TableCollectionWriter struct {
	Table         string
	OwnerColumn   string
	ElementColumn string
}

var _ CollectionWriter = (*TableCollectionWriter)(nil)

func (w *TableCollectionWriter) InsertElements(ctx context.Context, db core.IDatabase, ownerID any, elements []any) error {
	for _, el := range elements {
		row := map[string]any{w.OwnerColumn: ownerID, w.ElementColumn: el}
		if _, err := dbsql.New(db).InsertInto(w.Table).Row(row).Exec(ctx); err != nil {
			return errors.WrapDatabaseError(ctx, err, "插入集合元素: "+w.Table)
		}
	}
	return nil
}

func (w *TableCollectionWriter) DeleteElements(ctx context.Context, db core.IDatabase, ownerID any, elements []any) error {
	for _, el := range elements {
		_, err := dbsql.New(db).DeleteFrom(w.Table).
			WhereEq(w.OwnerColumn, ownerID).
			WhereEq(w.ElementColumn, el).
			Exec(ctx)
		if err != nil {
			return errors.WrapDatabaseError(ctx, err, "删除集合元素: "+w.Table)
		}
	}
	return nil
}
