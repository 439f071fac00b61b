package strategy

import (
	"context"
	"sort"

	"revaudit/audit"
	core "revaudit/data/db"
	dbsql "revaudit/data/db/sql"
	"revaudit/errors"
)

// insertRow 写入审计行：标识列、修订号、修订类型与数据列
func insertRow(ctx context.Context, db core.IDatabase, cfg audit.Config, row Row) error {
	if row.AuditTable == "" || len(row.ID) == 0 {
		return errors.NewError(errors.ErrCodeInvalidInput, "审计行缺少表名或标识")
	}
	values := make(map[string]any, len(row.ID)+len(row.Data)+2)
	for k, v := range row.Data {
		values[k] = v
	}
	for k, v := range row.ID {
		values[k] = v
	}
	values[cfg.RevisionFieldName] = row.Revision
	values[cfg.RevisionTypeFieldName] = int(row.RevisionType)

	if _, err := dbsql.New(db).InsertInto(row.AuditTable).Row(values).Exec(ctx); err != nil {
		return errors.WrapDatabaseError(ctx, err, "写入审计行: "+row.AuditTable)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
