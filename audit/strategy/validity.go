package strategy

import (
	"context"

	"revaudit/audit"
	"revaudit/audit/query"
	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	dbsql "revaudit/data/db/sql"
	"revaudit/errors"
	"revaudit/logging"
)

// ValidityStrategy 以显式的起止修订列判定有效行
//
//	e.REV <= :revision and (e.REVEND > :revision or e.REVEND is null)
//
// 写入新审计行时同时关闭同一标识上一条未结束行的有效期。删除行会结束上一行的有效期，
// 但自身不会再被后续行关闭。
type ValidityStrategy struct {
	base
}

func (s *ValidityStrategy) Kind() audit.StrategyKind { return audit.StrategyValidity }

func (s *ValidityStrategy) AddEntityAtRevisionRestriction(r EntityRestriction) error {
	s.addValidity(r.Parameters, r.RevisionProperty, r.RevisionEndProperty, r.Alias1, r.AddAlias, r.Inclusive, r.ByTimestamp)
	return nil
}

func (s *ValidityStrategy) AddAssociationAtRevisionRestriction(r AssociationRestriction) error {
	s.addValidity(r.Parameters, r.RevisionProperty, r.RevisionEndProperty, r.Alias1, r.AddAlias, r.Inclusive, r.ByTimestamp)
	return nil
}

func (s *ValidityStrategy) addValidity(params *query.Parameters, revProp, revEndProp, alias string, addAlias, inclusive, byTimestamp bool) {
	// rev <= :revision
	params.AddWhereWithNamedParam(revProp, addAlias, revisionOp(inclusive), RevisionParameter)

	// (revend > :revision or revend is null)
	sub := params.AddSubParameters(query.Or)
	if byTimestamp && s.cfg.ValidityStoreRevendTimestamp {
		tsProp := s.cfg.RevisionEndTimestampPath()
		if !addAlias {
			tsProp = query.Path(alias, tsProp)
		}
		sub.AddWhereWithNamedParam(tsProp, addAlias, ">", RevisionTimestampParameter)
		sub.AddNullRestriction(tsProp, addAlias)
		return
	}
	sub.AddWhereWithNamedParam(revEndProp, addAlias, ">", RevisionParameter)
	sub.AddNullRestriction(revEndProp, addAlias)
}

func (s *ValidityStrategy) Perform(ctx context.Context, db core.IDatabase, row Row) error {
	if err := s.closePrevious(ctx, db, row); err != nil {
		return err
	}
	return insertRow(ctx, db, s.cfg, row)
}

func (s *ValidityStrategy) PerformCollectionChange(ctx context.Context, db core.IDatabase, row Row) error {
	return s.Perform(ctx, db, row)
}

// closePrevious 将同一标识上一条未结束、非删除的审计行的结束修订设为当前修订
func (s *ValidityStrategy) closePrevious(ctx context.Context, db core.IDatabase, row Row) error {
	if row.RevisionType == audit.RevisionAdd {
		return nil
	}

	d := dialect.FromDatabase(db)
	upd := dbsql.New(db).Update(row.AuditTable).Set(s.cfg.ValidityEndRevisionFieldName, row.Revision)
	if s.cfg.ValidityStoreRevendTimestamp {
		upd.Set(s.cfg.ValidityRevendTimestampFieldName, row.RevisionTimestamp)
	}
	for _, col := range sortedKeys(row.ID) {
		upd.WhereEq(col, row.ID[col])
	}
	upd.Where(d.QuoteIdentifier(s.cfg.ValidityEndRevisionFieldName)+" IS NULL").
		Where(d.QuoteIdentifier(s.cfg.RevisionTypeFieldName)+" <> ?", int(audit.RevisionDel))

	res, err := upd.Exec(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "更新审计行结束修订: "+row.AuditTable)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "读取受影响行数: "+row.AuditTable)
	}
	if n != 1 {
		return errors.NewErrorf(errors.ErrCodeConflict,
			"无法结束 %s 中标识 %v 的上一条审计行（匹配 %d 行）", row.AuditTable, row.ID, n)
	}
	s.logger.Debug(ctx, "已结束上一条审计行",
		logging.String("table", row.AuditTable), logging.Int64("revision", row.Revision))
	return nil
}
