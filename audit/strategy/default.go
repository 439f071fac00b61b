package strategy

import (
	"context"

	"revaudit/audit"
	"revaudit/audit/query"
	core "revaudit/data/db"
)

// DefaultStrategy 以关联子查询取不超过 :revision 的最大修订号
//
//	e.REV = (select max(e2.REV) from E_AUD e2 where e2.REV <= :revision and e.id = e2.id)
type DefaultStrategy struct {
	base
}

func (s *DefaultStrategy) Kind() audit.StrategyKind { return audit.StrategyDefault }

func (s *DefaultStrategy) AddEntityAtRevisionRestriction(r EntityRestriction) error {
	sub := r.Builder.NewSubBuilder(r.IDData.AuditEntityName, r.Alias2)
	sub.AddProjection("max", r.Alias2, r.RevisionPropertyPath, false)
	s.addRevisionBound(sub, r.RevisionPropertyPath, r.Inclusive, r.ByTimestamp)

	// e.originalId.id = e2.originalId.id
	if err := r.IDData.OriginalMapper.AddIDsEqualToQuery(sub.RootParameters(),
		query.Path(r.Alias1, r.OriginalIDProperty), nil,
		query.Path(r.Alias2, r.OriginalIDProperty)); err != nil {
		return err
	}

	r.Parameters.AddWhereSubQuery(r.RevisionProperty, r.AddAlias, s.cfg.CorrelatedSubqueryOperator, sub)
	return nil
}

func (s *DefaultStrategy) AddAssociationAtRevisionRestriction(r AssociationRestriction) error {
	sub := r.Builder.NewSubBuilder(r.MiddleEntityName, MiddleAlias2)
	sub.AddProjection("max", MiddleAlias2, r.RevisionPropertyPath, false)
	s.addRevisionBound(sub, r.RevisionPropertyPath, r.Inclusive, r.ByTimestamp)

	sp := sub.RootParameters()
	ee2OriginalID := query.Path(MiddleAlias2, r.OriginalIDProperty)
	// ee.originalId.id_ref_ing = ee2.originalId.id_ref_ing
	if err := r.ReferencingIDData.PrefixedMapper.AddIDsEqualToQuery(sp,
		r.EEOriginalIDPropertyPath, nil, ee2OriginalID); err != nil {
		return err
	}
	for _, c := range r.Components {
		if err := c.Mapper.AddMiddleEqualToQuery(sp, r.EEOriginalIDPropertyPath, r.Alias1, ee2OriginalID, MiddleAlias2); err != nil {
			return err
		}
	}

	r.Parameters.AddWhereSubQuery(r.RevisionProperty, r.AddAlias, "=", sub)
	return nil
}

// addRevisionBound 子查询中的修订上界；按时间戳时关联修订日志表比较时间
func (s *DefaultStrategy) addRevisionBound(sub *query.Builder, revisionPath string, inclusive, byTimestamp bool) {
	sp := sub.RootParameters()
	op := revisionOp(inclusive)
	if !byTimestamp {
		sp.AddWhereWithNamedParam(revisionPath, true, op, RevisionParameter)
		return
	}
	sub.AddFrom(s.cfg.RevisionInfoEntityName, revisionInfoAlias)
	sp.AddWhere(query.Path(revisionInfoAlias, s.cfg.RevisionInfoIDPath()), false, "=", revisionPath, true)
	sp.AddWhereWithNamedParam(query.Path(revisionInfoAlias, s.cfg.RevisionInfoTimestampPath()), false, op,
		RevisionTimestampParameter)
}

// Perform 默认策略只追加审计行
func (s *DefaultStrategy) Perform(ctx context.Context, db core.IDatabase, row Row) error {
	return insertRow(ctx, db, s.cfg, row)
}

func (s *DefaultStrategy) PerformCollectionChange(ctx context.Context, db core.IDatabase, row Row) error {
	return insertRow(ctx, db, s.cfg, row)
}
