package reader

import (
	"context"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/query"
	"revaudit/audit/relation"
	"revaudit/audit/strategy"
	core "revaudit/data/db"
	"revaudit/errors"
)

const (
	entityAlias  = "e"
	entityAlias2 = "e2"
)

func bindNamed(q string, values map[string]any) (string, []any, error) {
	return query.BindNamed(q, values)
}

// point 查询的时间点；byTime 时有效条件按修订日志时间 :revisionTimestamp 判定
type point struct {
	revision  int64
	timestamp int64
	byTime    bool
}

// entityAtRevisionQuery 实体在 :revision 有效的查询：
//
//	select e.* from E_AUD e where e.id = :_p0 and <有效条件> and e.REVTYPE != :delRevisionType
//
// withRemoved 时条件改为 (<有效条件> and 非删除) or (e.REV = :revision and e.REVTYPE = :delRevisionType)。
func (r *Reader) entityAtRevisionQuery(m *audit.EntityMapping, id any, withRemoved, byTime bool) (*query.Builder, error) {
	qb := query.NewBuilder(m.AuditTable, entityAlias)
	qb.AddProjection("", entityAlias, "*", false)
	root := qb.RootParameters()
	if err := m.IDMapper.AddIDEqualsToQuery(root, id, query.Path(entityAlias, r.cfg.OriginalIDProp()), true); err != nil {
		return nil, err
	}

	valid := root
	var removed *query.Parameters
	if withRemoved {
		disjoint := root.AddSubParameters(query.Or)
		valid = disjoint.AddSubParameters(query.And)
		removed = disjoint.AddSubParameters(query.And)
	}

	revPath := r.cfg.RevisionNumberPath()
	err := r.strategy.AddEntityAtRevisionRestriction(strategy.EntityRestriction{
		Builder:              qb,
		Parameters:           valid,
		RevisionProperty:     query.Path(entityAlias, revPath),
		RevisionEndProperty:  query.Path(entityAlias, r.cfg.RevisionEndPath()),
		IDData:               mapper.NewMiddleIDData(m.EntityName, m.AuditTable, m.IDMapper, ""),
		RevisionPropertyPath: revPath,
		OriginalIDProperty:   r.cfg.OriginalIDProp(),
		Alias1:               entityAlias,
		Alias2:               entityAlias2,
		Inclusive:            true,
		ByTimestamp:          byTime,
	})
	if err != nil {
		return nil, err
	}
	revType := query.Path(entityAlias, r.cfg.RevisionTypeProp())
	valid.AddWhereWithNamedParam(revType, false, "!=", relation.DelRevisionTypeParameter)

	if removed != nil {
		removed.AddWhereWithNamedParam(query.Path(entityAlias, revPath), false, "=", strategy.RevisionParameter)
		removed.AddWhereWithNamedParam(revType, false, "=", relation.DelRevisionTypeParameter)
	}
	return qb, nil
}

// revisionsQuery 实体全部审计行的修订号，升序
func (r *Reader) revisionsQuery(m *audit.EntityMapping, id any) (string, []any, error) {
	qb := query.NewBuilder(m.AuditTable, entityAlias)
	qb.AddProjection("", entityAlias, r.cfg.RevisionNumberPath(), false)
	if err := m.IDMapper.AddIDEqualsToQuery(qb.RootParameters(), id, query.Path(entityAlias, r.cfg.OriginalIDProp()), true); err != nil {
		return "", nil, err
	}
	qb.AddOrder(entityAlias, r.cfg.RevisionNumberPath(), true)
	text, values := qb.Build()
	return bindNamed(text, values)
}

func (r *Reader) querySnapshots(ctx context.Context, m *audit.EntityMapping, id any, qb *query.Builder, at point) ([]*Snapshot, error) {
	text, values := qb.Build()
	values[strategy.RevisionParameter] = at.revision
	if at.byTime {
		values[strategy.RevisionTimestampParameter] = at.timestamp
	}
	values[relation.DelRevisionTypeParameter] = int(audit.RevisionDel)
	q, args, err := bindNamed(text, values)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取审计行: "+m.AuditTable)
	}
	records, err := core.ScanRecords(rows)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取审计行: "+m.AuditTable)
	}

	out := make([]*Snapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, r.snapshot(m, id, rec))
	}
	return out, nil
}

func (r *Reader) snapshot(m *audit.EntityMapping, id any, rec core.Record) *Snapshot {
	s := &Snapshot{EntityName: m.EntityName, ID: id, Data: make(map[string]any, len(m.Properties))}
	s.Revision, _ = rec.Int64(r.cfg.RevisionFieldName)
	if v, ok := rec.Get(r.cfg.RevisionTypeFieldName); ok {
		s.RevisionType, _ = audit.RevisionTypeOf(v)
	}
	for _, p := range m.Properties {
		if v, ok := rec.Get(p); ok {
			s.Data[p] = v
		}
	}
	return s
}
