// Package relation 生成读取中间表（及其关联的被审计实体）在某修订下状态的查询
//
// 每个生成器在构造时生成两条查询并在此后保持不变：
//   - 有效数据查询：中间表行与每个关联实体行都在 :revision 有效且未被删除；
//   - 有效或恰在 :revision 被删除的查询：用于差异/审计轨迹视图。
package relation

import (
	"strings"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/query"
	"revaudit/audit/strategy"
	"revaudit/errors"
)

// 查询文本中的命名参数
const (
	RevisionParameter        = strategy.RevisionParameter
	DelRevisionTypeParameter = "delRevisionType"
	ReferencingIDParameter   = "id_ref_ing"
)

// 查询别名
const (
	MiddleEntityAlias      = "ee"
	ReferencedEntityAlias  = "e"
	IndexEntityAlias       = "f"
	MiddleEntityAlias2     = strategy.MiddleAlias2
	ReferencedEntityAlias2 = "e2"
	IndexEntityAlias2      = "f2"
)

// RelationQueryGenerator 关系查询生成器
type RelationQueryGenerator interface {
	// Query 返回有效数据查询；removed 为 true 时返回包含恰在 :revision 被删除行的查询
	Query(removed bool) string
	// Parameters 返回执行查询所需的命名参数取值
	Parameters(referencingID any, revision int64) (map[string]any, error)
	// NativeSQL 查询文本是否为可直接执行的 SQL
	NativeSQL() bool
}

// joinedEntity 与中间表关联的一个被审计实体
type joinedEntity struct {
	alias  string
	alias2 string
	idData mapper.MiddleIDData
}

// restrictionPlan 生成两条查询的共享描述；增加一个关联层级只需增加一个 joinedEntity
type restrictionPlan struct {
	cfg           audit.Config
	strategy      strategy.AuditStrategy
	middleEntity  string
	referencingID mapper.MiddleIDData
	joins         []joinedEntity
	components    []mapper.MiddleComponentData
}

func (p *restrictionPlan) eeOriginalID() string {
	return query.Path(MiddleEntityAlias, p.cfg.OriginalIDProp())
}

// commonPart 两条查询共享的前缀：
//
//	select ee[, e[, f]] from Middle ee[, E e[, F f]]
//	where ee.originalId.id_ref_ed = e.originalId.id ... and ee.originalId.id_ref_ing = :id_ref_ing
func (p *restrictionPlan) commonPart() (*query.Builder, error) {
	qb := query.NewBuilder(p.middleEntity, MiddleEntityAlias)
	aliases := []string{MiddleEntityAlias}
	for _, j := range p.joins {
		qb.AddFrom(j.idData.AuditEntityName, j.alias)
		aliases = append(aliases, j.alias)
	}

	switch {
	case p.cfg.NativeSQL:
		cols := make([]string, len(aliases))
		for i, a := range aliases {
			cols[i] = a + ".*"
		}
		qb.AddProjection("", strings.Join(cols, ", "), "", false)
	case len(p.joins) > 0:
		qb.AddProjection("new list", strings.Join(aliases, ", "), "", false)
	}

	root := qb.RootParameters()
	for _, j := range p.joins {
		if err := j.idData.PrefixedMapper.AddIDsEqualToQuery(root, p.eeOriginalID(),
			j.idData.OriginalMapper, query.Path(j.alias, p.cfg.OriginalIDProp())); err != nil {
			return nil, err
		}
	}
	p.referencingID.PrefixedMapper.AddNamedIDEqualsToQuery(root, p.eeOriginalID(), ReferencingIDParameter, true)
	return qb, nil
}

// validRestrictions 每个关联实体与中间表在 :revision 有效，且修订类型均不是删除
func (p *restrictionPlan) validRestrictions(qb *query.Builder, params *query.Parameters, inclusive bool) error {
	revPath := p.cfg.RevisionNumberPath()
	origID := p.cfg.OriginalIDProp()

	for _, j := range p.joins {
		if err := p.strategy.AddEntityAtRevisionRestriction(strategy.EntityRestriction{
			Builder:              qb,
			Parameters:           params,
			RevisionProperty:     query.Path(j.alias, revPath),
			RevisionEndProperty:  query.Path(j.alias, p.cfg.RevisionEndPath()),
			IDData:               j.idData,
			RevisionPropertyPath: revPath,
			OriginalIDProperty:   origID,
			Alias1:               j.alias,
			Alias2:               j.alias2,
			Inclusive:            inclusive,
		}); err != nil {
			return err
		}
	}

	if err := p.strategy.AddAssociationAtRevisionRestriction(strategy.AssociationRestriction{
		Builder:                  qb,
		Parameters:               params,
		RevisionProperty:         revPath,
		RevisionEndProperty:      p.cfg.RevisionEndPath(),
		AddAlias:                 true,
		ReferencingIDData:        p.referencingID,
		MiddleEntityName:         p.middleEntity,
		EEOriginalIDPropertyPath: p.eeOriginalID(),
		RevisionPropertyPath:     revPath,
		OriginalIDProperty:       origID,
		Alias1:                   MiddleEntityAlias,
		Inclusive:                inclusive,
		Components:               p.components,
	}); err != nil {
		return err
	}

	// ee.REVTYPE != :delRevisionType，e.REVTYPE != :delRevisionType ...
	revType := p.cfg.RevisionTypeProp()
	params.AddWhereWithNamedParam(revType, true, "!=", DelRevisionTypeParameter)
	for _, j := range p.joins {
		params.AddWhereWithNamedParam(query.Path(j.alias, revType), false, "!=", DelRevisionTypeParameter)
	}
	return nil
}

// removedRestrictions (有效数据条件) or (各表修订号 = :revision 且修订类型为删除)
func (p *restrictionPlan) removedRestrictions(qb *query.Builder) error {
	disjoint := qb.RootParameters().AddSubParameters(query.Or)
	valid := disjoint.AddSubParameters(query.And)
	removed := disjoint.AddSubParameters(query.And)

	if err := p.validRestrictions(qb, valid, true); err != nil {
		return err
	}

	revPath := p.cfg.RevisionNumberPath()
	revType := p.cfg.RevisionTypeProp()
	removed.AddWhereWithNamedParam(query.Path(MiddleEntityAlias, revPath), false, "=", RevisionParameter)
	for _, j := range p.joins {
		removed.AddWhereWithNamedParam(query.Path(j.alias, revPath), false, "=", RevisionParameter)
	}
	removed.AddWhereWithNamedParam(revType, true, "=", DelRevisionTypeParameter)
	for _, j := range p.joins {
		removed.AddWhereWithNamedParam(query.Path(j.alias, revType), false, "=", DelRevisionTypeParameter)
	}
	return nil
}

func (p *restrictionPlan) validate() error {
	if p.strategy == nil {
		return errors.NewMappingError("中间表 %s 未配置审计策略", p.middleEntity)
	}
	if p.middleEntity == "" {
		return errors.NewMappingError("关系查询缺少中间表名")
	}
	if p.referencingID.PrefixedMapper == nil {
		return errors.NewMappingError("中间表 %s 缺少拥有方标识映射", p.middleEntity)
	}
	for _, j := range p.joins {
		if j.idData.AuditEntityName == "" || j.idData.OriginalMapper == nil || j.idData.PrefixedMapper == nil {
			return errors.NewMappingError("中间表 %s 关联的实体 %s 缺少审计表或标识映射",
				p.middleEntity, j.idData.EntityName)
		}
	}
	for i, c := range p.components {
		if c.Mapper == nil {
			return errors.NewMappingError("中间表 %s 的第 %d 个组成部分缺少映射器", p.middleEntity, i)
		}
	}
	return nil
}

// generator 保存构造时生成的两条查询
type generator struct {
	native        bool
	referencingID mapper.IDMapper
	query         string
	queryRemoved  string
}

func newGenerator(p restrictionPlan) (generator, error) {
	if err := p.validate(); err != nil {
		return generator{}, err
	}
	fail := func(err error) (generator, error) {
		return generator{}, errors.WrapError(errors.Normalize(err), errors.ErrCodeMapping,
			"生成中间表 "+p.middleEntity+" 的关系查询失败")
	}

	common, err := p.commonPart()
	if err != nil {
		return fail(err)
	}
	valid := common.DeepCopy()
	removed := common.DeepCopy()
	if err := p.validRestrictions(valid, valid.RootParameters(), true); err != nil {
		return fail(err)
	}
	if err := p.removedRestrictions(removed); err != nil {
		return fail(err)
	}

	return generator{
		native:        p.cfg.NativeSQL,
		referencingID: p.referencingID.PrefixedMapper,
		query:         valid.String(),
		queryRemoved:  removed.String(),
	}, nil
}

func (g generator) Query(removed bool) string {
	if removed {
		return g.queryRemoved
	}
	return g.query
}

func (g generator) Parameters(referencingID any, revision int64) (map[string]any, error) {
	values, err := g.referencingID.NamedValues(ReferencingIDParameter, referencingID)
	if err != nil {
		return nil, err
	}
	values[RevisionParameter] = revision
	values[DelRevisionTypeParameter] = int(audit.RevisionDel)
	return values, nil
}

func (g generator) NativeSQL() bool { return g.native }
