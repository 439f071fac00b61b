package relation

import (
	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/strategy"
)

// OneEntityQueryGenerator 只读取中间表，元素为值（非实体）
type OneEntityQueryGenerator struct {
	generator
}

// NewOneEntityQueryGenerator 创建单表生成器
func NewOneEntityQueryGenerator(cfg audit.Config, s strategy.AuditStrategy, middleEntity string,
	referencingID mapper.MiddleIDData, components ...mapper.MiddleComponentData) (*OneEntityQueryGenerator, error) {
	g, err := newGenerator(restrictionPlan{
		cfg:           cfg,
		strategy:      s,
		middleEntity:  middleEntity,
		referencingID: referencingID,
		components:    components,
	})
	if err != nil {
		return nil, err
	}
	return &OneEntityQueryGenerator{generator: g}, nil
}

// TwoEntityQueryGenerator 读取中间表及其引用的被审计实体
type TwoEntityQueryGenerator struct {
	generator
}

// NewTwoEntityQueryGenerator 创建两表生成器
func NewTwoEntityQueryGenerator(cfg audit.Config, s strategy.AuditStrategy, middleEntity string,
	referencingID, referencedID mapper.MiddleIDData, components ...mapper.MiddleComponentData) (*TwoEntityQueryGenerator, error) {
	g, err := newGenerator(restrictionPlan{
		cfg:           cfg,
		strategy:      s,
		middleEntity:  middleEntity,
		referencingID: referencingID,
		joins: []joinedEntity{
			{alias: ReferencedEntityAlias, alias2: ReferencedEntityAlias2, idData: referencedID},
		},
		components: components,
	})
	if err != nil {
		return nil, err
	}
	return &TwoEntityQueryGenerator{generator: g}, nil
}

// ThreeEntityQueryGenerator 读取中间表、引用的实体以及作为 map key 的索引实体
type ThreeEntityQueryGenerator struct {
	generator
}

// NewThreeEntityQueryGenerator 创建三表生成器
func NewThreeEntityQueryGenerator(cfg audit.Config, s strategy.AuditStrategy, middleEntity string,
	referencingID, referencedID, indexID mapper.MiddleIDData, components ...mapper.MiddleComponentData) (*ThreeEntityQueryGenerator, error) {
	g, err := newGenerator(restrictionPlan{
		cfg:           cfg,
		strategy:      s,
		middleEntity:  middleEntity,
		referencingID: referencingID,
		joins: []joinedEntity{
			{alias: ReferencedEntityAlias, alias2: ReferencedEntityAlias2, idData: referencedID},
			{alias: IndexEntityAlias, alias2: IndexEntityAlias2, idData: indexID},
		},
		components: components,
	})
	if err != nil {
		return nil, err
	}
	return &ThreeEntityQueryGenerator{generator: g}, nil
}

// ForCollection 按集合映射选择生成器
func ForCollection(cfg audit.Config, s strategy.AuditStrategy, m *audit.CollectionMapping) (RelationQueryGenerator, error) {
	var components []mapper.MiddleComponentData
	if m.ReferencesEntity() {
		components = append(components, mapper.MiddleComponentData{
			Mapper: mapper.RelatedIDComponentMapper{RelatedIDData: m.ElementID},
		})
	} else if m.ElementID.PrefixedMapper != nil {
		for _, prop := range m.ElementID.PrefixedMapper.Properties() {
			components = append(components, mapper.MiddleComponentData{
				Mapper: mapper.SimpleComponentMapper{PropertyName: prop},
			})
		}
	}
	if m.IndexID != nil {
		components = append(components, mapper.MiddleComponentData{
			Mapper: mapper.RelatedIDComponentMapper{RelatedIDData: *m.IndexID},
		})
	}
	components = append(components, m.Components...)

	switch {
	case m.ReferencesEntity() && m.IndexID != nil && m.IndexID.AuditEntityName != "":
		return NewThreeEntityQueryGenerator(cfg, s, m.MiddleEntity, m.ReferencingID, m.ElementID, *m.IndexID, components...)
	case m.ReferencesEntity():
		return NewTwoEntityQueryGenerator(cfg, s, m.MiddleEntity, m.ReferencingID, m.ElementID, components...)
	default:
		return NewOneEntityQueryGenerator(cfg, s, m.MiddleEntity, m.ReferencingID, components...)
	}
}
