package mapper

import (
	"revaudit/audit/query"
)

// MiddleIDData 中间表中某一侧实体的标识数据
type MiddleIDData struct {
	// OriginalMapper 实体自身审计表中的标识属性，例如 id
	OriginalMapper IDMapper
	// PrefixedMapper 中间表中的标识列，例如 Person_id
	PrefixedMapper IDMapper
	// EntityName 实体名
	EntityName string
	// AuditEntityName 实体审计表名，例如 Person_AUD；值集合时为空
	AuditEntityName string
}

// NewMiddleIDData 以 prefix 为中间表列前缀构造标识数据
func NewMiddleIDData(entityName, auditEntityName string, original IDMapper, prefix string) MiddleIDData {
	return MiddleIDData{
		OriginalMapper:  original,
		PrefixedMapper:  original.Prefixed(prefix),
		EntityName:      entityName,
		AuditEntityName: auditEntityName,
	}
}

// MiddleComponentMapper 中间表中除两侧标识之外的组成部分（索引列、map key 等）
type MiddleComponentMapper interface {
	// AddMiddleEqualToQuery 追加两行中间表记录该组成部分相等的条件
	AddMiddleEqualToQuery(params *query.Parameters, idPrefix1, prefix1, idPrefix2, prefix2 string) error
	// MapToValues 将组成部分的取值展开为列 -> 取值，用于写入审计行
	MapToValues(value any) (map[string]any, error)
}

// MiddleComponentData 组成部分映射器及其在结果中的位置
type MiddleComponentData struct {
	Mapper         MiddleComponentMapper
	ComponentIndex int
}

// SimpleComponentMapper 单列组成部分，列位于中间表标识中
type SimpleComponentMapper struct {
	PropertyName string
}

func (m SimpleComponentMapper) AddMiddleEqualToQuery(params *query.Parameters, idPrefix1, _, idPrefix2, _ string) error {
	params.AddWhere(query.Path(idPrefix1, m.PropertyName), false, "=", query.Path(idPrefix2, m.PropertyName), false)
	return nil
}

func (m SimpleComponentMapper) MapToValues(value any) (map[string]any, error) {
	return map[string]any{m.PropertyName: value}, nil
}

// RelatedIDComponentMapper 组成部分为关联实体的标识（如以实体为 key 的 map）
type RelatedIDComponentMapper struct {
	RelatedIDData MiddleIDData
}

func (m RelatedIDComponentMapper) AddMiddleEqualToQuery(params *query.Parameters, idPrefix1, _, idPrefix2, _ string) error {
	return m.RelatedIDData.PrefixedMapper.AddIDsEqualToQuery(params, idPrefix1, nil, idPrefix2)
}

func (m RelatedIDComponentMapper) MapToValues(value any) (map[string]any, error) {
	return m.RelatedIDData.PrefixedMapper.MapToValues(value)
}

// DummyComponentMapper 无组成部分
type DummyComponentMapper struct{}

func (DummyComponentMapper) AddMiddleEqualToQuery(*query.Parameters, string, string, string, string) error {
	return nil
}

func (DummyComponentMapper) MapToValues(any) (map[string]any, error) {
	return map[string]any{}, nil
}
