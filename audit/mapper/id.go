// Package mapper 描述实体标识与中间表组件如何映射到审计查询的属性路径与列取值
package mapper

import (
	stdErrors "errors"
	"fmt"

	"revaudit/audit/query"
	"revaudit/errors"
)

// ErrArity 两侧标识属性数量不一致，属于映射配置错误
var ErrArity = stdErrors.New("mapper: id arity mismatch")

func init() {
	errors.Register(ErrArity, errors.ErrCodeMapping, "标识映射属性数量不一致")
}

// IDMapper 标识映射器
type IDMapper interface {
	// Properties 返回（可能带前缀的）属性名/列名，顺序稳定
	Properties() []string
	// Prefixed 返回所有属性加上前缀的映射器，例如中间表中的 Person_id；
	// 已带前缀的映射器再次加前缀时，新前缀位于最前
	Prefixed(prefix string) IDMapper
	// MapToValues 将标识值展开为 属性名 -> 取值
	MapToValues(id any) (map[string]any, error)
	// AddIDEqualsToQuery 追加 prefix.prop = :_pN 条件（equals=false 时为不等）
	AddIDEqualsToQuery(params *query.Parameters, id any, prefix string, equals bool) error
	// AddIDsEqualToQuery 追加 prefix1.p = prefix2.q 条件；other 为 nil 时两侧使用同一映射器
	AddIDsEqualToQuery(params *query.Parameters, prefix1 string, other IDMapper, prefix2 string) error
	// AddNamedIDEqualsToQuery 追加与命名参数比较的条件，参数名见 NamedValues
	AddNamedIDEqualsToQuery(params *query.Parameters, prefix, paramName string, equals bool)
	// NamedValues 返回 AddNamedIDEqualsToQuery 所用命名参数的取值
	NamedValues(paramName string, id any) (map[string]any, error)
}

// SingleIDMapper 单属性标识
type SingleIDMapper struct {
	property string
	original string
}

// NewSingleIDMapper 创建单属性标识映射器
func NewSingleIDMapper(property string) *SingleIDMapper {
	return &SingleIDMapper{property: property, original: property}
}

func (m *SingleIDMapper) Properties() []string { return []string{m.property} }

func (m *SingleIDMapper) Prefixed(prefix string) IDMapper {
	return &SingleIDMapper{property: prefix + m.property, original: m.original}
}

func (m *SingleIDMapper) MapToValues(id any) (map[string]any, error) {
	if id == nil {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "标识 %s 不能为空", m.property)
	}
	if values, ok := id.(map[string]any); ok {
		v, ok := values[m.original]
		if !ok {
			return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "标识缺少属性 %s", m.original)
		}
		id = v
	}
	return map[string]any{m.property: id}, nil
}

func (m *SingleIDMapper) AddIDEqualsToQuery(params *query.Parameters, id any, prefix string, equals bool) error {
	values, err := m.MapToValues(id)
	if err != nil {
		return err
	}
	params.AddWhereWithParam(query.Path(prefix, m.property), false, op(equals), values[m.property])
	return nil
}

func (m *SingleIDMapper) AddIDsEqualToQuery(params *query.Parameters, prefix1 string, other IDMapper, prefix2 string) error {
	return addIDsEqual(params, m, prefix1, other, prefix2)
}

func (m *SingleIDMapper) AddNamedIDEqualsToQuery(params *query.Parameters, prefix, paramName string, equals bool) {
	params.AddWhereWithNamedParam(query.Path(prefix, m.property), false, op(equals), paramName)
}

func (m *SingleIDMapper) NamedValues(paramName string, id any) (map[string]any, error) {
	values, err := m.MapToValues(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{paramName: values[m.property]}, nil
}

// CompositeIDMapper 多属性标识，标识值以 map[string]any（原始属性名 -> 取值）传入
type CompositeIDMapper struct {
	originals []string
	prefix    string
}

// NewCompositeIDMapper 创建组合标识映射器
func NewCompositeIDMapper(properties ...string) *CompositeIDMapper {
	return &CompositeIDMapper{originals: append([]string(nil), properties...)}
}

func (m *CompositeIDMapper) Properties() []string {
	out := make([]string, len(m.originals))
	for i, p := range m.originals {
		out[i] = m.prefix + p
	}
	return out
}

func (m *CompositeIDMapper) Prefixed(prefix string) IDMapper {
	return &CompositeIDMapper{originals: m.originals, prefix: prefix + m.prefix}
}

func (m *CompositeIDMapper) MapToValues(id any) (map[string]any, error) {
	values, ok := id.(map[string]any)
	if !ok {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput,
			"组合标识需要 map[string]any，实际为 %T", id)
	}
	out := make(map[string]any, len(m.originals))
	for _, p := range m.originals {
		v, ok := values[p]
		if !ok {
			return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "组合标识缺少属性 %s", p)
		}
		out[m.prefix+p] = v
	}
	return out, nil
}

func (m *CompositeIDMapper) AddIDEqualsToQuery(params *query.Parameters, id any, prefix string, equals bool) error {
	values, err := m.MapToValues(id)
	if err != nil {
		return err
	}
	target := params
	if !equals {
		target = params.AddSubParameters(query.Or)
	}
	for _, p := range m.Properties() {
		target.AddWhereWithParam(query.Path(prefix, p), false, op(equals), values[p])
	}
	return nil
}

func (m *CompositeIDMapper) AddIDsEqualToQuery(params *query.Parameters, prefix1 string, other IDMapper, prefix2 string) error {
	return addIDsEqual(params, m, prefix1, other, prefix2)
}

func (m *CompositeIDMapper) AddNamedIDEqualsToQuery(params *query.Parameters, prefix, paramName string, equals bool) {
	target := params
	if !equals {
		target = params.AddSubParameters(query.Or)
	}
	props := m.Properties()
	for i, p := range props {
		target.AddWhereWithNamedParam(query.Path(prefix, p), false, op(equals), paramName+"_"+m.originals[i])
	}
}

func (m *CompositeIDMapper) NamedValues(paramName string, id any) (map[string]any, error) {
	values, err := m.MapToValues(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.originals))
	for _, p := range m.originals {
		out[paramName+"_"+p] = values[m.prefix+p]
	}
	return out, nil
}

func addIDsEqual(params *query.Parameters, self IDMapper, prefix1 string, other IDMapper, prefix2 string) error {
	if other == nil {
		other = self
	}
	left, right := self.Properties(), other.Properties()
	if len(left) != len(right) {
		return fmt.Errorf("%w: %v 与 %v", ErrArity, left, right)
	}
	for i := range left {
		params.AddWhere(query.Path(prefix1, left[i]), false, "=", query.Path(prefix2, right[i]), false)
	}
	return nil
}

func op(equals bool) string {
	if equals {
		return "="
	}
	return "<>"
}
