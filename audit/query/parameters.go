package query

import (
	"fmt"
	"strings"
)

// 条件组连接词
const (
	And = "and"
	Or  = "or"
)

// Parameters AND/OR 条件组。
//
// 渲染顺序：本组表达式、非空子组 "(...)"、非空取反组 "not (...)"，以连接词拼接。
type Parameters struct {
	alias      string
	connective string
	counter    *int

	expressions []string
	subs        []*Parameters
	negated     []*Parameters
	values      map[string]any
}

func newParameters(alias, connective string, counter *int) *Parameters {
	return &Parameters{
		alias:      alias,
		connective: connective,
		counter:    counter,
		values:     make(map[string]any),
	}
}

// Connective 连接词
func (p *Parameters) Connective() string { return p.connective }

// AddSubParameters 连接词相同则返回自身，否则创建并返回新的子组
func (p *Parameters) AddSubParameters(connective string) *Parameters {
	if connective == p.connective {
		return p
	}
	sub := newParameters(p.alias, connective, p.counter)
	p.subs = append(p.subs, sub)
	return sub
}

// AddNegatedParameters 创建取反的 AND 子组
func (p *Parameters) AddNegatedParameters() *Parameters {
	neg := newParameters(p.alias, And, p.counter)
	p.negated = append(p.negated, neg)
	return neg
}

func (p *Parameters) withAlias(property string, addAlias bool) string {
	if addAlias {
		return Path(p.alias, property)
	}
	return property
}

func (p *Parameters) nextParam() string {
	name := fmt.Sprintf("_p%d", *p.counter)
	*p.counter++
	return name
}

// AddWhere 追加 "left op right"，两侧可分别加上组别名前缀
func (p *Parameters) AddWhere(left string, addAliasLeft bool, op, right string, addAliasRight bool) {
	p.expressions = append(p.expressions,
		p.withAlias(left, addAliasLeft)+" "+op+" "+p.withAlias(right, addAliasRight))
}

// AddWhereWithParam 追加与自动命名参数（:_pN）比较的条件
func (p *Parameters) AddWhereWithParam(left string, addAlias bool, op string, value any) {
	name := p.nextParam()
	p.values[name] = value
	p.expressions = append(p.expressions, p.withAlias(left, addAlias)+" "+op+" :"+name)
}

// AddWhereWithNamedParam 追加与调用方命名参数比较的条件，取值在执行时绑定
func (p *Parameters) AddWhereWithNamedParam(left string, addAlias bool, op, paramName string) {
	p.expressions = append(p.expressions, p.withAlias(left, addAlias)+" "+op+" :"+paramName)
}

// AddWhereWithParams 追加列表条件，例如 ("REVTYPE", true, "in (", values, ")")
func (p *Parameters) AddWhereWithParams(left string, addAlias bool, opStart string, values []any, opEnd string) {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = ":" + p.nextParam()
		p.values[names[i][1:]] = v
	}
	p.expressions = append(p.expressions,
		p.withAlias(left, addAlias)+" "+opStart+strings.Join(names, ", ")+opEnd)
}

// AddWhereSubQuery 追加 "left op (子查询)"，子查询立即渲染，其参数取值并入本组
func (p *Parameters) AddWhereSubQuery(left string, addAlias bool, op string, sub *Builder) {
	var sb strings.Builder
	sub.build(&sb, p.values)
	p.expressions = append(p.expressions, p.withAlias(left, addAlias)+" "+op+" ("+sb.String()+")")
}

// AddNullRestriction 追加 "x is null"
func (p *Parameters) AddNullRestriction(property string, addAlias bool) {
	p.AddWhere(property, addAlias, "is", "null", false)
}

// AddNotNullRestriction 追加 "x is not null"
func (p *Parameters) AddNotNullRestriction(property string, addAlias bool) {
	p.AddWhere(property, addAlias, "is not", "null", false)
}

// IsEmpty 本组及所有子组均无表达式
func (p *Parameters) IsEmpty() bool {
	if len(p.expressions) > 0 {
		return false
	}
	for _, s := range p.subs {
		if !s.IsEmpty() {
			return false
		}
	}
	for _, n := range p.negated {
		if !n.IsEmpty() {
			return false
		}
	}
	return true
}

// DeepCopy 结构独立的副本，计数器按值复制
func (p *Parameters) DeepCopy() *Parameters {
	counter := *p.counter
	return p.deepCopy(&counter)
}

func (p *Parameters) deepCopy(counter *int) *Parameters {
	cp := &Parameters{
		alias:       p.alias,
		connective:  p.connective,
		counter:     counter,
		expressions: append([]string(nil), p.expressions...),
		values:      make(map[string]any, len(p.values)),
	}
	for k, v := range p.values {
		cp.values[k] = v
	}
	for _, s := range p.subs {
		cp.subs = append(cp.subs, s.deepCopy(counter))
	}
	for _, n := range p.negated {
		cp.negated = append(cp.negated, n.deepCopy(counter))
	}
	return cp
}

// Build 渲染条件文本并收集参数取值
func (p *Parameters) Build() (string, map[string]any) {
	values := make(map[string]any)
	var sb strings.Builder
	p.build(&sb, values)
	return sb.String(), values
}

func (p *Parameters) build(sb *strings.Builder, values map[string]any) {
	sep := " " + p.connective + " "
	first := true
	next := func() {
		if !first {
			sb.WriteString(sep)
		}
		first = false
	}

	for _, e := range p.expressions {
		next()
		sb.WriteString(e)
	}
	for _, s := range p.subs {
		if s.IsEmpty() {
			continue
		}
		next()
		sb.WriteByte('(')
		s.build(sb, values)
		sb.WriteByte(')')
	}
	for _, n := range p.negated {
		if n.IsEmpty() {
			continue
		}
		next()
		sb.WriteString("not (")
		n.build(sb, values)
		sb.WriteByte(')')
	}

	for k, v := range p.values {
		values[k] = v
	}
}
