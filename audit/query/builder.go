// Package query 提供审计查询使用的小型查询 AST：投影、from 列表与 AND/OR 条件树。
//
// 生成的文本既可以是对象查询语言（别名.属性路径），也可以直接是 SQL（别名.列名），
// 取决于调用方传入的属性路径；命名参数统一写作 :name，由 BindNamed 转为占位符。
package query

import (
	"fmt"
	"strings"
)

type from struct {
	entityName string
	alias      string
}

// Builder 查询构建器
//
// 同一棵查询（含子查询）共享别名与参数计数器，保证生成的 _eN/_pN 名字唯一；
// DeepCopy 得到的副本拥有独立的计数器与条件树。
type Builder struct {
	entityName string
	alias      string

	froms       []from
	projections []string
	orders      []string
	root        *Parameters

	aliasCounter *int
	paramCounter *int
}

// NewBuilder 创建查询构建器，entityName 为主实体（表），alias 为其别名
func NewBuilder(entityName, alias string) *Builder {
	var aliasCounter, paramCounter int
	return newBuilder(entityName, alias, &aliasCounter, &paramCounter)
}

func newBuilder(entityName, alias string, aliasCounter, paramCounter *int) *Builder {
	return &Builder{
		entityName:   entityName,
		alias:        alias,
		froms:        []from{{entityName: entityName, alias: alias}},
		root:         newParameters(alias, And, paramCounter),
		aliasCounter: aliasCounter,
		paramCounter: paramCounter,
	}
}

// NewSubBuilder 创建共享计数器的子查询构建器
func (b *Builder) NewSubBuilder(entityName, alias string) *Builder {
	return newBuilder(entityName, alias, b.aliasCounter, b.paramCounter)
}

// DeepCopy 结构上完全独立的副本，修改副本不会影响原对象
func (b *Builder) DeepCopy() *Builder {
	aliasCounter := *b.aliasCounter
	paramCounter := *b.paramCounter

	return &Builder{
		entityName:   b.entityName,
		alias:        b.alias,
		froms:        append([]from(nil), b.froms...),
		projections:  append([]string(nil), b.projections...),
		orders:       append([]string(nil), b.orders...),
		root:         b.root.deepCopy(&paramCounter),
		aliasCounter: &aliasCounter,
		paramCounter: &paramCounter,
	}
}

// Alias 主实体别名
func (b *Builder) Alias() string { return b.alias }

// GenerateAlias 生成形如 _e0 的唯一别名
func (b *Builder) GenerateAlias() string {
	alias := fmt.Sprintf("_e%d", *b.aliasCounter)
	*b.aliasCounter++
	return alias
}

// AddFrom 追加 from 项
func (b *Builder) AddFrom(entityName, alias string) {
	b.froms = append(b.froms, from{entityName: entityName, alias: alias})
}

// AddProjection 追加投影。
//
// property 为空时投影 alias 本身；function 非空时渲染为 function(...)。
// 例如 ("max", "e2", "REV", false) 渲染为 max(e2.REV)，("new list", "ee, e", "", false)
// 渲染为 new list(ee, e)。
func (b *Builder) AddProjection(function, alias, property string, distinct bool) {
	target := Path(alias, property)
	if distinct {
		target = "distinct " + target
	}
	if function == "" {
		b.projections = append(b.projections, target)
		return
	}
	b.projections = append(b.projections, function+"("+target+")")
}

// AddOrder 追加排序项
func (b *Builder) AddOrder(alias, property string, ascending bool) {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	b.orders = append(b.orders, Path(alias, property)+" "+dir)
}

// RootParameters 根条件组（AND）
func (b *Builder) RootParameters() *Parameters { return b.root }

// Build 渲染查询文本，并返回自动生成参数（:_pN）的取值
func (b *Builder) Build() (string, map[string]any) {
	values := make(map[string]any)
	var sb strings.Builder
	b.build(&sb, values)
	return sb.String(), values
}

func (b *Builder) build(sb *strings.Builder, values map[string]any) {
	sb.WriteString("select ")
	if len(b.projections) > 0 {
		sb.WriteString(strings.Join(b.projections, ", "))
	} else {
		sb.WriteString(b.alias)
	}

	sb.WriteString(" from ")
	for i, f := range b.froms {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.entityName)
		sb.WriteByte(' ')
		sb.WriteString(f.alias)
	}

	if !b.root.IsEmpty() {
		sb.WriteString(" where ")
		b.root.build(sb, values)
	}

	if len(b.orders) > 0 {
		sb.WriteString(" order by ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
}

// String 仅返回查询文本
func (b *Builder) String() string {
	q, _ := b.Build()
	return q
}

// Path 用 "." 连接非空片段
func Path(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
