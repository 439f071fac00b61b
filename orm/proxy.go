package orm

import "context"

// LazyInitializer 延迟代理的加载器，持有实体名与标识，首次访问时从会话加载
type LazyInitializer struct {
	entityName string
	id         any
	session    *Session
	target     any
}

func (l *LazyInitializer) EntityName() string { return l.entityName }
func (l *LazyInitializer) Identifier() any    { return l.id }

// IsUninitialized 目标实体尚未加载
func (l *LazyInitializer) IsUninitialized() bool { return l.target == nil }

// Initialize 加载目标实体，已加载时直接返回
func (l *LazyInitializer) Initialize(ctx context.Context) (any, error) {
	if l.target != nil {
		return l.target, nil
	}
	entity, err := l.session.Get(ctx, l.entityName, l.id)
	if err != nil {
		return nil, err
	}
	l.target = entity
	return entity, nil
}

// Implementation 已加载的目标实体，未加载时为 nil
func (l *LazyInitializer) Implementation() any { return l.target }

// Proxy 延迟加载的实体引用
type Proxy struct {
	initializer *LazyInitializer
}

func (p *Proxy) LazyInitializer() *LazyInitializer { return p.initializer }

// RefKind 实体引用的形态
type RefKind int

const (
	RefDirect RefKind = iota
	RefProxy
)

// EntityRef 实体引用：直接实体或延迟代理
type EntityRef struct {
	kind   RefKind
	entity any
	proxy  *Proxy
}

func DirectRef(entity any) EntityRef { return EntityRef{kind: RefDirect, entity: entity} }
func ProxyRef(p *Proxy) EntityRef    { return EntityRef{kind: RefProxy, proxy: p} }

// RefOf 根据值的形态构造引用
func RefOf(v any) EntityRef {
	if p, ok := v.(*Proxy); ok {
		return ProxyRef(p)
	}
	return DirectRef(v)
}

func (r EntityRef) Kind() RefKind { return r.kind }
func (r EntityRef) Entity() any   { return r.entity }
func (r EntityRef) Proxy() *Proxy { return r.proxy }
