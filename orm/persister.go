package orm

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	core "revaudit/data/db"
	"revaudit/errors"
)

// EntityWriter 实体行的持久化实现
type EntityWriter interface {
	Insert(ctx context.Context, db core.IDatabase, id any, state map[string]any) error
	Update(ctx context.Context, db core.IDatabase, id any, state map[string]any) error
	Delete(ctx context.Context, db core.IDatabase, id any) error
	// Load 读取实体状态，不存在时返回 ErrNotFound
	Load(ctx context.Context, db core.IDatabase, id any) (map[string]any, error)
}

// CollectionWriter 集合元素（中间表行）的持久化实现
type CollectionWriter interface {
	InsertElements(ctx context.Context, db core.IDatabase, ownerID any, elements []any) error
	DeleteElements(ctx context.Context, db core.IDatabase, ownerID any, elements []any) error
}

// CollectionRole 实体上的一个集合属性
type CollectionRole struct {
	// Role 全局唯一的角色名，通常为 Owner.property
	Role string
	// Elements 返回集合当前的元素（关联实体的标识或值）
	Elements func(entity any) []any
	Writer   CollectionWriter
}

// EntityPersister 实体的映射描述
type EntityPersister struct {
	Name string
	// Type 实体的指针类型，例如 reflect.TypeOf(&Person{})
	Type  reflect.Type
	Table string
	// ID 返回实体标识；标识由应用赋值
	ID func(entity any) any
	// State 返回实体当前的列状态，不含标识列
	State       func(entity any) map[string]any
	Collections []CollectionRole
	// New 与 Hydrate 用于从存储加载实体
	New     func() any
	Hydrate func(entity any, id any, state map[string]any) error
	Writer  EntityWriter
}

// Registry 实体映射注册表，启动期登记，此后只读
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*EntityPersister
	byType map[reflect.Type]*EntityPersister
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*EntityPersister),
		byType: make(map[reflect.Type]*EntityPersister),
	}
}

// Register 登记实体映射
func (r *Registry) Register(p *EntityPersister) error {
	if p == nil || p.Name == "" {
		return errors.NewMappingError("实体映射缺少实体名")
	}
	if p.Type == nil || p.ID == nil || p.State == nil {
		return errors.NewMappingError("实体 %s 的映射缺少类型、标识或状态访问器", p.Name)
	}
	if p.Type.Kind() != reflect.Pointer {
		return errors.NewMappingError("实体 %s 的类型必须是指针类型，实际为 %s", p.Name, p.Type)
	}
	for _, c := range p.Collections {
		if c.Role == "" || c.Elements == nil {
			return errors.NewMappingError("实体 %s 的集合缺少角色名或元素访问器", p.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[p.Name]; ok {
		return errors.NewMappingError("实体 %s 重复登记", p.Name)
	}
	r.byName[p.Name] = p
	r.byType[p.Type] = p
	return nil
}

// Persister 按实体名查找
func (r *Registry) Persister(name string) (*EntityPersister, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return p, nil
}

// ForEntity 按实体的运行时类型查找
func (r *Registry) ForEntity(entity any) (*EntityPersister, error) {
	t := reflect.TypeOf(entity)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEntity, t)
	}
	return p, nil
}

// idKey 标识的比较键；map 形式的组合标识按键排序输出，结果稳定
func idKey(id any) string {
	return fmt.Sprintf("%v", id)
}
