package audit

import (
	stdErrors "errors"
	"sort"
	"sync"

	"revaudit/audit/mapper"
	"revaudit/errors"
	"revaudit/validation"
)

// ErrNotAudited 实体或集合未登记为审计对象
var ErrNotAudited = stdErrors.New("audit: entity not audited")

func init() {
	errors.Register(ErrNotAudited, errors.ErrCodeMapping, "实体未配置审计")
}

// EntityMapping 被审计实体的映射
type EntityMapping struct {
	EntityName string
	// AuditTable 为空时按配置的前后缀推导
	AuditTable string
	IDMapper   mapper.IDMapper
	// Properties 被审计的数据列，不含标识列
	Properties []string
}

// IndexedElement 带索引（列表下标或 map key）的集合元素
type IndexedElement struct {
	Index any
	Value any
}

// CollectionMapping 被审计集合（中间表）的映射
type CollectionMapping struct {
	// Role 集合角色，通常为 Owner.property
	Role        string
	OwnerEntity string
	// MiddleEntity 中间表审计实体名，例如 Person_Address_AUD
	MiddleEntity string
	// ReferencingID 中间表中指向拥有方的标识
	ReferencingID mapper.MiddleIDData
	// ElementID 元素标识；AuditEntityName 为空表示值集合
	ElementID mapper.MiddleIDData
	// IndexID 以实体为 key 的 map 集合的 key 标识
	IndexID *mapper.MiddleIDData
	// Components 索引列等附加组成部分
	Components []mapper.MiddleComponentData
}

// ReferencesEntity 元素是否为被审计实体
func (m *CollectionMapping) ReferencesEntity() bool {
	return m.ElementID.AuditEntityName != ""
}

// RowID 计算中间表审计行的原始标识列
func (m *CollectionMapping) RowID(ownerID, element any) (map[string]any, error) {
	out, err := m.ReferencingID.PrefixedMapper.MapToValues(ownerID)
	if err != nil {
		return nil, err
	}
	value, index := element, any(nil)
	if ie, ok := element.(IndexedElement); ok {
		value, index = ie.Value, ie.Index
	}
	if err := merge(out, m.ElementID.PrefixedMapper, value); err != nil {
		return nil, err
	}
	if m.IndexID != nil {
		if err := merge(out, m.IndexID.PrefixedMapper, index); err != nil {
			return nil, err
		}
	}
	for _, c := range m.Components {
		values, err := c.Mapper.MapToValues(index)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			out[k] = v
		}
	}
	return out, nil
}

func merge(dst map[string]any, m mapper.IDMapper, id any) error {
	values, err := m.MapToValues(id)
	if err != nil {
		return err
	}
	for k, v := range values {
		dst[k] = v
	}
	return nil
}

// Configuration 审计元数据注册表，启动期登记，此后只读
type Configuration struct {
	cfg Config

	mu          sync.RWMutex
	entities    map[string]*EntityMapping
	collections map[string]*CollectionMapping
}

// NewConfiguration 校验配置并创建注册表
func NewConfiguration(cfg Config) (*Configuration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Configuration{
		cfg:         cfg,
		entities:    make(map[string]*EntityMapping),
		collections: make(map[string]*CollectionMapping),
	}, nil
}

// Config 返回配置
func (c *Configuration) Config() Config { return c.cfg }

// RegisterEntity 登记被审计实体
func (c *Configuration) RegisterEntity(m EntityMapping) error {
	if !validation.IsIdentifier(m.EntityName) {
		return errors.NewMappingError("实体名不是合法的标识符: %q", m.EntityName)
	}
	if m.IDMapper == nil {
		return errors.NewMappingError("实体 %s 缺少标识映射", m.EntityName)
	}
	if m.AuditTable == "" {
		m.AuditTable = c.cfg.AuditEntityName(m.EntityName)
	}
	names := append([]string{m.AuditTable}, m.IDMapper.Properties()...)
	for _, n := range append(names, m.Properties...) {
		if !validation.IsIdentifier(n) {
			return errors.NewMappingError("实体 %s 的映射名不是合法的标识符: %q", m.EntityName, n)
		}
	}
	m.Properties = append([]string(nil), m.Properties...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[m.EntityName]; ok {
		return errors.NewMappingError("实体 %s 重复登记", m.EntityName)
	}
	c.entities[m.EntityName] = &m
	return nil
}

// RegisterCollection 登记被审计集合，拥有方必须已登记
func (c *Configuration) RegisterCollection(m CollectionMapping) error {
	if m.Role == "" {
		return errors.NewMappingError("实体 %s 的集合缺少角色名", m.OwnerEntity)
	}
	if m.ReferencingID.PrefixedMapper == nil || m.ElementID.PrefixedMapper == nil {
		return errors.NewMappingError("集合 %s 缺少标识映射", m.Role)
	}
	if !validation.IsIdentifier(m.MiddleEntity) {
		return errors.NewMappingError("集合 %s 的中间表名不是合法的标识符: %q", m.Role, m.MiddleEntity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[m.OwnerEntity]; !ok {
		return errors.NewMappingError("集合 %s 的拥有方 %s 未登记审计", m.Role, m.OwnerEntity)
	}
	if m.ReferencesEntity() {
		if _, ok := c.entities[m.ElementID.EntityName]; !ok {
			return errors.NewMappingError("集合 %s 的元素实体 %s 未登记审计", m.Role, m.ElementID.EntityName)
		}
	}
	if _, ok := c.collections[m.Role]; ok {
		return errors.NewMappingError("集合 %s 重复登记", m.Role)
	}
	c.collections[m.Role] = &m
	return nil
}

// Entity 查找实体映射
func (c *Configuration) Entity(name string) (*EntityMapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entities[name]
	if !ok {
		return nil, errors.WrapError(ErrNotAudited, errors.ErrCodeMapping, "实体 "+name+" 未配置审计")
	}
	return m, nil
}

// IsAudited 实体是否被审计
func (c *Configuration) IsAudited(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entities[name]
	return ok
}

// Collection 查找集合映射
func (c *Configuration) Collection(role string) (*CollectionMapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.collections[role]
	if !ok {
		return nil, errors.WrapError(ErrNotAudited, errors.ErrCodeMapping, "集合 "+role+" 未配置审计")
	}
	return m, nil
}

// CollectionsOf 返回实体拥有的集合映射，按角色名排序
func (c *Configuration) CollectionsOf(owner string) []*CollectionMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CollectionMapping
	for _, m := range c.collections {
		if m.OwnerEntity == owner {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// EntityNames 返回所有被审计实体名，已排序
func (c *Configuration) EntityNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entities))
	for n := range c.entities {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
