package orm

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	core "revaudit/data/db"
	"revaudit/errors"
	"revaudit/logging"
)

// PostActionListener 在每个写动作执行后被调用，返回错误会中止刷新
type PostActionListener interface {
	OnEntityAction(ctx context.Context, s *Session, action *EntityAction) error
	OnCollectionAction(ctx context.Context, s *Session, action *CollectionAction) error
}

// Synchronization 事务完成回调
type Synchronization interface {
	// BeforeCompletion 在提交前执行，返回错误则事务回滚
	BeforeCompletion(ctx context.Context) error
	AfterCompletion(ctx context.Context, committed bool)
}

// FactoryOption SessionFactory 选项
type FactoryOption func(*SessionFactory)

// WithDirtyCheckListener 替换单实体脏检查监听器
func WithDirtyCheckListener(l DirtyCheckListener) FactoryOption {
	return func(f *SessionFactory) {
		if l != nil {
			f.dirtyCheck = l
		}
	}
}

// WithFactoryLogger 设置日志
func WithFactoryLogger(l logging.Logger) FactoryOption {
	return func(f *SessionFactory) {
		if l != nil {
			f.logger = l
		}
	}
}

// SessionFactory 持有数据库、实体注册表与全局监听器
type SessionFactory struct {
	db         core.IDatabase
	registry   *Registry
	dirtyCheck DirtyCheckListener
	logger     logging.Logger

	mu        sync.RWMutex
	listeners []PostActionListener
}

// NewSessionFactory 创建会话工厂
func NewSessionFactory(db core.IDatabase, registry *Registry, opts ...FactoryOption) *SessionFactory {
	f := &SessionFactory{
		db:         db,
		registry:   registry,
		dirtyCheck: DefaultEntityDirtyCheckListener{},
		logger:     logging.ComponentLogger(logging.GetLogger(), "orm"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SessionFactory) Registry() *Registry      { return f.registry }
func (f *SessionFactory) Database() core.IDatabase { return f.db }

// AddPostActionListener 追加动作监听器，只影响此后打开的会话
func (f *SessionFactory) AddPostActionListener(l PostActionListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// OpenSession 打开新会话；会话不是并发安全的
func (f *SessionFactory) OpenSession() *Session {
	f.mu.RLock()
	listeners := append([]PostActionListener(nil), f.listeners...)
	f.mu.RUnlock()
	return &Session{
		factory:   f,
		listeners: listeners,
		entries:   make(map[any]*entityEntry),
		keys:      make(map[string]any),
	}
}

type entityEntry struct {
	persister         *EntityPersister
	id                any
	loadedState       map[string]any
	loadedCollections map[string][]any
	existsInDB        bool
	deleted           bool
}

// Session 工作单元：持久化上下文、动作队列与当前事务
type Session struct {
	factory   *SessionFactory
	listeners []PostActionListener
	tx        core.ITransaction
	syncs     []Synchronization

	entries map[any]*entityEntry
	keys    map[string]any
	order   []any
	queue   ActionQueue

	checking bool
}

func entityKey(name string, id any) string {
	return name + "#" + idKey(id)
}

// ActionQueue 当前的动作队列
func (s *Session) ActionQueue() *ActionQueue { return &s.queue }

// Factory 所属工厂
func (s *Session) Factory() *SessionFactory { return s.factory }

// Executor 当前事务，未开启事务时为数据库本身
func (s *Session) Executor() core.IDatabase {
	if s.tx != nil {
		return s.tx
	}
	return s.factory.db
}

// InTransaction 是否处于事务中
func (s *Session) InTransaction() bool { return s.tx != nil }

// EntityType 按实体名解析实体类型
func (s *Session) EntityType(name string) (reflect.Type, error) {
	p, err := s.factory.registry.Persister(name)
	if err != nil {
		return nil, err
	}
	return p.Type, nil
}

// Contains 实体是否被会话管理（已删除的不算）
func (s *Session) Contains(entity any) bool {
	e, ok := s.entry(entity)
	return ok && !e.deleted
}

// entry 查找被管理实体的条目。
// 只有已登记的（指针）类型才会作为键查找，未登记的值类型直接视为未被管理。
func (s *Session) entry(entity any) (*entityEntry, bool) {
	if entity == nil {
		return nil, false
	}
	if _, err := s.factory.registry.ForEntity(entity); err != nil {
		return nil, false
	}
	e, ok := s.entries[entity]
	return e, ok
}

// Persist 使瞬时实体成为被管理实体，并立即排入插入动作
func (s *Session) Persist(entity any) error {
	p, err := s.factory.registry.ForEntity(entity)
	if err != nil {
		return err
	}
	if e, ok := s.entries[entity]; ok {
		if e.deleted {
			return errors.NewErrorf(errors.ErrCodeConflict, "实体 %s#%v 已删除，不能再次保存", p.Name, e.id)
		}
		return nil
	}
	id := p.ID(entity)
	if id == nil {
		return errors.NewErrorf(errors.ErrCodeInvalidInput, "实体 %s 缺少标识", p.Name)
	}
	key := entityKey(p.Name, id)
	if _, ok := s.keys[key]; ok {
		return errors.NewErrorf(errors.ErrCodeConflict, "实体 %s#%v 已被会话中的另一个实例管理", p.Name, id)
	}

	s.track(entity, &entityEntry{persister: p, id: id})
	s.queue.addEntityAction(&EntityAction{
		Kind:      ActionInsert,
		Persister: p,
		ID:        id,
		Entity:    entity,
		State:     copyState(p.State(entity)),
	})
	return nil
}

// Attach 将已存在于存储中的实体纳入管理，以当前状态作为快照
func (s *Session) Attach(entity any) error {
	p, err := s.factory.registry.ForEntity(entity)
	if err != nil {
		return err
	}
	if _, ok := s.entries[entity]; ok {
		return nil
	}
	id := p.ID(entity)
	if id == nil {
		return errors.NewErrorf(errors.ErrCodeInvalidInput, "实体 %s 缺少标识", p.Name)
	}
	if _, ok := s.keys[entityKey(p.Name, id)]; ok {
		return errors.NewErrorf(errors.ErrCodeConflict, "实体 %s#%v 已被会话中的另一个实例管理", p.Name, id)
	}
	e := &entityEntry{persister: p, id: id, existsInDB: true}
	snapshot(entity, e)
	s.track(entity, e)
	return nil
}

// Get 返回被管理实体，不在会话中时通过 Writer 从存储加载
func (s *Session) Get(ctx context.Context, entityName string, id any) (any, error) {
	p, err := s.factory.registry.Persister(entityName)
	if err != nil {
		return nil, err
	}
	if entity, ok := s.keys[entityKey(entityName, id)]; ok {
		if s.entries[entity].deleted {
			return nil, fmt.Errorf("%w: %s#%v 已删除", ErrNotFound, entityName, id)
		}
		return entity, nil
	}
	if p.Writer == nil || p.New == nil || p.Hydrate == nil {
		return nil, fmt.Errorf("%w: %s#%v", ErrNotFound, entityName, id)
	}

	state, err := p.Writer.Load(ctx, s.Executor(), id)
	if err != nil {
		return nil, err
	}
	entity := p.New()
	if err := p.Hydrate(entity, id, state); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMapping, "填充实体失败: "+entityName)
	}
	if err := s.Attach(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// Load 返回延迟代理；实体已在会话中时代理直接指向它
func (s *Session) Load(entityName string, id any) (*Proxy, error) {
	if _, err := s.factory.registry.Persister(entityName); err != nil {
		return nil, err
	}
	li := &LazyInitializer{entityName: entityName, id: id, session: s}
	if entity, ok := s.keys[entityKey(entityName, id)]; ok && !s.entries[entity].deleted {
		li.target = entity
	}
	return &Proxy{initializer: li}, nil
}

// Delete 删除被管理实体；尚未写入存储的实体直接从会话移除
func (s *Session) Delete(entity any) error {
	e, ok := s.entry(entity)
	if !ok {
		return fmt.Errorf("%w: %T", ErrTransientEntity, entity)
	}
	if e.deleted {
		return nil
	}
	if !e.existsInDB {
		s.removeInsertion(entity)
		s.untrack(entity)
		return nil
	}
	e.deleted = true
	s.queue.addEntityAction(&EntityAction{
		Kind:      ActionDelete,
		Persister: e.persister,
		ID:        e.id,
		Entity:    entity,
		State:     copyState(e.loadedState),
	})
	return nil
}

// IsDirty 实体或代理是否有待刷新的变更
func (s *Session) IsDirty(ctx context.Context, entityOrProxy any) (bool, error) {
	event := &DirtyCheckEvent{Session: s, Ref: RefOf(entityOrProxy)}
	if err := s.factory.dirtyCheck.OnDirtyCheck(ctx, event); err != nil {
		return false, err
	}
	return event.Dirty, nil
}

// flushEverythingToExecutions 比较所有被管理实体与其快照，将差异排入动作队列。
// 插入与删除动作在 Persist/Delete 时已排队，这里只刷新插入动作的状态。
func (s *Session) flushEverythingToExecutions() error {
	for _, entity := range s.order {
		e := s.entries[entity]
		p := e.persister

		if e.deleted {
			for _, role := range p.Collections {
				if old := e.loadedCollections[role.Role]; len(old) > 0 {
					s.queue.addCollectionAction(&CollectionAction{
						Kind: ActionCollectionRemove, Persister: p, Role: role.Role,
						Owner: entity, OwnerID: e.id, Removed: old,
					})
				}
			}
			continue
		}

		current := p.State(entity)
		if !e.existsInDB {
			if ins := s.queue.hasInsertion(entity); ins != nil {
				ins.State = copyState(current)
			}
		} else if dirty := dirtyProperties(e.loadedState, current); len(dirty) > 0 {
			s.queue.addEntityAction(&EntityAction{
				Kind:            ActionUpdate,
				Persister:       p,
				ID:              e.id,
				Entity:          entity,
				State:           copyState(current),
				DirtyProperties: dirty,
			})
		}

		for _, role := range p.Collections {
			elements := role.Elements(entity)
			old, had := e.loadedCollections[role.Role]
			if !had {
				if len(elements) > 0 {
					s.queue.addCollectionAction(&CollectionAction{
						Kind: ActionCollectionRecreate, Persister: p, Role: role.Role,
						Owner: entity, OwnerID: e.id, Added: elements, Elements: elements,
					})
				}
				continue
			}
			added, removed := diffElements(old, elements)
			if len(added) > 0 || len(removed) > 0 {
				s.queue.addCollectionAction(&CollectionAction{
					Kind: ActionCollectionUpdate, Persister: p, Role: role.Role,
					Owner: entity, OwnerID: e.id, Added: added, Removed: removed, Elements: elements,
				})
			}
		}
	}
	return nil
}

// Flush 执行所有待刷新的变更。
//
// 执行顺序：插入、更新、集合删除、集合更新、集合重建、删除；每个动作执行后通知监听器。
// 出错时队列保留，调用方应回滚事务并丢弃会话。
func (s *Session) Flush(ctx context.Context) error {
	if s.checking {
		return errors.NewError(errors.ErrCodeUnsupported, "脏检查期间不能刷新")
	}
	if err := s.flushEverythingToExecutions(); err != nil {
		return err
	}
	total := s.queue.Len()
	if total == 0 {
		return nil
	}

	db := s.Executor()
	q := &s.queue
	for _, a := range q.insertions {
		if err := s.executeEntity(ctx, db, a); err != nil {
			return err
		}
	}
	for _, a := range q.updates {
		if err := s.executeEntity(ctx, db, a); err != nil {
			return err
		}
	}
	for _, list := range [][]*CollectionAction{q.collectionRemovals, q.collectionUpdates, q.collectionCreations} {
		for _, a := range list {
			if err := s.executeCollection(ctx, db, a); err != nil {
				return err
			}
		}
	}
	for _, a := range q.deletions {
		if err := s.executeEntity(ctx, db, a); err != nil {
			return err
		}
	}

	s.postFlush()
	s.factory.logger.Debug(ctx, "会话已刷新", logging.Int("actions", total))
	return nil
}

func (s *Session) executeEntity(ctx context.Context, db core.IDatabase, a *EntityAction) error {
	if w := a.Persister.Writer; w != nil {
		var err error
		switch a.Kind {
		case ActionInsert:
			err = w.Insert(ctx, db, a.ID, a.State)
		case ActionUpdate:
			err = w.Update(ctx, db, a.ID, a.State)
		case ActionDelete:
			err = w.Delete(ctx, db, a.ID)
		}
		if err != nil {
			return err
		}
	}
	for _, l := range s.listeners {
		if err := l.OnEntityAction(ctx, s, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) executeCollection(ctx context.Context, db core.IDatabase, a *CollectionAction) error {
	if w := collectionWriter(a.Persister, a.Role); w != nil {
		if len(a.Removed) > 0 {
			if err := w.DeleteElements(ctx, db, a.OwnerID, a.Removed); err != nil {
				return err
			}
		}
		if len(a.Added) > 0 {
			if err := w.InsertElements(ctx, db, a.OwnerID, a.Added); err != nil {
				return err
			}
		}
	}
	for _, l := range s.listeners {
		if err := l.OnCollectionAction(ctx, s, a); err != nil {
			return err
		}
	}
	return nil
}

func collectionWriter(p *EntityPersister, role string) CollectionWriter {
	for _, c := range p.Collections {
		if c.Role == role {
			return c.Writer
		}
	}
	return nil
}

// postFlush 刷新成功后更新快照并移除已删除的实体
func (s *Session) postFlush() {
	for _, entity := range append([]any(nil), s.order...) {
		e := s.entries[entity]
		if e.deleted {
			s.untrack(entity)
			continue
		}
		e.existsInDB = true
		snapshot(entity, e)
	}
	s.queue.Clear()
}

// Begin 开启事务
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.NewError(errors.ErrCodeConflict, "事务已开启")
	}
	tx, err := s.factory.db.Begin(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "开启事务")
	}
	s.tx = tx
	return nil
}

// RegisterSynchronization 登记当前事务的完成回调
func (s *Session) RegisterSynchronization(sync Synchronization) error {
	if s.tx == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "没有进行中的事务")
	}
	s.syncs = append(s.syncs, sync)
	return nil
}

// Commit 刷新、执行提交前回调并提交事务；任一步出错都会回滚
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "没有进行中的事务")
	}
	if err := s.Flush(ctx); err != nil {
		s.rollback(ctx)
		return err
	}
	// 回调可能登记新的回调，按下标遍历
	for i := 0; i < len(s.syncs); i++ {
		if err := s.syncs[i].BeforeCompletion(ctx); err != nil {
			s.rollback(ctx)
			return err
		}
	}
	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		s.reset()
		s.complete(ctx, false)
		return errors.WrapDatabaseError(ctx, err, "提交事务")
	}
	s.tx = nil
	s.complete(ctx, true)
	return nil
}

// Rollback 回滚事务并清空持久化上下文
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "没有进行中的事务")
	}
	return s.rollback(ctx)
}

func (s *Session) rollback(ctx context.Context) error {
	err := s.tx.Rollback()
	s.tx = nil
	s.reset()
	s.complete(ctx, false)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "回滚事务")
	}
	return nil
}

func (s *Session) complete(ctx context.Context, committed bool) {
	syncs := s.syncs
	s.syncs = nil
	for _, sync := range syncs {
		sync.AfterCompletion(ctx, committed)
	}
}

// reset 清空持久化上下文与动作队列
func (s *Session) reset() {
	s.entries = make(map[any]*entityEntry)
	s.keys = make(map[string]any)
	s.order = nil
	s.queue.Clear()
}

func (s *Session) track(entity any, e *entityEntry) {
	s.entries[entity] = e
	s.keys[entityKey(e.persister.Name, e.id)] = entity
	s.order = append(s.order, entity)
}

func (s *Session) untrack(entity any) {
	e := s.entries[entity]
	delete(s.entries, entity)
	delete(s.keys, entityKey(e.persister.Name, e.id))
	for i, x := range s.order {
		if x == entity {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Session) removeInsertion(entity any) {
	for i, a := range s.queue.insertions {
		if a.Entity == entity {
			s.queue.insertions = append(s.queue.insertions[:i], s.queue.insertions[i+1:]...)
			return
		}
	}
}

func snapshot(entity any, e *entityEntry) {
	p := e.persister
	e.loadedState = copyState(p.State(entity))
	e.loadedCollections = make(map[string][]any, len(p.Collections))
	for _, role := range p.Collections {
		e.loadedCollections[role.Role] = append([]any{}, role.Elements(entity)...)
	}
}

func copyState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// dirtyProperties 返回取值不同的属性名（按名字排序）
func dirtyProperties(old, current map[string]any) []string {
	var dirty []string
	for k, v := range current {
		if ov, ok := old[k]; !ok || !reflect.DeepEqual(ov, v) {
			dirty = append(dirty, k)
		}
	}
	for k := range old {
		if _, ok := current[k]; !ok {
			dirty = append(dirty, k)
		}
	}
	sort.Strings(dirty)
	return dirty
}

func elementKey(v any) string {
	return fmt.Sprintf("%#v", v)
}

// diffElements 以集合语义比较元素，保持各自的原始顺序
func diffElements(old, current []any) (added, removed []any) {
	oldKeys := make(map[string]struct{}, len(old))
	for _, v := range old {
		oldKeys[elementKey(v)] = struct{}{}
	}
	curKeys := make(map[string]struct{}, len(current))
	for _, v := range current {
		k := elementKey(v)
		if _, dup := curKeys[k]; dup {
			continue
		}
		curKeys[k] = struct{}{}
		if _, ok := oldKeys[k]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range old {
		if _, ok := curKeys[elementKey(v)]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}
