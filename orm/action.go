package orm

// ActionKind 动作类型
type ActionKind int

const (
	ActionInsert ActionKind = iota
	ActionUpdate
	ActionDelete
	ActionCollectionRecreate
	ActionCollectionUpdate
	ActionCollectionRemove
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionCollectionRecreate:
		return "collection_recreate"
	case ActionCollectionUpdate:
		return "collection_update"
	case ActionCollectionRemove:
		return "collection_remove"
	}
	return "unknown"
}

// EntityAction 一次实体写动作
type EntityAction struct {
	Kind      ActionKind
	Persister *EntityPersister
	ID        any
	Entity    any
	// State 写入后的状态；删除动作为删除前的已加载状态
	State map[string]any
	// DirtyProperties 更新动作中发生变化的属性
	DirtyProperties []string
}

// CollectionAction 一次集合写动作
type CollectionAction struct {
	Kind      ActionKind
	Persister *EntityPersister
	Role      string
	Owner     any
	OwnerID   any
	Added     []any
	Removed   []any
	// Elements 动作执行后集合的全部元素
	Elements []any
}

// QueueMark 动作队列各类别的长度快照
type QueueMark struct {
	insertions, updates, deletions                             int
	collectionCreations, collectionUpdates, collectionRemovals int
}

// ActionQueue 按类别保存待执行的写动作
type ActionQueue struct {
	insertions          []*EntityAction
	updates             []*EntityAction
	deletions           []*EntityAction
	collectionCreations []*CollectionAction
	collectionUpdates   []*CollectionAction
	collectionRemovals  []*CollectionAction
}

func (q *ActionQueue) addEntityAction(a *EntityAction) {
	switch a.Kind {
	case ActionInsert:
		q.insertions = append(q.insertions, a)
	case ActionUpdate:
		q.updates = append(q.updates, a)
	case ActionDelete:
		q.deletions = append(q.deletions, a)
	}
}

func (q *ActionQueue) addCollectionAction(a *CollectionAction) {
	switch a.Kind {
	case ActionCollectionRecreate:
		q.collectionCreations = append(q.collectionCreations, a)
	case ActionCollectionUpdate:
		q.collectionUpdates = append(q.collectionUpdates, a)
	case ActionCollectionRemove:
		q.collectionRemovals = append(q.collectionRemovals, a)
	}
}

// Mark 记录当前各类别长度
func (q *ActionQueue) Mark() QueueMark {
	return QueueMark{
		insertions:          len(q.insertions),
		updates:             len(q.updates),
		deletions:           len(q.deletions),
		collectionCreations: len(q.collectionCreations),
		collectionUpdates:   len(q.collectionUpdates),
		collectionRemovals:  len(q.collectionRemovals),
	}
}

// ClearFromFlushNeededCheck 将各类别截断回 mark 时的长度，丢弃试探性刷新产生的动作
func (q *ActionQueue) ClearFromFlushNeededCheck(mark QueueMark) {
	q.insertions = truncate(q.insertions, mark.insertions)
	q.updates = truncate(q.updates, mark.updates)
	q.deletions = truncate(q.deletions, mark.deletions)
	q.collectionCreations = truncate(q.collectionCreations, mark.collectionCreations)
	q.collectionUpdates = truncate(q.collectionUpdates, mark.collectionUpdates)
	q.collectionRemovals = truncate(q.collectionRemovals, mark.collectionRemovals)
}

func truncate[T any](s []T, n int) []T {
	if n >= len(s) {
		return s
	}
	for i := n; i < len(s); i++ {
		var zero T
		s[i] = zero
	}
	return s[:n]
}

// NumberOfCollectionRemovals 排队的集合删除动作数
func (q *ActionQueue) NumberOfCollectionRemovals() int {
	return len(q.collectionRemovals)
}

// Len 排队动作总数
func (q *ActionQueue) Len() int {
	return len(q.insertions) + len(q.updates) + len(q.deletions) +
		len(q.collectionCreations) + len(q.collectionUpdates) + len(q.collectionRemovals)
}

// HasAnyQueuedActionsForEntity 是否有针对该实体（含其集合）的排队动作
func (q *ActionQueue) HasAnyQueuedActionsForEntity(entityName string, id any) bool {
	key := idKey(id)
	for _, list := range [][]*EntityAction{q.insertions, q.updates, q.deletions} {
		for _, a := range list {
			if a.Persister.Name == entityName && idKey(a.ID) == key {
				return true
			}
		}
	}
	for _, list := range [][]*CollectionAction{q.collectionCreations, q.collectionUpdates, q.collectionRemovals} {
		for _, a := range list {
			if a.Persister.Name == entityName && idKey(a.OwnerID) == key {
				return true
			}
		}
	}
	return false
}

func (q *ActionQueue) hasInsertion(entity any) *EntityAction {
	for _, a := range q.insertions {
		if a.Entity == entity {
			return a
		}
	}
	return nil
}

// Clear 清空队列
func (q *ActionQueue) Clear() {
	*q = ActionQueue{}
}
