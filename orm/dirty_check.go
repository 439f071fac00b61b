package orm

import (
	"context"

	"revaudit/errors"
)

// DirtyCheckEvent 单实体脏检查事件，监听器回填 Dirty
type DirtyCheckEvent struct {
	Session *Session
	Ref     EntityRef
	Dirty   bool
}

// DirtyCheckListener 单实体脏检查监听器
type DirtyCheckListener interface {
	OnDirtyCheck(ctx context.Context, event *DirtyCheckEvent) error
}

// DefaultEntityDirtyCheckListener 判断某个实体是否有待刷新的变更。
//
// 做法是试探性地把整个持久化上下文刷新为动作，再查询动作队列中是否有该实体的动作，
// 结束时（含出错）将队列截断回进入时的长度，会话状态保持不变。
// 不可重入：检查期间再次检查返回 UNSUPPORTED 错误。
type DefaultEntityDirtyCheckListener struct{}

var _ DirtyCheckListener = DefaultEntityDirtyCheckListener{}

func (DefaultEntityDirtyCheckListener) OnDirtyCheck(ctx context.Context, event *DirtyCheckEvent) error {
	s := event.Session
	if s.checking {
		return errors.NewError(errors.ErrCodeUnsupported, "脏检查不可重入")
	}
	s.checking = true
	defer func() { s.checking = false }()

	mark := s.queue.Mark()
	defer s.queue.ClearFromFlushNeededCheck(mark)

	if err := s.flushEverythingToExecutions(); err != nil {
		return err
	}

	var name string
	var id any
	switch event.Ref.Kind() {
	case RefProxy:
		li := event.Ref.Proxy().LazyInitializer()
		name, id = li.EntityName(), li.Identifier()
	default:
		entry, ok := s.entry(event.Ref.Entity())
		if !ok {
			// 未被管理的瞬时实体没有待刷新的变更
			event.Dirty = false
			return nil
		}
		name, id = entry.persister.Name, entry.id
	}

	event.Dirty = s.queue.HasAnyQueuedActionsForEntity(name, id)
	return nil
}
