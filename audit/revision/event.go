// Package revision 定义修订日志实体、变更事件与监听器 SPI，以及修订日志的持久化
package revision

import (
	"context"
	"reflect"

	"revaudit/audit"
)

// EntityChangeEvent 一次实体变更的只读快照，仅在分发期间有效
type EntityChangeEvent struct {
	EntityType   reflect.Type
	EntityName   string
	EntityID     any
	Entity       any
	RevisionType audit.RevisionType
	// RevisionEntity 当前事务进行中的修订日志实体
	RevisionEntity any
}

// CollectionChangeEvent 一次集合变更；EntityID 为拥有方实体的标识
type CollectionChangeEvent struct {
	EntityType     reflect.Type
	EntityName     string
	EntityID       any
	Role           string
	Collection     any
	RevisionType   audit.RevisionType
	RevisionEntity any
}

// RevisionListener 主监听器：在新修订创建时填充修订日志实体
type RevisionListener interface {
	NewRevision(ctx context.Context, revisionEntity any) error
}

// EntityTrackingRevisionListener 需要感知每一次实体/集合变更的监听器
type EntityTrackingRevisionListener interface {
	RevisionListener
	EntityChanged(ctx context.Context, event EntityChangeEvent) error
	CollectionChanged(ctx context.Context, event CollectionChangeEvent) error
}

// CompletionListener 在修订所属事务结束后收到通知；committed 为 false 表示事务已回滚
type CompletionListener interface {
	RevisionCompleted(ctx context.Context, revisionEntity any, committed bool)
}

// RevisionListenerFunc 函数形式的 RevisionListener
type RevisionListenerFunc func(ctx context.Context, revisionEntity any) error

func (f RevisionListenerFunc) NewRevision(ctx context.Context, revisionEntity any) error {
	return f(ctx, revisionEntity)
}
