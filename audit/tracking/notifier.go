package tracking

import (
	"context"
	"reflect"

	"revaudit/audit"
	"revaudit/audit/revision"
	"revaudit/errors"
)

// EntityTypeResolver 按实体名解析运行时类型，orm.Session 实现了该接口
type EntityTypeResolver interface {
	EntityType(entityName string) (reflect.Type, error)
}

// ChangeNotifier 将工作单元转换为变更事件并分发给修订生成器
type ChangeNotifier struct {
	generator revision.InfoGenerator
	resolver  EntityTypeResolver
}

// NewChangeNotifier 创建通知器，resolver 通常为当前会话
func NewChangeNotifier(generator revision.InfoGenerator, resolver EntityTypeResolver) *ChangeNotifier {
	return &ChangeNotifier{generator: generator, resolver: resolver}
}

// NotifyRevisionGenerator 为一个工作单元分发恰好一个事件。
// 集合单元的复合标识被拆开，事件携带拥有方实体的标识。
func (n *ChangeNotifier) NotifyRevisionGenerator(ctx context.Context, revisionData any, unit WorkUnit) error {
	typ, err := n.resolver.EntityType(unit.EntityName())
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeResolution, "无法解析实体 "+unit.EntityName()+" 的类型").
			WithContext("entity", unit.EntityName())
	}

	switch u := unit.(type) {
	case *CollectionChangeWorkUnit:
		return n.generator.CollectionChanged(ctx, revision.CollectionChangeEvent{
			EntityType:     typ,
			EntityName:     u.Owner,
			EntityID:       u.ID.OwnerID,
			Role:           u.ID.Role,
			Collection:     u.Collection,
			RevisionType:   collectionRevisionType(u),
			RevisionEntity: revisionData,
		})
	case *EntityWorkUnit:
		return n.generator.EntityChanged(ctx, revision.EntityChangeEvent{
			EntityType:     typ,
			EntityName:     u.Entity,
			EntityID:       u.ID,
			Entity:         u.Instance,
			RevisionType:   u.RevisionType,
			RevisionEntity: revisionData,
		})
	}
	return errors.NewErrorf(errors.ErrCodeInvalidInput, "未知的工作单元类型 %T", unit)
}

// collectionRevisionType 集合整体的修订类型：全部新增为 ADD，全部删除为 DEL，否则 MOD
func collectionRevisionType(u *CollectionChangeWorkUnit) audit.RevisionType {
	adds, dels := 0, 0
	for _, c := range u.Changes {
		switch c.RevisionType {
		case audit.RevisionAdd:
			adds++
		case audit.RevisionDel:
			dels++
		}
	}
	switch {
	case adds == len(u.Changes):
		return audit.RevisionAdd
	case dels == len(u.Changes):
		return audit.RevisionDel
	}
	return audit.RevisionMod
}
