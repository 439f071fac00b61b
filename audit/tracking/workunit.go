// Package tracking 收集事务内的审计工作单元，在提交前写入审计行并通知修订生成器
package tracking

import (
	"fmt"

	"revaudit/audit"
)

// WorkUnit 一次待审计的变更，同一事务内按 Key 合并
type WorkUnit interface {
	EntityName() string
	Key() string
}

// EntityWorkUnit 实体级变更
type EntityWorkUnit struct {
	Entity       string
	ID           any
	Instance     any
	RevisionType audit.RevisionType
	// Data 实体状态；删除时为删除前的状态
	Data map[string]any
}

func (u *EntityWorkUnit) EntityName() string { return u.Entity }
func (u *EntityWorkUnit) Key() string        { return fmt.Sprintf("%s#%v", u.Entity, u.ID) }

// CollectionChangeID 集合变更的复合标识：拥有方标识 + 集合角色
type CollectionChangeID struct {
	OwnerID any
	Role    string
}

// ElementChange 集合中一个元素的变更
type ElementChange struct {
	Element      any
	RevisionType audit.RevisionType
}

func (c ElementChange) key() string { return fmt.Sprintf("%#v", c.Element) }

// CollectionChangeWorkUnit 集合级变更，EntityName 为拥有方实体名
type CollectionChangeWorkUnit struct {
	Owner      string
	ID         CollectionChangeID
	Instance   any
	Collection []any
	Changes    []ElementChange
}

func (u *CollectionChangeWorkUnit) EntityName() string { return u.Owner }
func (u *CollectionChangeWorkUnit) Key() string {
	return fmt.Sprintf("%s#%v#%s", u.Owner, u.ID.OwnerID, u.ID.Role)
}

// mergeUnits 合并同一 Key 的先后两个单元，返回 nil 表示两者相互抵消
func mergeUnits(prev, next WorkUnit) WorkUnit {
	switch p := prev.(type) {
	case *EntityWorkUnit:
		n, ok := next.(*EntityWorkUnit)
		if !ok {
			return next
		}
		return mergeEntity(p, n)
	case *CollectionChangeWorkUnit:
		n, ok := next.(*CollectionChangeWorkUnit)
		if !ok {
			return next
		}
		return mergeCollection(p, n)
	}
	return next
}

// mergeEntity 实体单元合并规则：
//
//	ADD+MOD→ADD  ADD+DEL→抵消  MOD+DEL→DEL  DEL+ADD→MOD  DEL+MOD→DEL  其余取后者
func mergeEntity(prev, next *EntityWorkUnit) WorkUnit {
	merged := *next
	switch prev.RevisionType {
	case audit.RevisionAdd:
		switch next.RevisionType {
		case audit.RevisionDel:
			return nil
		default:
			merged.RevisionType = audit.RevisionAdd
		}
	case audit.RevisionDel:
		switch next.RevisionType {
		case audit.RevisionAdd:
			merged.RevisionType = audit.RevisionMod
		case audit.RevisionMod:
			return prev
		}
	}
	return &merged
}

// mergeCollection 按元素合并：同一元素先加后删或先删后加相互抵消，否则取后者
func mergeCollection(prev, next *CollectionChangeWorkUnit) WorkUnit {
	order := make([]string, 0, len(prev.Changes)+len(next.Changes))
	byKey := make(map[string]*ElementChange, cap(order))
	put := func(c ElementChange) {
		k := c.key()
		old, ok := byKey[k]
		if !ok {
			cc := c
			byKey[k] = &cc
			order = append(order, k)
			return
		}
		if old == nil {
			cc := c
			byKey[k] = &cc
			return
		}
		if (old.RevisionType == audit.RevisionAdd && c.RevisionType == audit.RevisionDel) ||
			(old.RevisionType == audit.RevisionDel && c.RevisionType == audit.RevisionAdd) {
			byKey[k] = nil
			return
		}
		*old = c
	}
	for _, c := range prev.Changes {
		put(c)
	}
	for _, c := range next.Changes {
		put(c)
	}

	merged := *next
	merged.Changes = nil
	for _, k := range order {
		if c := byKey[k]; c != nil {
			merged.Changes = append(merged.Changes, *c)
		}
	}
	if len(merged.Changes) == 0 {
		return nil
	}
	return &merged
}
