package revision

import (
	"sort"
	"time"
)

// DefaultRevisionEntity 默认修订日志实体
type DefaultRevisionEntity struct {
	ID int64
	// Timestamp 毫秒时间戳
	Timestamp int64
}

// Time 修订时间
func (r *DefaultRevisionEntity) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// TrackingRevisionEntity 同时记录本修订中变更过的实体名
type TrackingRevisionEntity struct {
	DefaultRevisionEntity
	ModifiedEntityNames []string
}

// FieldAccessor 修订日志实体上一个字段的类型化访问器
type FieldAccessor[T any] struct {
	Name string
	Get  func(rev any) T
	Set  func(rev any, v T)
}

// EntityMapping 修订日志实体的映射描述，配置期解析一次
type EntityMapping struct {
	New       func() any
	ID        FieldAccessor[int64]
	Timestamp FieldAccessor[int64]
	// ModifiedEntityNames 为空表示该实体不记录变更实体名
	ModifiedEntityNames *FieldAccessor[[]string]
}

// Tracks 是否记录变更实体名
func (m EntityMapping) Tracks() bool {
	return m.ModifiedEntityNames != nil
}

// DefaultEntityMapping *DefaultRevisionEntity 的映射
func DefaultEntityMapping() EntityMapping {
	return EntityMapping{
		New: func() any { return &DefaultRevisionEntity{} },
		ID: FieldAccessor[int64]{
			Name: "id",
			Get:  func(rev any) int64 { return rev.(*DefaultRevisionEntity).ID },
			Set:  func(rev any, v int64) { rev.(*DefaultRevisionEntity).ID = v },
		},
		Timestamp: FieldAccessor[int64]{
			Name: "timestamp",
			Get:  func(rev any) int64 { return rev.(*DefaultRevisionEntity).Timestamp },
			Set:  func(rev any, v int64) { rev.(*DefaultRevisionEntity).Timestamp = v },
		},
	}
}

// TrackingEntityMapping *TrackingRevisionEntity 的映射
func TrackingEntityMapping() EntityMapping {
	base := func(rev any) *DefaultRevisionEntity { return &rev.(*TrackingRevisionEntity).DefaultRevisionEntity }
	return EntityMapping{
		New: func() any { return &TrackingRevisionEntity{} },
		ID: FieldAccessor[int64]{
			Name: "id",
			Get:  func(rev any) int64 { return base(rev).ID },
			Set:  func(rev any, v int64) { base(rev).ID = v },
		},
		Timestamp: FieldAccessor[int64]{
			Name: "timestamp",
			Get:  func(rev any) int64 { return base(rev).Timestamp },
			Set:  func(rev any, v int64) { base(rev).Timestamp = v },
		},
		ModifiedEntityNames: &FieldAccessor[[]string]{
			Name: "modifiedEntityNames",
			Get:  func(rev any) []string { return rev.(*TrackingRevisionEntity).ModifiedEntityNames },
			Set:  func(rev any, v []string) { rev.(*TrackingRevisionEntity).ModifiedEntityNames = v },
		},
	}
}

// addName 有序集合插入，重复插入无副作用
func addName(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return names
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}
