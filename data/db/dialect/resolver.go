package dialect

import (
	"context"
	"fmt"

	core "revaudit/data/db"
	"revaudit/errors"
	"revaudit/logging"
)

// SettingDialect 配置项中显式指定方言的键
const SettingDialect = "revaudit.dialect"

// Resolver 方言解析器：无法判断时返回 (Unknown, nil)，出错时返回 error
type Resolver interface {
	Resolve(ctx context.Context) (Dialect, error)
}

// ResolverFunc 函数适配器
type ResolverFunc func(ctx context.Context) (Dialect, error)

func (f ResolverFunc) Resolve(ctx context.Context) (Dialect, error) { return f(ctx) }

// SettingsResolver 从配置项读取方言名
type SettingsResolver struct {
	Settings map[string]string
}

func (r SettingsResolver) Resolve(ctx context.Context) (Dialect, error) {
	name, ok := r.Settings[SettingDialect]
	if !ok || name == "" {
		return Dialect{}, nil
	}
	d := New(name)
	if !d.IsKnown() {
		return Dialect{}, errors.NewErrorf(errors.ErrCodeInvalidInput, "无法识别的方言配置: %q", name)
	}
	return d, nil
}

// DatabaseResolver 通过 IDialectNameProvider 从数据库连接推断方言
type DatabaseResolver struct {
	DB core.IDatabase
}

func (r DatabaseResolver) Resolve(ctx context.Context) (Dialect, error) {
	if r.DB == nil {
		return Dialect{}, nil
	}
	if err := r.DB.Ping(ctx); err != nil {
		return Dialect{}, errors.WrapError(err, errors.ErrCodeDatabase, "探测数据库方言失败")
	}
	return FromDatabase(r.DB), nil
}

// ResolverSet 有序的解析器链：出错的解析器被记录并跳过，第一个给出已知方言的解析器胜出
type ResolverSet struct {
	resolvers []Resolver
	logger    logging.Logger
}

// NewResolverSet 创建解析器链
func NewResolverSet(logger logging.Logger, resolvers ...Resolver) *ResolverSet {
	return &ResolverSet{
		resolvers: resolvers,
		logger:    logging.ComponentLogger(logger, "dialect"),
	}
}

// Add 追加解析器
func (s *ResolverSet) Add(r Resolver) {
	if r != nil {
		s.resolvers = append(s.resolvers, r)
	}
}

func (s *ResolverSet) Resolve(ctx context.Context) (Dialect, error) {
	for i, r := range s.resolvers {
		d, err := r.Resolve(ctx)
		if err != nil {
			s.logger.Warn(ctx, "方言解析器失败，尝试下一个",
				logging.Int("index", i),
				logging.String("resolver", fmt.Sprintf("%T", r)),
				logging.Error(err))
			continue
		}
		if d.IsKnown() {
			return d, nil
		}
	}
	return Dialect{}, nil
}

// Initiate 决定最终方言：显式配置优先（经历史名称表映射），其次是解析器链，
// 都无法判断时返回 Unknown 方言。显式配置了无法识别的名称视为配置错误。
func Initiate(ctx context.Context, settings map[string]string, db core.IDatabase, logger logging.Logger, resolvers ...Resolver) (Dialect, error) {
	if name := settings[SettingDialect]; name != "" {
		d := New(name)
		if !d.IsKnown() {
			return Dialect{}, errors.NewErrorf(errors.ErrCodeMapping, "无法识别的方言配置: %q", name)
		}
		return d, nil
	}

	set := NewResolverSet(logger, resolvers...)
	if db != nil {
		set.Add(DatabaseResolver{DB: db})
	}
	return set.Resolve(ctx)
}
