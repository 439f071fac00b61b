package revision

import (
	"context"
	"time"

	"revaudit/errors"
	"revaudit/logging"
)

// InfoGenerator 创建并填充修订日志实体，接收每一次变更通知
type InfoGenerator interface {
	// Generate 创建当前事务的修订日志实体
	Generate(ctx context.Context) (any, error)
	EntityChanged(ctx context.Context, event EntityChangeEvent) error
	CollectionChanged(ctx context.Context, event CollectionChangeEvent) error
	Mapping() EntityMapping
}

// Option 生成器选项
type Option func(*DefaultInfoGenerator)

// WithListener 设置主监听器，其错误会中止事务
func WithListener(l RevisionListener) Option {
	return func(g *DefaultInfoGenerator) { g.listener = l }
}

// WithObservers 追加次要观察者，其错误只记录日志
func WithObservers(observers ...EntityTrackingRevisionListener) Option {
	return func(g *DefaultInfoGenerator) { g.observers = append(g.observers, observers...) }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *DefaultInfoGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(g *DefaultInfoGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

// DefaultInfoGenerator 设置时间戳并调用监听器
type DefaultInfoGenerator struct {
	mapping   EntityMapping
	listener  RevisionListener
	observers []EntityTrackingRevisionListener
	now       func() time.Time
	logger    logging.Logger
}

// NewDefaultInfoGenerator 创建默认生成器
func NewDefaultInfoGenerator(mapping EntityMapping, opts ...Option) *DefaultInfoGenerator {
	g := &DefaultInfoGenerator{
		mapping: mapping,
		now:     time.Now,
		logger:  logging.ComponentLogger(nil, "audit.revision"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *DefaultInfoGenerator) Mapping() EntityMapping { return g.mapping }

func (g *DefaultInfoGenerator) Generate(ctx context.Context) (any, error) {
	rev := g.mapping.New()
	g.mapping.Timestamp.Set(rev, g.now().UnixMilli())

	if g.listener != nil {
		if err := g.listener.NewRevision(ctx, rev); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeListener, "修订监听器 NewRevision 失败")
		}
	}
	for _, o := range g.observers {
		if err := o.NewRevision(ctx, rev); err != nil {
			g.logger.Warn(ctx, "修订观察者 NewRevision 失败", logging.Error(err))
		}
	}
	g.logger.Debug(ctx, "生成修订日志实体", logging.Int64("timestamp", g.mapping.Timestamp.Get(rev)))
	return rev, nil
}

func (g *DefaultInfoGenerator) EntityChanged(ctx context.Context, event EntityChangeEvent) error {
	if l, ok := g.listener.(EntityTrackingRevisionListener); ok {
		if err := l.EntityChanged(ctx, event); err != nil {
			return errors.WrapError(err, errors.ErrCodeListener,
				"修订监听器处理实体 "+event.EntityName+" 的变更失败")
		}
	}
	for _, o := range g.observers {
		if err := o.EntityChanged(ctx, event); err != nil {
			g.logger.Warn(ctx, "修订观察者 EntityChanged 失败",
				logging.String("entity", event.EntityName), logging.Error(err))
		}
	}
	return nil
}

func (g *DefaultInfoGenerator) CollectionChanged(ctx context.Context, event CollectionChangeEvent) error {
	if l, ok := g.listener.(EntityTrackingRevisionListener); ok {
		if err := l.CollectionChanged(ctx, event); err != nil {
			return errors.WrapError(err, errors.ErrCodeListener,
				"修订监听器处理实体 "+event.EntityName+" 的集合变更失败")
		}
	}
	for _, o := range g.observers {
		if err := o.CollectionChanged(ctx, event); err != nil {
			g.logger.Warn(ctx, "修订观察者 CollectionChanged 失败",
				logging.String("entity", event.EntityName), logging.String("role", event.Role), logging.Error(err))
		}
	}
	return nil
}

// TrackingInfoGenerator 在默认行为之外记录本修订中变更过的实体名
type TrackingInfoGenerator struct {
	*DefaultInfoGenerator
}

// NewTrackingInfoGenerator 创建记录变更实体名的生成器，映射必须提供 ModifiedEntityNames
func NewTrackingInfoGenerator(mapping EntityMapping, opts ...Option) (*TrackingInfoGenerator, error) {
	if !mapping.Tracks() {
		return nil, errors.NewMappingError("修订日志实体映射缺少 modifiedEntityNames 字段")
	}
	return &TrackingInfoGenerator{DefaultInfoGenerator: NewDefaultInfoGenerator(mapping, opts...)}, nil
}

func (g *TrackingInfoGenerator) EntityChanged(ctx context.Context, event EntityChangeEvent) error {
	if err := g.DefaultInfoGenerator.EntityChanged(ctx, event); err != nil {
		return err
	}
	g.track(event.RevisionEntity, event.EntityName)
	return nil
}

func (g *TrackingInfoGenerator) CollectionChanged(ctx context.Context, event CollectionChangeEvent) error {
	if err := g.DefaultInfoGenerator.CollectionChanged(ctx, event); err != nil {
		return err
	}
	g.track(event.RevisionEntity, event.EntityName)
	return nil
}

func (g *TrackingInfoGenerator) track(rev any, entityName string) {
	acc := g.mapping.ModifiedEntityNames
	acc.Set(rev, addName(acc.Get(rev), entityName))
}
