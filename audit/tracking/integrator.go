package tracking

import (
	"context"
	"sync"

	"revaudit/audit"
	"revaudit/audit/revision"
	"revaudit/audit/strategy"
	"revaudit/data/db/dialect"
	"revaudit/errors"
	"revaudit/logging"
	"revaudit/orm"
)

// Option Integrator 选项
type Option func(*Integrator)

// WithStrategy 替换按配置选择的审计策略
func WithStrategy(s strategy.AuditStrategy) Option {
	return func(i *Integrator) {
		if s != nil {
			i.strategy = s
			i.customStrategy = true
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(i *Integrator) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithDialectResolvers 在数据库连接推断之前尝试的方言解析器
func WithDialectResolvers(resolvers ...dialect.Resolver) Option {
	return func(i *Integrator) { i.resolvers = append(i.resolvers, resolvers...) }
}

// WithCompletionListeners 追加事务结束监听器，例如提交后发布变更事件
func WithCompletionListeners(listeners ...revision.CompletionListener) Option {
	return func(i *Integrator) { i.completions = append(i.completions, listeners...) }
}

// Integrator 把会话刷新出的写动作翻译为工作单元，
// 每个事务一个 Process，并登记为该事务的完成回调。
type Integrator struct {
	cfg       *audit.Configuration
	strategy  strategy.AuditStrategy
	generator revision.InfoGenerator
	store     *revision.Store
	logger    logging.Logger

	customStrategy bool
	resolvers      []dialect.Resolver
	dialect        dialect.Dialect

	completions []revision.CompletionListener

	mu        sync.Mutex
	processes map[*orm.Session]*Process
}

var _ orm.PostActionListener = (*Integrator)(nil)

// NewIntegrator 创建集成器
func NewIntegrator(cfg *audit.Configuration, generator revision.InfoGenerator, store *revision.Store, opts ...Option) *Integrator {
	i := &Integrator{
		cfg:       cfg,
		strategy:  strategy.New(cfg.Config()),
		generator: generator,
		store:     store,
		logger:    logging.ComponentLogger(nil, "audit.tracking"),
		processes: make(map[*orm.Session]*Process),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Integrate 决定方言并注册为会话工厂的动作监听器。
//
// 方言按 revaudit.dialect 配置、WithDialectResolvers 与工厂数据库连接的顺序决定；
// 未通过 WithStrategy 指定策略时，按应用方言后的配置重新选择策略。
func (i *Integrator) Integrate(ctx context.Context, f *orm.SessionFactory) error {
	cfg, d, err := audit.InitiateDialect(ctx, i.cfg.Config(), f.Database(), i.logger, i.resolvers...)
	if err != nil {
		return err
	}
	i.dialect = d
	if !i.customStrategy {
		i.strategy = strategy.New(cfg)
	}
	f.AddPostActionListener(i)
	i.logger.Debug(ctx, "审计集成已注册",
		logging.String("dialect", string(d.Name())),
		logging.String("strategy", string(i.strategy.Kind())))
	return nil
}

// Dialect Integrate 决定的方言
func (i *Integrator) Dialect() dialect.Dialect { return i.dialect }

// Strategy 使用中的审计策略
func (i *Integrator) Strategy() strategy.AuditStrategy { return i.strategy }

func (i *Integrator) OnEntityAction(ctx context.Context, s *orm.Session, a *orm.EntityAction) error {
	if !i.cfg.IsAudited(a.Persister.Name) {
		return nil
	}
	var rt audit.RevisionType
	switch a.Kind {
	case orm.ActionInsert:
		rt = audit.RevisionAdd
	case orm.ActionUpdate:
		rt = audit.RevisionMod
	case orm.ActionDelete:
		rt = audit.RevisionDel
	default:
		return nil
	}
	p, err := i.process(s)
	if err != nil {
		return err
	}
	p.AddWorkUnit(ctx, &EntityWorkUnit{
		Entity:       a.Persister.Name,
		ID:           a.ID,
		Instance:     a.Entity,
		RevisionType: rt,
		Data:         a.State,
	})
	return nil
}

func (i *Integrator) OnCollectionAction(ctx context.Context, s *orm.Session, a *orm.CollectionAction) error {
	if _, err := i.cfg.Collection(a.Role); err != nil {
		// 未审计的集合
		return nil
	}
	p, err := i.process(s)
	if err != nil {
		return err
	}

	changes := make([]ElementChange, 0, len(a.Added)+len(a.Removed))
	for _, el := range a.Removed {
		changes = append(changes, ElementChange{Element: el, RevisionType: audit.RevisionDel})
	}
	for _, el := range a.Added {
		changes = append(changes, ElementChange{Element: el, RevisionType: audit.RevisionAdd})
	}
	if len(changes) == 0 {
		return nil
	}
	p.AddWorkUnit(ctx, &CollectionChangeWorkUnit{
		Owner:      a.Persister.Name,
		ID:         CollectionChangeID{OwnerID: a.OwnerID, Role: a.Role},
		Instance:   a.Owner,
		Collection: a.Elements,
		Changes:    changes,
	})

	if i.cfg.Config().RevisionOnCollectionChange && i.cfg.IsAudited(a.Persister.Name) {
		p.AddWorkUnit(ctx, &EntityWorkUnit{
			Entity:       a.Persister.Name,
			ID:           a.OwnerID,
			Instance:     a.Owner,
			RevisionType: audit.RevisionMod,
			Data:         a.Persister.State(a.Owner),
		})
	}
	return nil
}

func (i *Integrator) process(s *orm.Session) (*Process, error) {
	if !s.InTransaction() {
		return nil, errors.NewError(errors.ErrCodeUnsupported, "被审计的变更必须在事务中刷新")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.processes[s]; ok {
		return p, nil
	}
	p := NewProcess(i.cfg, i.strategy, i.generator, i.store, s, i.logger)
	p.onDone = func() { i.release(s) }
	p.completions = i.completions
	if err := s.RegisterSynchronization(p); err != nil {
		return nil, err
	}
	i.processes[s] = p
	return p, nil
}

func (i *Integrator) release(s *orm.Session) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.processes, s)
}
