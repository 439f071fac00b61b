package tracking

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"revaudit/audit"
	"revaudit/audit/revision"
	"revaudit/audit/strategy"
	core "revaudit/data/db"
	"revaudit/logging"
)

const tracerName = "revaudit/audit"

// Executor 提供当前事务，orm.Session 实现了该接口
type Executor interface {
	EntityTypeResolver
	Executor() core.IDatabase
}

// Process 一个事务的审计过程：收集并合并工作单元，在提交前一次性写入
type Process struct {
	cfg       *audit.Configuration
	strategy  strategy.AuditStrategy
	generator revision.InfoGenerator
	store     *revision.Store
	session   Executor
	logger    logging.Logger
	onDone    func()

	completions []revision.CompletionListener
	current     any

	units []WorkUnit
	index map[string]int
}

// NewProcess 创建事务审计过程
func NewProcess(cfg *audit.Configuration, s strategy.AuditStrategy, generator revision.InfoGenerator,
	store *revision.Store, session Executor, logger logging.Logger) *Process {
	if logger == nil {
		logger = logging.ComponentLogger(nil, "audit.tracking")
	}
	return &Process{
		cfg:       cfg,
		strategy:  s,
		generator: generator,
		store:     store,
		session:   session,
		logger:    logger,
		index:     make(map[string]int),
	}
}

// AddWorkUnit 登记工作单元，与同 Key 的已有单元合并
func (p *Process) AddWorkUnit(ctx context.Context, unit WorkUnit) {
	key := unit.Key()
	i, ok := p.index[key]
	if !ok || p.units[i] == nil {
		p.index[key] = len(p.units)
		p.units = append(p.units, unit)
		return
	}
	merged := mergeUnits(p.units[i], unit)
	p.units[i] = merged
	p.logger.Debug(ctx, "合并工作单元", logging.String("key", key), logging.Bool("cancelled", merged == nil))
}

// Pending 合并后仍需写入的工作单元，按登记顺序
func (p *Process) Pending() []WorkUnit {
	out := make([]WorkUnit, 0, len(p.units))
	for _, u := range p.units {
		if u != nil {
			out = append(out, u)
		}
	}
	return out
}

// BeforeCompletion 生成并保存修订，写入审计行，再逐个通知修订生成器。
// 任一步出错都会使事务回滚。
func (p *Process) BeforeCompletion(ctx context.Context) (err error) {
	units := p.Pending()
	if len(units) == 0 {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "audit.process",
		trace.WithAttributes(
			attribute.Int("work_units", len(units)),
			attribute.String("strategy", string(p.strategy.Kind())),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rev, err := p.generator.Generate(ctx)
	if err != nil {
		return err
	}
	p.current = rev
	db := p.session.Executor()
	number, err := p.store.Save(ctx, db, rev)
	if err != nil {
		return err
	}
	timestamp := p.generator.Mapping().Timestamp.Get(rev)
	span.SetAttributes(attribute.Int64("revision", number))

	for _, u := range units {
		if err := p.perform(ctx, db, u, number, timestamp); err != nil {
			return err
		}
	}

	notifier := NewChangeNotifier(p.generator, p.session)
	for _, u := range units {
		if err := notifier.NotifyRevisionGenerator(ctx, rev, u); err != nil {
			return err
		}
	}

	mapping := p.generator.Mapping()
	if p.cfg.Config().TrackEntitiesChangedInRevision && mapping.Tracks() {
		if err := p.store.SaveChangedEntityNames(ctx, db, number, mapping.ModifiedEntityNames.Get(rev)); err != nil {
			return err
		}
	}

	p.logger.Debug(ctx, "审计修订已写入", logging.Int64("revision", number), logging.Int("work_units", len(units)))
	return nil
}

// AfterCompletion 通知完成监听器并释放事务状态
func (p *Process) AfterCompletion(ctx context.Context, committed bool) {
	if p.current != nil {
		for _, l := range p.completions {
			l.RevisionCompleted(ctx, p.current, committed)
		}
	}
	p.current = nil
	p.units = nil
	p.index = make(map[string]int)
	if p.onDone != nil {
		p.onDone()
	}
}

func (p *Process) perform(ctx context.Context, db core.IDatabase, unit WorkUnit, number, timestamp int64) error {
	switch u := unit.(type) {
	case *EntityWorkUnit:
		m, err := p.cfg.Entity(u.Entity)
		if err != nil {
			return err
		}
		id, err := m.IDMapper.MapToValues(u.ID)
		if err != nil {
			return err
		}
		return p.strategy.Perform(ctx, db, strategy.Row{
			AuditTable:        m.AuditTable,
			ID:                id,
			Revision:          number,
			RevisionType:      u.RevisionType,
			RevisionTimestamp: timestamp,
			Data:              p.auditedData(m, u),
		})

	case *CollectionChangeWorkUnit:
		cm, err := p.cfg.Collection(u.ID.Role)
		if err != nil {
			return err
		}
		for _, c := range u.Changes {
			id, err := cm.RowID(u.ID.OwnerID, c.Element)
			if err != nil {
				return err
			}
			err = p.strategy.PerformCollectionChange(ctx, db, strategy.Row{
				AuditTable:        cm.MiddleEntity,
				ID:                id,
				Revision:          number,
				RevisionType:      c.RevisionType,
				RevisionTimestamp: timestamp,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// auditedData 只保留被审计的属性；删除时按配置决定是否保留数据
func (p *Process) auditedData(m *audit.EntityMapping, u *EntityWorkUnit) map[string]any {
	if u.RevisionType == audit.RevisionDel && !p.cfg.Config().StoreDataAtDelete {
		return nil
	}
	out := make(map[string]any, len(m.Properties))
	for _, prop := range m.Properties {
		if v, ok := u.Data[prop]; ok {
			out[prop] = v
		}
	}
	return out
}
