// Package reader 读取实体与关联在历史修订下的状态
//
// 读取器只执行原生 SQL：实体查询按原生路径生成，关系查询要求生成器输出原生 SQL。
// 读取在事务之外执行，结果是已提交修订的快照。
package reader

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"revaudit/audit"
	"revaudit/audit/relation"
	"revaudit/audit/revision"
	"revaudit/audit/strategy"
	"revaudit/cache"
	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	"revaudit/data/db/pagination"
	"revaudit/errors"
	"revaudit/logging"
)

const tracerName = "revaudit/audit/reader"

var (
	// ErrNotAudited 实体或集合未配置审计
	ErrNotAudited = audit.ErrNotAudited
	// ErrNotFound 实体在指定修订下不存在（尚未创建或已删除）
	ErrNotFound = stdErrors.New("reader: entity not found at revision")
)

func init() {
	errors.Register(ErrNotFound, errors.ErrCodeNotFound, "实体在该修订下不存在")
}

// Snapshot 实体在某个修订下的审计行
type Snapshot struct {
	EntityName   string
	ID           any
	Revision     int64
	RevisionType audit.RevisionType
	// Data 被审计属性的取值
	Data map[string]any
}

// Option 读取器选项
type Option func(*Reader)

// WithLimitHandler 替换按方言推断的分页改写器
func WithLimitHandler(h pagination.LimitHandler) Option {
	return func(r *Reader) {
		if h != nil {
			r.limit = h
		}
	}
}

// WithDialectResolvers 在数据库连接推断之前尝试的方言解析器
func WithDialectResolvers(resolvers ...dialect.Resolver) Option {
	return func(r *Reader) { r.resolvers = append(r.resolvers, resolvers...) }
}

// WithDateCacheSize 修订时间缓存容量，默认 1024
func WithDateCacheSize(size int) Option {
	return func(r *Reader) { r.dateCacheSize = size }
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reader 审计读取器，并发安全
type Reader struct {
	configuration *audit.Configuration
	cfg           audit.Config
	strategy      strategy.AuditStrategy
	db            core.IDatabase
	store         *revision.Store
	dialect       dialect.Dialect
	limit         pagination.LimitHandler
	resolvers     []dialect.Resolver
	logger        logging.Logger

	dateCacheSize int
	dates         *cache.Cache[int64, time.Time]

	mu         sync.Mutex
	generators map[string]relation.RelationQueryGenerator
}

// New 创建读取器；查询路径固定使用原生模式。
//
// 方言按 revaudit.dialect 配置、WithDialectResolvers 与数据库连接的顺序决定，
// 并据此选择分页改写器（WithLimitHandler 可覆盖）。
func New(ctx context.Context, configuration *audit.Configuration, db core.IDatabase, store *revision.Store, opts ...Option) (*Reader, error) {
	r := &Reader{
		configuration: configuration,
		db:            db,
		store:         store,
		logger:        logging.ComponentLogger(nil, "audit.reader"),
		dateCacheSize: 1024,
		generators:    make(map[string]relation.RelationQueryGenerator),
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg, d, err := audit.InitiateDialect(ctx, configuration.Config(), db, r.logger, r.resolvers...)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg.WithNativeSQL(true)
	r.dialect = d
	r.strategy = strategy.New(r.cfg)
	if r.limit == nil {
		r.limit = d.LimitHandler()
	}
	r.dates = cache.New[int64, time.Time](cache.Config{Name: "audit.revision_dates", MaxSize: r.dateCacheSize})
	return r, nil
}

// Dialect 读取器使用的方言
func (r *Reader) Dialect() dialect.Dialect { return r.dialect }

// LimitHandler 读取器使用的分页改写器
func (r *Reader) LimitHandler() pagination.LimitHandler { return r.limit }

// startSpan 开始一个 audit.reader.<op> span，返回的 end 记录错误状态
func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "audit.reader."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// Find 实体在 revision 时的状态；不存在或已删除时返回 ErrNotFound
func (r *Reader) Find(ctx context.Context, entityName string, id any, rev int64) (snap *Snapshot, err error) {
	ctx, end := startSpan(ctx, "find", attribute.String("entity", entityName), attribute.Int64("revision", rev))
	defer end(&err)

	m, err := r.configuration.Entity(entityName)
	if err != nil {
		return nil, err
	}
	qb, err := r.entityAtRevisionQuery(m, id, false, false)
	if err != nil {
		return nil, err
	}
	snaps, err := r.querySnapshots(ctx, m, id, qb, point{revision: rev})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s#%v@%d", ErrNotFound, entityName, id, rev)
	}
	return snaps[0], nil
}

// FindValidOrRemoved 与 Find 相同，但恰在 revision 被删除的实体也会返回，修订类型为 DEL。
// 删除行不保存数据时，Data 为删除前最后一个修订的状态。
func (r *Reader) FindValidOrRemoved(ctx context.Context, entityName string, id any, rev int64) (snap *Snapshot, err error) {
	ctx, end := startSpan(ctx, "find_valid_or_removed", attribute.String("entity", entityName), attribute.Int64("revision", rev))
	defer end(&err)

	m, err := r.configuration.Entity(entityName)
	if err != nil {
		return nil, err
	}
	qb, err := r.entityAtRevisionQuery(m, id, true, false)
	if err != nil {
		return nil, err
	}
	snaps, err := r.querySnapshots(ctx, m, id, qb, point{revision: rev})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s#%v@%d", ErrNotFound, entityName, id, rev)
	}
	snap = snaps[0]
	if snap.RevisionType == audit.RevisionDel && !r.cfg.StoreDataAtDelete && rev > 1 {
		prev, err := r.Find(ctx, entityName, id, rev-1)
		switch {
		case err == nil:
			snap.Data = prev.Data
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	return snap, nil
}

// FindAtTime 实体在某一时刻的状态。
//
// 有效条件按修订日志时间判定：默认策略关联修订日志表比较时间戳，有效期策略在记录了
// 结束时间戳时比较结束时间戳；该时刻之前没有任何修订时返回 NOT_FOUND。
func (r *Reader) FindAtTime(ctx context.Context, entityName string, id any, at time.Time) (snap *Snapshot, err error) {
	ctx, end := startSpan(ctx, "find_at_time", attribute.String("entity", entityName), attribute.Int64("timestamp", at.UnixMilli()))
	defer end(&err)

	m, err := r.configuration.Entity(entityName)
	if err != nil {
		return nil, err
	}
	rev, err := r.store.RevisionForTimestamp(ctx, r.db, at.UnixMilli())
	if err != nil {
		return nil, err
	}
	qb, err := r.entityAtRevisionQuery(m, id, false, true)
	if err != nil {
		return nil, err
	}
	snaps, err := r.querySnapshots(ctx, m, id, qb, point{revision: rev, timestamp: at.UnixMilli(), byTime: true})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s#%v@%s", ErrNotFound, entityName, id, at.Format(time.RFC3339Nano))
	}
	return snaps[0], nil
}

// GetRevisions 实体发生过变更的全部修订号，升序
func (r *Reader) GetRevisions(ctx context.Context, entityName string, id any) ([]int64, error) {
	return r.ListRevisions(ctx, entityName, id, nil)
}

// ListRevisions 分页读取实体的修订号，升序；sel 为 nil 时不分页
func (r *Reader) ListRevisions(ctx context.Context, entityName string, id any, sel *pagination.RowSelection) (revs []int64, err error) {
	ctx, end := startSpan(ctx, "list_revisions", attribute.String("entity", entityName))
	defer end(&err)

	m, err := r.configuration.Entity(entityName)
	if err != nil {
		return nil, err
	}
	q, args, err := r.revisionsQuery(m, id)
	if err != nil {
		return nil, err
	}
	processed, err := r.limit.Process(q, sel)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, processed.SQL, processed.Bind(args...)...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取修订列表: "+entityName)
	}
	records, err := core.ScanRecords(rows)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取修订列表: "+entityName)
	}
	revs = make([]int64, 0, len(records))
	for _, rec := range records {
		if n, ok := rec.Int64(r.cfg.RevisionFieldName); ok {
			revs = append(revs, n)
		}
	}
	return revs, nil
}

// GetRevisionDate 修订的提交时间；修订不可变，结果被缓存
func (r *Reader) GetRevisionDate(ctx context.Context, rev int64) (t time.Time, err error) {
	ctx, end := startSpan(ctx, "get_revision_date", attribute.Int64("revision", rev))
	defer end(&err)

	return r.dates.GetOrLoad(ctx, rev, func(ctx context.Context, rev int64) (time.Time, error) {
		ms, err := r.store.Timestamp(ctx, r.db, rev)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms), nil
	})
}

// GetRevisionNumberForDate 不晚于 at 的最新修订号
func (r *Reader) GetRevisionNumberForDate(ctx context.Context, at time.Time) (rev int64, err error) {
	ctx, end := startSpan(ctx, "get_revision_number_for_date", attribute.Int64("timestamp", at.UnixMilli()))
	defer end(&err)

	return r.store.RevisionForTimestamp(ctx, r.db, at.UnixMilli())
}

// GetEntityNamesChangedInRevision 修订中变更过的实体名；需要开启变更实体名记录
func (r *Reader) GetEntityNamesChangedInRevision(ctx context.Context, rev int64) (names []string, err error) {
	ctx, end := startSpan(ctx, "get_entity_names_changed_in_revision", attribute.Int64("revision", rev))
	defer end(&err)

	if !r.cfg.TrackEntitiesChangedInRevision {
		return nil, errors.NewError(errors.ErrCodeUnsupported, "未开启变更实体名记录")
	}
	return r.store.ChangedEntityNames(ctx, r.db, rev)
}

// Relation 集合对应的关系查询生成器，首次使用时生成并缓存
func (r *Reader) Relation(role string) (relation.RelationQueryGenerator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.generators[role]; ok {
		return g, nil
	}
	cm, err := r.configuration.Collection(role)
	if err != nil {
		return nil, err
	}
	g, err := relation.ForCollection(r.cfg, r.strategy, cm)
	if err != nil {
		return nil, err
	}
	r.generators[role] = g
	return g, nil
}

// QueryRelation 执行关系查询，返回中间表行（及关联实体列）
func (r *Reader) QueryRelation(ctx context.Context, gen relation.RelationQueryGenerator, referencingID any, rev int64, removed bool) (records []core.Record, err error) {
	ctx, end := startSpan(ctx, "query_relation", attribute.Int64("revision", rev), attribute.Bool("removed", removed))
	defer end(&err)

	if !gen.NativeSQL() {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "关系查询不是原生 SQL，无法直接执行")
	}
	values, err := gen.Parameters(referencingID, rev)
	if err != nil {
		return nil, err
	}
	q, args, err := bindNamed(gen.Query(removed), values)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "执行关系查询")
	}
	records, err = core.ScanRecords(rows)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取关系查询结果")
	}
	return records, nil
}

// RelationAt 按集合角色读取拥有方在 revision 时的关联行
func (r *Reader) RelationAt(ctx context.Context, role string, ownerID any, rev int64) ([]core.Record, error) {
	g, err := r.Relation(role)
	if err != nil {
		return nil, err
	}
	return r.QueryRelation(ctx, g, ownerID, rev, false)
}
