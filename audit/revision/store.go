package revision

import (
	"context"
	"database/sql"
	stdErrors "errors"

	"revaudit/audit"
	core "revaudit/data/db"
	"revaudit/data/db/dialect"
	dbsql "revaudit/data/db/sql"
	"revaudit/errors"
)

// ErrNotFound 修订不存在
var ErrNotFound = stdErrors.New("revision: not found")

func init() {
	errors.Register(ErrNotFound, errors.ErrCodeNotFound, "修订不存在")
}

// NumberSource 由应用分配修订号（非数据库自增），codegen/snowflake.Generator 实现了该接口
type NumberSource interface {
	Next(ctx context.Context) (int64, error)
}

// StoreOption Store 选项
type StoreOption func(*Store)

// WithNumberSource 使用应用分配的修订号
func WithNumberSource(src NumberSource) StoreOption {
	return func(s *Store) { s.numbers = src }
}

// Store 读写修订日志表（REVINFO）与变更实体名表（REVCHANGES）
type Store struct {
	cfg     audit.Config
	mapping EntityMapping
	numbers NumberSource
}

// NewStore 创建 Store；不使用数据库自增主键时必须提供 NumberSource
func NewStore(cfg audit.Config, mapping EntityMapping, opts ...StoreOption) (*Store, error) {
	s := &Store{cfg: cfg, mapping: mapping}
	for _, opt := range opts {
		opt(s)
	}
	if !cfg.UseRevisionEntityWithNativeID && s.numbers == nil {
		return nil, errors.NewMappingError("修订日志实体 %s 未使用自增主键，但没有配置修订号来源",
			cfg.RevisionInfoEntityName)
	}
	return s, nil
}

// Save 持久化修订日志行并回填修订号
func (s *Store) Save(ctx context.Context, db core.IDatabase, rev any) (int64, error) {
	ts := s.mapping.Timestamp.Get(rev)
	ins := dbsql.New(db).InsertInto(s.cfg.RevisionInfoEntityName)

	if s.numbers != nil {
		id, err := s.numbers.Next(ctx)
		if err != nil {
			return 0, err
		}
		ins.Columns(s.cfg.RevisionInfoIDName, s.cfg.RevisionInfoTimestampName).Values(id, ts)
		if _, err := ins.Exec(ctx); err != nil {
			return 0, errors.WrapDatabaseError(ctx, err, "写入修订日志")
		}
		s.mapping.ID.Set(rev, id)
		return id, nil
	}

	ins.Columns(s.cfg.RevisionInfoTimestampName).Values(ts)
	res, err := ins.Exec(ctx)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "写入修订日志")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "读取修订号")
	}
	s.mapping.ID.Set(rev, id)
	return id, nil
}

// SaveChangedEntityNames 持久化本修订中变更过的实体名
func (s *Store) SaveChangedEntityNames(ctx context.Context, db core.IDatabase, revision int64, names []string) error {
	if len(names) == 0 {
		return nil
	}
	ins := dbsql.New(db).InsertInto(s.cfg.ChangedEntitiesTableName).
		Columns(s.cfg.RevisionInfoIDName, s.cfg.ChangedEntitiesColumnName)
	for _, n := range names {
		ins.Values(revision, n)
	}
	if _, err := ins.Exec(ctx); err != nil {
		return errors.WrapDatabaseError(ctx, err, "写入变更实体名")
	}
	return nil
}

// Timestamp 读取修订时间戳（毫秒）
func (s *Store) Timestamp(ctx context.Context, db core.IDatabase, revision int64) (int64, error) {
	d := dialect.FromDatabase(db)
	var ts int64
	err := dbsql.New(db).Select(d.QuoteIdentifier(s.cfg.RevisionInfoTimestampName)).
		From(s.cfg.RevisionInfoEntityName).
		Where(d.QuoteIdentifier(s.cfg.RevisionInfoIDName)+" = ?", revision).
		QueryRow(ctx).Scan(&ts)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, errors.WrapError(ErrNotFound, errors.ErrCodeNotFound, "修订不存在").
			WithContext("revision", revision)
	}
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "读取修订时间")
	}
	return ts, nil
}

// RevisionForTimestamp 返回时间戳不晚于 ts 的最大修订号
func (s *Store) RevisionForTimestamp(ctx context.Context, db core.IDatabase, ts int64) (int64, error) {
	d := dialect.FromDatabase(db)
	var rev sql.NullInt64
	err := dbsql.New(db).Select("max("+d.QuoteIdentifier(s.cfg.RevisionInfoIDName)+")").
		From(s.cfg.RevisionInfoEntityName).
		Where(d.QuoteIdentifier(s.cfg.RevisionInfoTimestampName)+" <= ?", ts).
		QueryRow(ctx).Scan(&rev)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "按时间查询修订号")
	}
	if !rev.Valid {
		return 0, errors.WrapError(ErrNotFound, errors.ErrCodeNotFound, "指定时间之前没有修订").
			WithContext("timestamp", ts)
	}
	return rev.Int64, nil
}

// ChangedEntityNames 读取修订中变更过的实体名
func (s *Store) ChangedEntityNames(ctx context.Context, db core.IDatabase, revision int64) ([]string, error) {
	d := dialect.FromDatabase(db)
	col := d.QuoteIdentifier(s.cfg.ChangedEntitiesColumnName)
	rows, err := dbsql.New(db).Select(col).
		From(s.cfg.ChangedEntitiesTableName).
		Where(d.QuoteIdentifier(s.cfg.RevisionInfoIDName)+" = ?", revision).
		OrderBy(col).
		Query(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取变更实体名")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "读取变更实体名")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
