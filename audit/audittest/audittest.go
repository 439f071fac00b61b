// Package audittest 提供审计引擎端到端测试使用的 sqlite 库、实体与映射
package audittest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/revision"
	"revaudit/audit/tracking"
	core "revaudit/data/db"
	"revaudit/data/db/basic"
	"revaudit/orm"
)

// Person 拥有一组地址（多对多）
type Person struct {
	ID        int64
	Name      string
	Addresses []int64
}

// Address 被引用的实体
type Address struct {
	ID     int64
	Street string
}

// Schema 业务表、审计表与修订日志表
var Schema = []string{
	`CREATE TABLE Person (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE Address (id INTEGER PRIMARY KEY, street TEXT)`,
	`CREATE TABLE Person_Address (person_id INTEGER NOT NULL, address_id INTEGER NOT NULL)`,
	`CREATE TABLE Person_AUD (id INTEGER NOT NULL, REV INTEGER NOT NULL, REVTYPE INTEGER,
		REVEND INTEGER, REVEND_TSTMP INTEGER, name TEXT, PRIMARY KEY (id, REV))`,
	`CREATE TABLE Address_AUD (id INTEGER NOT NULL, REV INTEGER NOT NULL, REVTYPE INTEGER,
		REVEND INTEGER, REVEND_TSTMP INTEGER, street TEXT, PRIMARY KEY (id, REV))`,
	`CREATE TABLE Person_Address_AUD (Person_id INTEGER NOT NULL, Address_id INTEGER NOT NULL,
		REV INTEGER NOT NULL, REVTYPE INTEGER, REVEND INTEGER, REVEND_TSTMP INTEGER,
		PRIMARY KEY (Person_id, Address_id, REV))`,
	`CREATE TABLE REVINFO (REV INTEGER PRIMARY KEY AUTOINCREMENT, REVTSTMP INTEGER NOT NULL)`,
	`CREATE TABLE REVCHANGES (REV INTEGER NOT NULL, ENTITYNAME TEXT NOT NULL)`,
}

// AddressesRole Person 地址集合的角色名
const AddressesRole = "Person.addresses"

// Env 一套接好线的审计环境
type Env struct {
	DB            core.IDatabase
	Configuration *audit.Configuration
	Registry      *orm.Registry
	Factory       *orm.SessionFactory
	Generator     revision.InfoGenerator
	Store         *revision.Store
	Integrator    *tracking.Integrator
	// Clock 修订时间，测试可推进
	Clock *Clock
}

// Clock 可手动推进的时钟
type Clock struct {
	now time.Time
}

func (c *Clock) Now() time.Time          { return c.now }
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *Clock) Set(t time.Time)         { c.now = t }
func NewClock(start time.Time) *Clock    { return &Clock{now: start} }
func (e *Env) Session() *orm.Session     { return e.Factory.OpenSession() }
func (e *Env) Config() audit.Config      { return e.Configuration.Config() }
func (e *Env) PersonID() mapper.MiddleIDData {
	return mapper.NewMiddleIDData("Person", "Person_AUD", mapper.NewSingleIDMapper("id"), "Person_")
}

// AddressID 中间表中指向 Address 的标识
func (e *Env) AddressID() mapper.MiddleIDData {
	return mapper.NewMiddleIDData("Address", "Address_AUD", mapper.NewSingleIDMapper("id"), "Address_")
}

// Options 额外的接线选项
type Options struct {
	// Revision 传给修订生成器
	Revision []revision.Option
	// Tracking 传给集成器
	Tracking []tracking.Option
}

// New 创建内存库并按 cfg 接线；opts 传给修订生成器
func New(t testing.TB, cfg audit.Config, opts ...revision.Option) *Env {
	t.Helper()
	return NewWithOptions(t, cfg, Options{Revision: opts})
}

// NewWithOptions 同 New，可同时配置集成器
func NewWithOptions(t testing.TB, cfg audit.Config, o Options) *Env {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, basic.ExecDDL(context.Background(), db, Schema...))

	env := &Env{DB: db, Clock: NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}

	env.Configuration, err = audit.NewConfiguration(cfg)
	require.NoError(t, err)
	require.NoError(t, RegisterMappings(env.Configuration))

	env.Registry = orm.NewRegistry()
	require.NoError(t, RegisterEntities(env.Registry))
	env.Factory = orm.NewSessionFactory(db, env.Registry)

	opts := append([]revision.Option{revision.WithClock(env.Clock.Now)}, o.Revision...)
	if cfg.TrackEntitiesChangedInRevision {
		env.Generator, err = revision.NewTrackingInfoGenerator(revision.TrackingEntityMapping(), opts...)
		require.NoError(t, err)
	} else {
		env.Generator = revision.NewDefaultInfoGenerator(revision.DefaultEntityMapping(), opts...)
	}
	env.Store, err = revision.NewStore(cfg, env.Generator.Mapping())
	require.NoError(t, err)

	env.Integrator = tracking.NewIntegrator(env.Configuration, env.Generator, env.Store, o.Tracking...)
	require.NoError(t, env.Integrator.Integrate(context.Background(), env.Factory))
	return env
}

// RegisterMappings 登记 Person、Address 与 Person.addresses 的审计映射
func RegisterMappings(c *audit.Configuration) error {
	id := mapper.NewSingleIDMapper("id")
	if err := c.RegisterEntity(audit.EntityMapping{EntityName: "Person", IDMapper: id, Properties: []string{"name"}}); err != nil {
		return err
	}
	if err := c.RegisterEntity(audit.EntityMapping{EntityName: "Address", IDMapper: id, Properties: []string{"street"}}); err != nil {
		return err
	}
	return c.RegisterCollection(audit.CollectionMapping{
		Role:          AddressesRole,
		OwnerEntity:   "Person",
		MiddleEntity:  "Person_Address_AUD",
		ReferencingID: mapper.NewMiddleIDData("Person", "Person_AUD", id, "Person_"),
		ElementID:     mapper.NewMiddleIDData("Address", "Address_AUD", id, "Address_"),
	})
}

// RegisterEntities 登记 Person 与 Address 的持久化映射
func RegisterEntities(r *orm.Registry) error {
	err := r.Register(&orm.EntityPersister{
		Name:  "Person",
		Type:  reflect.TypeOf(&Person{}),
		Table: "Person",
		ID:    func(e any) any { return e.(*Person).ID },
		State: func(e any) map[string]any { return map[string]any{"name": e.(*Person).Name} },
		Collections: []orm.CollectionRole{{
			Role: AddressesRole,
			Elements: func(e any) []any {
				ids := e.(*Person).Addresses
				out := make([]any, len(ids))
				for i, id := range ids {
					out[i] = id
				}
				return out
			},
			Writer: &orm.TableCollectionWriter{Table: "Person_Address", OwnerColumn: "person_id", ElementColumn: "address_id"},
		}},
		New: func() any { return &Person{} },
		Hydrate: func(e any, id any, state map[string]any) error {
			p := e.(*Person)
			p.ID, _ = core.ToInt64(id)
			p.Name, _ = state["name"].(string)
			return nil
		},
		Writer: orm.NewTablePersister("Person", "id"),
	})
	if err != nil {
		return err
	}
	return r.Register(&orm.EntityPersister{
		Name:  "Address",
		Type:  reflect.TypeOf(&Address{}),
		Table: "Address",
		ID:    func(e any) any { return e.(*Address).ID },
		State: func(e any) map[string]any { return map[string]any{"street": e.(*Address).Street} },
		New:   func() any { return &Address{} },
		Hydrate: func(e any, id any, state map[string]any) error {
			a := e.(*Address)
			a.ID, _ = core.ToInt64(id)
			a.Street, _ = state["street"].(string)
			return nil
		},
		Writer: orm.NewTablePersister("Address", "id"),
	})
}

// InTx 在一个事务中执行 fn 并提交，时钟先推进一秒
func (e *Env) InTx(t testing.TB, s *orm.Session, fn func() error) error {
	t.Helper()
	e.Clock.Advance(time.Second)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	if err := fn(); err != nil {
		_ = s.Rollback(ctx)
		return err
	}
	return s.Commit(ctx)
}
