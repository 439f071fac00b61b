package orm

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/errors"
)

func countRows(t *testing.T, s *Session, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.Executor().QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestSession_PersistRules(t *testing.T) {
	s := newMemorySession(t)

	assert.True(t, errors.Is(s.Persist(&struct{}{}), ErrUnknownEntity))

	p := &person{ID: 1}
	require.NoError(t, s.Persist(p))
	require.NoError(t, s.Persist(p), "重复保存同一实例是空操作")
	assert.Equal(t, 1, s.ActionQueue().Len())

	err := s.Persist(&person{ID: 1})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConflict))

	assert.True(t, errors.Is(s.Delete(&person{ID: 2}), ErrTransientEntity))

	// 未写入存储的实体删除后直接移出会话
	require.NoError(t, s.Delete(p))
	assert.Equal(t, 0, s.ActionQueue().Len())
	assert.False(t, s.Contains(p))
}

func TestSession_FlushOrderAndSnapshots(t *testing.T) {
	ctx := context.Background()
	l := &recordingListener{}
	f := NewSessionFactory(newTestDB(t), newTestRegistry(t, true))
	f.AddPostActionListener(l)
	s := f.OpenSession()

	require.NoError(t, s.Begin(ctx))
	p := &person{ID: 1, Name: "a", Addresses: []int64{10, 11}}
	require.NoError(t, s.Persist(p))
	p.Name = "b"
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []string{"insert:Person", "collection_recreate:Person.addresses"}, l.actions)
	assert.Equal(t, 1, countRows(t, s, "SELECT count(*) FROM Person WHERE name = ?", "b"))
	assert.Equal(t, 2, countRows(t, s, "SELECT count(*) FROM Person_Address WHERE person_id = ?", 1))

	dirty, err := s.IsDirty(ctx, p)
	require.NoError(t, err)
	assert.False(t, dirty, "提交后快照已更新")

	l.actions = nil
	require.NoError(t, s.Begin(ctx))
	p.Name = "c"
	p.Addresses = []int64{11, 12}
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, []string{"update:Person", "collection_update:Person.addresses"}, l.actions)
	assert.Equal(t, 1, countRows(t, s, "SELECT count(*) FROM Person_Address WHERE address_id = ?", 12))
	assert.Equal(t, 0, countRows(t, s, "SELECT count(*) FROM Person_Address WHERE address_id = ?", 10))

	l.actions = nil
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Delete(p))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, []string{"collection_remove:Person.addresses", "delete:Person"}, l.actions)
	assert.Equal(t, 0, countRows(t, s, "SELECT count(*) FROM Person"))
	assert.Equal(t, 0, countRows(t, s, "SELECT count(*) FROM Person_Address"))
	assert.False(t, s.Contains(p))
}

func TestSession_GetAndLoad(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFactory(newTestDB(t), newTestRegistry(t, true))

	w := f.OpenSession()
	require.NoError(t, w.Begin(ctx))
	require.NoError(t, w.Persist(&person{ID: 7, Name: "seven"}))
	require.NoError(t, w.Commit(ctx))

	s := f.OpenSession()
	proxy, err := s.Load("Person", int64(7))
	require.NoError(t, err)
	li := proxy.LazyInitializer()
	assert.True(t, li.IsUninitialized())
	assert.Equal(t, "Person", li.EntityName())

	entity, err := li.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seven", entity.(*person).Name)
	assert.Same(t, entity, li.Implementation())

	again, err := s.Get(ctx, "Person", int64(7))
	require.NoError(t, err)
	assert.Same(t, entity, again)

	_, err = s.Get(ctx, "Person", int64(8))
	assert.True(t, errors.IsNotFound(err))

	typ, err := s.EntityType("Person")
	require.NoError(t, err)
	assert.Equal(t, "*orm.person", typ.String())
}

type failingSync struct {
	err       error
	completed []bool
}

func (s *failingSync) BeforeCompletion(context.Context) error { return s.err }
func (s *failingSync) AfterCompletion(_ context.Context, committed bool) {
	s.completed = append(s.completed, committed)
}

func TestSession_BeforeCompletionFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFactory(newTestDB(t), newTestRegistry(t, true))
	s := f.OpenSession()

	assert.Error(t, s.RegisterSynchronization(&failingSync{}))

	require.NoError(t, s.Begin(ctx))
	sync := &failingSync{err: stdErrors.New("boom")}
	require.NoError(t, s.RegisterSynchronization(sync))
	require.NoError(t, s.Persist(&person{ID: 1, Name: "a"}))

	err := s.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, []bool{false}, sync.completed)
	assert.False(t, s.InTransaction())
	assert.Equal(t, 0, countRows(t, s, "SELECT count(*) FROM Person"))

	require.NoError(t, s.Begin(ctx))
	ok := &failingSync{}
	require.NoError(t, s.RegisterSynchronization(ok))
	require.NoError(t, s.Persist(&person{ID: 2, Name: "b"}))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, []bool{true}, ok.completed)
}

func TestSession_ListenerErrorAbortsCommit(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFactory(newTestDB(t), newTestRegistry(t, true))
	f.AddPostActionListener(&recordingListener{err: stdErrors.New("listener")})
	s := f.OpenSession()

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Persist(&person{ID: 1, Name: "a"}))
	require.Error(t, s.Commit(ctx))
	assert.Equal(t, 0, countRows(t, s, "SELECT count(*) FROM Person"))
}
