package orm

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	core "revaudit/data/db"
	"revaudit/data/db/basic"
)

type person struct {
	ID        int64
	Name      string
	Addresses []int64
}

type address struct {
	ID     int64
	Street string
}

func personPersister(withWriter bool) *EntityPersister {
	p := &EntityPersister{
		Name:  "Person",
		Type:  reflect.TypeOf(&person{}),
		Table: "Person",
		ID:    func(e any) any { return e.(*person).ID },
		State: func(e any) map[string]any { return map[string]any{"name": e.(*person).Name} },
		Collections: []CollectionRole{{
			Role: "Person.addresses",
			Elements: func(e any) []any {
				out := make([]any, 0, len(e.(*person).Addresses))
				for _, a := range e.(*person).Addresses {
					out = append(out, a)
				}
				return out
			},
		}},
		New: func() any { return &person{} },
		Hydrate: func(e any, id any, state map[string]any) error {
			pp := e.(*person)
			n, _ := core.ToInt64(id)
			pp.ID = n
			if name, ok := state["name"].(string); ok {
				pp.Name = name
			}
			return nil
		},
	}
	if withWriter {
		p.Writer = NewTablePersister("Person", "id")
		p.Collections[0].Writer = &TableCollectionWriter{
			Table: "Person_Address", OwnerColumn: "person_id", ElementColumn: "address_id",
		}
	}
	return p
}

func addressPersister() *EntityPersister {
	return &EntityPersister{
		Name:  "Address",
		Type:  reflect.TypeOf(&address{}),
		ID:    func(e any) any { return e.(*address).ID },
		State: func(e any) map[string]any { return map[string]any{"street": e.(*address).Street} },
	}
}

func newTestRegistry(t *testing.T, withWriter bool) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(personPersister(withWriter)))
	require.NoError(t, r.Register(addressPersister()))
	return r
}

func newTestDB(t *testing.T) core.IDatabase {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, basic.ExecDDL(context.Background(), db,
		`CREATE TABLE Person (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE Person_Address (person_id INTEGER NOT NULL, address_id INTEGER NOT NULL)`,
	))
	return db
}

// recordingListener 记录执行过的动作
type recordingListener struct {
	actions []string
	err     error
}

func (l *recordingListener) OnEntityAction(_ context.Context, _ *Session, a *EntityAction) error {
	l.actions = append(l.actions, a.Kind.String()+":"+a.Persister.Name)
	return l.err
}

func (l *recordingListener) OnCollectionAction(_ context.Context, _ *Session, a *CollectionAction) error {
	l.actions = append(l.actions, a.Kind.String()+":"+a.Role)
	return l.err
}
