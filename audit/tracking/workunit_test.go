package tracking

import (
	"context"
	stdErrors "errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/audit"
	"revaudit/audit/revision"
	"revaudit/errors"
)

func entityUnit(rt audit.RevisionType, name string) *EntityWorkUnit {
	return &EntityWorkUnit{Entity: "Person", ID: int64(1), RevisionType: rt, Data: map[string]any{"name": name}}
}

func TestMergeEntity(t *testing.T) {
	tests := []struct {
		name       string
		prev, next audit.RevisionType
		want       audit.RevisionType
		cancelled  bool
		wantData   string
	}{
		{"ADD+MOD", audit.RevisionAdd, audit.RevisionMod, audit.RevisionAdd, false, "next"},
		{"ADD+DEL", audit.RevisionAdd, audit.RevisionDel, 0, true, ""},
		{"ADD+ADD", audit.RevisionAdd, audit.RevisionAdd, audit.RevisionAdd, false, "next"},
		{"MOD+MOD", audit.RevisionMod, audit.RevisionMod, audit.RevisionMod, false, "next"},
		{"MOD+DEL", audit.RevisionMod, audit.RevisionDel, audit.RevisionDel, false, "next"},
		{"DEL+ADD", audit.RevisionDel, audit.RevisionAdd, audit.RevisionMod, false, "next"},
		{"DEL+MOD", audit.RevisionDel, audit.RevisionMod, audit.RevisionDel, false, "prev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeUnits(entityUnit(tt.prev, "prev"), entityUnit(tt.next, "next"))
			if tt.cancelled {
				assert.Nil(t, got)
				return
			}
			u := got.(*EntityWorkUnit)
			assert.Equal(t, tt.want, u.RevisionType)
			assert.Equal(t, tt.wantData, u.Data["name"])
		})
	}
}

func TestMergeCollection(t *testing.T) {
	id := CollectionChangeID{OwnerID: int64(1), Role: "Person.addresses"}
	prev := &CollectionChangeWorkUnit{Owner: "Person", ID: id, Changes: []ElementChange{
		{Element: int64(10), RevisionType: audit.RevisionAdd},
		{Element: int64(11), RevisionType: audit.RevisionDel},
	}}
	next := &CollectionChangeWorkUnit{Owner: "Person", ID: id, Changes: []ElementChange{
		{Element: int64(10), RevisionType: audit.RevisionDel},
		{Element: int64(12), RevisionType: audit.RevisionAdd},
	}}

	got := mergeUnits(prev, next).(*CollectionChangeWorkUnit)
	assert.Equal(t, []ElementChange{
		{Element: int64(11), RevisionType: audit.RevisionDel},
		{Element: int64(12), RevisionType: audit.RevisionAdd},
	}, got.Changes)

	undo := &CollectionChangeWorkUnit{Owner: "Person", ID: id, Changes: []ElementChange{
		{Element: int64(11), RevisionType: audit.RevisionAdd},
		{Element: int64(12), RevisionType: audit.RevisionDel},
	}}
	assert.Nil(t, mergeUnits(got, undo))
}

func TestProcess_AddWorkUnitMerges(t *testing.T) {
	p := NewProcess(nil, nil, nil, nil, nil, nil)
	ctx := context.Background()

	p.AddWorkUnit(ctx, entityUnit(audit.RevisionAdd, "a"))
	p.AddWorkUnit(ctx, &EntityWorkUnit{Entity: "Address", ID: int64(1), RevisionType: audit.RevisionAdd})
	p.AddWorkUnit(ctx, entityUnit(audit.RevisionMod, "b"))
	require.Len(t, p.Pending(), 2)
	assert.Equal(t, "b", p.Pending()[0].(*EntityWorkUnit).Data["name"])

	p.AddWorkUnit(ctx, entityUnit(audit.RevisionDel, "b"))
	require.Len(t, p.Pending(), 1)
	assert.Equal(t, "Address", p.Pending()[0].EntityName())

	// 抵消后再次出现的单元重新登记
	p.AddWorkUnit(ctx, entityUnit(audit.RevisionAdd, "c"))
	require.Len(t, p.Pending(), 2)
	assert.Equal(t, "c", p.Pending()[1].(*EntityWorkUnit).Data["name"])
}

type resolverFunc func(string) (reflect.Type, error)

func (f resolverFunc) EntityType(name string) (reflect.Type, error) { return f(name) }

type capture struct {
	revision.RevisionListenerFunc
	entities    []revision.EntityChangeEvent
	collections []revision.CollectionChangeEvent
}

func (c *capture) EntityChanged(_ context.Context, e revision.EntityChangeEvent) error {
	c.entities = append(c.entities, e)
	return nil
}

func (c *capture) CollectionChanged(_ context.Context, e revision.CollectionChangeEvent) error {
	c.collections = append(c.collections, e)
	return nil
}

func TestChangeNotifier_DispatchesOneEventPerUnit(t *testing.T) {
	type person struct{}
	c := &capture{RevisionListenerFunc: func(context.Context, any) error { return nil }}
	gen := revision.NewDefaultInfoGenerator(revision.DefaultEntityMapping(), revision.WithListener(c))
	n := NewChangeNotifier(gen, resolverFunc(func(string) (reflect.Type, error) {
		return reflect.TypeOf(&person{}), nil
	}))
	rev := &revision.DefaultRevisionEntity{ID: 3}
	ctx := context.Background()

	require.NoError(t, n.NotifyRevisionGenerator(ctx, rev, entityUnit(audit.RevisionMod, "x")))
	require.NoError(t, n.NotifyRevisionGenerator(ctx, rev, &CollectionChangeWorkUnit{
		Owner:      "Person",
		ID:         CollectionChangeID{OwnerID: int64(7), Role: "Person.addresses"},
		Collection: []any{int64(1)},
		Changes:    []ElementChange{{Element: int64(1), RevisionType: audit.RevisionAdd}},
	}))

	require.Len(t, c.entities, 1)
	assert.Equal(t, audit.RevisionMod, c.entities[0].RevisionType)
	assert.Same(t, rev, c.entities[0].RevisionEntity)

	require.Len(t, c.collections, 1)
	ev := c.collections[0]
	assert.Equal(t, int64(7), ev.EntityID, "集合事件携带拥有方标识")
	assert.Equal(t, "Person.addresses", ev.Role)
	assert.Equal(t, audit.RevisionAdd, ev.RevisionType)
	assert.Equal(t, reflect.TypeOf(&person{}), ev.EntityType)
}

func TestChangeNotifier_ResolutionError(t *testing.T) {
	gen := revision.NewDefaultInfoGenerator(revision.DefaultEntityMapping())
	n := NewChangeNotifier(gen, resolverFunc(func(string) (reflect.Type, error) {
		return nil, stdErrors.New("unknown entity")
	}))

	err := n.NotifyRevisionGenerator(context.Background(), &revision.DefaultRevisionEntity{}, entityUnit(audit.RevisionAdd, "x"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeResolution))
	assert.Contains(t, err.Error(), "Person")
}

func TestCollectionRevisionType(t *testing.T) {
	u := &CollectionChangeWorkUnit{Changes: []ElementChange{
		{Element: 1, RevisionType: audit.RevisionDel},
		{Element: 2, RevisionType: audit.RevisionAdd},
	}}
	assert.Equal(t, audit.RevisionMod, collectionRevisionType(u))
	u.Changes = u.Changes[:1]
	assert.Equal(t, audit.RevisionDel, collectionRevisionType(u))
}
