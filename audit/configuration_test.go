package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/audit/mapper"
	"revaudit/errors"
)

func newTestConfiguration(t *testing.T) *Configuration {
	t.Helper()
	c, err := NewConfiguration(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, c.RegisterEntity(EntityMapping{
		EntityName: "Person",
		IDMapper:   mapper.NewSingleIDMapper("id"),
		Properties: []string{"name"},
	}))
	require.NoError(t, c.RegisterEntity(EntityMapping{
		EntityName: "Address",
		IDMapper:   mapper.NewSingleIDMapper("id"),
		Properties: []string{"street"},
	}))
	return c
}

func TestConfiguration_RegisterEntity(t *testing.T) {
	c := newTestConfiguration(t)

	m, err := c.Entity("Person")
	require.NoError(t, err)
	assert.Equal(t, "Person_AUD", m.AuditTable)
	assert.True(t, c.IsAudited("Address"))
	assert.Equal(t, []string{"Address", "Person"}, c.EntityNames())

	_, err = c.Entity("Ghost")
	assert.ErrorIs(t, err, ErrNotAudited)
	assert.True(t, errors.IsMapping(err))
}

func TestConfiguration_RegisterEntity_MappingErrors(t *testing.T) {
	c := newTestConfiguration(t)

	err := c.RegisterEntity(EntityMapping{EntityName: "Car"})
	require.Error(t, err)
	assert.True(t, errors.IsMapping(err))
	assert.Contains(t, err.Error(), "Car")

	err = c.RegisterEntity(EntityMapping{EntityName: "Person", IDMapper: mapper.NewSingleIDMapper("id")})
	assert.True(t, errors.IsMapping(err))

	err = c.RegisterEntity(EntityMapping{
		EntityName: "Car",
		IDMapper:   mapper.NewSingleIDMapper("id"),
		Properties: []string{"model name"},
	})
	assert.True(t, errors.IsMapping(err))
}

func TestConfiguration_RegisterCollection(t *testing.T) {
	c := newTestConfiguration(t)
	id := mapper.NewSingleIDMapper("id")

	mapping := CollectionMapping{
		Role:          "Person.addresses",
		OwnerEntity:   "Person",
		MiddleEntity:  "Person_Address_AUD",
		ReferencingID: mapper.NewMiddleIDData("Person", "Person_AUD", id, "Person_"),
		ElementID:     mapper.NewMiddleIDData("Address", "Address_AUD", id, "Address_"),
	}
	require.NoError(t, c.RegisterCollection(mapping))

	got, err := c.Collection("Person.addresses")
	require.NoError(t, err)
	assert.True(t, got.ReferencesEntity())
	assert.Len(t, c.CollectionsOf("Person"), 1)
	assert.Empty(t, c.CollectionsOf("Address"))

	row, err := got.RowID(int64(1), int64(7))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Person_id": int64(1), "Address_id": int64(7)}, row)

	orphan := mapping
	orphan.Role = "Car.wheels"
	orphan.OwnerEntity = "Car"
	assert.True(t, errors.IsMapping(c.RegisterCollection(orphan)))
	assert.True(t, errors.IsMapping(c.RegisterCollection(mapping)))
}

func TestCollectionMapping_RowIDWithIndex(t *testing.T) {
	m := CollectionMapping{
		Role:          "Person.nicknames",
		OwnerEntity:   "Person",
		MiddleEntity:  "Person_nicknames_AUD",
		ReferencingID: mapper.NewMiddleIDData("Person", "Person_AUD", mapper.NewSingleIDMapper("id"), "Person_"),
		ElementID:     mapper.NewMiddleIDData("", "", mapper.NewSingleIDMapper("element"), ""),
		Components: []mapper.MiddleComponentData{
			{Mapper: mapper.SimpleComponentMapper{PropertyName: "position"}},
		},
	}
	assert.False(t, m.ReferencesEntity())

	row, err := m.RowID(int64(1), IndexedElement{Index: 2, Value: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Person_id": int64(1), "element": "Bob", "position": 2}, row)
}
