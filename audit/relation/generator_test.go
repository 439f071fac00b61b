package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/strategy"
	"revaudit/errors"
)

var (
	personID  = mapper.NewMiddleIDData("Person", "Person_AUD", mapper.NewSingleIDMapper("id"), "Person_")
	addressID = mapper.NewMiddleIDData("Address", "Address_AUD", mapper.NewSingleIDMapper("id"), "Address_")
	tagID     = mapper.NewMiddleIDData("Tag", "Tag_AUD", mapper.NewSingleIDMapper("id"), "Tag_")
)

func validityConfig(native bool) audit.Config {
	cfg := audit.DefaultConfig().WithNativeSQL(native)
	cfg.Strategy = audit.StrategyValidity
	return cfg
}

func TestTwoEntityQueryGenerator_DefaultStrategy(t *testing.T) {
	cfg := audit.DefaultConfig()
	g, err := NewTwoEntityQueryGenerator(cfg, strategy.New(cfg), "Person_Address_AUD", personID, addressID,
		mapper.MiddleComponentData{Mapper: mapper.RelatedIDComponentMapper{RelatedIDData: addressID}})
	require.NoError(t, err)

	common := "select new list(ee, e) from Person_Address_AUD ee, Address_AUD e " +
		"where ee.originalId.Address_id = e.originalId.id and ee.originalId.Person_id = :id_ref_ing"
	valid := "e.originalId.REV.id = (select max(e2.originalId.REV.id) from Address_AUD e2 " +
		"where e2.originalId.REV.id <= :revision and e.originalId.id = e2.originalId.id) " +
		"and ee.originalId.REV.id = (select max(ee2.originalId.REV.id) from Person_Address_AUD ee2 " +
		"where ee2.originalId.REV.id <= :revision " +
		"and ee.originalId.Person_id = ee2.originalId.Person_id " +
		"and ee.originalId.Address_id = ee2.originalId.Address_id) " +
		"and ee.REVTYPE != :delRevisionType and e.REVTYPE != :delRevisionType"
	removed := "ee.originalId.REV.id = :revision and e.originalId.REV.id = :revision " +
		"and ee.REVTYPE = :delRevisionType and e.REVTYPE = :delRevisionType"

	assert.Equal(t, common+" and "+valid, g.Query(false))
	assert.Equal(t, common+" and (("+valid+") or ("+removed+"))", g.Query(true))
	assert.False(t, g.NativeSQL())
}

func TestOneEntityQueryGenerator_ValidityNative(t *testing.T) {
	cfg := validityConfig(true)
	g, err := NewOneEntityQueryGenerator(cfg, strategy.New(cfg), "Person_nicknames_AUD", personID,
		mapper.MiddleComponentData{Mapper: mapper.SimpleComponentMapper{PropertyName: "element"}})
	require.NoError(t, err)

	valid := "ee.REV <= :revision and ee.REVTYPE != :delRevisionType and (ee.REVEND > :revision or ee.REVEND is null)"
	assert.Equal(t,
		"select ee.* from Person_nicknames_AUD ee where ee.Person_id = :id_ref_ing and "+valid,
		g.Query(false))
	assert.Equal(t,
		"select ee.* from Person_nicknames_AUD ee where ee.Person_id = :id_ref_ing and (("+valid+
			") or (ee.REV = :revision and ee.REVTYPE = :delRevisionType))",
		g.Query(true))
	assert.True(t, g.NativeSQL())
}

func TestOneEntityQueryGenerator_ObjectProjection(t *testing.T) {
	cfg := audit.DefaultConfig()
	g, err := NewOneEntityQueryGenerator(cfg, strategy.New(cfg), "Person_nicknames_AUD", personID)
	require.NoError(t, err)
	assert.Contains(t, g.Query(false), "select ee from Person_nicknames_AUD ee where ee.originalId.Person_id = :id_ref_ing")
}

func TestForCollection_SelectsThreeEntityGenerator(t *testing.T) {
	cfg := audit.DefaultConfig().WithNativeSQL(true)
	g, err := ForCollection(cfg, strategy.New(cfg), &audit.CollectionMapping{
		Role:          "Person.addressByTag",
		OwnerEntity:   "Person",
		MiddleEntity:  "Person_addressByTag_AUD",
		ReferencingID: personID,
		ElementID:     addressID,
		IndexID:       &tagID,
	})
	require.NoError(t, err)
	require.IsType(t, &ThreeEntityQueryGenerator{}, g)

	assert.Equal(t,
		"select ee.*, e.*, f.* from Person_addressByTag_AUD ee, Address_AUD e, Tag_AUD f "+
			"where ee.Address_id = e.id and ee.Tag_id = f.id and ee.Person_id = :id_ref_ing "+
			"and e.REV = (select max(e2.REV) from Address_AUD e2 where e2.REV <= :revision and e.id = e2.id) "+
			"and f.REV = (select max(f2.REV) from Tag_AUD f2 where f2.REV <= :revision and f.id = f2.id) "+
			"and ee.REV = (select max(ee2.REV) from Person_addressByTag_AUD ee2 where ee2.REV <= :revision "+
			"and ee.Person_id = ee2.Person_id and ee.Address_id = ee2.Address_id and ee.Tag_id = ee2.Tag_id) "+
			"and ee.REVTYPE != :delRevisionType and e.REVTYPE != :delRevisionType and f.REVTYPE != :delRevisionType",
		g.Query(false))
	assert.Contains(t, g.Query(true),
		"or (ee.REV = :revision and e.REV = :revision and f.REV = :revision and "+
			"ee.REVTYPE = :delRevisionType and e.REVTYPE = :delRevisionType and f.REVTYPE = :delRevisionType))")
}

func TestForCollection_SelectsByElementKind(t *testing.T) {
	cfg := audit.DefaultConfig()
	s := strategy.New(cfg)

	two, err := ForCollection(cfg, s, &audit.CollectionMapping{
		MiddleEntity: "Person_Address_AUD", ReferencingID: personID, ElementID: addressID,
	})
	require.NoError(t, err)
	assert.IsType(t, &TwoEntityQueryGenerator{}, two)

	one, err := ForCollection(cfg, s, &audit.CollectionMapping{
		MiddleEntity:  "Person_nicknames_AUD",
		ReferencingID: personID,
		ElementID:     mapper.NewMiddleIDData("", "", mapper.NewSingleIDMapper("element"), ""),
	})
	require.NoError(t, err)
	assert.IsType(t, &OneEntityQueryGenerator{}, one)
	assert.Contains(t, one.Query(false), "ee.originalId.element = ee2.originalId.element")
}

func TestGenerator_Parameters(t *testing.T) {
	cfg := audit.DefaultConfig()
	g, err := NewTwoEntityQueryGenerator(cfg, strategy.New(cfg), "Person_Address_AUD", personID, addressID)
	require.NoError(t, err)

	values, err := g.Parameters(int64(3), 7)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		ReferencingIDParameter:   int64(3),
		RevisionParameter:        int64(7),
		DelRevisionTypeParameter: int(audit.RevisionDel),
	}, values)

	store := mapper.NewMiddleIDData("Store", "Store_AUD", mapper.NewCompositeIDMapper("code", "region"), "Store_")
	cg, err := NewOneEntityQueryGenerator(cfg, strategy.New(cfg), "Store_items_AUD", store)
	require.NoError(t, err)
	assert.Contains(t, cg.Query(false),
		"ee.originalId.Store_code = :id_ref_ing_code and ee.originalId.Store_region = :id_ref_ing_region")

	values, err = cg.Parameters(map[string]any{"code": "A", "region": "eu"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "A", values["id_ref_ing_code"])
	assert.Equal(t, "eu", values["id_ref_ing_region"])

	_, err = cg.Parameters("A", 2)
	assert.Error(t, err)
}

func TestGenerator_MappingErrors(t *testing.T) {
	cfg := audit.DefaultConfig()

	_, err := NewOneEntityQueryGenerator(cfg, nil, "Person_nicknames_AUD", personID)
	assert.True(t, errors.IsMapping(err))

	_, err = NewTwoEntityQueryGenerator(cfg, strategy.New(cfg), "Person_Address_AUD", personID, mapper.MiddleIDData{EntityName: "Address"})
	require.Error(t, err)
	assert.True(t, errors.IsMapping(err))
	assert.Contains(t, err.Error(), "Address")

	mismatched := mapper.MiddleIDData{
		EntityName:      "Address",
		AuditEntityName: "Address_AUD",
		OriginalMapper:  mapper.NewCompositeIDMapper("street", "city"),
		PrefixedMapper:  mapper.NewSingleIDMapper("Address_id"),
	}
	_, err = NewTwoEntityQueryGenerator(cfg, strategy.New(cfg), "Person_Address_AUD", personID, mismatched)
	require.Error(t, err)
	assert.ErrorIs(t, err, mapper.ErrArity)
	assert.True(t, errors.IsMapping(err))
	assert.Contains(t, err.Error(), "Person_Address_AUD")
}
