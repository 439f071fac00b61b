package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/audit"
	"revaudit/audit/mapper"
	"revaudit/audit/query"
)

func entityRestriction(cfg audit.Config, b *query.Builder) EntityRestriction {
	return EntityRestriction{
		Builder:              b,
		Parameters:           b.RootParameters(),
		RevisionProperty:     query.Path("e", cfg.RevisionNumberPath()),
		RevisionEndProperty:  query.Path("e", cfg.RevisionEndPath()),
		IDData:               mapper.NewMiddleIDData("Address", "Address_AUD", mapper.NewSingleIDMapper("id"), "Address_"),
		RevisionPropertyPath: cfg.RevisionNumberPath(),
		OriginalIDProperty:   cfg.OriginalIDProp(),
		Alias1:               "e",
		Alias2:               "e2",
		Inclusive:            true,
	}
}

func associationRestriction(cfg audit.Config, b *query.Builder) AssociationRestriction {
	return AssociationRestriction{
		Builder:                  b,
		Parameters:               b.RootParameters(),
		RevisionProperty:         cfg.RevisionNumberPath(),
		RevisionEndProperty:      cfg.RevisionEndPath(),
		AddAlias:                 true,
		ReferencingIDData:        mapper.NewMiddleIDData("Person", "Person_AUD", mapper.NewSingleIDMapper("id"), "Person_"),
		MiddleEntityName:         "Person_Address_AUD",
		EEOriginalIDPropertyPath: query.Path("ee", cfg.OriginalIDProp()),
		RevisionPropertyPath:     cfg.RevisionNumberPath(),
		OriginalIDProperty:       cfg.OriginalIDProp(),
		Alias1:                   "ee",
		Inclusive:                true,
		Components: []mapper.MiddleComponentData{{
			Mapper: mapper.RelatedIDComponentMapper{
				RelatedIDData: mapper.NewMiddleIDData("Address", "Address_AUD", mapper.NewSingleIDMapper("id"), "Address_"),
			},
		}},
	}
}

func where(t *testing.T, p *query.Parameters) string {
	t.Helper()
	text, _ := p.Build()
	return text
}

func TestNew_SelectsVariant(t *testing.T) {
	cfg := audit.DefaultConfig()
	assert.Equal(t, audit.StrategyDefault, New(cfg).Kind())

	cfg.Strategy = audit.StrategyValidity
	assert.IsType(t, &ValidityStrategy{}, New(cfg))
}

func TestDefaultStrategy_EntityRestriction(t *testing.T) {
	cfg := audit.DefaultConfig()
	b := query.NewBuilder("Person_Address_AUD", "ee")
	b.AddFrom("Address_AUD", "e")

	require.NoError(t, New(cfg).AddEntityAtRevisionRestriction(entityRestriction(cfg, b)))

	assert.Equal(t,
		"e.originalId.REV.id = (select max(e2.originalId.REV.id) from Address_AUD e2 "+
			"where e2.originalId.REV.id <= :revision and e.originalId.id = e2.originalId.id)",
		where(t, b.RootParameters()))
}

func TestDefaultStrategy_EntityRestriction_ExclusiveAndIn(t *testing.T) {
	cfg := audit.DefaultConfig().WithNativeSQL(true)
	cfg.CorrelatedSubqueryOperator = "in"
	b := query.NewBuilder("Address_AUD", "e")

	r := entityRestriction(cfg, b)
	r.Inclusive = false
	require.NoError(t, New(cfg).AddEntityAtRevisionRestriction(r))

	assert.Equal(t,
		"e.REV in (select max(e2.REV) from Address_AUD e2 where e2.REV < :revision and e.id = e2.id)",
		where(t, b.RootParameters()))
}

func TestDefaultStrategy_EntityRestriction_ByTimestamp(t *testing.T) {
	cfg := audit.DefaultConfig().WithNativeSQL(true)
	b := query.NewBuilder("Address_AUD", "e")

	r := entityRestriction(cfg, b)
	r.ByTimestamp = true
	require.NoError(t, New(cfg).AddEntityAtRevisionRestriction(r))

	assert.Equal(t,
		"e.REV = (select max(e2.REV) from Address_AUD e2, REVINFO r "+
			"where r.REV = e2.REV and r.REVTSTMP <= :revisionTimestamp and e.id = e2.id)",
		where(t, b.RootParameters()))
}

func TestDefaultStrategy_AssociationRestriction(t *testing.T) {
	cfg := audit.DefaultConfig()
	b := query.NewBuilder("Person_Address_AUD", "ee")

	require.NoError(t, New(cfg).AddAssociationAtRevisionRestriction(associationRestriction(cfg, b)))

	assert.Equal(t,
		"ee.originalId.REV.id = (select max(ee2.originalId.REV.id) from Person_Address_AUD ee2 "+
			"where ee2.originalId.REV.id <= :revision "+
			"and ee.originalId.Person_id = ee2.originalId.Person_id "+
			"and ee.originalId.Address_id = ee2.originalId.Address_id)",
		where(t, b.RootParameters()))
}

func TestDefaultStrategy_ArityMismatch(t *testing.T) {
	cfg := audit.DefaultConfig()
	e := entityRestriction(cfg, query.NewBuilder("Address_AUD", "e"))
	e.IDData.OriginalMapper = &mismatchedMapper{IDMapper: mapper.NewSingleIDMapper("id")}
	err := New(cfg).AddEntityAtRevisionRestriction(e)
	assert.ErrorIs(t, err, mapper.ErrArity)
}

// mismatchedMapper 与自身比较时另一侧多出一列
type mismatchedMapper struct {
	mapper.IDMapper
}

func (m *mismatchedMapper) AddIDsEqualToQuery(params *query.Parameters, prefix1 string, _ mapper.IDMapper, prefix2 string) error {
	return m.IDMapper.AddIDsEqualToQuery(params, prefix1, mapper.NewCompositeIDMapper("id", "tenant"), prefix2)
}

func TestValidityStrategy_Restrictions(t *testing.T) {
	cfg := audit.DefaultConfig()
	cfg.Strategy = audit.StrategyValidity
	s := New(cfg)

	b := query.NewBuilder("Person_Address_AUD", "ee")
	b.AddFrom("Address_AUD", "e")
	require.NoError(t, s.AddEntityAtRevisionRestriction(entityRestriction(cfg, b)))
	require.NoError(t, s.AddAssociationAtRevisionRestriction(associationRestriction(cfg, b)))

	assert.Equal(t,
		"e.originalId.REV.id <= :revision and ee.originalId.REV.id <= :revision and "+
			"(e.REVEND.id > :revision or e.REVEND.id is null) and "+
			"(ee.REVEND.id > :revision or ee.REVEND.id is null)",
		where(t, b.RootParameters()))
}

// TestValidityStrategy_RestrictsGivenParameters 条件写入调用方传入的条件组而非根组
func TestValidityStrategy_RestrictsGivenParameters(t *testing.T) {
	cfg := audit.DefaultConfig().WithNativeSQL(true)
	cfg.Strategy = audit.StrategyValidity
	b := query.NewBuilder("Address_AUD", "e")
	group := b.RootParameters().AddSubParameters(query.Or).AddSubParameters(query.And)

	r := entityRestriction(cfg, b)
	r.Parameters = group
	require.NoError(t, New(cfg).AddEntityAtRevisionRestriction(r))

	assert.Equal(t,
		"select e from Address_AUD e where ((e.REV <= :revision and (e.REVEND > :revision or e.REVEND is null)))",
		b.String())
	assert.Equal(t, "e.REV <= :revision and (e.REVEND > :revision or e.REVEND is null)", where(t, group))
}

func TestValidityStrategy_ByTimestamp(t *testing.T) {
	cfg := audit.DefaultConfig().WithNativeSQL(true)
	cfg.Strategy = audit.StrategyValidity
	cfg.ValidityStoreRevendTimestamp = true
	b := query.NewBuilder("Address_AUD", "e")

	r := entityRestriction(cfg, b)
	r.ByTimestamp = true
	require.NoError(t, New(cfg).AddEntityAtRevisionRestriction(r))

	assert.Equal(t,
		"e.REV <= :revision and (e.REVEND_TSTMP > :revisionTimestamp or e.REVEND_TSTMP is null)",
		where(t, b.RootParameters()))
}
