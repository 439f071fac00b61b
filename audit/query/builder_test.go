package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/errors"
)

func TestBuilder_DefaultProjection(t *testing.T) {
	qb := NewBuilder("Person_AUD", "e")
	assert.Equal(t, "select e from Person_AUD e", qb.String())
}

func TestBuilder_FullQuery(t *testing.T) {
	qb := NewBuilder("Person_Address_AUD", "ee")
	qb.AddFrom("Address_AUD", "e")
	qb.AddProjection("new list", "ee, e", "", false)
	qb.RootParameters().AddWhere("ee.originalId.Address_id", false, "=", "e.originalId.id", false)
	qb.RootParameters().AddWhereWithNamedParam("originalId.Person_id", true, "=", "id_ref_ing")
	qb.AddOrder("ee", "originalId.REV.id", true)

	assert.Equal(t,
		"select new list(ee, e) from Person_Address_AUD ee, Address_AUD e "+
			"where ee.originalId.Address_id = e.originalId.id and ee.originalId.Person_id = :id_ref_ing "+
			"order by ee.originalId.REV.id asc",
		qb.String())
}

// TestBuilder_SubQuerySharesParamCounter 子查询与外层共享参数计数器
func TestBuilder_SubQuerySharesParamCounter(t *testing.T) {
	qb := NewBuilder("Person_AUD", "e")
	qb.RootParameters().AddWhereWithParam("id", true, "=", 7)

	sub := qb.NewSubBuilder("Person_AUD", "e2")
	sub.AddProjection("max", "e2", "REV", false)
	sub.RootParameters().AddWhereWithParam("REV", true, "<=", int64(3))
	sub.RootParameters().AddWhere("e.id", false, "=", "e2.id", false)
	qb.RootParameters().AddWhereSubQuery("REV", true, "=", sub)

	q, values := qb.Build()
	assert.Equal(t,
		"select e from Person_AUD e where e.id = :_p0 and "+
			"e.REV = (select max(e2.REV) from Person_AUD e2 where e2.REV <= :_p1 and e.id = e2.id)",
		q)
	assert.Equal(t, map[string]any{"_p0": 7, "_p1": int64(3)}, values)
}

func TestParameters_SubGroups(t *testing.T) {
	qb := NewBuilder("X", "x")
	root := qb.RootParameters()

	assert.Same(t, root, root.AddSubParameters(And))

	or := root.AddSubParameters(Or)
	or.AddWhereWithNamedParam("REVEND", true, ">", "revision")
	or.AddNullRestriction("REVEND", true)
	root.AddWhereWithNamedParam("REV", true, "<=", "revision")
	root.AddSubParameters(Or) // 空组不渲染
	neg := root.AddNegatedParameters()
	neg.AddNotNullRestriction("flag", true)

	text, _ := root.Build()
	assert.Equal(t,
		"x.REV <= :revision and (x.REVEND > :revision or x.REVEND is null) and not (x.flag is not null)",
		text)
}

func TestParameters_IsEmpty(t *testing.T) {
	p := NewBuilder("X", "x").RootParameters()
	assert.True(t, p.IsEmpty())
	p.AddSubParameters(Or).AddSubParameters(And)
	assert.True(t, p.IsEmpty())
	p.AddWhere("a", true, "=", "b", true)
	assert.False(t, p.IsEmpty())
}

func TestParameters_AddWhereWithParams(t *testing.T) {
	p := NewBuilder("X", "x").RootParameters()
	p.AddWhereWithParams("REVTYPE", true, "in (", []any{0, 1}, ")")

	text, values := p.Build()
	assert.Equal(t, "x.REVTYPE in (:_p0, :_p1)", text)
	assert.Equal(t, map[string]any{"_p0": 0, "_p1": 1}, values)
}

// TestBuilder_DeepCopyIsIndependent 修改副本不影响原查询
func TestBuilder_DeepCopyIsIndependent(t *testing.T) {
	common := NewBuilder("Middle_AUD", "ee")
	common.RootParameters().AddWhereWithNamedParam("Person_id", true, "=", "id_ref_ing")
	original := common.String()

	valid := common.DeepCopy()
	valid.RootParameters().AddWhereWithNamedParam("REVTYPE", true, "!=", "delRevisionType")

	removed := common.DeepCopy()
	disjoint := removed.RootParameters().AddSubParameters(Or)
	disjoint.AddSubParameters(And).AddWhereWithParam("REV", true, "=", 1)
	removed.AddFrom("Other_AUD", "o")
	removed.AddOrder("ee", "REV", false)

	assert.Equal(t, original, common.String())
	assert.Equal(t, "select ee from Middle_AUD ee where ee.Person_id = :id_ref_ing and ee.REVTYPE != :delRevisionType", valid.String())
	assert.Equal(t, "select ee from Middle_AUD ee, Other_AUD o where ee.Person_id = :id_ref_ing and ((ee.REV = :_p0)) order by ee.REV desc", removed.String())

	// 副本的计数器独立：原对象继续生成的参数名不受副本影响
	common.RootParameters().AddWhereWithParam("x", true, "=", 1)
	_, values := common.Build()
	assert.Contains(t, values, "_p0")
}

func TestParameters_DeepCopy(t *testing.T) {
	p := NewBuilder("X", "x").RootParameters()
	sub := p.AddSubParameters(Or)
	sub.AddWhereWithParam("a", true, "=", 1)

	cp := p.DeepCopy()
	cp.AddWhere("b", true, "=", "c", true)

	orig, _ := p.Build()
	copied, values := cp.Build()
	assert.Equal(t, "(x.a = :_p0)", orig)
	assert.Equal(t, "x.b = x.c and (x.a = :_p0)", copied)
	assert.Equal(t, 1, values["_p0"])
}

func TestGenerateAlias(t *testing.T) {
	qb := NewBuilder("X", "x")
	assert.Equal(t, "_e0", qb.GenerateAlias())
	sub := qb.NewSubBuilder("Y", "y")
	assert.Equal(t, "_e1", sub.GenerateAlias())
}

func TestPath(t *testing.T) {
	assert.Equal(t, "e.originalId.id", Path("e", "originalId", "id"))
	assert.Equal(t, "e.id", Path("e", "", "id"))
	assert.Equal(t, "", Path())
}

func TestBindNamed(t *testing.T) {
	q, args, err := BindNamed(
		"select * from t where a = :revision and b = ':revision' and c::text = :id_ref_ing and d = :revision",
		map[string]any{"revision": int64(3), "id_ref_ing": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "select * from t where a = ? and b = ':revision' and c::text = ? and d = ?", q)
	assert.Equal(t, []any{int64(3), "p1", int64(3)}, args)

	_, _, err = BindNamed("select :missing", nil)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}
