package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowSelectionHelpers(t *testing.T) {
	assert.Equal(t, 0, FirstRow(nil))
	assert.False(t, HasFirstRow(nil))
	assert.False(t, HasMaxRows(nil))
	assert.Equal(t, 0, FirstRow(&RowSelection{FirstRow: -3}))
	assert.True(t, HasFirstRow(&RowSelection{FirstRow: 1}))
	assert.True(t, HasMaxRows(&RowSelection{MaxRows: 1}))
}

func TestLimitOffsetHandler(t *testing.T) {
	h := LimitOffsetHandler{}

	p, err := h.Process("select REV from REVINFO order by REV;", &RowSelection{FirstRow: 4, MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, "select REV from REVINFO order by REV limit ? offset ?", p.SQL)
	assert.Equal(t, []any{"a", 2, 4}, p.Bind("a"))

	p, err = h.Process("select 1", &RowSelection{MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, "select 1 limit ?", p.SQL)

	p, err = h.Process("select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, "select 1", p.SQL)
}

func TestNoopLimitHandler(t *testing.T) {
	h := NoopLimitHandler{}
	assert.False(t, h.SupportsLimit())
	p, err := h.Process("select 1", &RowSelection{MaxRows: 1})
	require.NoError(t, err)
	assert.Equal(t, "select 1", p.SQL)
}
