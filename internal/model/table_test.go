package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_RenameColumn(t *testing.T) {
	tb := NewTable("IAUNAME", "RA", "DEC")
	tb.Append(Row{"IAUNAME": "J0001", "RA": 10.0, "DEC": -5.0})

	ok := tb.RenameColumn("IAUNAME", ColCatalogObject)
	require.True(t, ok)

	assert.Equal(t, []string{ColCatalogObject, "RA", "DEC"}, tb.Columns)
	assert.Equal(t, "J0001", tb.Rows[0][ColCatalogObject])
	assert.NotContains(t, tb.Rows[0], "IAUNAME")
}

func TestTable_RenameColumn_Missing(t *testing.T) {
	tb := NewTable("RA", "DEC")
	assert.False(t, tb.RenameColumn("NAME", ColCatalogObject))
	assert.Equal(t, []string{"RA", "DEC"}, tb.Columns)
}

func TestTable_EnsureColumn(t *testing.T) {
	tb := NewTable("RA")
	tb.EnsureColumn("SEPARATION")
	tb.EnsureColumn("RA") // no duplicate
	assert.Equal(t, []string{"RA", "SEPARATION"}, tb.Columns)
}

func TestFloat_Coercions(t *testing.T) {
	f, ok := Float(float64(1.5))
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	f, ok = Float(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = Float("2.25")
	assert.True(t, ok)
	assert.Equal(t, 2.25, f)

	f, ok = Float([]byte("4.5"))
	assert.True(t, ok)
	assert.Equal(t, 4.5, f)

	f, ok = Float(nil)
	assert.False(t, ok)
	assert.True(t, math.IsNaN(f))

	f, ok = Float("not a number")
	assert.False(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestString_Coercions(t *testing.T) {
	assert.Equal(t, "abc", String("abc"))
	assert.Equal(t, "abc", String([]byte("abc")))
	assert.Equal(t, "", String(12))
	assert.Equal(t, "", String(nil))
}
