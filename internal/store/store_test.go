package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "xmatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func seedTable(t *testing.T, st *Store, name string, tbl *model.Table) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateTable(ctx, name, tbl, ""))
	if tbl.Len() > 0 {
		require.NoError(t, st.AppendRows(ctx, name, tbl))
	}
}

// --- Open / migrate ---

func TestOpen_CreatesMetaLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.HasTable(ctx, MetaTable)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xmatch.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.MetaAdd(context.Background(), "P", "T"))
	require.NoError(t, st.Close())

	// Migration is idempotent and existing rows survive a reopen.
	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	done, err := st.CheckMeta(context.Background(), "P", "T")
	require.NoError(t, err)
	assert.True(t, done)
}

// --- META ledger ---

func TestMeta_AddCheckRemove(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	done, err := st.CheckMeta(ctx, ProcessCorrectCoords, "X_MATCH")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, st.MetaAdd(ctx, ProcessCorrectCoords, "X_MATCH"))

	done, err = st.CheckMeta(ctx, ProcessCorrectCoords, "X_MATCH")
	require.NoError(t, err)
	assert.True(t, done)

	// A different table is unaffected.
	done, err = st.CheckMeta(ctx, ProcessCorrectCoords, "Y_MATCH")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, st.MetaRemove(ctx, ProcessCorrectCoords, "X_MATCH"))
	done, err = st.CheckMeta(ctx, ProcessCorrectCoords, "X_MATCH")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMeta_List(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.MetaAdd(ctx, "A", "T1"))
	require.NoError(t, st.MetaAdd(ctx, "B", "T2"))

	entries, err := st.MetaList(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEmpty(t, e.RunID)
		assert.False(t, e.DateRun.IsZero())
	}
}

func TestMeta_Reset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.MetaAdd(ctx, "A", "T1"))
	require.NoError(t, st.MetaAdd(ctx, "B", "T2"))
	require.NoError(t, st.MetaReset(ctx))

	entries, err := st.MetaList(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMeta_DuplicatesAllowed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.MetaAdd(ctx, "A", "T"))
	require.NoError(t, st.MetaAdd(ctx, "A", "T"))

	entries, err := st.MetaList(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// --- Table enumeration / introspection ---

func TestMatchTables(t *testing.T) {
	st := newTestStore(t)

	seedTable(t, st, CatalogTable, model.NewTable(model.ColCatalogObject))
	seedTable(t, st, "SIMBAD_MATCH", model.NewTable(model.ColCatalogObject))
	seedTable(t, st, "NED_MATCH", model.NewTable(model.ColCatalogObject))

	tables, err := st.MatchTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"NED_MATCH", "SIMBAD_MATCH"}, tables)
}

func TestColumns_MissingTable(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Columns(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrTableNotFound))
}

func TestRowCount(t *testing.T) {
	st := newTestStore(t)

	tbl := model.NewTable("A")
	tbl.Append(model.Row{"A": int64(1)})
	tbl.Append(model.Row{"A": int64(2)})
	seedTable(t, st, "T", tbl)

	n, err := st.RowCount(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestQuery_ReadOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	out, err := st.Query(ctx, "SELECT 1 AS ONE")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, int64(1), out.Rows[0]["ONE"])

	_, err = st.Query(ctx, "DELETE FROM META")
	require.Error(t, err)

	_, err = st.Query(ctx, "DROP TABLE META")
	require.Error(t, err)
}

func TestValidIdent_RejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"", `bad"name`, "semi;colon", "line\nbreak"} {
		assert.Error(t, validIdent(name), "identifier %q should be rejected", name)
	}
	assert.NoError(t, validIdent("SIMBAD_MATCH"))
	assert.NoError(t, validIdent("2MASS_MATCH"))
}

// --- Checksum ---

func TestChecksum_OrderIndependent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := model.NewTable("X", "Y")
	a.Append(model.Row{"X": int64(1), "Y": "one"})
	a.Append(model.Row{"X": int64(2), "Y": "two"})
	seedTable(t, st, "A", a)

	b := model.NewTable("X", "Y")
	b.Append(model.Row{"X": int64(2), "Y": "two"})
	b.Append(model.Row{"X": int64(1), "Y": "one"})
	seedTable(t, st, "B", b)

	ca, err := st.Checksum(ctx, "A")
	require.NoError(t, err)
	cb, err := st.Checksum(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, ca, cb, "row order must not affect the checksum")

	c := model.NewTable("X", "Y")
	c.Append(model.Row{"X": int64(1), "Y": "one"})
	c.Append(model.Row{"X": int64(3), "Y": "three"})
	seedTable(t, st, "C", c)

	cc, err := st.Checksum(ctx, "C")
	require.NoError(t, err)
	assert.NotEqual(t, ca, cc)
}

// --- Row plumbing ---

func TestAppendRows_WidensTable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := model.NewTable("A")
	first.Append(model.Row{"A": int64(1)})
	seedTable(t, st, "T", first)

	second := model.NewTable("A", "B")
	second.Append(model.Row{"A": int64(2), "B": "new"})
	require.NoError(t, st.AppendRows(ctx, "T", second))

	cols, err := st.Columns(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, cols)

	out, err := st.ReadChunk(ctx, "T", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Nil(t, out.Rows[0]["B"])
	assert.Equal(t, "new", out.Rows[1]["B"])
}

func TestReadChunk_Windows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tbl := model.NewTable("N")
	for i := 0; i < 25; i++ {
		tbl.Append(model.Row{"N": int64(i)})
	}
	seedTable(t, st, "T", tbl)

	seen := 0
	for offset := int64(0); ; offset += 10 {
		chunk, err := st.ReadChunk(ctx, "T", offset, 10)
		require.NoError(t, err)
		seen += chunk.Len()
		if chunk.Len() < 10 {
			break
		}
	}
	assert.Equal(t, 25, seen)
}
