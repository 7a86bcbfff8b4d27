package reduce

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// --- Native and canonical position resolution ---

func TestSeparation_NativeColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)
	seedSimbadMatches(t, st)

	r := NewSeparation(schema.NewRegistry(simbadSchema()))
	require.NoError(t, r.Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{}))

	out, err := st.ReadChunk(ctx, "SIMBAD_MATCH", 0, 100)
	require.NoError(t, err)
	rows := rowsByObject(t, out)

	// Both intact candidates sit exactly one degree from their source.
	assert.InDelta(t, 60.0, rows["SRC-1"][model.ColSeparation].(float64), 1e-9)
	assert.InDelta(t, 60.0, rows["SRC-2"][model.ColSeparation].(float64), 1e-9)

	// The malformed declination must not yield a usable separation.
	_, ok := model.Float(rows["SRC-3"][model.ColSeparation])
	assert.False(t, ok)

	done, err := st.CheckMeta(ctx, ProcessSeparation, "SIMBAD_MATCH")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSeparation_CanonicalColumnsWin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	// Canonical RA/DEC one degree out, native pair three degrees out. The
	// canonical columns must take precedence once present.
	tbl := model.NewTable(
		model.ColCatalogObject, model.ColCatalogRA, model.ColCatalogDec,
		model.ColMatchRA, model.ColMatchDec, "raj2000", "dej2000",
	)
	tbl.Append(model.Row{
		model.ColCatalogObject: "SRC-1",
		model.ColCatalogRA:     10.0, model.ColCatalogDec: 0.0,
		model.ColMatchRA: 10.0, model.ColMatchDec: 1.0,
		"raj2000": 10.0, "dej2000": 3.0,
	})
	seedTable(t, st, "VIZIER_MATCH", tbl)

	sch := &schema.Schema{
		Name:    "VIZIER",
		Frame:   astro.FrameICRS,
		Columns: schema.ColumnMap{Name: "recno", RA: "raj2000", Dec: "dej2000"},
	}
	r := NewSeparation(schema.NewRegistry(sch))
	require.NoError(t, r.Run(ctx, st, []string{"VIZIER_MATCH"}, Opts{}))

	out, err := st.ReadChunk(ctx, "VIZIER_MATCH", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.InDelta(t, 60.0, out.Rows[0][model.ColSeparation].(float64), 1e-9)
}

func TestSeparation_GalacticNativeConvertsToICRS(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	// Candidate at the exact Galactic image of the catalog position, so the
	// separation after conversion is zero.
	cat := model.Position{RA: 266.0, Dec: -29.0}
	gal := astro.Convert(cat, astro.FrameICRS, astro.FrameGalactic)

	tbl := model.NewTable(
		model.ColCatalogObject, model.ColCatalogRA, model.ColCatalogDec,
		"GLON", "GLAT",
	)
	tbl.Append(model.Row{
		model.ColCatalogObject: "SRC-1",
		model.ColCatalogRA:     cat.RA, model.ColCatalogDec: cat.Dec,
		"GLON": gal.RA, "GLAT": gal.Dec,
	})
	seedTable(t, st, "MWSURVEY_MATCH", tbl)

	sch := &schema.Schema{
		Name:    "MWSURVEY",
		Frame:   astro.FrameGalactic,
		Columns: schema.ColumnMap{Name: "id", Lon: "GLON", Lat: "GLAT"},
	}
	r := NewSeparation(schema.NewRegistry(sch))
	require.NoError(t, r.Run(ctx, st, []string{"MWSURVEY_MATCH"}, Opts{}))

	out, err := st.ReadChunk(ctx, "MWSURVEY_MATCH", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.InDelta(t, 0.0, out.Rows[0][model.ColSeparation].(float64), 1e-6)
}

// --- Preconditions ---

func TestSeparation_RequiresTaggedCatalogColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tbl := model.NewTable(model.ColCatalogObject, "ra", "dec")
	tbl.Append(model.Row{model.ColCatalogObject: "SRC-1", "ra": 1.0, "dec": 2.0})
	seedTable(t, st, "SIMBAD_MATCH", tbl)

	r := NewSeparation(schema.NewRegistry(simbadSchema()))
	err := r.Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrMissingColumn))

	done, metaErr := st.CheckMeta(ctx, ProcessSeparation, "SIMBAD_MATCH")
	require.NoError(t, metaErr)
	assert.False(t, done)
}

func TestSeparation_NoSchemaNoCanonicalColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tbl := model.NewTable(model.ColCatalogObject, model.ColCatalogRA, model.ColCatalogDec)
	tbl.Append(model.Row{
		model.ColCatalogObject: "SRC-1",
		model.ColCatalogRA:     1.0, model.ColCatalogDec: 2.0,
	})
	seedTable(t, st, "UNKNOWN_MATCH", tbl)

	r := NewSeparation(schema.NewRegistry())
	err := r.Run(ctx, st, []string{"UNKNOWN_MATCH"}, Opts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registered schema")
}

// --- Idempotence ---

func TestSeparation_SecondRunSkips(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)
	seedSimbadMatches(t, st)

	r := NewSeparation(schema.NewRegistry(simbadSchema()))
	require.NoError(t, r.Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{}))

	sum, err := st.Checksum(ctx, "SIMBAD_MATCH")
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{}))

	again, err := st.Checksum(ctx, "SIMBAD_MATCH")
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	entries, err := st.MetaList(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a skipped run must not add ledger rows")
}
