package reduce

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// exp(-0.5) for a candidate sitting exactly one PSF scale out.
const scoreAtOneScale = 0.6065306597126334

func seedScoredTable(t *testing.T, st *store.Store, name string) {
	t.Helper()
	tbl := model.NewTable(model.ColCatalogObject, model.ColSeparation)
	tbl.Append(model.Row{model.ColCatalogObject: "SRC-1", model.ColSeparation: 60.0})
	tbl.Append(model.Row{model.ColCatalogObject: "SRC-2", model.ColSeparation: 0.0})
	tbl.Append(model.Row{model.ColCatalogObject: "SRC-3", model.ColSeparation: nil})
	seedTable(t, st, name, tbl)
}

// --- Gaussian weighting ---

func TestScore_GaussianWeighting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedScoredTable(t, st, "XMM_MATCH")

	r, err := NewScore(ScoreParams{ScaleArcmin: 60})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{}))

	out, err := st.ReadChunk(ctx, "XMM_MATCH", 0, 10)
	require.NoError(t, err)
	rows := rowsByObject(t, out)

	assert.InDelta(t, scoreAtOneScale, rows["SRC-1"]["XMM_PSF_SCORE"].(float64), 1e-12)
	assert.InDelta(t, 1.0, rows["SRC-2"]["XMM_PSF_SCORE"].(float64), 1e-12)

	// A missing separation cannot produce a usable score.
	_, ok := model.Float(rows["SRC-3"]["XMM_PSF_SCORE"])
	assert.False(t, ok)

	done, err := st.CheckMeta(ctx, "XMM_PSF_SCORE", "XMM_MATCH")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestScore_ExclusionSparesExtendedSources(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)
	seedSimbadMatches(t, st)

	reg := schema.NewRegistry(simbadSchema())
	require.NoError(t, NewSeparation(reg).Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{}))

	r, err := NewScore(ScoreParams{
		ScaleArcmin: 60,
		Exclusion:   &Exclusion{Column: "EXT_LIKE", Operator: ">", Threshold: 3},
	})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, st, []string{"SIMBAD_MATCH"}, Opts{}))

	out, err := st.ReadChunk(ctx, "SIMBAD_MATCH", 0, 10)
	require.NoError(t, err)
	rows := rowsByObject(t, out)

	// SRC-1 is compact and one scale out; SRC-2 is extended and keeps full
	// confidence despite the same separation; SRC-3's likelihood is NULL and
	// never matches the exclusion.
	assert.InDelta(t, scoreAtOneScale, rows["SRC-1"]["SIMBAD_PSF_SCORE"].(float64), 1e-12)
	assert.InDelta(t, 1.0, rows["SRC-2"]["SIMBAD_PSF_SCORE"].(float64), 1e-12)
	_, ok := model.Float(rows["SRC-3"]["SIMBAD_PSF_SCORE"])
	assert.False(t, ok)

	// The joined likelihood column stays owned by CATALOG.
	cols, err := st.Columns(ctx, "SIMBAD_MATCH")
	require.NoError(t, err)
	assert.NotContains(t, cols, "EXT_LIKE")
	catCols, err := st.Columns(ctx, store.CatalogTable)
	require.NoError(t, err)
	assert.Contains(t, catCols, "EXT_LIKE")
}

func TestExclusion_Operators(t *testing.T) {
	cases := []struct {
		op   string
		v    float64
		want bool
	}{
		{">", 5, true}, {">", 3, false},
		{">=", 3, true}, {">=", 2, false},
		{"<", 2, true}, {"<", 3, false},
		{"<=", 3, true}, {"<=", 4, false},
		{"==", 3, true}, {"==", 4, false},
		{"!=", 4, true}, {"!=", 3, false},
	}
	for _, tc := range cases {
		ex := &Exclusion{Column: "V", Operator: tc.op, Threshold: 3}
		assert.Equal(t, tc.want, ex.matches(model.Row{"V": tc.v}), "%v %s 3", tc.v, tc.op)
	}
}

// --- Preconditions and validation ---

func TestScore_RequiresSeparation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tbl := model.NewTable(model.ColCatalogObject)
	tbl.Append(model.Row{model.ColCatalogObject: "SRC-1"})
	seedTable(t, st, "XMM_MATCH", tbl)

	r, err := NewScore(ScoreParams{ScaleArcmin: 60})
	require.NoError(t, err)
	err = r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrMissingColumn))
	assert.Contains(t, err.Error(), "separation reduction first")
}

func TestScore_ExclusionColumnMustBeCatalogOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)

	tbl := model.NewTable(model.ColCatalogObject, model.ColSeparation, "EXT_LIKE")
	tbl.Append(model.Row{
		model.ColCatalogObject: "SRC-1",
		model.ColSeparation:    10.0,
		"EXT_LIKE":             1.0,
	})
	seedTable(t, st, "XMM_MATCH", tbl)

	r, err := NewScore(ScoreParams{
		ScaleArcmin: 60,
		Exclusion:   &Exclusion{Column: "EXT_LIKE", Operator: ">", Threshold: 3},
	})
	require.NoError(t, err)
	err = r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CATALOG-only")
}

func TestScore_ExclusionColumnMissingFromCatalog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, st)
	seedScoredTable(t, st, "XMM_MATCH")

	r, err := NewScore(ScoreParams{
		ScaleArcmin: 60,
		Exclusion:   &Exclusion{Column: "DET_LIKE", Operator: ">", Threshold: 3},
	})
	require.NoError(t, err)
	err = r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrMissingColumn))
	assert.Contains(t, err.Error(), "DET_LIKE")
}

func TestNewScore_Validation(t *testing.T) {
	_, err := NewScore(ScoreParams{ScaleArcmin: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale")

	_, err = NewScore(ScoreParams{
		ScaleArcmin: 10,
		Exclusion:   &Exclusion{Operator: ">", Threshold: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column")

	_, err = NewScore(ScoreParams{
		ScaleArcmin: 10,
		Exclusion:   &Exclusion{Column: "EXT_LIKE", Operator: "~", Threshold: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"~"`)
}

// --- Forced re-runs ---

func TestScore_ForcedRerunRecomputes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedScoredTable(t, st, "XMM_MATCH")

	r, err := NewScore(ScoreParams{ScaleArcmin: 60})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{}))
	require.NoError(t, r.Run(ctx, st, []string{"XMM_MATCH"}, Opts{Overwrite: true}))

	out, err := st.ReadChunk(ctx, "XMM_MATCH", 0, 10)
	require.NoError(t, err)
	rows := rowsByObject(t, out)
	assert.InDelta(t, scoreAtOneScale, rows["SRC-1"]["XMM_PSF_SCORE"].(float64), 1e-12)

	// Forced runs append a second ledger row rather than editing history.
	entries, err := st.MetaList(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
