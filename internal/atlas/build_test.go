package atlas

import (
	"context"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

func seedSamples(t *testing.T, a *Atlas, samples []CountSample) {
	t.Helper()
	require.NoError(t, a.AddSamples(context.Background(), samples))
}

// --- Global uniform ---

func TestBuildMap_GlobalUniform(t *testing.T) {
	ctx := context.Background()
	a := newTestAtlas(t, 30.0)
	seedSamples(t, a, []CountSample{
		{Position: model.Position{RA: 10, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 10}},
		{Position: model.Position{RA: 120, Dec: 40}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 10}},
		{Position: model.Position{RA: 250, Dec: -30}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 10}},
	})

	name, err := a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodGlobalUniform})
	require.NoError(t, err)
	assert.Equal(t, "GALAXY_GLOBAL_UNIFORM", name)

	rec, err := a.ReadMap(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "GALAXY", rec.ObjectType)

	want := 30.0 / (3 * astro.ConeSolidAngle(1))
	for _, v := range rec.Values {
		assert.InDelta(t, want, v, want*1e-9)
	}
}

func TestBuildMap_ExistingName(t *testing.T) {
	ctx := context.Background()
	a := newTestAtlas(t, 30.0)
	seedSamples(t, a, []CountSample{
		{Position: model.Position{RA: 10, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 4}},
	})

	_, err := a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodGlobalUniform})
	require.NoError(t, err)

	_, err = a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodGlobalUniform})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMapExists))

	_, err = a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodGlobalUniform, Overwrite: true})
	require.NoError(t, err)
}

func TestBuildMap_NoSamples(t *testing.T) {
	a := newTestAtlas(t, 30.0)
	_, err := a.BuildMap(context.Background(), "GALAXY", BuildOpts{Method: MethodGlobalUniform})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no count samples")
}

func TestBuildMap_UnknownMethod(t *testing.T) {
	a := newTestAtlas(t, 30.0)
	seedSamples(t, a, []CountSample{
		{Position: model.Position{RA: 10, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 4}},
	})
	_, err := a.BuildMap(context.Background(), "GALAXY", BuildOpts{Method: "KERNEL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown build method")
}

// --- Local uniform ---

func localFixture(t *testing.T) (*Atlas, int64, int64) {
	t.Helper()
	a := newTestAtlas(t, 30.0)
	north := model.Position{RA: 10, Dec: 80}
	south := model.Position{RA: 200, Dec: -70}
	seedSamples(t, a, []CountSample{
		{Position: north, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 5}},
		{Position: south, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 20}},
	})
	npixNorth, err := a.Grid().PixelOf(north)
	require.NoError(t, err)
	npixSouth, err := a.Grid().PixelOf(south)
	require.NoError(t, err)
	require.NotEqual(t, npixNorth, npixSouth)
	return a, npixNorth, npixSouth
}

func TestBuildMap_LocalUniformLeavesGapsNaN(t *testing.T) {
	ctx := context.Background()
	a, north, south := localFixture(t)

	name, err := a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodLocalUniform})
	require.NoError(t, err)

	rec, err := a.ReadMap(ctx, name)
	require.NoError(t, err)

	area := astro.ConeSolidAngle(1)
	assert.InDelta(t, 5/area, rec.Values[north], 5/area*1e-9)
	assert.InDelta(t, 20/area, rec.Values[south], 20/area*1e-9)

	nan := 0
	for _, v := range rec.Values {
		if math.IsNaN(v) {
			nan++
		}
	}
	assert.Equal(t, int(a.Grid().Npix())-2, nan)
}

func TestBuildMap_LocalUniformFillPolicies(t *testing.T) {
	ctx := context.Background()
	a, north, _ := localFixture(t)

	name, err := a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodLocalUniform, Fill: FillZero})
	require.NoError(t, err)
	rec, err := a.ReadMap(ctx, name)
	require.NoError(t, err)
	for pix, v := range rec.Values {
		assert.False(t, math.IsNaN(v), "pixel %d still NaN", pix)
	}
	assert.Zero(t, rec.Values[(north+1)%a.Grid().Npix()])

	_, err = a.BuildMap(ctx, "GALAXY", BuildOpts{Method: MethodLocalUniform, Fill: FillAverage, Overwrite: true})
	require.NoError(t, err)
	rec, err = a.ReadMap(ctx, name)
	require.NoError(t, err)

	avg := 25.0 / (2 * astro.ConeSolidAngle(1))
	empty := (north + 1) % a.Grid().Npix()
	assert.InDelta(t, avg, rec.Values[empty], avg*1e-9)
}

func TestBuildMap_UnknownFill(t *testing.T) {
	a, _, _ := localFixture(t)
	_, err := a.BuildMap(context.Background(), "GALAXY", BuildOpts{Method: MethodLocalUniform, Fill: "interpolate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fill policy")
}

// --- Regression ---

func TestBuildMap_RegressionCoversEveryPixel(t *testing.T) {
	ctx := context.Background()
	a := newTestAtlas(t, 30.0)
	seedSamples(t, a, []CountSample{
		{Position: model.Position{RA: 10, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 100}},
		{Position: model.Position{RA: 15, Dec: 5}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 80}},
		{Position: model.Position{RA: 190, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 1}},
	})

	name, err := a.BuildMap(ctx, "GALAXY", BuildOpts{
		Method:     MethodRegression,
		Bandwidths: []float64{5, 15, 45},
	})
	require.NoError(t, err)

	rec, err := a.ReadMap(ctx, name)
	require.NoError(t, err)

	for pix, v := range rec.Values {
		assert.False(t, math.IsNaN(v), "pixel %d is NaN", pix)
		assert.False(t, math.IsInf(v, 0), "pixel %d is Inf", pix)
	}

	nearCluster, err := a.Grid().PixelOf(model.Position{RA: 12, Dec: 2})
	require.NoError(t, err)
	antipode, err := a.Grid().PixelOf(model.Position{RA: 192, Dec: -2})
	require.NoError(t, err)
	assert.Greater(t, rec.Values[nearCluster], rec.Values[antipode])
}

func TestBuildMap_RegressionRejectsBadBandwidth(t *testing.T) {
	a := newTestAtlas(t, 30.0)
	seedSamples(t, a, []CountSample{
		{Position: model.Position{RA: 10, Dec: 0}, RadiusArcmin: 1, Counts: map[string]float64{"GALAXY": 4}},
	})
	_, err := a.BuildMap(context.Background(), "GALAXY", BuildOpts{
		Method:     MethodRegression,
		Bandwidths: []float64{-1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth must be > 0")
}
