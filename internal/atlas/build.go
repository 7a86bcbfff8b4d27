package atlas

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/density"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Method selects the per-pixel density estimator.
type Method string

const (
	// MethodGlobalUniform fits one uniform density over every sample and
	// broadcasts it to all pixels.
	MethodGlobalUniform Method = "GLOBAL_UNIFORM"
	// MethodLocalUniform estimates each pixel independently from the
	// samples that fall inside it; unsampled pixels stay NaN unless a
	// fill policy is set.
	MethodLocalUniform Method = "LOCAL_UNIFORM"
	// MethodRegression smooths all samples with a spherical kernel and
	// predicts every pixel center, so coverage is always complete.
	MethodRegression Method = "REGRESSION"
)

// Fill policies for pixels the local estimator leaves undefined.
const (
	FillNone    = ""
	FillZero    = "zero"
	FillAverage = "average"
)

// BuildOpts tunes one map build.
type BuildOpts struct {
	Method Method
	// Prior switches the uniform estimators from MLE to MAP.
	Prior density.Prior
	// Fill replaces NaN pixels after a local build.
	Fill string
	// Bandwidths is the candidate grid, in degrees, for regression
	// bandwidth cross-validation. Empty means twice the grid resolution
	// with no search.
	Bandwidths []float64
	Overwrite  bool
}

// BuildMap estimates a density map for one object type from the stored
// count samples and persists it under <TYPE>_<METHOD>. An existing map of
// that name is ErrMapExists unless Overwrite. Returns the map name.
func (a *Atlas) BuildMap(ctx context.Context, objectType string, opts BuildOpts) (string, error) {
	if opts.Method == "" {
		opts.Method = MethodLocalUniform
	}
	name := objectType + "_" + string(opts.Method)

	positions, counts, areas, err := a.SamplesFor(ctx, objectType)
	if err != nil {
		return "", err
	}
	if len(positions) == 0 {
		return "", eris.Errorf("atlas: no count samples for %s", objectType)
	}

	var values []float64
	switch opts.Method {
	case MethodGlobalUniform:
		values, err = a.buildGlobalUniform(counts, areas, opts.Prior)
	case MethodLocalUniform:
		values, err = a.buildLocalUniform(positions, counts, areas, opts.Prior, opts.Fill)
	case MethodRegression:
		values, err = a.buildRegression(positions, counts, areas, opts.Bandwidths)
	default:
		return "", eris.Errorf("atlas: unknown build method %q", opts.Method)
	}
	if err != nil {
		return "", err
	}

	if err := a.WriteMap(ctx, name, objectType, string(opts.Method), values, opts.Overwrite); err != nil {
		return "", err
	}
	zap.L().Info("density map built",
		zap.String("component", "atlas"),
		zap.String("map", name),
		zap.String("method", string(opts.Method)),
		zap.Int("samples", len(positions)),
		zap.Int64("pixels", a.grid.Npix()))
	return name, nil
}

func (a *Atlas) buildGlobalUniform(counts, areas []float64, prior density.Prior) ([]float64, error) {
	alpha, err := density.FitUniformMAP(counts, areas, prior)
	if err != nil {
		return nil, err
	}
	values := make([]float64, a.grid.Npix())
	for i := range values {
		values[i] = alpha
	}
	return values, nil
}

func (a *Atlas) buildLocalUniform(positions []model.Position, counts, areas []float64, prior density.Prior, fill string) ([]float64, error) {
	npix := a.grid.Npix()
	values := make([]float64, npix)
	for i := range values {
		values[i] = math.NaN()
	}

	byPixel := make(map[int64][]int)
	for i, p := range positions {
		pix, err := a.grid.PixelOf(p)
		if err != nil {
			return nil, err
		}
		byPixel[pix] = append(byPixel[pix], i)
	}

	for pix, idx := range byPixel {
		c := make([]float64, len(idx))
		ar := make([]float64, len(idx))
		for j, i := range idx {
			c[j] = counts[i]
			ar[j] = areas[i]
		}
		alpha, err := density.FitUniformMAP(c, ar, prior)
		if err != nil {
			return nil, eris.Wrapf(err, "atlas: pixel %d", pix)
		}
		values[pix] = alpha
	}

	switch fill {
	case FillNone:
	case FillZero:
		for i, v := range values {
			if math.IsNaN(v) {
				values[i] = 0
			}
		}
	case FillAverage:
		var totalCounts, totalArea float64
		for i := range counts {
			totalCounts += counts[i]
			totalArea += areas[i]
		}
		avg := totalCounts / totalArea
		for i, v := range values {
			if math.IsNaN(v) {
				values[i] = avg
			}
		}
	default:
		return nil, eris.Errorf("atlas: unknown fill policy %q", fill)
	}
	return values, nil
}

// buildRegression smooths log-densities with a Gaussian kernel over
// great-circle distance and predicts every pixel center. The bandwidth is
// chosen from the candidate grid by leave-one-out squared error.
func (a *Atlas) buildRegression(positions []model.Position, counts, areas []float64, bandwidths []float64) ([]float64, error) {
	logRates := make([]float64, len(counts))
	for i := range counts {
		logRates[i] = math.Log1p(counts[i] / areas[i])
	}

	bandwidth := 2 * a.grid.Resolution()
	if len(bandwidths) > 0 {
		var err error
		bandwidth, err = crossValidateBandwidth(positions, logRates, bandwidths)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("bandwidth selected",
			zap.String("component", "atlas"),
			zap.Float64("bandwidth_deg", bandwidth))
	}

	npix := a.grid.Npix()
	values := make([]float64, npix)
	for pix := int64(0); pix < npix; pix++ {
		center, err := a.grid.Center(pix)
		if err != nil {
			return nil, err
		}
		values[pix] = math.Expm1(smoothAt(center, positions, logRates, bandwidth, -1))
	}
	return values, nil
}

// smoothAt is a Nadaraya-Watson estimate at one point. skip excludes a
// sample index for leave-one-out scoring; pass -1 to use every sample. With
// no usable weight mass the global mean keeps the map fully covered.
func smoothAt(at model.Position, positions []model.Position, y []float64, bandwidthDeg float64, skip int) float64 {
	var num, den float64
	for i, p := range positions {
		if i == skip {
			continue
		}
		d := astro.Separation(at, p) / bandwidthDeg
		w := math.Exp(-0.5 * d * d)
		num += w * y[i]
		den += w
	}
	if den <= 0 {
		var sum float64
		n := 0
		for i, v := range y {
			if i == skip {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}
	return num / den
}

func crossValidateBandwidth(positions []model.Position, y []float64, candidates []float64) (float64, error) {
	sorted := make([]float64, len(candidates))
	copy(sorted, candidates)
	sort.Float64s(sorted)

	best := math.NaN()
	bestScore := math.Inf(1)
	var scores []string
	for _, h := range sorted {
		if h <= 0 {
			return 0, eris.Errorf("atlas: bandwidth must be > 0, got %g", h)
		}
		var score float64
		for i := range positions {
			pred := smoothAt(positions[i], positions, y, h, i)
			r := pred - y[i]
			score += r * r
		}
		scores = append(scores, fmt.Sprintf("%g=%g", h, score))
		if score < bestScore {
			bestScore = score
			best = h
		}
	}
	if math.IsNaN(best) {
		return 0, eris.Errorf("atlas: no usable bandwidth among %s", strings.Join(scores, ", "))
	}
	return best, nil
}
