package density

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/vela-astro/xmatch-cli/internal/astro"
)

// ErrExhausted marks a fit where every candidate strategy failed, or where
// the model's declared capabilities admit no strategy at all.
var ErrExhausted = eris.New("density: all fitting strategies failed")

type capability string

const (
	capFunction  capability = "model function"
	capTractable capability = "analytically tractable"
	capGradient  capability = "gradient"
)

// fitData is a population coerced into a model's native frame: angles in
// radians, areas in steradian.
type fitData struct {
	phi    []float64
	theta  []float64
	counts []float64
	areas  []float64
}

// strategy is one registered fitting approach. A strategy is a candidate for
// a model when the model declares every capability in requires; candidates
// run in ascending level order.
type strategy struct {
	name     string
	level    int
	requires []capability
	run      func(m *Model, d *fitData, guess []float64) (*FitResult, error)
}

var strategies = []strategy{
	{
		name:     "poisson-mle-analytic",
		level:    0,
		requires: []capability{capFunction, capTractable},
		run:      fitAnalyticMLE,
	},
	{
		name:     "poisson-mle-nlls",
		level:    1,
		requires: []capability{capFunction, capGradient},
		run:      fitNonlinearLS,
	},
}

// FitToPopulation fits the model to a sampled population. Candidate
// strategies are tried in priority order and the first success is recorded
// on the model and returned. guess seeds the nonlinear strategies with one
// value per parameter; nil starts from zero. When every candidate fails the
// returned error wraps ErrExhausted and names each strategy with its reason.
func (m *Model) FitToPopulation(pop *Population, guess []float64) (*FitResult, error) {
	if guess != nil && len(guess) != len(m.Params) {
		return nil, eris.Errorf("density: fit %s: guess has %d values for %d parameters",
			m.Name, len(guess), len(m.Params))
	}

	caps := m.capabilities()
	var candidates []strategy
	for _, s := range strategies {
		if hasAll(caps, s.requires) {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].level < candidates[j].level })
	if len(candidates) == 0 {
		return nil, eris.Wrapf(ErrExhausted, "density: fit %s: no candidate strategies for capabilities [%s]",
			m.Name, capabilityNames(caps))
	}

	log := zap.L().With(zap.String("component", "density"), zap.String("model", m.Name))
	d := coerce(pop, m.Frame)

	var failures []string
	for _, s := range candidates {
		fit, err := s.run(m, d, guess)
		if err != nil {
			log.Warn("fitting strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}
		fit.Method = s.name
		m.fit = fit
		log.Info("model fit",
			zap.String("strategy", s.name),
			zap.Int("samples", pop.Len()))
		return fit, nil
	}
	return nil, eris.Wrapf(ErrExhausted, "density: fit %s: %s", m.Name, strings.Join(failures, "; "))
}

func hasAll(caps map[capability]bool, required []capability) bool {
	for _, r := range required {
		if !caps[r] {
			return false
		}
	}
	return true
}

func capabilityNames(caps map[capability]bool) string {
	names := make([]string, 0, len(caps))
	for c := range caps {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// coerce transforms the population into the model's native frame and strips
// units down to radians and steradian.
func coerce(pop *Population, frame astro.Frame) *fitData {
	d := &fitData{
		phi:    make([]float64, pop.Len()),
		theta:  make([]float64, pop.Len()),
		counts: pop.Counts,
		areas:  pop.Areas,
	}
	for i, p := range pop.Positions {
		q := astro.Convert(p, astro.FrameICRS, frame)
		d.phi[i] = q.RA * math.Pi / 180
		d.theta[i] = q.Dec * math.Pi / 180
	}
	return d
}

// fitAnalyticMLE is the closed-form Poisson maximum likelihood for a
// spatially uniform density: alpha = sum(counts)/sum(areas) with variance
// alpha/sum(areas). It only applies to single-amplitude models; anything
// else falls through to the next strategy.
func fitAnalyticMLE(m *Model, d *fitData, _ []float64) (*FitResult, error) {
	if len(m.Params) != 1 {
		return nil, eris.Errorf("density: closed form fits one uniform amplitude, model has %d parameters", len(m.Params))
	}
	var totalCounts, totalArea float64
	for i := range d.counts {
		totalCounts += d.counts[i]
		totalArea += d.areas[i]
	}
	if totalArea <= 0 {
		return nil, eris.New("density: total sampled area is zero")
	}
	alpha := totalCounts / totalArea
	variance := alpha / totalArea
	name := m.Params[0].Name
	return &FitResult{
		Args:       map[string]float64{name: alpha},
		Variances:  map[string]float64{name: variance},
		Covariance: mat.NewDense(1, 1, []float64{variance}),
	}, nil
}

// fitNonlinearLS minimizes the sum of squared residuals
// f(phi_i, theta_i, x) - counts_i/areas_i with BFGS, using the model's
// declared parameter gradient through the chain rule. The parameter
// covariance is the Gauss-Newton estimate sigma^2 (J^T J)^-1; when the
// normal matrix is singular the fit still succeeds with NaN variances.
func fitNonlinearLS(m *Model, d *fitData, guess []float64) (*FitResult, error) {
	n := len(d.counts)
	p := len(m.Params)

	rates := make([]float64, n)
	for i := range rates {
		rates[i] = d.counts[i] / d.areas[i]
	}

	residuals := func(x, r []float64) {
		for i := range r {
			r[i] = m.Func(d.phi[i], d.theta[i], x) - rates[i]
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			var sum float64
			for i := 0; i < n; i++ {
				r := m.Func(d.phi[i], d.theta[i], x) - rates[i]
				sum += r * r
			}
			return sum
		},
		Grad: func(grad, x []float64) {
			for j := range grad {
				grad[j] = 0
			}
			g := make([]float64, p)
			for i := 0; i < n; i++ {
				r := m.Func(d.phi[i], d.theta[i], x) - rates[i]
				m.Grad(d.phi[i], d.theta[i], x, g)
				for j := 0; j < p; j++ {
					grad[j] += 2 * r * g[j]
				}
			}
		},
	}

	x0 := make([]float64, p)
	if guess != nil {
		copy(x0, guess)
	}

	result, err := optimize.Minimize(problem, x0, nil, &optimize.BFGS{})
	if err != nil {
		return nil, eris.Wrap(err, "density: least squares minimization failed")
	}
	if err := result.Status.Err(); err != nil {
		return nil, eris.Wrap(err, "density: least squares did not converge")
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.New("density: least squares produced a non-finite parameter")
		}
	}

	fit := &FitResult{
		Args:      make(map[string]float64, p),
		Variances: make(map[string]float64, p),
	}
	for j, prm := range m.Params {
		fit.Args[prm.Name] = result.X[j]
		fit.Variances[prm.Name] = math.NaN()
	}

	if n > p {
		jac := mat.NewDense(n, p, nil)
		g := make([]float64, p)
		for i := 0; i < n; i++ {
			m.Grad(d.phi[i], d.theta[i], result.X, g)
			jac.SetRow(i, g)
		}
		r := make([]float64, n)
		residuals(result.X, r)
		var rss float64
		for _, v := range r {
			rss += v * v
		}
		sigma2 := rss / float64(n-p)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var inv mat.Dense
		if invErr := inv.Inverse(&jtj); invErr == nil {
			inv.Scale(sigma2, &inv)
			fit.Covariance = &inv
			for j, prm := range m.Params {
				fit.Variances[prm.Name] = inv.At(j, j)
			}
		}
	}
	return fit, nil
}

// FitUniformMAP estimates one uniform density by maximum a posteriori:
// minimize -P(count | area*x) * prior(x) over all samples pooled, seeded
// from the analytic MLE. A nil prior reduces to the closed form.
func FitUniformMAP(counts, areas []float64, prior Prior) (float64, error) {
	var totalCounts, totalArea float64
	for i := range counts {
		totalCounts += counts[i]
		totalArea += areas[i]
	}
	if totalArea <= 0 {
		return 0, eris.New("density: total sampled area is zero")
	}
	mle := totalCounts / totalArea
	if prior == nil {
		return mle, nil
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if x[0] <= 0 {
				return math.MaxFloat64
			}
			pois := distuv.Poisson{Lambda: totalArea * x[0]}
			return -pois.Prob(totalCounts) * prior(x[0])
		},
	}
	result, err := optimize.Minimize(problem, []float64{mle}, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, eris.Wrap(err, "density: MAP minimization failed")
	}
	if err := result.Status.Err(); err != nil {
		return 0, eris.Wrap(err, "density: MAP minimization did not converge")
	}
	return result.X[0], nil
}
