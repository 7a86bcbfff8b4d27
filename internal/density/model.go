package density

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Param describes one named model parameter.
type Param struct {
	Name        string
	Description string
	Symbol      string
	Unit        string
}

// Func evaluates a density at one sky point. phi is longitude and theta
// latitude, both in radians in the model's native frame; args carries one
// value per declared parameter, in declaration order. The returned intensity
// is sources per steradian.
type Func func(phi, theta float64, args []float64) float64

// Grad fills grad with the partial derivative of Func with respect to each
// parameter at (phi, theta, args). len(grad) == len(args).
type Grad func(phi, theta float64, args []float64, grad []float64)

// Prior scores a single-parameter value a priori; used by the maximum a
// posteriori estimators.
type Prior func(x float64) float64

// Model is a parametric sky density f(phi, theta; params) together with its
// fitted state. Tractable marks models whose Poisson likelihood has a closed
// form maximum; Grad nil marks models with no analytic parameter gradient.
// Which fitting strategies apply follows from those two declarations alone.
type Model struct {
	Name      string
	Frame     astro.Frame
	Params    []Param
	Func      Func
	Grad      Grad
	Tractable bool

	fit *FitResult
}

// FitResult records the outcome of one successful fitting strategy.
type FitResult struct {
	Args       map[string]float64
	Variances  map[string]float64
	Covariance *mat.Dense
	Method     string
}

// Args returns the fitted parameter values keyed by name, NaN for every
// parameter until a fit succeeds.
func (m *Model) Args() map[string]float64 {
	out := make(map[string]float64, len(m.Params))
	for _, p := range m.Params {
		out[p.Name] = math.NaN()
	}
	if m.fit != nil {
		for k, v := range m.fit.Args {
			out[k] = v
		}
	}
	return out
}

// HasFit reports whether every parameter holds a non-missing fitted value.
func (m *Model) HasFit() bool {
	if m.fit == nil {
		return false
	}
	for _, p := range m.Params {
		v, ok := m.fit.Args[p.Name]
		if !ok || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Fit returns the fit record, nil until a fit succeeds.
func (m *Model) Fit() *FitResult { return m.fit }

// Density evaluates the fitted model at an ICRS position, converting into
// the model's native frame first.
func (m *Model) Density(p model.Position) (float64, error) {
	if !m.HasFit() {
		return 0, eris.Errorf("density: model %s has no fit", m.Name)
	}
	q := astro.Convert(p, astro.FrameICRS, m.Frame)
	phi := q.RA * math.Pi / 180
	theta := q.Dec * math.Pi / 180
	return m.Func(phi, theta, m.argVector()), nil
}

// argVector flattens the fitted args back into declaration order.
func (m *Model) argVector() []float64 {
	x := make([]float64, len(m.Params))
	for i, p := range m.Params {
		if m.fit != nil {
			x[i] = m.fit.Args[p.Name]
		} else {
			x[i] = math.NaN()
		}
	}
	return x
}

func (m *Model) capabilities() map[capability]bool {
	caps := make(map[capability]bool)
	if m.Func != nil {
		caps[capFunction] = true
	}
	if m.Tractable {
		caps[capTractable] = true
	}
	if m.Grad != nil {
		caps[capGradient] = true
	}
	return caps
}
