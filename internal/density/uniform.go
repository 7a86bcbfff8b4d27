package density

import (
	"math"

	"github.com/vela-astro/xmatch-cli/internal/astro"
)

// Uniform returns the one-parameter isotropic sky density alpha. The Poisson
// likelihood has a closed-form maximum, so fitting never needs a numerical
// solver.
func Uniform() *Model {
	return &Model{
		Name:  "uniform",
		Frame: astro.FrameICRS,
		Params: []Param{{
			Name:        "alpha",
			Description: "uniform sky density",
			Symbol:      "alpha",
			Unit:        "sr^-1",
		}},
		Func: func(_, _ float64, args []float64) float64 {
			return args[0]
		},
		Grad: func(_, _ float64, _ []float64, grad []float64) {
			grad[0] = 1
		},
		Tractable: true,
	}
}

// CosineLatitude models a density concentrated toward the equator of the
// Galactic frame, base + amplitude*cos(latitude). Stellar contaminant counts
// follow this shape to first order. Two parameters rule out the closed form,
// so fitting exercises the nonlinear least-squares path.
func CosineLatitude() *Model {
	return &Model{
		Name:  "cosine-latitude",
		Frame: astro.FrameGalactic,
		Params: []Param{
			{
				Name:        "base",
				Description: "isotropic floor",
				Symbol:      "alpha",
				Unit:        "sr^-1",
			},
			{
				Name:        "amplitude",
				Description: "equatorial excess",
				Symbol:      "beta",
				Unit:        "sr^-1",
			},
		},
		Func: func(_, theta float64, args []float64) float64 {
			return args[0] + args[1]*math.Cos(theta)
		},
		Grad: func(_, theta float64, _ []float64, grad []float64) {
			grad[0] = 1
			grad[1] = math.Cos(theta)
		},
	}
}
