// Package density fits parametric sky-density models to sampled source
// counts. A model declares its density function, native coordinate frame,
// and capability flags; fitting picks among the registered strategies by
// declared capability and priority, so callers never name a solver directly.
package density

import (
	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

// DefaultSampleArea is the solid angle of the default sampling aperture, a
// circle of radius 1 arc-minute, in steradian.
var DefaultSampleArea = astro.ConeSolidAngle(1.0)

// Population holds count samples drawn from circular sky apertures: where
// each aperture was placed, how many sources of the population it contained,
// and the solid angle it covered.
type Population struct {
	Positions []model.Position // ICRS degrees
	Counts    []float64
	Areas     []float64 // steradian
}

// NewPopulation builds a population from parallel sample slices. A nil
// areasSr gives every sample the default 1-arcmin aperture. All slices must
// have the same nonzero length.
func NewPopulation(positions []model.Position, counts, areasSr []float64) (*Population, error) {
	if areasSr == nil {
		areasSr = make([]float64, len(positions))
		for i := range areasSr {
			areasSr[i] = DefaultSampleArea
		}
	}
	if len(positions) != len(counts) || len(counts) != len(areasSr) {
		return nil, eris.Errorf("density: mismatched sample lengths: %d positions, %d counts, %d areas",
			len(positions), len(counts), len(areasSr))
	}
	if len(positions) == 0 {
		return nil, eris.New("density: population has no samples")
	}
	return &Population{Positions: positions, Counts: counts, Areas: areasSr}, nil
}

// Len returns the number of samples.
func (p *Population) Len() int { return len(p.Counts) }

// Rates returns the observed density of each sample, counts over area, in
// sources per steradian.
func (p *Population) Rates() []float64 {
	rates := make([]float64, len(p.Counts))
	for i := range rates {
		rates[i] = p.Counts[i] / p.Areas[i]
	}
	return rates
}
