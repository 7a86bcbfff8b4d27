// Package astro provides the angular math shared by the match reductions,
// the density models, and the sky atlas: great-circle separations, unit
// vectors, and ICRS/Galactic frame conversion.
package astro

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Frame names a celestial coordinate frame.
type Frame string

const (
	FrameICRS     Frame = "ICRS"
	FrameGalactic Frame = "Galactic"
)

// ArcminPerDeg converts separations in degrees to arc-minutes.
const ArcminPerDeg = 60.0

// SterPerSqArcmin converts a flat area in arcmin^2 to steradian.
const SterPerSqArcmin = (math.Pi / 180.0 / 60.0) * (math.Pi / 180.0 / 60.0)

// radians/degrees helpers
func radians(deg float64) float64 { return deg * math.Pi / 180.0 }
func degrees(rad float64) float64 { return rad * 180.0 / math.Pi }

// UnitVector converts a sky position to a unit vector with X toward
// (RA=0, Dec=0) and Z toward the north pole.
func UnitVector(p model.Position) r3.Vec {
	ra := radians(p.RA)
	dec := radians(p.Dec)
	cd := math.Cos(dec)
	return r3.Vec{
		X: cd * math.Cos(ra),
		Y: cd * math.Sin(ra),
		Z: math.Sin(dec),
	}
}

// position converts a unit vector back to RA/Dec degrees, RA in [0, 360).
func position(v r3.Vec) model.Position {
	ra := degrees(math.Atan2(v.Y, v.X))
	if ra < 0 {
		ra += 360
	}
	dec := degrees(math.Asin(math.Max(-1, math.Min(1, v.Z))))
	return model.Position{RA: ra, Dec: dec}
}

// Separation returns the great-circle separation between two positions in
// degrees. NaN coordinates propagate as NaN.
func Separation(a, b model.Position) float64 {
	if math.IsNaN(a.RA) || math.IsNaN(a.Dec) || math.IsNaN(b.RA) || math.IsNaN(b.Dec) {
		return math.NaN()
	}
	va := UnitVector(a)
	vb := UnitVector(b)
	cross := r3.Norm(r3.Cross(va, vb))
	dot := r3.Dot(va, vb)
	return degrees(math.Atan2(cross, dot))
}

// ConeSolidAngle returns the solid angle of a small circular aperture of the
// given radius in arc-minutes, in steradian. Uses the flat-sky pi*r^2
// approximation, which is exact to ~1e-7 at survey aperture scales.
func ConeSolidAngle(radiusArcmin float64) float64 {
	return math.Pi * radiusArcmin * radiusArcmin * SterPerSqArcmin
}

// ICRS -> Galactic rotation (IAU 1958 pole/zero-point as realized in the
// ICRS). Rows are the Galactic basis vectors expressed in ICRS coordinates.
var icrsToGal = [3]r3.Vec{
	{X: -0.0548755604162154, Y: -0.8734370902348850, Z: -0.4838350155487132},
	{X: +0.4941094278755837, Y: -0.4448296299600112, Z: +0.7469822444972189},
	{X: -0.8676661490190047, Y: -0.1980763734312015, Z: +0.4559837761750669},
}

// Convert transforms a position between supported frames. Converting a frame
// to itself is the identity.
func Convert(p model.Position, from, to Frame) model.Position {
	if from == to {
		return p
	}
	v := UnitVector(p)
	switch {
	case from == FrameICRS && to == FrameGalactic:
		return position(r3.Vec{
			X: r3.Dot(icrsToGal[0], v),
			Y: r3.Dot(icrsToGal[1], v),
			Z: r3.Dot(icrsToGal[2], v),
		})
	case from == FrameGalactic && to == FrameICRS:
		// Transpose of an orthonormal rotation is its inverse.
		return position(r3.Vec{
			X: icrsToGal[0].X*v.X + icrsToGal[1].X*v.Y + icrsToGal[2].X*v.Z,
			Y: icrsToGal[0].Y*v.X + icrsToGal[1].Y*v.Y + icrsToGal[2].Y*v.Z,
			Z: icrsToGal[0].Z*v.X + icrsToGal[1].Z*v.Y + icrsToGal[2].Z*v.Z,
		})
	default:
		return p
	}
}

// RandomPosition draws a position uniformly distributed on the sphere.
func RandomPosition(rng *rand.Rand) model.Position {
	return model.Position{
		RA:  360 * rng.Float64(),
		Dec: degrees(math.Asin(2*rng.Float64() - 1)),
	}
}
