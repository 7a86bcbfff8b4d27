// Package grid implements a HEALPix ring-scheme pixelization of the sphere:
// equal-area pixels indexed along iso-latitude rings, with pure
// position<->pixel mapping functions. Any positive NSIDE is supported (the
// ring scheme does not require a power of two).
package grid

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Grid is a fixed-resolution spherical tessellation. The zero value is not
// usable; construct with New or FromNside.
type Grid struct {
	nside int64
	npix  int64
	ncap  int64 // pixels in the north polar cap
	res   float64
}

// New derives the grid from a target angular resolution in degrees: NSIDE is
// the smallest value whose pixels are at least that fine.
func New(resolutionDeg float64) (*Grid, error) {
	if resolutionDeg <= 0 {
		return nil, eris.Errorf("grid: resolution must be > 0, got %g", resolutionDeg)
	}
	resRad := resolutionDeg * math.Pi / 180.0
	nside := int64(math.Ceil(1.0 / (resRad * math.Sqrt(3))))
	g, err := FromNside(nside)
	if err != nil {
		return nil, err
	}
	g.res = resolutionDeg
	return g, nil
}

// FromNside builds a grid directly from its NSIDE parameter.
func FromNside(nside int64) (*Grid, error) {
	if nside < 1 {
		return nil, eris.Errorf("grid: nside must be >= 1, got %d", nside)
	}
	return &Grid{
		nside: nside,
		npix:  12 * nside * nside,
		ncap:  2 * nside * (nside - 1),
		res:   math.Sqrt(4 * math.Pi / float64(12*nside*nside)) * 180.0 / math.Pi,
	}, nil
}

// Nside returns the grid parameter.
func (g *Grid) Nside() int64 { return g.nside }

// Npix returns the total pixel count, 12*NSIDE^2.
func (g *Grid) Npix() int64 { return g.npix }

// Resolution returns the grid's nominal resolution in degrees.
func (g *Grid) Resolution() float64 { return g.res }

// PixelArea returns the solid angle of one pixel in steradian. All pixels
// have equal area.
func (g *Grid) PixelArea() float64 {
	return 4 * math.Pi / float64(g.npix)
}

// PixelOf maps a sky position to its ring-scheme pixel index.
func (g *Grid) PixelOf(p model.Position) (int64, error) {
	if math.IsNaN(p.RA) || math.IsNaN(p.Dec) || math.IsInf(p.RA, 0) || math.IsInf(p.Dec, 0) {
		return 0, eris.Errorf("grid: non-finite position (%g, %g)", p.RA, p.Dec)
	}
	theta := (90.0 - p.Dec) * math.Pi / 180.0
	phi := math.Mod(p.RA*math.Pi/180.0, 2*math.Pi)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	z := math.Cos(theta)
	za := math.Abs(z)
	tt := phi / (math.Pi / 2) // in [0,4)

	ns := float64(g.nside)
	if za <= 2.0/3.0 {
		// Equatorial belt.
		temp1 := ns * (0.5 + tt)
		temp2 := ns * 0.75 * z
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)

		ir := g.nside + 1 + jp - jm // ring counted from z=2/3
		kshift := int64(1 - ir&1)

		ip := (jp + jm - g.nside + kshift + 1) / 2
		ip = ip % (4 * g.nside)

		return g.ncap + (ir-1)*4*g.nside + ip, nil
	}

	// Polar caps.
	tp := tt - math.Floor(tt)
	tmp := ns * math.Sqrt(3*(1-za))
	jp := int64(tp * tmp)
	jm := int64((1 - tp) * tmp)

	ir := jp + jm + 1 // ring counted from the nearest pole
	ip := int64(tt*float64(ir)) % (4 * ir)

	if z > 0 {
		return 2*ir*(ir-1) + ip, nil
	}
	return g.npix - 2*ir*(ir+1) + ip, nil
}

// Center returns the sky position of a pixel's center.
func (g *Grid) Center(pix int64) (model.Position, error) {
	if pix < 0 || pix >= g.npix {
		return model.Position{}, eris.Errorf("grid: pixel %d out of range [0,%d)", pix, g.npix)
	}

	ns := float64(g.nside)
	var z, phi float64

	switch {
	case pix < g.ncap:
		// North polar cap.
		hip := float64(pix+1) / 2
		iring := int64(math.Sqrt(hip-math.Sqrt(math.Floor(hip)))) + 1
		iphi := (pix + 1) - 2*iring*(iring-1)

		z = 1 - float64(iring*iring)/(3*ns*ns)
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))

	case pix < g.npix-g.ncap:
		// Equatorial belt.
		ip := pix - g.ncap
		iring := ip/(4*g.nside) + g.nside
		iphi := ip%(4*g.nside) + 1

		fodd := 0.5 * float64(1+(iring+g.nside)&1)
		z = float64(2*g.nside-iring) * 2 / (3 * ns)
		phi = (float64(iphi) - fodd) * math.Pi / (2 * ns)

	default:
		// South polar cap.
		ip := g.npix - pix
		hip := float64(ip) / 2
		iring := int64(math.Sqrt(hip-math.Sqrt(math.Floor(hip)))) + 1
		iphi := 4*iring + 1 - (ip - 2*iring*(iring-1))

		z = -1 + float64(iring*iring)/(3*ns*ns)
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	}

	dec := 90.0 - math.Acos(math.Max(-1, math.Min(1, z)))*180.0/math.Pi
	ra := math.Mod(phi*180.0/math.Pi, 360)
	if ra < 0 {
		ra += 360
	}
	return model.Position{RA: ra, Dec: dec}, nil
}
