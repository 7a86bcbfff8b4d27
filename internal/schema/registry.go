package schema

import (
	"math"
	"strings"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Registry maps reference-database names to their schemas. It is constructed
// by the caller and passed explicitly; there is no package-level default.
type Registry map[string]*Schema

// NewRegistry builds a registry keyed by each schema's database name.
func NewRegistry(schemas ...*Schema) Registry {
	r := make(Registry, len(schemas))
	for _, s := range schemas {
		r[s.Name] = s
	}
	return r
}

// ForMatchTable resolves the schema for a match table by stripping the table
// suffix, so "SIMBAD_MATCH" resolves the "SIMBAD" schema.
func (r Registry) ForMatchTable(table string) (*Schema, bool) {
	name := strings.TrimSuffix(table, model.MatchTableSuffix)
	s, ok := r[name]
	return s, ok
}

// Names lists the registered database names in arbitrary order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	return names
}

// PositionICRS reads a row's native position pair and returns it in ICRS
// degrees, converting from the schema's frame when needed. Missing or
// unparseable coordinate values propagate as NaN rather than erroring, so a
// bad row poisons only its own derived quantities.
func (s *Schema) PositionICRS(row model.Row) model.Position {
	lonCol, latCol := s.PositionColumns()

	lon := math.NaN()
	if v, ok := model.Float(row[lonCol]); ok {
		lon = v
	}
	lat := math.NaN()
	if v, ok := model.Float(row[latCol]); ok {
		lat = v
	}

	p := model.Position{RA: lon, Dec: lat}
	if s.Frame == astro.FrameICRS {
		return p
	}
	return astro.Convert(p, s.Frame, astro.FrameICRS)
}
