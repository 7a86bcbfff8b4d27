// Package schema describes how a source table's native columns map onto the
// special roles the pipeline needs (object name, position, object type,
// redshift), plus per-database object-type remapping. Schemas are declarative
// YAML documents validated once at load time.
package schema

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/vela-astro/xmatch-cli/internal/astro"
)

// ColumnMap names the native columns filling each special role. Name is
// always required; the position pair depends on the frame.
type ColumnMap struct {
	Name     string `yaml:"name"`
	RA       string `yaml:"ra,omitempty"`
	Dec      string `yaml:"dec,omitempty"`
	Lon      string `yaml:"lon,omitempty"` // galactic longitude
	Lat      string `yaml:"lat,omitempty"` // galactic latitude
	Type     string `yaml:"type,omitempty"`
	Redshift string `yaml:"redshift,omitempty"`
}

// Schema binds a reference database (or the user catalog) to its column
// roles, coordinate frame, and object-type vocabulary.
type Schema struct {
	Name    string            `yaml:"name"`
	Frame   astro.Frame       `yaml:"frame"`
	Columns ColumnMap         `yaml:"columns"`
	TypeMap map[string]string `yaml:"type_map,omitempty"`
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "schema: parse yaml")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and validates a schema document from disk.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Validate checks the schema in a single pass: a name column is always
// required, and the coordinate frame dictates which position pair must be
// mapped (ICRS: ra+dec, Galactic: lon+lat).
func (s *Schema) Validate() error {
	var missing []string

	if s.Name == "" {
		missing = append(missing, "name")
	}
	if s.Columns.Name == "" {
		missing = append(missing, "columns.name")
	}

	switch s.Frame {
	case astro.FrameICRS, "":
		if s.Frame == "" {
			s.Frame = astro.FrameICRS
		}
		if s.Columns.RA == "" {
			missing = append(missing, "columns.ra")
		}
		if s.Columns.Dec == "" {
			missing = append(missing, "columns.dec")
		}
	case astro.FrameGalactic:
		if s.Columns.Lon == "" {
			missing = append(missing, "columns.lon")
		}
		if s.Columns.Lat == "" {
			missing = append(missing, "columns.lat")
		}
	default:
		return eris.Errorf("schema: unsupported frame %q", s.Frame)
	}

	if len(missing) > 0 {
		return eris.Errorf("schema: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PositionColumns returns the native longitude/latitude column pair for the
// schema's frame.
func (s *Schema) PositionColumns() (lon, lat string) {
	if s.Frame == astro.FrameGalactic {
		return s.Columns.Lon, s.Columns.Lat
	}
	return s.Columns.RA, s.Columns.Dec
}

// CanonicalType normalizes a raw object-type string: NFC unicode
// normalization, whitespace trim, remapping through the schema's type table
// (case-insensitive fallback), then pipe-wrapping so values embed cleanly in
// delimiter-joined type lists. Empty input stays empty.
func (s *Schema) CanonicalType(raw string) string {
	parts := strings.Split(raw, "|")
	var out []string
	for _, p := range parts {
		t := norm.NFC.String(strings.TrimSpace(p))
		if t == "" {
			continue
		}
		out = append(out, s.mapType(t))
	}
	if len(out) == 0 {
		return ""
	}
	return "|" + strings.Join(out, "|") + "|"
}

func (s *Schema) mapType(t string) string {
	if mapped, ok := s.TypeMap[t]; ok {
		return mapped
	}
	folded := cases.Fold().String(t)
	for k, v := range s.TypeMap {
		if cases.Fold().String(k) == folded {
			return v
		}
	}
	return t
}
