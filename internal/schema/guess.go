package schema

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/astro"
)

// Well-known native column names per special role, checked in order. First
// exact match wins, then first case-insensitive match.
var candidateColumns = map[string][]string{
	"name":     {"NAME", "name", "OBJECT", "object", "ID", "OBJECT_ID", "IAUNAME", "MAIN_ID"},
	"ra":       {"RA", "ra", "RAJ2000", "RA_ICRS"},
	"dec":      {"DEC", "dec", "DEJ2000", "DE_ICRS", "DECL"},
	"lon":      {"L", "l", "GLON", "LII"},
	"lat":      {"B", "b", "GLAT", "BII"},
	"type":     {"TYPE", "type", "OTYPE", "OBJECT_TYPE", "CLASS"},
	"redshift": {"Z", "z", "REDSHIFT", "redshift"},
}

// Guess constructs a best-effort schema from a bare column list. The frame is
// inferred from which position pair can be identified (ICRS preferred); an
// unidentifiable name column or position pair is an error.
func Guess(name string, columns []string) (*Schema, error) {
	log := zap.L().With(zap.String("component", "schema.guess"), zap.String("table", name))

	pick := func(role string) string {
		cands := candidateColumns[role]
		for _, c := range cands {
			for _, col := range columns {
				if col == c {
					return col
				}
			}
		}
		for _, c := range cands {
			for _, col := range columns {
				if strings.EqualFold(col, c) {
					return col
				}
			}
		}
		return ""
	}

	s := &Schema{
		Name: name,
		Columns: ColumnMap{
			Name:     pick("name"),
			RA:       pick("ra"),
			Dec:      pick("dec"),
			Lon:      pick("lon"),
			Lat:      pick("lat"),
			Type:     pick("type"),
			Redshift: pick("redshift"),
		},
	}

	switch {
	case s.Columns.RA != "" && s.Columns.Dec != "":
		s.Frame = astro.FrameICRS
	case s.Columns.Lon != "" && s.Columns.Lat != "":
		s.Frame = astro.FrameGalactic
	default:
		return nil, eris.Errorf("schema: could not identify a position column pair in %v", columns)
	}

	if s.Columns.Name == "" {
		return nil, eris.Errorf("schema: could not identify a name column in %v", columns)
	}

	log.Debug("guessed schema",
		zap.String("name_column", s.Columns.Name),
		zap.String("frame", string(s.Frame)),
	)
	return s, s.Validate()
}
