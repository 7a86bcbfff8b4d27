package reduce

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Plan is the declarative reduction-run document: which passes to run, which
// tables to visit, and the parameters the passes need.
type Plan struct {
	// Reductions names the passes to run. Listing order does not matter;
	// passes always execute in the registry's fixed dependency order.
	Reductions []string `yaml:"reductions"`
	// Tables restricts the run to specific match tables; empty means every
	// MATCH table in the store.
	Tables []string `yaml:"tables,omitempty"`
	// Overwrite forces passes the ledger already records.
	Overwrite bool `yaml:"overwrite,omitempty"`
	// ChunkSize bounds each rewrite window; zero uses the store default.
	ChunkSize int64 `yaml:"chunk_size,omitempty"`
	// Score parameterizes the astrometric score pass; required when the
	// plan names it.
	Score ScoreParams `yaml:"score,omitempty"`
}

// DefaultPlan runs every parameter-free pass. The score pass is omitted
// because it needs an instrument PSF scale.
func DefaultPlan() *Plan {
	return &Plan{
		Reductions: []string{
			NameNormalizeCoords, NameSeparation,
			NameNormalizeTypes, NameNormalizeColumns,
		},
	}
}

// ParsePlan decodes and validates a plan document.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "reduce: parse plan yaml")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPlan reads and validates a plan document from disk.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reduce: read plan %s", path)
	}
	return ParsePlan(data)
}

// Validate checks that the plan is internally consistent.
func (p *Plan) Validate() error {
	var errs []string

	if len(p.Reductions) == 0 {
		errs = append(errs, "reductions must name at least one pass")
	}
	seen := make(map[string]bool, len(p.Reductions))
	for _, name := range p.Reductions {
		if seen[name] {
			errs = append(errs, fmt.Sprintf("reduction %q listed twice", name))
		}
		seen[name] = true
	}

	if seen[NameScore] {
		if p.Score.ScaleArcmin <= 0 {
			errs = append(errs, "score.scale_arcmin must be > 0")
		}
		if ex := p.Score.Exclusion; ex != nil {
			if ex.Column == "" {
				errs = append(errs, "score.exclusion.column must be set")
			}
			if _, ok := operators[ex.Operator]; !ok {
				errs = append(errs, fmt.Sprintf("score.exclusion.operator %q is not one of %s",
					ex.Operator, strings.Join(operatorNames(), " ")))
			}
		}
	}

	if p.ChunkSize < 0 {
		errs = append(errs, "chunk_size must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("reduce: plan validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
