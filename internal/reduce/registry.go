package reduce

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// Registry holds the reductions a run may select, in their fixed dependency
// order. It is always constructed and passed explicitly; there is no
// package-level default.
type Registry struct {
	order  []Reduction
	byName map[string]Reduction
}

// NewRegistry builds a registry; declaration order fixes the run order.
func NewRegistry(reductions ...Reduction) (*Registry, error) {
	r := &Registry{byName: make(map[string]Reduction, len(reductions))}
	for _, red := range reductions {
		if _, dup := r.byName[red.Name()]; dup {
			return nil, eris.Errorf("reduce: reduction %q registered twice", red.Name())
		}
		r.order = append(r.order, red)
		r.byName[red.Name()] = red
	}
	return r, nil
}

// Names lists the registered reductions in run order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, red := range r.order {
		names = append(names, red.Name())
	}
	return names
}

// Select resolves plan names against the registry, returning the selected
// reductions in the registry's fixed order regardless of how the plan lists
// them.
func (r *Registry) Select(names []string) ([]Reduction, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			return nil, eris.Errorf("reduce: unknown reduction %q (registered: %s)",
				n, strings.Join(r.Names(), ", "))
		}
		want[n] = true
	}
	var out []Reduction
	for _, red := range r.order {
		if want[red.Name()] {
			out = append(out, red)
		}
	}
	return out, nil
}

// Standard builds the registry of standard passes from a validated plan:
// coordinate normalization, separation, astrometric score (when the plan
// names it), then the type and column normalizations. Later passes consume
// columns the earlier ones produce, so the order is fixed here.
func Standard(plan *Plan, schemas schema.Registry) (*Registry, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(plan.Reductions))
	for _, n := range plan.Reductions {
		selected[n] = true
	}

	reductions := []Reduction{
		NewCoordinateNormalization(schemas),
		NewSeparation(schemas),
	}
	if selected[NameScore] {
		score, err := NewScore(plan.Score)
		if err != nil {
			return nil, err
		}
		reductions = append(reductions, score)
	}
	reductions = append(reductions,
		NewTypeNormalization(schemas),
		NewColumnNormalization(schemas),
	)
	return NewRegistry(reductions...)
}
