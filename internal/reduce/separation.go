package reduce

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// NameSeparation is the separation reduction's plan name.
const NameSeparation = "separation"

// ProcessSeparation is the ledger process the separation reduction records.
const ProcessSeparation = "ADD_SEPARATION"

// Separation adds the SEPARATION column: the great-circle distance in
// arc-minutes between each row's tagged catalog position and the matched
// candidate's own position. Candidate positions come from the canonical
// RA/DEC columns when the coordinate correction already ran, otherwise from
// the database schema's native pair, converted to ICRS. Malformed
// coordinates propagate as NaN.
type Separation struct {
	schemas schema.Registry
}

// NewSeparation builds the separation reduction. The registry resolves
// native position columns for tables the coordinate correction has not
// visited yet.
func NewSeparation(schemas schema.Registry) *Separation {
	return &Separation{schemas: schemas}
}

func (*Separation) Name() string { return NameSeparation }

// Process returns the ledger process for one table.
func (*Separation) Process(string) string { return ProcessSeparation }

// Setup checks the tagged catalog position columns and resolves where each
// row's candidate position comes from.
func (r *Separation) Setup(ctx context.Context, st *store.Store, table string) (*Binding, error) {
	cols, err := st.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	if !present[model.ColCatalogRA] || !present[model.ColCatalogDec] {
		return nil, eris.Wrapf(store.ErrMissingColumn,
			"reduce: %s tagged catalog position columns", table)
	}

	var position func(model.Row) model.Position
	if present[model.ColMatchRA] && present[model.ColMatchDec] {
		position = canonicalPosition
	} else {
		sch, ok := r.schemas.ForMatchTable(table)
		if !ok {
			return nil, eris.Errorf(
				"reduce: %s has no %s/%s columns and no registered schema to resolve native ones",
				table, model.ColMatchRA, model.ColMatchDec)
		}
		lonCol, latCol := sch.PositionColumns()
		if !present[lonCol] || !present[latCol] {
			return nil, eris.Wrapf(store.ErrMissingColumn,
				"reduce: %s native position columns %s/%s", table, lonCol, latCol)
		}
		position = sch.PositionICRS
	}

	return &Binding{Transform: func(chunk *model.Table) (*model.Table, error) {
		chunk.EnsureColumn(model.ColSeparation)
		for _, row := range chunk.Rows {
			sep := astro.Separation(catalogPosition(row), position(row))
			row[model.ColSeparation] = sep * astro.ArcminPerDeg
		}
		return chunk, nil
	}}, nil
}

// Run applies the reduction across tables.
func (r *Separation) Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error {
	return runTables(ctx, st, tables, opts, r)
}

func catalogPosition(row model.Row) model.Position {
	return model.Position{
		RA:  floatOrNaN(row[model.ColCatalogRA]),
		Dec: floatOrNaN(row[model.ColCatalogDec]),
	}
}

func canonicalPosition(row model.Row) model.Position {
	return model.Position{
		RA:  floatOrNaN(row[model.ColMatchRA]),
		Dec: floatOrNaN(row[model.ColMatchDec]),
	}
}

// floatOrNaN coerces a driver value, keeping NaN for anything unusable.
func floatOrNaN(v any) float64 {
	f, _ := model.Float(v)
	return f
}
