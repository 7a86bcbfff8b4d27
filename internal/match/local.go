package match

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// ConeMatcher answers cone queries from an in-memory reference table. It
// backs file-based reference databases and is the standard test double for
// the engine.
type ConeMatcher struct {
	sch       *schema.Schema
	table     *model.Table
	positions []model.Position // ICRS, precomputed per row
}

// NewConeMatcher wraps a reference table. The table must carry the schema's
// native position columns; rows with unparseable positions never match.
func NewConeMatcher(sch *schema.Schema, table *model.Table) (*ConeMatcher, error) {
	lon, lat := sch.PositionColumns()
	if !table.HasColumn(lon) || !table.HasColumn(lat) {
		return nil, eris.Errorf("match: reference table for %s missing position columns %s/%s", sch.Name, lon, lat)
	}

	positions := make([]model.Position, table.Len())
	for i, row := range table.Rows {
		positions[i] = sch.PositionICRS(row)
	}
	return &ConeMatcher{sch: sch, table: table, positions: positions}, nil
}

// Name returns the reference database name.
func (c *ConeMatcher) Name() string { return c.sch.Name }

// Schema returns the database's column roles.
func (c *ConeMatcher) Schema() *schema.Schema { return c.sch }

// QueryRadius scans the reference table and returns every row within
// radiusArcmin of pos.
func (c *ConeMatcher) QueryRadius(ctx context.Context, pos model.Position, radiusArcmin float64) (*model.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "match: cone query")
	}

	radiusDeg := radiusArcmin / astro.ArcminPerDeg
	out := model.NewTable(c.table.Columns...)
	for i, row := range c.table.Rows {
		if astro.Separation(pos, c.positions[i]) <= radiusDeg {
			out.Append(row)
		}
	}
	return out, nil
}
