// Package match ingests raw spatial match candidates: a Matcher answers
// cone queries against one reference database, and the Engine fans catalog
// rows out over a bounded worker pool, tagging and appending results to the
// store's per-database match tables.
package match

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// ErrServiceUnavailable marks a query that failed because the reference
// service could not be reached. Callers drop the row and keep the batch
// going rather than aborting.
var ErrServiceUnavailable = eris.New("match: service unavailable")

// Matcher answers cone queries against one reference database. Returned
// tables carry the database's native columns; tagging with catalog context
// is the engine's job.
type Matcher interface {
	// Name is the reference database name; the match table is <Name>_MATCH.
	Name() string
	// Schema describes the database's native column roles.
	Schema() *schema.Schema
	// QueryRadius returns every source within radiusArcmin of pos.
	QueryRadius(ctx context.Context, pos model.Position, radiusArcmin float64) (*model.Table, error)
}
