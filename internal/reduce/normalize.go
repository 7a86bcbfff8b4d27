package reduce

import (
	"context"

	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// Plan names for the normalization passes.
const (
	NameNormalizeCoords  = "normalize-coordinates"
	NameNormalizeTypes   = "normalize-types"
	NameNormalizeColumns = "normalize-columns"
)

// CoordinateNormalization rewrites each match table so the candidate's own
// position appears as canonical RA/DEC columns in ICRS degrees. It is the
// store's coordinate correction surfaced as a pipeline pass; both share the
// CORRECT_COORDINATE_COLUMNS ledger process, so whichever runs first makes
// the other a no-op.
type CoordinateNormalization struct {
	schemas schema.Registry
}

// NewCoordinateNormalization builds the pass over the given schema registry.
func NewCoordinateNormalization(schemas schema.Registry) *CoordinateNormalization {
	return &CoordinateNormalization{schemas: schemas}
}

func (*CoordinateNormalization) Name() string { return NameNormalizeCoords }

// Run delegates to the store correction, scoped to the pass's tables.
func (r *CoordinateNormalization) Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error {
	return st.CorrectCoordinates(ctx, r.schemas, store.CorrectionOpts{
		Tables:    tables,
		Overwrite: opts.Overwrite,
		ChunkSize: opts.ChunkSize,
	})
}

// TypeNormalization rewrites object-type columns through each database
// schema's type map. It is the store's object-type correction surfaced as a
// pipeline pass; both share the CORRECT_OBJECT_TYPES ledger process, so
// whichever runs first makes the other a no-op.
type TypeNormalization struct {
	schemas schema.Registry
}

// NewTypeNormalization builds the pass over the given schema registry.
func NewTypeNormalization(schemas schema.Registry) *TypeNormalization {
	return &TypeNormalization{schemas: schemas}
}

func (*TypeNormalization) Name() string { return NameNormalizeTypes }

// Run delegates to the store correction, scoped to the pass's tables.
func (r *TypeNormalization) Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error {
	return st.CorrectObjectTypes(ctx, r.schemas, store.CorrectionOpts{
		Tables:    tables,
		Overwrite: opts.Overwrite,
		ChunkSize: opts.ChunkSize,
	})
}

// ColumnNormalization renames each match table's schema-mapped name and type
// columns to the canonical NAME/TYPE. Shares the CORRECT_COLUMN_NAMES ledger
// process with the store correction.
type ColumnNormalization struct {
	schemas schema.Registry
}

// NewColumnNormalization builds the pass over the given schema registry.
func NewColumnNormalization(schemas schema.Registry) *ColumnNormalization {
	return &ColumnNormalization{schemas: schemas}
}

func (*ColumnNormalization) Name() string { return NameNormalizeColumns }

// Run delegates to the store correction, scoped to the pass's tables.
func (r *ColumnNormalization) Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error {
	return st.CorrectColumnNames(ctx, r.schemas, store.CorrectionOpts{
		Tables:    tables,
		Overwrite: opts.Overwrite,
		ChunkSize: opts.ChunkSize,
	})
}
