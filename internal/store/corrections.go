package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// CorrectionOpts selects which match tables a correction visits and whether
// completed runs are forced.
type CorrectionOpts struct {
	// Tables restricts the run; nil means every MATCH table in the store.
	Tables []string
	// Overwrite re-runs a correction the ledger already records. Forcing a
	// rename-style correction against already-renamed columns usually fails;
	// the runner logs a warning but does not guess a repair.
	Overwrite bool
	// ChunkSize bounds the rewrite window; zero uses the default.
	ChunkSize int64
}

// errSkipLedger marks a table a correction cannot apply to at all (for
// example a schema with no type column). The table is skipped without a
// ledger entry so a later run with a richer schema can still pick it up.
var errSkipLedger = eris.New("correction not applicable")

// CorrectCoordinates ensures every match table exposes the candidate's own
// position as literal RA/DEC columns in ICRS degrees, converting from the
// database schema's native frame where needed. Idempotent via the
// CORRECT_COORDINATE_COLUMNS ledger entry.
func (s *Store) CorrectCoordinates(ctx context.Context, reg schema.Registry, opts CorrectionOpts) error {
	return s.runCorrection(ctx, ProcessCorrectCoords, reg, opts, func(ctx context.Context, table string, sch *schema.Schema) error {
		cols, err := s.Columns(ctx, table)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(cols))
		for _, c := range cols {
			present[c] = true
		}

		lonCol, latCol := sch.PositionColumns()
		if lonCol == model.ColMatchRA && latCol == model.ColMatchDec {
			// Native columns already satisfy the contract.
			return nil
		}
		if !present[lonCol] || !present[latCol] {
			return eris.Wrapf(ErrMissingColumn, "store: %s native position columns %s/%s", table, lonCol, latCol)
		}

		// SQLite resolves column names case-insensitively, so a native pair
		// like ra/dec must be renamed to the canonical case rather than kept
		// alongside a second RA/DEC pair.
		renameLon := strings.EqualFold(lonCol, model.ColMatchRA)
		renameLat := strings.EqualFold(latCol, model.ColMatchDec)

		return s.Transform(ctx, table, TransformOpts{ChunkSize: opts.ChunkSize}, func(chunk *model.Table) (*model.Table, error) {
			positions := make([]model.Position, chunk.Len())
			for i, row := range chunk.Rows {
				positions[i] = sch.PositionICRS(row)
			}
			if renameLon {
				chunk.RenameColumn(lonCol, model.ColMatchRA)
			}
			if renameLat {
				chunk.RenameColumn(latCol, model.ColMatchDec)
			}
			chunk.EnsureColumn(model.ColMatchRA)
			chunk.EnsureColumn(model.ColMatchDec)
			for i, row := range chunk.Rows {
				row[model.ColMatchRA] = positions[i].RA
				row[model.ColMatchDec] = positions[i].Dec
			}
			return chunk, nil
		})
	})
}

// CorrectColumnNames renames each match table's schema-mapped name and type
// columns to the canonical NAME/TYPE so downstream reductions address every
// database uniformly. Idempotent via the CORRECT_COLUMN_NAMES ledger entry.
func (s *Store) CorrectColumnNames(ctx context.Context, reg schema.Registry, opts CorrectionOpts) error {
	return s.runCorrection(ctx, ProcessCorrectColumns, reg, opts, func(ctx context.Context, table string, sch *schema.Schema) error {
		cols, err := s.Columns(ctx, table)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(cols))
		for _, c := range cols {
			present[c] = true
		}

		renames := map[string]string{}
		for _, rn := range []struct{ src, dst string }{
			{sch.Columns.Name, model.ColMatchName},
			{sch.Columns.Type, model.ColMatchType},
		} {
			if rn.src == "" || rn.src == rn.dst || !present[rn.src] {
				continue
			}
			if present[rn.dst] {
				return eris.Errorf("store: %s already has column %s, cannot rename %s", table, rn.dst, rn.src)
			}
			renames[rn.src] = rn.dst
		}
		if len(renames) == 0 {
			return nil
		}

		return s.Transform(ctx, table, TransformOpts{ChunkSize: opts.ChunkSize}, func(chunk *model.Table) (*model.Table, error) {
			for src, dst := range renames {
				chunk.RenameColumn(src, dst)
			}
			return chunk, nil
		})
	})
}

// CorrectObjectTypes rewrites each match table's object-type column through
// the database schema's type map, yielding pipe-wrapped canonical type lists.
// Tables whose schema declares no type column are skipped without a ledger
// entry. Idempotent via the CORRECT_OBJECT_TYPES ledger entry.
func (s *Store) CorrectObjectTypes(ctx context.Context, reg schema.Registry, opts CorrectionOpts) error {
	return s.runCorrection(ctx, ProcessCorrectTypes, reg, opts, func(ctx context.Context, table string, sch *schema.Schema) error {
		if sch.Columns.Type == "" {
			return eris.Wrapf(errSkipLedger, "store: schema %s has no type column", sch.Name)
		}

		cols, err := s.Columns(ctx, table)
		if err != nil {
			return err
		}
		typeCol := ""
		for _, c := range cols {
			if c == model.ColMatchType {
				typeCol = c
				break
			}
			if c == sch.Columns.Type {
				typeCol = c
			}
		}
		if typeCol == "" {
			return eris.Wrapf(ErrMissingColumn, "store: %s type column %s", table, sch.Columns.Type)
		}

		return s.Transform(ctx, table, TransformOpts{ChunkSize: opts.ChunkSize}, func(chunk *model.Table) (*model.Table, error) {
			for _, row := range chunk.Rows {
				row[typeCol] = sch.CanonicalType(model.String(row[typeCol]))
			}
			return chunk, nil
		})
	})
}

// runCorrection drives one correction across the selected match tables:
// ledger gate, schema lookup, apply, ledger update. Per-table failures are
// logged and collected so one bad table never blocks the rest of the run.
func (s *Store) runCorrection(ctx context.Context, process string, reg schema.Registry, opts CorrectionOpts, apply func(ctx context.Context, table string, sch *schema.Schema) error) error {
	tables := opts.Tables
	if tables == nil {
		var err error
		tables, err = s.MatchTables(ctx)
		if err != nil {
			return err
		}
	}

	log := zap.L().With(
		zap.String("component", "store.corrections"),
		zap.String("process", process),
	)

	var failed []string
	var lastErr error
	for _, table := range tables {
		done, err := s.CheckMeta(ctx, process, table)
		if err != nil {
			return err
		}
		if done {
			if !opts.Overwrite {
				log.Debug("already completed, skipping", zap.String("table", table))
				continue
			}
			log.Warn("already completed, forcing re-run; renames may fail",
				zap.String("table", table))
		}

		sch, ok := reg.ForMatchTable(table)
		if !ok {
			log.Error("no schema registered for table",
				zap.String("table", table),
				zap.Strings("registered", reg.Names()))
			continue
		}

		if err := apply(ctx, table, sch); err != nil {
			if eris.Is(err, errSkipLedger) {
				log.Warn("skipping table", zap.String("table", table), zap.Error(err))
				continue
			}
			log.Error("correction failed", zap.String("table", table), zap.Error(err))
			failed = append(failed, table)
			lastErr = err
			continue
		}

		if err := s.MetaAdd(ctx, process, table); err != nil {
			return err
		}
		log.Info("correction applied", zap.String("table", table))
	}

	if len(failed) > 0 {
		return eris.Wrapf(lastErr, "store: %s failed for %s", process, strings.Join(failed, ", "))
	}
	return nil
}
