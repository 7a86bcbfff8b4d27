// Package reduce implements the ordered, idempotent passes applied to match
// tables after ingestion: separation, astrometric scoring, and the
// schema-driven normalizations. Every pass is gated per (process, table)
// through the store's META ledger and rewrites tables through the staged
// swap, so a failed pass never leaves a half-written live table.
package reduce

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/store"
)

// Opts applies run-wide settings to every table a pass visits.
type Opts struct {
	// Overwrite re-runs passes the ledger already records. Forcing a
	// rename-style pass against already-renamed columns usually fails; the
	// runner warns and does not attempt a repair.
	Overwrite bool
	// ChunkSize bounds the rewrite window; zero uses the store default.
	ChunkSize int64
}

// Reduction is one named, idempotent pass over match tables.
type Reduction interface {
	// Name identifies the reduction in plans and logs.
	Name() string
	// Run applies the pass to the given tables. Implementations gate each
	// table through the META ledger and keep going past per-table failures,
	// returning an aggregate error naming the tables that failed.
	Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error
}

// Chunked is the contract for reductions that rewrite a table window by
// window. Setup validates table-level preconditions and binds per-table
// state; the returned transform is applied chunk-local and published through
// the staging swap.
type Chunked interface {
	Name() string
	// Process returns the ledger process recorded for one table.
	Process(table string) string
	// Setup validates preconditions against the live table. An error
	// wrapping ErrSkip marks a table the reduction cannot apply to; the
	// table is skipped without a ledger row so a later run can still pick
	// it up.
	Setup(ctx context.Context, st *store.Store, table string) (*Binding, error)
}

// Binding is a reduction bound to one table by Setup.
type Binding struct {
	// Transform rewrites one chunk. It must not assume visibility of any
	// other chunk.
	Transform store.TransformFunc
	// JoinColumns are CATALOG columns joined into each chunk for the
	// transform to consult. They stay owned by CATALOG: a transform that
	// requests them must drop them before returning the chunk.
	JoinColumns []string
}

// ErrSkip marks a table a reduction cannot apply to at all.
var ErrSkip = eris.New("reduction not applicable")

// runTables drives one chunked reduction across tables: ledger gate, setup,
// staged rewrite, ledger row. Per-table failures are logged and collected so
// one bad table never blocks the rest of the pass.
func runTables(ctx context.Context, st *store.Store, tables []string, opts Opts, r Chunked) error {
	log := zap.L().With(
		zap.String("component", "reduce"),
		zap.String("reduction", r.Name()),
	)

	var failed []string
	var lastErr error
	for _, table := range tables {
		process := r.Process(table)
		done, err := st.CheckMeta(ctx, process, table)
		if err != nil {
			return err
		}
		if done {
			if !opts.Overwrite {
				log.Debug("already completed, skipping",
					zap.String("process", process),
					zap.String("table", table))
				continue
			}
			log.Warn("already completed, forcing re-run",
				zap.String("process", process),
				zap.String("table", table))
		}

		b, err := r.Setup(ctx, st, table)
		if err != nil {
			if eris.Is(err, ErrSkip) {
				log.Warn("skipping table", zap.String("table", table), zap.Error(err))
				continue
			}
			log.Error("precondition failed", zap.String("table", table), zap.Error(err))
			failed = append(failed, table)
			lastErr = err
			continue
		}

		err = st.Transform(ctx, table, store.TransformOpts{
			ChunkSize:          opts.ChunkSize,
			JoinCatalogColumns: b.JoinColumns,
		}, b.Transform)
		if err != nil {
			log.Error("reduction failed", zap.String("table", table), zap.Error(err))
			failed = append(failed, table)
			lastErr = err
			continue
		}

		if err := st.MetaAdd(ctx, process, table); err != nil {
			return err
		}
		log.Info("reduction applied",
			zap.String("process", process),
			zap.String("table", table))
	}

	if len(failed) > 0 {
		return eris.Wrapf(lastErr, "reduce: %s failed for %s", r.Name(), strings.Join(failed, ", "))
	}
	return nil
}
