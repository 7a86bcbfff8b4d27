package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

// TransformFunc rewrites one chunk of a table. It must be chunk-local: no
// assumptions about other chunks' visibility.
type TransformFunc func(chunk *model.Table) (*model.Table, error)

// TransformOpts configures a chunked table rewrite.
type TransformOpts struct {
	// ChunkSize bounds peak memory. Zero means the default window.
	ChunkSize int64
	// JoinCatalogColumns are CATALOG columns joined into each chunk via
	// CATALOG_OBJECT, visible to the transform but owned by CATALOG.
	JoinCatalogColumns []string
}

// DefaultChunkSize is the reduction window when none is configured.
const DefaultChunkSize = 10000

// Transform rewrites a table through fn in bounded-memory windows: each
// chunk is read, transformed, and appended to <table>_TMP; once every chunk
// has landed, the original is dropped and _TMP renamed into its place in a
// single transaction. Any failure before the swap leaves the original table
// untouched and still queryable (a partially populated _TMP may remain and
// is cleared by the next attempt).
func (s *Store) Transform(ctx context.Context, table string, opts TransformOpts, fn TransformFunc) error {
	if err := validIdent(table); err != nil {
		return err
	}
	exists, err := s.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return eris.Wrapf(ErrTableNotFound, "store: transform %s", table)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	tmp := table + tmpSuffix
	if err := s.DropTable(ctx, tmp); err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("component", "store.transform"),
		zap.String("table", table),
	)

	var chunks, rowsOut int64
	created := false
	for offset := int64(0); ; offset += chunkSize {
		chunk, err := s.readTransformChunk(ctx, table, opts.JoinCatalogColumns, offset, chunkSize)
		if err != nil {
			return err
		}
		if chunk.Len() == 0 && created {
			break
		}

		out, err := fn(chunk)
		if err != nil {
			return eris.Wrapf(err, "store: transform %s chunk at offset %d", table, offset)
		}

		if !created {
			// First chunk fixes the output shape, even for an empty table.
			if err := s.CreateTable(ctx, tmp, out, ""); err != nil {
				return err
			}
			created = true
		}
		if out.Len() > 0 {
			if err := s.AppendRows(ctx, tmp, out); err != nil {
				return err
			}
		}

		chunks++
		rowsOut += int64(out.Len())
		if int64(chunk.Len()) < chunkSize {
			break
		}
	}

	if err := s.swap(ctx, table, tmp); err != nil {
		return err
	}

	log.Debug("table rewritten",
		zap.Int64("chunks", chunks),
		zap.Int64("rows", rowsOut),
	)
	return nil
}

// readTransformChunk reads one window, optionally joining CATALOG columns in
// by CATALOG_OBJECT so transforms can consult catalog-level flags without
// loading the whole catalog.
func (s *Store) readTransformChunk(ctx context.Context, table string, joinCols []string, offset, limit int64) (*model.Table, error) {
	if len(joinCols) == 0 {
		return s.ReadChunk(ctx, table, offset, limit)
	}

	sel := make([]string, 0, len(joinCols)+1)
	sel = append(sel, quoteIdent(table)+".*")
	for _, c := range joinCols {
		if err := validIdent(c); err != nil {
			return nil, err
		}
		sel = append(sel, quoteIdent(CatalogTable)+"."+quoteIdent(c))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s INNER JOIN %s USING (%s) LIMIT ? OFFSET ?`,
		strings.Join(sel, ", "),
		quoteIdent(table),
		quoteIdent(CatalogTable),
		quoteIdent(model.ColCatalogObject),
	)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read joined chunk of %s", table)
	}
	defer rows.Close()
	return collectRows(rows)
}

// swap atomically publishes the staging table over the original.
func (s *Store) swap(ctx context.Context, table, tmp string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "store: begin swap of %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DROP TABLE `+quoteIdent(table)); err != nil {
		return eris.Wrapf(err, "store: swap drop %s", table)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(tmp), quoteIdent(table)),
	); err != nil {
		return eris.Wrapf(err, "store: swap rename %s", tmp)
	}
	return eris.Wrapf(tx.Commit(), "store: commit swap of %s", table)
}
