package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

// collectRows drains a result set into a Table, normalizing []byte text to
// string so row values compare cleanly.
func collectRows(rows *sql.Rows) (*model.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "store: result columns")
	}

	t := model.NewTable(cols...)
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "store: scan row")
		}
		r := make(model.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
			} else {
				r[c] = vals[i]
			}
		}
		t.Append(r)
	}
	return t, eris.Wrap(rows.Err(), "store: iterate rows")
}

// ReadChunk reads one window of a table in rowid order. The windowed read is
// what keeps reduction memory bounded by chunk size rather than table size.
func (s *Store) ReadChunk(ctx context.Context, table string, offset, limit int64) (*model.Table, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s LIMIT ? OFFSET ?`, quoteIdent(table)),
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read chunk of %s", table)
	}
	defer rows.Close()
	return collectRows(rows)
}

// sqlType infers a column's SQLite type from the first non-nil value.
func sqlType(t *model.Table, col string) string {
	for _, r := range t.Rows {
		switch r[col].(type) {
		case nil:
			continue
		case float64, float32:
			return "REAL"
		case int, int64:
			return "INTEGER"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

// CreateTable creates a table shaped like the given rows. primaryKey may be
// empty; when set, that column becomes the table's primary key.
func (s *Store) CreateTable(ctx context.Context, name string, t *model.Table, primaryKey string) error {
	if err := validIdent(name); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return eris.Errorf("store: create %s with no columns", name)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if err := validIdent(c); err != nil {
			return err
		}
		def := quoteIdent(c) + " " + sqlType(t, c)
		if c == primaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return eris.Wrapf(err, "store: create table %s", name)
	}
	return nil
}

// ensureColumns adds any columns the table is missing.
func (s *Store) ensureColumns(ctx context.Context, table string, t *model.Table) error {
	existing, err := s.Columns(ctx, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}
	for _, c := range t.Columns {
		if have[c] {
			continue
		}
		if err := validIdent(c); err != nil {
			return err
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`,
			quoteIdent(table), quoteIdent(c), sqlType(t, c))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "store: add column %s to %s", c, table)
		}
	}
	return nil
}

// AppendRows inserts all rows of t into the named table, creating it (or
// widening it) as needed. The insert runs in one transaction per call.
func (s *Store) AppendRows(ctx context.Context, table string, t *model.Table) error {
	if t.Len() == 0 {
		return nil
	}
	exists, err := s.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.CreateTable(ctx, table, t, ""); err != nil {
			return err
		}
	} else if err := s.ensureColumns(ctx, table, t); err != nil {
		return err
	}
	return s.insert(ctx, table, t)
}

func (s *Store) insert(ctx context.Context, table string, t *model.Table) error {
	quoted := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "store: begin insert into %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return eris.Wrapf(err, "store: prepare insert into %s", table)
	}
	defer prepared.Close()

	args := make([]any, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			args[i] = r[c]
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "store: insert into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "store: commit insert into %s", table)
}

// Checksum returns a row-order-independent digest of a table's contents,
// used to verify that idempotent re-runs did not touch the data.
func (s *Store) Checksum(ctx context.Context, table string) (uint64, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return 0, err
	}
	sorted := append([]string(nil), cols...)
	sort.Strings(sorted)

	var sum uint64
	const window = int64(10000)
	for offset := int64(0); ; offset += window {
		chunk, err := s.ReadChunk(ctx, table, offset, window)
		if err != nil {
			return 0, err
		}
		if chunk.Len() == 0 {
			break
		}
		for _, r := range chunk.Rows {
			h := fnv.New64a()
			for _, c := range sorted {
				fmt.Fprintf(h, "%s=%v;", c, r[c])
			}
			sum += h.Sum64()
		}
		if int64(chunk.Len()) < window {
			break
		}
	}
	return sum, nil
}
