// Package store implements the cross-match store: a single SQLite file
// holding the CATALOG table, one <DB>_MATCH table per reference database,
// and the META ledger that records which processes already ran against
// which tables.
package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

// Table-role names forming the on-disk wire contract.
const (
	CatalogTable = "CATALOG"
	MetaTable    = "META"
	tmpSuffix    = "_TMP"
)

// Ledger process names shared with external consumers of the store file.
const (
	ProcessCatalogIncluded = "CATALOG_INCLUDED"
	ProcessCorrectCoords   = "CORRECT_COORDINATE_COLUMNS"
	ProcessCorrectColumns  = "CORRECT_COLUMN_NAMES"
	ProcessCorrectTypes    = "CORRECT_OBJECT_TYPES"

	// MetaAllTables marks ledger entries that apply to the store as a
	// whole rather than to one table.
	MetaAllTables = "all"
)

// Sentinel errors callers branch on with eris.Is.
var (
	ErrTableExists   = eris.New("table already exists")
	ErrTableNotFound = eris.New("table not found")
	ErrMissingColumn = eris.New("required column missing")
)

// Store is a handle to one cross-match store file. All methods are safe for
// use from multiple goroutines; concurrent match workers serialize their
// appends through the engine's write lock.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a store file and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const storeMigration = `
CREATE TABLE IF NOT EXISTS META (
	PROCESS  TEXT NOT NULL,
	"TABLE"  TEXT NOT NULL,
	DATE_RUN DATETIME NOT NULL DEFAULT (datetime('now')),
	RUN_ID   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meta_process_table ON META(PROCESS, "TABLE");
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(storeMigration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read-only status endpoints and tests.
func (s *Store) DB() *sql.DB { return s.db }

// validIdent rejects table/column names that cannot be safely quoted.
// Schema documents and reference databases supply these names, so they are
// data, not code.
func validIdent(name string) error {
	if name == "" {
		return eris.New("store: empty identifier")
	}
	if strings.ContainsAny(name, "\"`;\x00\n\r") {
		return eris.Errorf("store: unsafe identifier %q", name)
	}
	return nil
}

// quoteIdent double-quotes an identifier for embedding in SQL.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// HasTable reports whether a table exists.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "store: check table %s", name)
	}
	return n > 0, nil
}

// Tables lists all user tables in the store, alphabetically.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "store: scan table name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "store: iterate tables")
}

// MatchTables lists the per-reference-database match tables.
func (s *Store) MatchTables(ctx context.Context) ([]string, error) {
	all, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range all {
		if strings.HasSuffix(n, model.MatchTableSuffix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Columns returns a table's declared column names in order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "store: columns of %s", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "store: scan column name")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "store: iterate columns of %s", table)
	}
	if len(cols) == 0 {
		return nil, eris.Wrapf(ErrTableNotFound, "store: %s", table)
	}
	return cols, nil
}

// RowCount returns the number of rows in a table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "store: count rows of %s", table)
	}
	return n, nil
}

// DropTable removes a table. Dropping a missing table is not an error.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(table))
	return eris.Wrapf(err, "store: drop table %s", table)
}

// Query runs a read-only query and returns the full result. Only SELECT and
// WITH statements are accepted; everything else must go through the typed
// store operations.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*model.Table, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(q, "SELECT") && !strings.HasPrefix(q, "WITH") {
		return nil, eris.New("store: only read-only queries allowed")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query")
	}
	defer rows.Close()
	return collectRows(rows)
}
