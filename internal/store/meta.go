package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MetaEntry is one row of the META ledger.
type MetaEntry struct {
	Process string    `json:"process"`
	Table   string    `json:"table"`
	DateRun time.Time `json:"date_run"`
	RunID   string    `json:"run_id"`
}

// MetaAdd appends a (process, table) completion row to the ledger. The
// ledger is append-only: duplicates are allowed and presence is the only
// signal consumers read.
func (s *Store) MetaAdd(ctx context.Context, process, table string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO META (PROCESS, "TABLE", DATE_RUN, RUN_ID) VALUES (?, ?, ?, ?)`,
		process, table, time.Now().UTC(), uuid.New().String(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: meta add %s/%s", process, table)
	}
	zap.L().Debug("meta recorded",
		zap.String("component", "store.meta"),
		zap.String("process", process),
		zap.String("table", table),
	)
	return nil
}

// CheckMeta reports whether the ledger holds any row for (process, table).
// This is the universal skip-vs-run precondition for idempotent processes.
func (s *Store) CheckMeta(ctx context.Context, process, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM META WHERE PROCESS = ? AND "TABLE" = ?`,
		process, table,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "store: meta check %s/%s", process, table)
	}
	return n > 0, nil
}

// MetaRemove deletes every ledger row matching (process, table).
func (s *Store) MetaRemove(ctx context.Context, process, table string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM META WHERE PROCESS = ? AND "TABLE" = ?`,
		process, table,
	)
	return eris.Wrapf(err, "store: meta remove %s/%s", process, table)
}

// MetaReset clears the entire ledger.
func (s *Store) MetaReset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM META`)
	return eris.Wrap(err, "store: meta reset")
}

// MetaList returns the full ledger, oldest first.
func (s *Store) MetaList(ctx context.Context) ([]MetaEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT PROCESS, "TABLE", DATE_RUN, RUN_ID FROM META ORDER BY DATE_RUN, RUN_ID`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: meta list")
	}
	defer rows.Close()

	var entries []MetaEntry
	for rows.Next() {
		var e MetaEntry
		if err := rows.Scan(&e.Process, &e.Table, &e.DateRun, &e.RunID); err != nil {
			return nil, eris.Wrap(err, "store: scan meta row")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "store: iterate meta rows")
}
