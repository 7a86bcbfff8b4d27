// Package atlas persists per-pixel sky density estimates for one reference
// database: a HEALPix grid description, a table of randomly sampled source
// counts, and zero or more named density maps built from those samples. The
// container is a standalone SQLite file so atlases travel independently of
// the match store.
package atlas

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/grid"
	"github.com/vela-astro/xmatch-cli/internal/model"
)

const (
	headerTable = "HEADER"
	countsTable = "COUNTS"
	mapsTable   = "MAPS"
)

// Fixed COUNTS columns; every other column is an object-type count.
var countsBaseColumns = map[string]bool{
	"RA":   true,
	"DEC":  true,
	"RAD":  true,
	"TIME": true,
}

// Sentinel errors callers branch on with eris.Is.
var (
	ErrMapExists   = eris.New("atlas: map already exists")
	ErrMapNotFound = eris.New("atlas: map not found")
	ErrHasMaps     = eris.New("atlas: maps exist")
)

// Atlas is a handle to one atlas file. Writes are not internally
// synchronized; concurrent samplers funnel appends through one lock the way
// the match engine does.
type Atlas struct {
	db   *sql.DB
	path string
	grid *grid.Grid
	res  float64 // header resolution, degrees
	csys astro.Frame
	name string // reference database this atlas describes
}

// CountSample is one random aperture count: where the aperture was placed,
// its radius in arc-minutes, when it was queried, and how many sources of
// each object type it contained.
type CountSample struct {
	Position     model.Position
	RadiusArcmin float64
	Time         time.Time
	Counts       map[string]float64
}

// MapRecord is one named density map with its provenance tags.
type MapRecord struct {
	Name       string
	ObjectType string
	Method     string
	Created    time.Time
	Values     []float64
}

const atlasMigration = `
CREATE TABLE IF NOT EXISTS HEADER (
	NSIDE  INTEGER NOT NULL,
	NPIX   INTEGER NOT NULL,
	CSYS   TEXT NOT NULL,
	CDATE  DATETIME NOT NULL,
	EDATE  DATETIME NOT NULL,
	RES    REAL NOT NULL,
	DBNAME TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS COUNTS (
	RA   REAL NOT NULL,
	DEC  REAL NOT NULL,
	RAD  REAL NOT NULL,
	TIME DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS MAPS (
	NAME        TEXT PRIMARY KEY,
	OBJECT_TYPE TEXT NOT NULL,
	METHOD      TEXT NOT NULL,
	CREATED     DATETIME NOT NULL,
	NPIX        INTEGER NOT NULL,
	DATA        BLOB NOT NULL
);
`

// Create generates a blank atlas for a reference database at the given grid
// resolution in degrees. An existing file is an error unless overwrite, in
// which case it is replaced wholesale.
func Create(path string, resolutionDeg float64, database string, overwrite bool) (*Atlas, error) {
	g, err := grid.New(resolutionDeg)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, eris.Errorf("atlas: %s already exists", path)
		}
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, eris.Wrapf(err, "atlas: remove %s", p)
			}
		}
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(atlasMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "atlas: migrate")
	}
	now := time.Now().UTC()
	_, err = db.Exec(
		`INSERT INTO HEADER (NSIDE, NPIX, CSYS, CDATE, EDATE, RES, DBNAME) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.Nside(), g.Npix(), string(astro.FrameICRS), now, now, resolutionDeg, database,
	)
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "atlas: write header")
	}

	zap.L().Info("atlas created",
		zap.String("component", "atlas"),
		zap.String("path", path),
		zap.String("database", database),
		zap.Int64("nside", g.Nside()),
		zap.Int64("npix", g.Npix()))

	return &Atlas{db: db, path: path, grid: g, res: resolutionDeg, csys: astro.FrameICRS, name: database}, nil
}

// Open opens an existing atlas file and reads its header.
func Open(path string) (*Atlas, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "atlas: open %s", path)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	a := &Atlas{db: db, path: path}
	var nside, npix int64
	var csys string
	err = db.QueryRow(`SELECT NSIDE, NPIX, CSYS, RES, DBNAME FROM HEADER`).
		Scan(&nside, &npix, &csys, &a.res, &a.name)
	if err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "atlas: %s is not an atlas file", path)
	}
	g, err := grid.FromNside(nside)
	if err != nil {
		db.Close()
		return nil, err
	}
	if g.Npix() != npix {
		db.Close()
		return nil, eris.Errorf("atlas: header NPIX %d does not match NSIDE %d", npix, nside)
	}
	a.grid = g
	a.csys = astro.Frame(csys)
	return a, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "atlas: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "atlas: exec %s", pragma)
		}
	}
	return db, nil
}

// Close closes the underlying database.
func (a *Atlas) Close() error { return a.db.Close() }

// Grid returns the atlas pixelization.
func (a *Atlas) Grid() *grid.Grid { return a.grid }

// Database returns the reference database name this atlas describes.
func (a *Atlas) Database() string { return a.name }

// Resolution returns the grid resolution recorded in the header, degrees.
func (a *Atlas) Resolution() float64 { return a.res }

// Path returns the file path.
func (a *Atlas) Path() string { return a.path }

func (a *Atlas) touchEdit() error {
	_, err := a.db.Exec(`UPDATE HEADER SET EDATE = ?`, time.Now().UTC())
	return eris.Wrap(err, "atlas: update edit date")
}

func validIdent(name string) error {
	if name == "" {
		return eris.New("atlas: empty identifier")
	}
	if strings.ContainsAny(name, "\"`;\x00\n\r") {
		return eris.Errorf("atlas: unsafe identifier %q", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// --- Count samples ---

// TypeColumns returns the object types with a count column, sorted.
func (a *Atlas) TypeColumns(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, countsTable)
	if err != nil {
		return nil, eris.Wrap(err, "atlas: counts columns")
	}
	defer rows.Close() //nolint:errcheck

	var types []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "atlas: scan column")
		}
		if !countsBaseColumns[name] {
			types = append(types, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "atlas: counts columns")
	}
	sort.Strings(types)
	return types, nil
}

// SampleCount returns the number of stored count samples.
func (a *Atlas) SampleCount(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM COUNTS`).Scan(&n)
	return n, eris.Wrap(err, "atlas: sample count")
}

// AddSamples appends count samples, widening COUNTS with a column for every
// object type not seen before. Missing types in a sample count as zero.
func (a *Atlas) AddSamples(ctx context.Context, samples []CountSample) error {
	if len(samples) == 0 {
		return nil
	}

	existing, err := a.TypeColumns(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	var added []string
	for _, s := range samples {
		for t := range s.Counts {
			if have[t] {
				continue
			}
			if err := validIdent(t); err != nil {
				return err
			}
			have[t] = true
			added = append(added, t)
		}
	}
	sort.Strings(added)
	for _, t := range added {
		stmt := `ALTER TABLE COUNTS ADD COLUMN ` + quoteIdent(t) + ` REAL`
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "atlas: add type column %s", t)
		}
	}

	types := make([]string, 0, len(have))
	for t := range have {
		types = append(types, t)
	}
	sort.Strings(types)

	cols := []string{"RA", "DEC", "RAD", "TIME"}
	for _, t := range types {
		cols = append(cols, quoteIdent(t))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "atlas: begin append")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO COUNTS (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return eris.Wrap(err, "atlas: prepare append")
	}
	defer stmt.Close() //nolint:errcheck

	for _, s := range samples {
		when := s.Time
		if when.IsZero() {
			when = time.Now().UTC()
		}
		args := []any{s.Position.RA, s.Position.Dec, s.RadiusArcmin, when}
		for _, t := range types {
			args = append(args, s.Counts[t])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrap(err, "atlas: append sample")
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "atlas: commit append")
	}
	return a.touchEdit()
}

// SamplesFor reads every count sample for one object type: positions,
// counts, and aperture solid angles in steradian. A type with no column
// yields counts of zero for every sample.
func (a *Atlas) SamplesFor(ctx context.Context, objectType string) ([]model.Position, []float64, []float64, error) {
	if err := validIdent(objectType); err != nil {
		return nil, nil, nil, err
	}
	types, err := a.TypeColumns(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	hasType := false
	for _, t := range types {
		if t == objectType {
			hasType = true
			break
		}
	}

	query := `SELECT RA, DEC, RAD FROM COUNTS`
	if hasType {
		query = `SELECT RA, DEC, RAD, ` + quoteIdent(objectType) + ` FROM COUNTS`
	}
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "atlas: read samples")
	}
	defer rows.Close() //nolint:errcheck

	var positions []model.Position
	var counts, areas []float64
	for rows.Next() {
		var ra, dec, rad float64
		var count sql.NullFloat64
		if hasType {
			err = rows.Scan(&ra, &dec, &rad, &count)
		} else {
			err = rows.Scan(&ra, &dec, &rad)
		}
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "atlas: scan sample")
		}
		positions = append(positions, model.Position{RA: ra, Dec: dec})
		counts = append(counts, count.Float64)
		areas = append(areas, astro.ConeSolidAngle(rad))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, eris.Wrap(err, "atlas: read samples")
	}
	return positions, counts, areas, nil
}

// --- Density maps ---

// MapNames returns the stored map names, sorted.
func (a *Atlas) MapNames(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT NAME FROM MAPS ORDER BY NAME`)
	if err != nil {
		return nil, eris.Wrap(err, "atlas: map names")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "atlas: scan map name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "atlas: map names")
}

// HasMaps reports whether any density map is stored.
func (a *Atlas) HasMaps(ctx context.Context) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM MAPS`).Scan(&n)
	return n > 0, eris.Wrap(err, "atlas: count maps")
}

// WriteMap stores a named density map. The value slice must match the grid
// pixel count. An existing name is ErrMapExists unless overwrite.
func (a *Atlas) WriteMap(ctx context.Context, name, objectType, method string, values []float64, overwrite bool) error {
	if int64(len(values)) != a.grid.Npix() {
		return eris.Errorf("atlas: map %s has %d values for %d pixels", name, len(values), a.grid.Npix())
	}
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM MAPS WHERE NAME = ?`, name).Scan(&n); err != nil {
		return eris.Wrap(err, "atlas: check map")
	}
	if n > 0 && !overwrite {
		return eris.Wrapf(ErrMapExists, "atlas: map %s", name)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "atlas: begin write map")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM MAPS WHERE NAME = ?`, name); err != nil {
		return eris.Wrap(err, "atlas: replace map")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO MAPS (NAME, OBJECT_TYPE, METHOD, CREATED, NPIX, DATA) VALUES (?, ?, ?, ?, ?, ?)`,
		name, objectType, method, time.Now().UTC(), len(values), encodeValues(values),
	)
	if err != nil {
		return eris.Wrap(err, "atlas: insert map")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "atlas: commit map")
	}
	return a.touchEdit()
}

// ReadMap loads a stored density map.
func (a *Atlas) ReadMap(ctx context.Context, name string) (*MapRecord, error) {
	rec := &MapRecord{Name: name}
	var npix int64
	var data []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT OBJECT_TYPE, METHOD, CREATED, NPIX, DATA FROM MAPS WHERE NAME = ?`, name).
		Scan(&rec.ObjectType, &rec.Method, &rec.Created, &npix, &data)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrMapNotFound, "atlas: map %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "atlas: read map %s", name)
	}
	values, err := decodeValues(data)
	if err != nil {
		return nil, eris.Wrapf(err, "atlas: map %s", name)
	}
	if int64(len(values)) != npix || npix != a.grid.Npix() {
		return nil, eris.Errorf("atlas: map %s has %d values for %d pixels", name, len(values), a.grid.Npix())
	}
	rec.Values = values
	return rec, nil
}

// DeleteMap removes a stored map by name.
func (a *Atlas) DeleteMap(ctx context.Context, name string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM MAPS WHERE NAME = ?`, name)
	if err != nil {
		return eris.Wrapf(err, "atlas: delete map %s", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eris.Wrapf(ErrMapNotFound, "atlas: map %s", name)
	}
	return a.touchEdit()
}

// Reshape re-pixelates the atlas to a new resolution. Stored maps are tied
// to the old pixel count, so reshaping refuses while maps exist unless
// force, which deletes them.
func (a *Atlas) Reshape(ctx context.Context, resolutionDeg float64, force bool) error {
	names, err := a.MapNames(ctx)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		if !force {
			return eris.Wrapf(ErrHasMaps, "atlas: %d maps would be deleted, pass force to proceed", len(names))
		}
		zap.L().Warn("deleting maps to reshape grid",
			zap.String("component", "atlas"),
			zap.String("path", a.path),
			zap.Int("maps", len(names)))
		if _, err := a.db.ExecContext(ctx, `DELETE FROM MAPS`); err != nil {
			return eris.Wrap(err, "atlas: delete maps")
		}
	}

	g, err := grid.New(resolutionDeg)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`UPDATE HEADER SET NSIDE = ?, NPIX = ?, RES = ?, EDATE = ?`,
		g.Nside(), g.Npix(), resolutionDeg, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "atlas: update header")
	}
	a.grid = g
	a.res = resolutionDeg
	return nil
}

// --- Blob codec ---

func encodeValues(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeValues(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, eris.Errorf("atlas: map blob length %d is not a multiple of 8", len(data))
	}
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return values, nil
}
