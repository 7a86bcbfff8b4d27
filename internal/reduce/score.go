package reduce

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// NameScore is the astrometric score reduction's plan name.
const NameScore = "score"

// ScoreSuffix names the output column and the ledger process per table:
// SIMBAD_MATCH scores land in SIMBAD_PSF_SCORE (wire contract).
const ScoreSuffix = "_PSF_SCORE"

// Exclusion spares extended sources from separation scoring: rows whose
// CATALOG column passes the comparison keep score 1 regardless of
// separation. The column must live on CATALOG only; it is consulted through
// a join and never persisted into the match table.
type Exclusion struct {
	Column    string  `yaml:"column"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

var operators = map[string]func(v, threshold float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

func operatorNames() []string {
	names := make([]string, 0, len(operators))
	for op := range operators {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// matches evaluates the exclusion against a joined catalog value.
// Unparseable values never match.
func (e *Exclusion) matches(row model.Row) bool {
	v, ok := model.Float(row[e.Column])
	if !ok {
		return false
	}
	return operators[e.Operator](v, e.Threshold)
}

// ScoreParams configures the astrometric score reduction.
type ScoreParams struct {
	// ScaleArcmin is the instrument's characteristic PSF scale.
	ScaleArcmin float64 `yaml:"scale_arcmin"`
	// Exclusion is optional; nil scores every row by separation.
	Exclusion *Exclusion `yaml:"exclusion,omitempty"`
}

// Score converts SEPARATION into a match-confidence score with a Gaussian
// point-spread weighting: score = exp(-0.5*(SEPARATION/scale)^2). Excluded
// rows score 1. Must run after the separation reduction.
type Score struct {
	params ScoreParams
}

// NewScore validates the parameters and builds the score reduction.
func NewScore(params ScoreParams) (*Score, error) {
	if params.ScaleArcmin <= 0 {
		return nil, eris.New("reduce: score scale must be > 0 arcmin")
	}
	if ex := params.Exclusion; ex != nil {
		if ex.Column == "" {
			return nil, eris.New("reduce: exclusion column must be set")
		}
		if _, ok := operators[ex.Operator]; !ok {
			return nil, eris.Errorf("reduce: unknown exclusion operator %q (want one of %s)",
				ex.Operator, strings.Join(operatorNames(), " "))
		}
	}
	return &Score{params: params}, nil
}

func (*Score) Name() string { return NameScore }

// Process returns the per-table ledger process, which doubles as the output
// column name.
func (*Score) Process(table string) string {
	return strings.TrimSuffix(table, model.MatchTableSuffix) + ScoreSuffix
}

// Setup requires SEPARATION on the table and, when an exclusion is
// configured, the exclusion column on CATALOG but not on the match table.
func (s *Score) Setup(ctx context.Context, st *store.Store, table string) (*Binding, error) {
	cols, err := st.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	if !present[model.ColSeparation] {
		return nil, eris.Wrapf(store.ErrMissingColumn,
			"reduce: %s has no %s column, run the separation reduction first",
			table, model.ColSeparation)
	}

	ex := s.params.Exclusion
	var join []string
	if ex != nil {
		if present[ex.Column] {
			return nil, eris.Errorf(
				"reduce: %s has its own %s column, exclusion must reference a CATALOG-only column",
				table, ex.Column)
		}
		catCols, err := st.Columns(ctx, store.CatalogTable)
		if err != nil {
			return nil, err
		}
		found := false
		for _, c := range catCols {
			if c == ex.Column {
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Wrapf(store.ErrMissingColumn,
				"reduce: exclusion column %s not in %s", ex.Column, store.CatalogTable)
		}
		join = []string{ex.Column}
	}

	scoreCol := s.Process(table)
	scale := s.params.ScaleArcmin
	return &Binding{
		JoinColumns: join,
		Transform: func(chunk *model.Table) (*model.Table, error) {
			chunk.EnsureColumn(scoreCol)
			for _, row := range chunk.Rows {
				if ex != nil && ex.matches(row) {
					row[scoreCol] = 1.0
					continue
				}
				r := floatOrNaN(row[model.ColSeparation]) / scale
				row[scoreCol] = math.Exp(-0.5 * r * r)
			}
			if ex != nil {
				chunk.DropColumn(ex.Column)
			}
			return chunk, nil
		},
	}, nil
}

// Run applies the reduction across tables.
func (s *Score) Run(ctx context.Context, st *store.Store, tables []string, opts Opts) error {
	return runTables(ctx, st, tables, opts, s)
}
