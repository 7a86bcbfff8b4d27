package match

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
	"github.com/vela-astro/xmatch-cli/internal/store"
)

// DefaultRadiusArcmin is the cone search radius when none is configured.
const DefaultRadiusArcmin = 1.0

// EngineOpts tunes the ingestion pool.
type EngineOpts struct {
	// Workers bounds the number of concurrent query workers.
	Workers int
	// ChunkSize is the number of catalog rows per worker batch.
	ChunkSize int
	// RateLimit caps queries per second across the whole pool.
	RateLimit float64
	// RateBurst is the limiter burst size.
	RateBurst int
}

// Stats summarizes one ingestion run.
type Stats struct {
	Queried int64 `json:"queried"` // catalog rows successfully queried
	Failed  int64 `json:"failed"`  // catalog rows dropped after a query failure
	Rows    int64 `json:"rows"`    // match rows appended
}

// Engine fans catalog rows out to a Matcher and funnels results into the
// store. Workers accumulate their batch locally and perform one serialized
// append, so the store never sees interleaved partial writes.
type Engine struct {
	store   *store.Store
	workers int
	chunk   int
	limiter *rate.Limiter

	mu sync.Mutex // guards match-table appends
}

// NewEngine builds an ingestion engine over the given store.
func NewEngine(st *store.Store, opts EngineOpts) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	return &Engine{
		store:   st,
		workers: opts.Workers,
		chunk:   opts.ChunkSize,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
	}
}

// SourceMatch queries the matcher around every catalog row and appends the
// tagged results to <db>_MATCH. Per-row query failures are logged and
// dropped; store write failures abort the run. Repeated runs append, they do
// not deduplicate.
func (e *Engine) SourceMatch(ctx context.Context, m Matcher, catalogSchema *schema.Schema, radiusArcmin float64) (Stats, error) {
	if radiusArcmin <= 0 {
		radiusArcmin = DefaultRadiusArcmin
	}

	ok, err := e.store.HasTable(ctx, store.CatalogTable)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, eris.Wrap(store.ErrTableNotFound, "match: no catalog ingested")
	}

	matchTable := m.Name() + model.MatchTableSuffix
	log := zap.L().With(
		zap.String("component", "match.engine"),
		zap.String("database", m.Name()),
	)
	log.Info("starting source match",
		zap.Float64("radius_arcmin", radiusArcmin),
		zap.Int("workers", e.workers),
	)

	var queried, failed, written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for offset := int64(0); ; offset += int64(e.chunk) {
		chunk, err := e.store.ReadChunk(ctx, store.CatalogTable, offset, int64(e.chunk))
		if err != nil {
			return Stats{}, err
		}
		if chunk.Len() == 0 {
			break
		}
		rows := chunk.Rows

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			out := model.NewTable(taggedColumns(m.Schema())...)
			for _, row := range rows {
				obj := row[model.ColCatalogObject]
				pos := catalogSchema.PositionICRS(row)
				if math.IsNaN(pos.RA) || math.IsNaN(pos.Dec) {
					log.Warn("catalog row has no usable position", zap.Any("object", obj))
					failed.Add(1)
					continue
				}

				if err := e.limiter.Wait(gctx); err != nil {
					return eris.Wrap(err, "match: rate limiter wait")
				}

				res, err := m.QueryRadius(gctx, pos, radiusArcmin)
				if err != nil {
					if eris.Is(err, ErrServiceUnavailable) {
						log.Warn("service unavailable, dropping row",
							zap.Any("object", obj), zap.Error(err))
					} else {
						log.Error("query failed, dropping row",
							zap.Any("object", obj), zap.Error(err))
					}
					failed.Add(1)
					continue
				}
				queried.Add(1)
				tagMatches(out, res, m.Schema(), obj, pos)
			}

			if out.Len() == 0 {
				return nil
			}

			e.mu.Lock()
			defer e.mu.Unlock()
			if err := e.store.AppendRows(gctx, matchTable, out); err != nil {
				return eris.Wrapf(err, "match: append to %s", matchTable)
			}
			written.Add(int64(out.Len()))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Queried: queried.Load(),
		Failed:  failed.Load(),
		Rows:    written.Load(),
	}
	log.Info("source match complete",
		zap.Int64("queried", stats.Queried),
		zap.Int64("failed", stats.Failed),
		zap.Int64("rows", stats.Rows),
	)
	return stats, nil
}

// taggedColumns is the match-table projection: catalog tags first, then the
// database's native position, name, and type columns.
func taggedColumns(sch *schema.Schema) []string {
	lon, lat := sch.PositionColumns()
	cols := []string{
		model.ColCatalogObject,
		model.ColCatalogRA,
		model.ColCatalogDec,
		lon, lat,
		sch.Columns.Name,
	}
	if sch.Columns.Type != "" {
		cols = append(cols, sch.Columns.Type)
	}
	return cols
}

// tagMatches projects query results onto the match-table columns, stamping
// each row with the catalog object and its ICRS position.
func tagMatches(out *model.Table, res *model.Table, sch *schema.Schema, obj any, pos model.Position) {
	for _, r := range res.Rows {
		tagged := model.Row{
			model.ColCatalogObject: obj,
			model.ColCatalogRA:     pos.RA,
			model.ColCatalogDec:    pos.Dec,
		}
		for _, c := range out.Columns[3:] {
			tagged[c] = r[c]
		}
		out.Append(tagged)
	}
}
