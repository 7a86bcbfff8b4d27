package atlas

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vela-astro/xmatch-cli/internal/astro"
	"github.com/vela-astro/xmatch-cli/internal/match"
	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// Pseudo-types for rows that carry no usable object type.
const (
	// TypeAll buckets every source when the database schema declares no
	// type column.
	TypeAll = "ALL"
	// TypeUnknown buckets sources whose type value is empty.
	TypeUnknown = "UNKNOWN"
)

// SampleOpts tunes the random sampling pool. Zero values take the same
// defaults as the match engine.
type SampleOpts struct {
	Workers      int
	ChunkSize    int
	RateLimit    float64
	RateBurst    int
	RadiusArcmin float64
	// Seed fixes the random position sequence; zero draws from the clock.
	Seed int64
}

// SampleStats summarizes one sampling run.
type SampleStats struct {
	Queried int64 `json:"queried"` // positions successfully queried
	Failed  int64 `json:"failed"`  // positions dropped after a query failure
	Samples int64 `json:"samples"` // count samples appended
}

// RandomSample draws positions uniformly over the sphere, counts sources of
// each object type within the aperture via the matcher, and appends the
// counts to the atlas. Per-position query failures are logged and dropped;
// append failures abort the run.
func (a *Atlas) RandomSample(ctx context.Context, m match.Matcher, n int, opts SampleOpts) (SampleStats, error) {
	if n <= 0 {
		return SampleStats{}, eris.Errorf("atlas: sample count must be > 0, got %d", n)
	}
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
	if opts.RadiusArcmin <= 0 {
		opts.RadiusArcmin = match.DefaultRadiusArcmin
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	log := zap.L().With(
		zap.String("component", "atlas.sample"),
		zap.String("database", m.Name()),
	)
	log.Info("starting random sample",
		zap.Int("positions", n),
		zap.Float64("radius_arcmin", opts.RadiusArcmin),
		zap.Int("workers", opts.Workers),
	)

	rng := rand.New(rand.NewSource(seed))
	positions := make([]model.Position, n)
	for i := range positions {
		positions[i] = astro.RandomPosition(rng)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	var queried, failed, appended atomic.Int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for start := 0; start < n; start += opts.ChunkSize {
		end := start + opts.ChunkSize
		if end > n {
			end = n
		}
		batch := positions[start:end]

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			samples := make([]CountSample, 0, len(batch))
			for _, pos := range batch {
				if err := limiter.Wait(gctx); err != nil {
					return eris.Wrap(err, "atlas: rate limiter wait")
				}

				res, err := m.QueryRadius(gctx, pos, opts.RadiusArcmin)
				if err != nil {
					if eris.Is(err, match.ErrServiceUnavailable) {
						log.Warn("service unavailable, dropping position",
							zap.Float64("ra", pos.RA), zap.Float64("dec", pos.Dec), zap.Error(err))
					} else {
						log.Error("query failed, dropping position",
							zap.Float64("ra", pos.RA), zap.Float64("dec", pos.Dec), zap.Error(err))
					}
					failed.Add(1)
					continue
				}
				queried.Add(1)
				samples = append(samples, CountSample{
					Position:     pos,
					RadiusArcmin: opts.RadiusArcmin,
					Time:         time.Now().UTC(),
					Counts:       countTypes(res, m.Schema()),
				})
			}

			if len(samples) == 0 {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if err := a.AddSamples(gctx, samples); err != nil {
				return eris.Wrap(err, "atlas: append samples")
			}
			appended.Add(int64(len(samples)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return SampleStats{}, err
	}

	stats := SampleStats{
		Queried: queried.Load(),
		Failed:  failed.Load(),
		Samples: appended.Load(),
	}
	log.Info("random sample complete",
		zap.Int64("queried", stats.Queried),
		zap.Int64("failed", stats.Failed),
		zap.Int64("samples", stats.Samples),
	)
	return stats, nil
}

// countTypes tallies query results per canonical object type. Composite
// types count once for each component.
func countTypes(res *model.Table, sch *schema.Schema) map[string]float64 {
	counts := make(map[string]float64)
	typeCol := sch.Columns.Type
	for _, row := range res.Rows {
		if typeCol == "" {
			counts[TypeAll]++
			continue
		}
		canon := sch.CanonicalType(model.String(row[typeCol]))
		if canon == "" {
			counts[TypeUnknown]++
			continue
		}
		for _, t := range strings.Split(strings.Trim(canon, "|"), "|") {
			if t != "" {
				counts[t]++
			}
		}
	}
	return counts
}
