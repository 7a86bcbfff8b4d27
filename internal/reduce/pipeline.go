package reduce

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/store"
)

// Step statuses recorded per pass.
const (
	StepComplete = "complete"
	StepFailed   = "failed"
)

// StepResult records one pass of a pipeline run.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Pipeline drives reduction passes across the store's match tables.
type Pipeline struct {
	store *store.Store
	reg   *Registry
}

// NewPipeline binds a store and a reduction registry.
func NewPipeline(st *store.Store, reg *Registry) *Pipeline {
	return &Pipeline{store: st, reg: reg}
}

// Run applies the plan: the selected passes in the registry's fixed order,
// across the plan's tables (every MATCH table when unset). A failed pass is
// recorded and the run continues; the returned error aggregates pass
// failures once every pass has had its chance.
func (p *Pipeline) Run(ctx context.Context, plan *Plan) ([]StepResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	selected, err := p.reg.Select(plan.Reductions)
	if err != nil {
		return nil, err
	}

	tables := plan.Tables
	if len(tables) == 0 {
		tables, err = p.store.MatchTables(ctx)
		if err != nil {
			return nil, err
		}
	}

	log := zap.L().With(zap.String("component", "reduce.pipeline"))
	if len(tables) == 0 {
		log.Warn("no match tables to reduce")
		return nil, nil
	}

	opts := Opts{Overwrite: plan.Overwrite, ChunkSize: plan.ChunkSize}
	results := make([]StepResult, 0, len(selected))
	var failed []string
	var lastErr error
	for _, r := range selected {
		start := time.Now()
		runErr := r.Run(ctx, p.store, tables, opts)
		res := StepResult{
			Name:       r.Name(),
			Status:     StepComplete,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if runErr != nil {
			res.Status = StepFailed
			res.Error = runErr.Error()
			failed = append(failed, r.Name())
			lastErr = runErr
			log.Error("pass failed",
				zap.String("reduction", r.Name()),
				zap.Int64("duration_ms", res.DurationMS),
				zap.Error(runErr))
		} else {
			log.Info("pass complete",
				zap.String("reduction", r.Name()),
				zap.Int64("duration_ms", res.DurationMS))
		}
		results = append(results, res)
	}

	if len(failed) > 0 {
		return results, eris.Wrapf(lastErr, "reduce: passes failed: %s", strings.Join(failed, ", "))
	}
	return results, nil
}
