package pipeline

import (
	"context"
	"errors"

	"github.com/salesqa/salesqa/internal/logging"
)

// Runner serializes pipeline runs through a limiter and keeps their
// results. The web API and the scheduler share one Runner.
type Runner struct {
	pipeline *Pipeline
	limiter  *RunLimiter
	store    *Store
}

// NewRunner combines a pipeline with a limiter and a result store.
func NewRunner(p *Pipeline, l *RunLimiter, s *Store) *Runner {
	if l == nil {
		l = NewRunLimiter(DefaultMaxConcurrentRuns, DefaultMaxWait)
	}
	if s == nil {
		s = NewStore(DefaultHistory)
	}
	return &Runner{pipeline: p, limiter: l, store: s}
}

// Run waits for a slot, runs the pipeline and stores the result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ErrTooManyRuns) {
			if m := r.pipeline.opts.Metrics; m != nil {
				m.ObserveRejectedRun()
			}
			logging.FromContext(ctx).Warn("pipeline run rejected", "active", r.limiter.ActiveCount())
		}
		return nil, err
	}
	defer r.limiter.Release()

	res, err := r.pipeline.Run(ctx)
	if err != nil {
		return nil, err
	}
	r.store.Add(res)
	return res, nil
}

func (r *Runner) Pipeline() *Pipeline  { return r.pipeline }
func (r *Runner) Store() *Store        { return r.store }
func (r *Runner) Limiter() *RunLimiter { return r.limiter }
