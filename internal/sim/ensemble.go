package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ensemble runs independent closed loops from several initial states in
// parallel. Every run gets its own Loop and metrics; the solver and
// integrators are shared.
type Ensemble struct {
	Plant      dynamo.System
	Integrator dynamo.Integrator
	Solver     nlp.Solver
	Dt         float64
	// Metrics returns fresh metric instances for one run. May be nil.
	Metrics func() []dynamo.Metric
	// Workers bounds concurrency; zero means one goroutine per run.
	Workers int
	Logger  *zap.Logger
}

// Run returns one result per initial state, in order. The first failing
// run cancels the others.
func (e *Ensemble) Run(ctx context.Context, x0s []dynamo.State, nsim int) ([]*Result, error) {
	results := make([]*Result, len(x0s))
	g, ctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}

	for i, x0 := range x0s {
		g.Go(func() error {
			loop := NewLoop(e.Plant, e.Integrator, e.Solver, e.Dt)
			if e.Logger != nil {
				loop.SetLogger(e.Logger.With(zap.Int("run", i)))
			}
			if e.Metrics != nil {
				for _, m := range e.Metrics() {
					loop.AddMetric(m)
				}
			}
			res, err := loop.Run(ctx, x0, nsim)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
