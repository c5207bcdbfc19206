// Package optim tunes scenario parameters by exhaustive search over a grid.
package optim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/experiment"
	"golang.org/x/sync/errgroup"
)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Workers bounds the number of concurrent runs; zero means one.
	Workers int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, Workers: 1}
}

type SearchResult struct {
	Params    map[string]float64
	Value     float64
	Evaluated int
	// Failed counts grid points whose setup or run returned an error.
	Failed    int
	LastError error
}

// Search runs every grid point and returns the one with the smallest
// metricName. Failing points are counted and skipped; a cancelled ctx
// aborts the search.
func (g *GridSearch) Search(
	ctx context.Context,
	buildExperiment func(params map[string]float64) (*experiment.Experiment, error),
	metricName string,
) (*SearchResult, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("optim: %d parameters but %d ranges", len(g.paramNames), len(g.ranges))
	}

	var points []map[string]float64
	g.enumerate(0, make(map[string]float64), &points)

	res := &SearchResult{Value: math.Inf(1)}
	var mu sync.Mutex

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(max(g.Workers, 1))
	for _, params := range points {
		grp.Go(func() error {
			val, err := evaluate(ctx, buildExperiment, params, metricName)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			mu.Lock()
			defer mu.Unlock()
			res.Evaluated++
			if err != nil {
				res.Failed++
				res.LastError = err
				return nil
			}
			if val < res.Value {
				res.Value = val
				res.Params = params
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	if res.Params == nil {
		return res, fmt.Errorf("optim: no grid point succeeded: %w", res.LastError)
	}
	return res, nil
}

func evaluate(
	ctx context.Context,
	buildExperiment func(map[string]float64) (*experiment.Experiment, error),
	params map[string]float64,
	metricName string,
) (float64, error) {
	exp, err := buildExperiment(params)
	if err != nil {
		return 0, err
	}
	result, err := exp.Run(ctx)
	if err != nil {
		return 0, err
	}
	val, ok := result.Metrics[metricName]
	if !ok {
		return 0, fmt.Errorf("optim: run has no metric %q", metricName)
	}
	return val, nil
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, current)
		return
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		g.enumerate(depth+1, newParams, out)
	}
}

// ConfigBuilder returns a builder that applies the grid parameters to a
// copy of base and sets the experiment up. Parameter names are scale,
// scale_e, q<i>, r<i>, q_e<i>, n and tf.
func ConfigBuilder(base *config.Config) func(map[string]float64) (*experiment.Experiment, error) {
	return func(params map[string]float64) (*experiment.Experiment, error) {
		cfg := base.Clone()
		for name, val := range params {
			if err := Apply(cfg, name, val); err != nil {
				return nil, err
			}
		}
		exp := experiment.New(cfg)
		if err := exp.Setup(); err != nil {
			return nil, err
		}
		return exp, nil
	}
}

// Apply sets one named tuning parameter on cfg.
func Apply(cfg *config.Config, name string, val float64) error {
	switch name {
	case "scale":
		cfg.Cost.Scale = val
		return nil
	case "scale_e":
		cfg.Cost.ScaleE = val
		return nil
	case "n":
		cfg.Horizon.N = int(val)
		return nil
	case "tf":
		cfg.Horizon.Tf = val
		return nil
	}

	for _, p := range []struct {
		prefix string
		target []float64
	}{
		{"q_e", cfg.Cost.QE},
		{"q", cfg.Cost.Q},
		{"r", cfg.Cost.R},
	} {
		rest, ok := strings.CutPrefix(name, p.prefix)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if i < 0 || i >= len(p.target) {
			return fmt.Errorf("optim: %s index out of range", name)
		}
		p.target[i] = val
		return nil
	}
	return fmt.Errorf("optim: unknown parameter %q", name)
}
