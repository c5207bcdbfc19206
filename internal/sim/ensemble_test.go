package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

func TestEnsembleMatchesSequential(t *testing.T) {
	spec, solver := springMPC(t)
	x0s := []dynamo.State{{0, 0}, {1, 0}, {-1, 0.5}, {3, -1}}

	ens := &Ensemble{
		Plant:      spec.Plant,
		Integrator: spec.Integrator,
		Solver:     solver,
		Dt:         spec.Dt(),
		Metrics:    func() []dynamo.Metric { return []dynamo.Metric{&testMetric{}} },
		Workers:    2,
	}
	results, err := ens.Run(context.Background(), x0s, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(x0s) {
		t.Fatalf("got %d results for %d runs", len(results), len(x0s))
	}

	for i, x0 := range x0s {
		loop := NewLoop(spec.Plant, spec.Integrator, solver, spec.Dt())
		want, err := loop.Run(context.Background(), x0, 30)
		if err != nil {
			t.Fatal(err)
		}
		got := results[i]
		if got.States[0][0] != x0[0] {
			t.Errorf("run %d: results out of order", i)
		}
		for k := range want.States {
			for j := range want.States[k] {
				if got.States[k][j] != want.States[k][j] {
					t.Fatalf("run %d state %d: %v vs %v", i, k, got.States[k], want.States[k])
				}
			}
		}
		if _, ok := got.Metrics["test"]; !ok {
			t.Errorf("run %d: metric missing", i)
		}
	}
}

func TestEnsembleFailure(t *testing.T) {
	ens := &Ensemble{
		Plant:      &testDynamics{},
		Integrator: &testIntegrator{},
		Solver:     &failingSolver{failAt: 1},
		Dt:         0.1,
	}
	_, err := ens.Run(context.Background(), []dynamo.State{{1}}, 5)
	var simErr *dynamo.SimulationError
	if !errors.As(err, &simErr) {
		t.Fatalf("expected *dynamo.SimulationError, got %v", err)
	}
}
