package ocp

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/integrators"
	"github.com/san-kum/mpcsim/internal/linalg"
	"github.com/san-kum/mpcsim/internal/physics"
	"gonum.org/v1/gonum/mat"
)

func springCost() Cost {
	return LinearLS(
		linalg.Diag(2e3, 2e3),
		linalg.Diag(2e-2),
		linalg.Diag(2e3, 2e3),
		[]float64{2, 0, 0},
		[]float64{2, 0},
	)
}

func springBounds() Bounds {
	return Bounds{Lower: dynamo.Control{-100}, Upper: dynamo.Control{100}}
}

func TestBuild(t *testing.T) {
	spec, err := Build(physics.NewSpringMass(), integrators.NewRK4(), 20, 1, springCost(), springBounds())
	if err != nil {
		t.Fatal(err)
	}
	if spec.StateDim() != 2 || spec.ControlDim() != 1 {
		t.Errorf("unexpected dims %d/%d", spec.StateDim(), spec.ControlDim())
	}
	if spec.Dt() != 0.05 {
		t.Errorf("expected dt 0.05, got %f", spec.Dt())
	}
	if ny, _ := spec.W.Dims(); ny != 3 {
		t.Errorf("expected 3x3 W, got %d", ny)
	}
}

func TestBuildCopiesInputs(t *testing.T) {
	cost := springCost()
	bounds := springBounds()
	spec, err := Build(physics.NewSpringMass(), integrators.NewRK4(), 20, 1, cost, bounds)
	if err != nil {
		t.Fatal(err)
	}
	cost.Yref[0] = 99
	bounds.Upper[0] = -1
	cost.W.(*mat.Dense).Set(0, 0, -5)

	if spec.Yref[0] != 2 || spec.Bounds.Upper[0] != 100 || spec.W.At(0, 0) != 2e3 {
		t.Error("Spec aliases caller data")
	}
}

func TestBuildMalformed(t *testing.T) {
	nonPSD := springCost()
	nonPSD.W = linalg.Diag(1, -1, 1)

	asym := springCost()
	asym.WE = mat.NewDense(2, 2, []float64{1, 2, 0, 1})

	shortRef := springCost()
	shortRef.Yref = []float64{1}

	nanRef := springCost()
	nanRef.YrefE = []float64{math.NaN(), 0}

	badVu := springCost()
	badVu.Vu = linalg.Zeros(3, 2)

	noTerminal := springCost()
	noTerminal.WE = nil

	tests := []struct {
		name   string
		plant  dynamo.System
		integ  dynamo.SensitivityIntegrator
		n      int
		tf     float64
		cost   Cost
		bounds Bounds
	}{
		{"lbu above ubu", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, springCost(), Bounds{Lower: dynamo.Control{1}, Upper: dynamo.Control{-1}}},
		{"nan bound", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, springCost(), Bounds{Lower: dynamo.Control{math.NaN()}}},
		{"short bounds", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, springCost(), Bounds{Upper: dynamo.Control{1, 2}}},
		{"zero horizon", physics.NewSpringMass(), integrators.NewRK4(), 0, 1, springCost(), springBounds()},
		{"negative tf", physics.NewSpringMass(), integrators.NewRK4(), 20, -1, springCost(), springBounds()},
		{"infinite tf", physics.NewSpringMass(), integrators.NewRK4(), 20, math.Inf(1), springCost(), springBounds()},
		{"non psd W", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, nonPSD, springBounds()},
		{"asymmetric W_e", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, asym, springBounds()},
		{"short yref", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, shortRef, springBounds()},
		{"nan yref_e", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, nanRef, springBounds()},
		{"Vu shape", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, badVu, springBounds()},
		{"missing terminal", physics.NewSpringMass(), integrators.NewRK4(), 20, 1, noTerminal, springBounds()},
		{"wrong plant", physics.NewVessel(), integrators.NewRK4(), 20, 1, springCost(), springBounds()},
		{"nil plant", nil, integrators.NewRK4(), 20, 1, springCost(), springBounds()},
		{"nil integrator", physics.NewSpringMass(), nil, 20, 1, springCost(), springBounds()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.plant, tt.integ, tt.n, tt.tf, tt.cost, tt.bounds)
			if !errors.Is(err, dynamo.ErrMalformedFormulation) {
				t.Errorf("expected ErrMalformedFormulation, got %v", err)
			}
		})
	}
}

func TestCostNonNegative(t *testing.T) {
	vessel := physics.NewVessel()
	q := linalg.Diag(10, 10, 0, 1, 1, 1)
	cost := LinearLS(q, linalg.Diag(1e-7, 1e-2, 1e-7), q, nil, nil).Scaled(1e5, 1e4)
	spec, err := Build(vessel, integrators.NewRK4(), 20, 0.1, cost, Bounds{})
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		x := make(dynamo.State, 6)
		u := make(dynamo.Control, 3)
		for i := range x {
			x[i] = 20 * (rng.Float64() - 0.5)
		}
		for i := range u {
			u[i] = 400 * (rng.Float64() - 0.5)
		}
		if c := spec.StageCost(x, u); c < 0 {
			t.Fatalf("negative stage cost %g at x=%v u=%v", c, x, u)
		}
		if c := spec.TerminalCost(x); c < 0 {
			t.Fatalf("negative terminal cost %g at x=%v", c, x)
		}
	}

	if c := spec.StageCost(make(dynamo.State, 6), make(dynamo.Control, 3)); c != 0 {
		t.Errorf("expected zero cost at the reference, got %g", c)
	}
}

func TestStageCostValue(t *testing.T) {
	spec, err := Build(physics.NewSpringMass(), integrators.NewRK4(), 20, 1, springCost(), springBounds())
	if err != nil {
		t.Fatal(err)
	}
	// r = [x-2, v, u] = [-2, 1, 10]
	got := spec.StageCost(dynamo.State{0, 1}, dynamo.Control{10})
	want := 0.5 * (2e3*4 + 2e3*1 + 2e-2*100)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}
	if got := spec.TerminalCost(dynamo.State{2, 0}); got != 0 {
		t.Errorf("expected zero terminal cost at the reference, got %f", got)
	}
}

func TestRollout(t *testing.T) {
	spring := physics.NewSpringMass()
	spec, err := Build(spring, integrators.NewRK4(), 20, 1, springCost(), springBounds())
	if err != nil {
		t.Fatal(err)
	}

	us := make([]dynamo.Control, spec.N)
	for k := range us {
		us[k] = dynamo.Control{10}
	}
	xs, err := spec.Rollout(dynamo.State{0, 0}, us)
	if err != nil {
		t.Fatal(err)
	}
	if len(xs) != spec.N+1 {
		t.Fatalf("expected %d states, got %d", spec.N+1, len(xs))
	}

	x := dynamo.State{0, 0}
	for k := range us {
		x, err = integrators.NewRK4().Step(spring, x, us[k], float64(k)*spec.Dt(), spec.Dt())
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := range x {
		if xs[spec.N][i] != x[i] {
			t.Errorf("rollout differs from stepping at index %d: %v vs %v", i, xs[spec.N][i], x[i])
		}
	}

	total := spec.TrajectoryCost(xs, us)
	if total <= spec.TerminalCost(xs[spec.N]) {
		t.Error("trajectory cost should include positive stage costs")
	}
}

func TestBounds(t *testing.T) {
	b := Bounds{Lower: dynamo.Control{-1, 0}, Upper: dynamo.Control{1, 5}}

	got := b.Clamp(dynamo.Control{-3, 7})
	if got[0] != -1 || got[1] != 5 {
		t.Errorf("unexpected clamp %v", got)
	}
	if !b.Contains(dynamo.Control{1 + 1e-10, 0}, 1e-9) {
		t.Error("expected point within tolerance to be contained")
	}
	if b.Contains(dynamo.Control{0, -0.1}, 1e-9) {
		t.Error("expected violation to be reported")
	}

	var free Bounds
	if c := free.Clamp(dynamo.Control{1e9}); c[0] != 1e9 || !free.Contains(dynamo.Control{-1e9}, 0) {
		t.Error("unbounded box should not clamp")
	}
}

func TestScaled(t *testing.T) {
	c := springCost().Scaled(10, 0.5)
	if c.W.At(0, 0) != 2e4 || c.W.At(2, 2) != 2e-1 {
		t.Errorf("unexpected stage weights %v %v", c.W.At(0, 0), c.W.At(2, 2))
	}
	if c.WE.At(1, 1) != 1e3 {
		t.Errorf("unexpected terminal weight %v", c.WE.At(1, 1))
	}

	partial := springCost()
	partial.WE = nil
	partial = partial.Scaled(10, 0.5)
	if partial.WE != nil {
		t.Fatalf("nil terminal weight became %v", partial.WE)
	}
	_, err := Build(physics.NewSpringMass(), integrators.NewRK4(), 20, 1, partial, springBounds())
	if !errors.Is(err, dynamo.ErrMalformedFormulation) {
		t.Errorf("expected ErrMalformedFormulation, got %v", err)
	}
}
