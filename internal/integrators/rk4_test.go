package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

type simpleDynamics struct{}

func (s *simpleDynamics) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], -x[0]}
}

func (s *simpleDynamics) StateDim() int   { return 2 }
func (s *simpleDynamics) ControlDim() int { return 0 }

func TestRK4Accuracy(t *testing.T) {
	dyn := &simpleDynamics{}
	integ := NewRK4()

	x := dynamo.State{1.0, 0.0}
	dt := 0.01
	steps := 100

	for i := 0; i < steps; i++ {
		var err error
		x, err = integ.Step(dyn, x, nil, float64(i)*dt, dt)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-8 {
		t.Errorf("position error too large: got %.10f, expected %.10f", x[0], expectedX)
	}
	if math.Abs(x[1]-expectedV) > 1e-8 {
		t.Errorf("velocity error too large: got %.10f, expected %.10f", x[1], expectedV)
	}
}

func TestExplicitOrder(t *testing.T) {
	// Halving dt must shrink the global error by roughly 2^order.
	tests := []struct {
		stages int
		order  float64
	}{
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 4},
	}
	dyn := &simpleDynamics{}
	for _, tt := range tests {
		tab, err := ExplicitTableau(tt.stages)
		if err != nil {
			t.Fatal(err)
		}
		errAt := func(steps int) float64 {
			integ := NewERK(tab, steps)
			x, err := integ.Step(dyn, dynamo.State{1, 0}, nil, 0, 1)
			if err != nil {
				t.Fatal(err)
			}
			return math.Hypot(x[0]-math.Cos(1), x[1]+math.Sin(1))
		}
		ratio := math.Log2(errAt(20) / errAt(40))
		if math.Abs(ratio-tt.order) > 0.3 {
			t.Errorf("%d stages: observed order %.2f, want %.0f", tt.stages, ratio, tt.order)
		}
	}
}
