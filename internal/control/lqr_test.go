package control

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/integrators"
	"github.com/san-kum/mpcsim/internal/linalg"
	"github.com/san-kum/mpcsim/internal/nlp"
	"github.com/san-kum/mpcsim/internal/ocp"
	"github.com/san-kum/mpcsim/internal/physics"
	"gonum.org/v1/gonum/mat"
)

func springSpec(t *testing.T, yref []float64, bounds ocp.Bounds) *ocp.Spec {
	t.Helper()
	var yrefE []float64
	if yref != nil {
		yrefE = yref[:2]
	}
	cost := ocp.LinearLS(linalg.Diag(2e3, 2e3), linalg.Diag(2e-2), linalg.Diag(2e3, 2e3), yref, yrefE)
	spec, err := ocp.Build(physics.NewSpringMass(), integrators.NewRK4(), 20, 1, cost, bounds)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

// The unconstrained MPC problem on the linear spring is an LQ problem, so
// the first SQP control must equal the Riccati feedback at stage 0.
func TestMPCMatchesRiccati(t *testing.T) {
	tests := []struct {
		name string
		yref []float64
		x0   dynamo.State
	}{
		{"regulate", nil, dynamo.State{1, 0}},
		{"regulate moving", nil, dynamo.State{-0.4, 0.7}},
		{"track", []float64{2, 0, 0}, dynamo.State{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := springSpec(t, tt.yref, ocp.Bounds{})

			model, err := Linearize(spec, dynamo.State{0, 0}, dynamo.Control{0})
			if err != nil {
				t.Fatal(err)
			}
			gains, err := Riccati(spec, model)
			if err != nil {
				t.Fatal(err)
			}
			want := gains.Policy(0, tt.x0)[0]

			solver, err := nlp.NewSQP(spec, nlp.Options{})
			if err != nil {
				t.Fatal(err)
			}
			sol, err := solver.Solve(context.Background(), tt.x0, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := sol.First()[0]
			if math.Abs(got-want) > 1e-6*(1+math.Abs(want)) {
				t.Errorf("MPC u0=%.9f, Riccati u0=%.9f", got, want)
			}
		})
	}
}

func TestRiccatiValueMatchesCost(t *testing.T) {
	// With zero references the optimal cost is ½x0ᵀP0x0.
	spec := springSpec(t, nil, ocp.Bounds{})
	model, err := Linearize(spec, dynamo.State{0, 0}, dynamo.Control{0})
	if err != nil {
		t.Fatal(err)
	}
	gains, err := Riccati(spec, model)
	if err != nil {
		t.Fatal(err)
	}
	if !linalg.IsSymmetric(gains.P) || !linalg.IsPSD(gains.P) {
		t.Fatalf("P0 is not symmetric PSD: %v", mat.Formatted(gains.P))
	}

	lqr, err := NewLQR(spec)
	if err != nil {
		t.Fatal(err)
	}
	x0 := dynamo.State{0.5, -0.1}
	sol, err := lqr.Solve(context.Background(), x0, nil)
	if err != nil {
		t.Fatal(err)
	}
	xv := mat.NewVecDense(2, x0)
	want := 0.5 * mat.Inner(xv, gains.P, xv)
	if math.Abs(sol.Cost-want) > 1e-8*(1+want) {
		t.Errorf("rollout cost %g, value function %g", sol.Cost, want)
	}
}

func TestLQRSaturates(t *testing.T) {
	bounds := ocp.Bounds{Lower: dynamo.Control{-100}, Upper: dynamo.Control{100}}
	spec := springSpec(t, []float64{2, 0, 0}, bounds)
	lqr, err := NewLQR(spec)
	if err != nil {
		t.Fatal(err)
	}
	sol, err := lqr.Solve(context.Background(), dynamo.State{0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, u := range sol.U {
		if math.Abs(u[0]) > 100 {
			t.Errorf("u[%d]=%g exceeds bound", k, u[0])
		}
	}
	if sol.First()[0] != 100 {
		t.Errorf("expected saturated first control, got %g", sol.First()[0])
	}
}

func TestLinearizeAffineTerm(t *testing.T) {
	spec := springSpec(t, nil, ocp.Bounds{})
	x, u := dynamo.State{0.3, -0.2}, dynamo.Control{5}
	model, err := Linearize(spec, x, u)
	if err != nil {
		t.Fatal(err)
	}
	// The spring is linear, so the affine offset vanishes.
	for i := 0; i < 2; i++ {
		if math.Abs(model.C.AtVec(i)) > 1e-12 {
			t.Errorf("C[%d]=%g, want 0", i, model.C.AtVec(i))
		}
	}
}

func TestConstant(t *testing.T) {
	c := NewConstant(dynamo.Control{2000, 0, 250})
	sol, err := c.Solve(context.Background(), dynamo.State{0, 0, 0, 0, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if u := sol.First(); u[0] != 2000 || u[2] != 250 {
		t.Errorf("unexpected control %v", u)
	}
	if n := NewNone(3).U; len(n) != 3 || n[0] != 0 {
		t.Errorf("NewNone(3) = %v", n)
	}
}
