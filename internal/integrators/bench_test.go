package integrators

import (
	"testing"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/physics"
)

type benchDynamics struct{}

func (b *benchDynamics) StateDim() int   { return 2 }
func (b *benchDynamics) ControlDim() int { return 0 }
func (b *benchDynamics) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], -x[0]}
}

func BenchmarkEuler(b *testing.B) {
	integrator := NewEuler()
	dyn := &benchDynamics{}
	x := dynamo.State{1.0, 0.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integrator.Step(dyn, x, nil, 0, 0.01)
	}
}

func BenchmarkRK4(b *testing.B) {
	integrator := NewRK4()
	dyn := &benchDynamics{}
	x := dynamo.State{1.0, 0.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integrator.Step(dyn, x, nil, 0, 0.01)
	}
}

func BenchmarkRK4Sensitivity_Vessel(b *testing.B) {
	integrator := NewRK4()
	dyn := physics.NewVessel()
	x := dynamo.State{10, -5, 1.57, 0, 0, 0}
	u := dynamo.Control{100, 0, 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = integrator.StepWithSensitivity(dyn, x, u, 0, 0.005)
	}
}

func BenchmarkIRK_Radau3(b *testing.B) {
	tab, _ := CollocationTableau(GaussRadauIIA, 3)
	integrator := NewIRK(tab, 3, 3)
	dyn := physics.NewSpringMass()
	x := dynamo.State{1.0, 0.0}
	u := dynamo.Control{0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integrator.Step(dyn, x, u, 0, 0.1)
	}
}

func BenchmarkIRKSensitivity_Vessel(b *testing.B) {
	tab, _ := CollocationTableau(GaussRadauIIA, 2)
	integrator := NewIRK(tab, 1, 5)
	dyn := physics.NewVessel()
	x := dynamo.State{10, -5, 1.57, 0, 0, 0}
	u := dynamo.Control{2000, 0, 250}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = integrator.StepWithSensitivity(dyn, x, u, 0, 0.01)
	}
}
