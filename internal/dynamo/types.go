package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

// System is a continuous-time plant. Derive must be pure and differentiable
// in x and u.
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

// Linearizer is implemented by plants with analytic Jacobians. A is
// StateDim×StateDim, B is StateDim×ControlDim.
type Linearizer interface {
	Linearize(x State, u Control, t float64) (a, b *mat.Dense)
}

type Hamiltonian interface {
	Energy(x State) float64
}

// Sensitivity holds the Jacobians of a discrete step x⁺ = Φ(x, u).
type Sensitivity struct {
	X *mat.Dense // ∂x⁺/∂x, nx×nx
	U *mat.Dense // ∂x⁺/∂u, nx×nu
}

type Integrator interface {
	Step(dyn System, x State, u Control, t, dt float64) (State, error)
}

type SensitivityIntegrator interface {
	Integrator
	StepWithSensitivity(dyn System, x State, u Control, t, dt float64) (State, *Sensitivity, error)
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

// CheckDims reports ErrDimensionMismatch when x or u do not match dyn.
func CheckDims(dyn System, x State, u Control) error {
	if len(x) != dyn.StateDim() {
		return fmt.Errorf("%w: state has %d entries, system expects %d", ErrDimensionMismatch, len(x), dyn.StateDim())
	}
	if len(u) != dyn.ControlDim() {
		return fmt.Errorf("%w: control has %d entries, system expects %d", ErrDimensionMismatch, len(u), dyn.ControlDim())
	}
	return nil
}
