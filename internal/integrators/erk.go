package integrators

import (
	"fmt"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// ERK is an explicit Runge-Kutta integrator that splits each sample interval
// into NumSteps equal substeps. Sensitivities are propagated through the
// stages with the variational equations, so they are exact for the
// discretized map rather than a difference quotient of it.
//
// ERK holds no per-call state and is safe for concurrent use.
type ERK struct {
	Tableau  Tableau
	NumSteps int
}

func NewERK(tab Tableau, numSteps int) *ERK {
	if numSteps < 1 {
		numSteps = 1
	}
	return &ERK{Tableau: tab, NumSteps: numSteps}
}

func (e *ERK) String() string {
	return fmt.Sprintf("erk(%s, steps=%d)", e.Tableau.Name, e.NumSteps)
}

func (e *ERK) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, error) {
	if err := validateStep(dyn, x, u, dt); err != nil {
		return nil, err
	}
	h := dt / float64(e.NumSteps)
	xs := x.Clone()
	for k := 0; k < e.NumSteps; k++ {
		xs = e.substep(dyn, xs, u, t+float64(k)*h, h)
	}
	if !xs.IsValid() {
		return nil, dynamo.ErrInvalidState
	}
	return xs, nil
}

func (e *ERK) StepWithSensitivity(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, *dynamo.Sensitivity, error) {
	if err := validateStep(dyn, x, u, dt); err != nil {
		return nil, nil, err
	}
	nx, nu := dyn.StateDim(), dyn.ControlDim()
	h := dt / float64(e.NumSteps)
	xs := x.Clone()
	s := seedSensitivity(nx, nu)
	for k := 0; k < e.NumSteps; k++ {
		var phi *mat.Dense
		xs, phi = e.substepVDE(dyn, xs, u, t+float64(k)*h, h)
		s = chain(s, phi, nx, nu)
	}
	if !xs.IsValid() {
		return nil, nil, dynamo.ErrInvalidState
	}
	return xs, splitSensitivity(s, nx, nu), nil
}

func (e *ERK) substep(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, h float64) dynamo.State {
	tab := e.Tableau
	n := len(x)
	k := make([]dynamo.State, tab.Stages())
	z := make(dynamo.State, n)
	for i := range k {
		copy(z, x)
		for j := 0; j < i; j++ {
			if a := tab.A[i][j]; a != 0 {
				for m := 0; m < n; m++ {
					z[m] += h * a * k[j][m]
				}
			}
		}
		k[i] = dyn.Derive(z, u, t+tab.C[i]*h)
	}

	result := x.Clone()
	for i, b := range tab.B {
		for m := 0; m < n; m++ {
			result[m] += h * b * k[i][m]
		}
	}
	return result
}

// substepVDE advances one substep and returns the local Jacobian
// [∂x⁺/∂x | ∂x⁺/∂u] alongside the new state.
func (e *ERK) substepVDE(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, h float64) (dynamo.State, *mat.Dense) {
	tab := e.Tableau
	nx, nu := dyn.StateDim(), dyn.ControlDim()
	seed := seedSensitivity(nx, nu)

	k := make([]dynamo.State, tab.Stages())
	dk := make([]*mat.Dense, tab.Stages())
	z := make(dynamo.State, nx)
	for i := range k {
		copy(z, x)
		dz := mat.DenseCopyOf(seed)
		for j := 0; j < i; j++ {
			a := tab.A[i][j]
			if a == 0 {
				continue
			}
			for m := 0; m < nx; m++ {
				z[m] += h * a * k[j][m]
			}
			var scaled mat.Dense
			scaled.Scale(h*a, dk[j])
			dz.Add(dz, &scaled)
		}
		ti := t + tab.C[i]*h
		k[i] = dyn.Derive(z, u, ti)

		// dk_i = ∂f/∂x·dz_i + [0 | ∂f/∂u]
		jac := stageJacobian(dyn, z, u, ti)
		var dki mat.Dense
		dki.Mul(jac.Slice(0, nx, 0, nx), dz)
		if nu > 0 {
			ub := dki.Slice(0, nx, nx, nx+nu).(*mat.Dense)
			ub.Add(ub, jac.Slice(0, nx, nx, nx+nu))
		}
		dk[i] = &dki
	}

	result := x.Clone()
	phi := seed
	for i, b := range tab.B {
		if b == 0 {
			continue
		}
		for m := 0; m < nx; m++ {
			result[m] += h * b * k[i][m]
		}
		var scaled mat.Dense
		scaled.Scale(h*b, dk[i])
		phi.Add(phi, &scaled)
	}
	return result, phi
}

func validateStep(dyn dynamo.System, x dynamo.State, u dynamo.Control, dt float64) error {
	if dt <= 0 {
		return fmt.Errorf("integrators: dt must be positive, got %g", dt)
	}
	if err := dynamo.CheckDims(dyn, x, u); err != nil {
		return err
	}
	if !x.IsValid() {
		return dynamo.ErrInvalidState
	}
	return nil
}
