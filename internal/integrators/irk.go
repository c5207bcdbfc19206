package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

const DefaultNewtonTol = 1e-10

// IRK is an implicit collocation integrator. Each of the NumSteps substeps
// solves the stage equations
//
//	K_i = f(x + h·Σ_j a_ij·K_j, u)
//
// with at most NewtonIter Newton iterations. A substep whose scaled Newton
// residual is still above NewtonTol after the budget returns
// dynamo.ErrIntegratorDivergence.
//
// IRK holds no per-call state and is safe for concurrent use.
type IRK struct {
	Tableau    Tableau
	NumSteps   int
	NewtonIter int
	NewtonTol  float64
}

func NewIRK(tab Tableau, numSteps, newtonIter int) *IRK {
	if numSteps < 1 {
		numSteps = 1
	}
	if newtonIter < 1 {
		newtonIter = 1
	}
	return &IRK{
		Tableau:    tab,
		NumSteps:   numSteps,
		NewtonIter: newtonIter,
		NewtonTol:  DefaultNewtonTol,
	}
}

func (r *IRK) String() string {
	return fmt.Sprintf("irk(%s, steps=%d, newton=%d)", r.Tableau.Name, r.NumSteps, r.NewtonIter)
}

func (r *IRK) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, error) {
	next, _, err := r.step(dyn, x, u, t, dt, false)
	return next, err
}

func (r *IRK) StepWithSensitivity(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, *dynamo.Sensitivity, error) {
	return r.step(dyn, x, u, t, dt, true)
}

func (r *IRK) step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64, sens bool) (dynamo.State, *dynamo.Sensitivity, error) {
	if err := validateStep(dyn, x, u, dt); err != nil {
		return nil, nil, err
	}
	nx, nu := dyn.StateDim(), dyn.ControlDim()
	h := dt / float64(r.NumSteps)

	xs := x.Clone()
	var s *mat.Dense
	if sens {
		s = seedSensitivity(nx, nu)
	}
	for k := 0; k < r.NumSteps; k++ {
		tk := t + float64(k)*h
		next, phi, err := r.substep(dyn, xs, u, tk, h, sens)
		if err != nil {
			return nil, nil, fmt.Errorf("substep %d at t=%.4f: %w", k, tk, err)
		}
		xs = next
		if sens {
			s = chain(s, phi, nx, nu)
		}
	}
	if !xs.IsValid() {
		return nil, nil, dynamo.ErrInvalidState
	}
	if !sens {
		return xs, nil, nil
	}
	return xs, splitSensitivity(s, nx, nu), nil
}

func (r *IRK) substep(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, h float64, sens bool) (dynamo.State, *mat.Dense, error) {
	tab := r.Tableau
	ns := tab.Stages()
	nx, nu := dyn.StateDim(), dyn.ControlDim()

	// Every stage derivative starts from f(x, u).
	f0 := dyn.Derive(x, u, t)
	kvec := mat.NewVecDense(ns*nx, nil)
	for i := 0; i < ns; i++ {
		for m := 0; m < nx; m++ {
			kvec.SetVec(i*nx+m, f0[m])
		}
	}

	converged := false
	for it := 0; it <= r.NewtonIter; it++ {
		z := r.stagePoints(x, kvec, h)
		res := mat.NewVecDense(ns*nx, nil)
		for i := 0; i < ns; i++ {
			fi := dyn.Derive(z[i], u, t+tab.C[i]*h)
			for m := 0; m < nx; m++ {
				res.SetVec(i*nx+m, kvec.AtVec(i*nx+m)-fi[m])
			}
		}
		if !finite(res) {
			return nil, nil, dynamo.ErrInvalidState
		}
		if mat.Norm(res, math.Inf(1)) <= r.NewtonTol*(1+mat.Norm(kvec, math.Inf(1))) {
			converged = true
			break
		}
		if it == r.NewtonIter {
			break
		}

		jac := r.newtonMatrix(dyn, z, u, t, h)
		var delta mat.VecDense
		if err := delta.SolveVec(jac, res); err != nil {
			return nil, nil, fmt.Errorf("%w: singular Newton matrix: %v", dynamo.ErrIntegratorDivergence, err)
		}
		kvec.SubVec(kvec, &delta)
	}
	if !converged {
		return nil, nil, fmt.Errorf("%w: residual above %g after %d Newton iterations", dynamo.ErrIntegratorDivergence, r.NewtonTol, r.NewtonIter)
	}

	next := x.Clone()
	for i, b := range tab.B {
		for m := 0; m < nx; m++ {
			next[m] += h * b * kvec.AtVec(i*nx+m)
		}
	}
	if !sens {
		return next, nil, nil
	}

	// Implicit function theorem at the converged stages:
	// dK/dw = M⁻¹·[∂f/∂x(z_i) | ∂f/∂u(z_i)]_i
	z := r.stagePoints(x, kvec, h)
	m := r.newtonMatrix(dyn, z, u, t, h)
	rhs := mat.NewDense(ns*nx, nx+nu, nil)
	for i := 0; i < ns; i++ {
		jac := stageJacobian(dyn, z[i], u, t+tab.C[i]*h)
		rhs.Slice(i*nx, (i+1)*nx, 0, nx+nu).(*mat.Dense).Copy(jac)
	}
	var dK mat.Dense
	if err := dK.Solve(m, rhs); err != nil {
		return nil, nil, fmt.Errorf("%w: singular sensitivity system: %v", dynamo.ErrIntegratorDivergence, err)
	}

	phi := seedSensitivity(nx, nu)
	for i, b := range tab.B {
		var scaled mat.Dense
		scaled.Scale(h*b, dK.Slice(i*nx, (i+1)*nx, 0, nx+nu))
		phi.Add(phi, &scaled)
	}
	return next, phi, nil
}

// stagePoints returns z_i = x + h·Σ_j a_ij·K_j.
func (r *IRK) stagePoints(x dynamo.State, k *mat.VecDense, h float64) []dynamo.State {
	tab := r.Tableau
	nx := len(x)
	z := make([]dynamo.State, tab.Stages())
	for i := range z {
		z[i] = x.Clone()
		for j := range tab.A[i] {
			a := tab.A[i][j]
			if a == 0 {
				continue
			}
			for m := 0; m < nx; m++ {
				z[i][m] += h * a * k.AtVec(j*nx+m)
			}
		}
	}
	return z
}

// newtonMatrix returns M = I − h·[a_ij·∂f/∂x(z_i)].
func (r *IRK) newtonMatrix(dyn dynamo.System, z []dynamo.State, u dynamo.Control, t, h float64) *mat.Dense {
	tab := r.Tableau
	ns := tab.Stages()
	nx := dyn.StateDim()
	m := mat.NewDense(ns*nx, ns*nx, nil)
	for i := 0; i < ns; i++ {
		a, _ := Jacobians(dyn, z[i], u, t+tab.C[i]*h)
		for j := 0; j < ns; j++ {
			aij := tab.A[i][j]
			for p := 0; p < nx; p++ {
				for q := 0; q < nx; q++ {
					v := -h * aij * a.At(p, q)
					if i == j && p == q {
						v += 1
					}
					m.Set(i*nx+p, j*nx+q, v)
				}
			}
		}
	}
	return m
}

func finite(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if x := v.AtVec(i); math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
