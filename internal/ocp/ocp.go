// Package ocp describes a discrete-time optimal control problem over a
// fixed horizon with a linear least-squares cost and box bounds on the
// controls:
//
//	minimize   Σ_{k<N} ½‖Vx·x_k + Vu·u_k − yref‖²_W + ½‖Vx_e·x_N − yref_e‖²_{W_e}
//	subject to x_{k+1} = Φ(x_k, u_k),  lbu ≤ u_k ≤ ubu,  x_0 = x̂
//
// Φ is one sample of the shooting integrator over dt = Tf/N. The initial
// state x̂ is not part of the formulation; it is supplied to every solve.
package ocp

import (
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// Cost is the linear least-squares cost. Nil Yref or YrefE means zero.
type Cost struct {
	Vx   mat.Matrix // ny×nx
	Vu   mat.Matrix // ny×nu
	W    mat.Matrix // ny×ny, symmetric PSD
	Yref []float64

	VxE   mat.Matrix // ny_e×nx
	WE    mat.Matrix // ny_e×ny_e, symmetric PSD
	YrefE []float64
}

// Bounds are box constraints on every stage control. Nil means unbounded;
// individual entries may be ±Inf.
type Bounds struct {
	Lower dynamo.Control
	Upper dynamo.Control
}

// Clamp returns u projected onto the bounds.
func (b Bounds) Clamp(u dynamo.Control) dynamo.Control {
	out := u.Clone()
	for i := range out {
		if b.Lower != nil {
			out[i] = math.Max(out[i], b.Lower[i])
		}
		if b.Upper != nil {
			out[i] = math.Min(out[i], b.Upper[i])
		}
	}
	return out
}

// Contains reports whether u satisfies the bounds within tol.
func (b Bounds) Contains(u dynamo.Control, tol float64) bool {
	for i, v := range u {
		if b.Lower != nil && v < b.Lower[i]-tol {
			return false
		}
		if b.Upper != nil && v > b.Upper[i]+tol {
			return false
		}
	}
	return true
}

// Spec is a validated formulation. Build copies every matrix and slice it
// is given, and nothing in this package mutates a Spec afterwards, so one
// Spec may back any number of concurrent solves.
type Spec struct {
	Plant      dynamo.System
	Integrator dynamo.SensitivityIntegrator
	N          int
	Tf         float64

	Vx, Vu *mat.Dense
	W      *mat.SymDense
	Yref   []float64
	VxE    *mat.Dense
	WE     *mat.SymDense
	YrefE  []float64

	Bounds Bounds
}

// Build validates the formulation and returns an immutable Spec. Every
// violation wraps dynamo.ErrMalformedFormulation.
func Build(plant dynamo.System, integ dynamo.SensitivityIntegrator, n int, tf float64, cost Cost, bounds Bounds) (*Spec, error) {
	if plant == nil {
		return nil, dynamo.Malformed("nil plant")
	}
	if integ == nil {
		return nil, dynamo.Malformed("nil integrator")
	}
	if n <= 0 {
		return nil, dynamo.Malformed("horizon N must be positive, got %d", n)
	}
	if !(tf > 0) || math.IsInf(tf, 0) {
		return nil, dynamo.Malformed("horizon length Tf must be positive, got %g", tf)
	}
	nx, nu := plant.StateDim(), plant.ControlDim()

	if cost.Vx == nil || cost.Vu == nil || cost.W == nil {
		return nil, dynamo.Malformed("stage cost needs Vx, Vu and W")
	}
	ny, c := cost.Vx.Dims()
	if c != nx {
		return nil, dynamo.Malformed("Vx is %dx%d, plant has %d states", ny, c, nx)
	}
	if r, c := cost.Vu.Dims(); r != ny || c != nu {
		return nil, dynamo.Malformed("Vu is %dx%d, want %dx%d", r, c, ny, nu)
	}
	w, err := weight("W", cost.W, ny)
	if err != nil {
		return nil, err
	}
	yref, err := reference("yref", cost.Yref, ny)
	if err != nil {
		return nil, err
	}

	if cost.VxE == nil || cost.WE == nil {
		return nil, dynamo.Malformed("terminal cost needs Vx_e and W_e")
	}
	nyE, c := cost.VxE.Dims()
	if c != nx {
		return nil, dynamo.Malformed("Vx_e is %dx%d, plant has %d states", nyE, c, nx)
	}
	we, err := weight("W_e", cost.WE, nyE)
	if err != nil {
		return nil, err
	}
	yrefE, err := reference("yref_e", cost.YrefE, nyE)
	if err != nil {
		return nil, err
	}

	bnd, err := checkBounds(bounds, nu)
	if err != nil {
		return nil, err
	}

	return &Spec{
		Plant:      plant,
		Integrator: integ,
		N:          n,
		Tf:         tf,
		Vx:         mat.DenseCopyOf(cost.Vx),
		Vu:         mat.DenseCopyOf(cost.Vu),
		W:          w,
		Yref:       yref,
		VxE:        mat.DenseCopyOf(cost.VxE),
		WE:         we,
		YrefE:      yrefE,
		Bounds:     bnd,
	}, nil
}

func weight(name string, m mat.Matrix, ny int) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != ny || c != ny {
		return nil, dynamo.Malformed("%s is %dx%d, want %dx%d", name, r, c, ny, ny)
	}
	if !linalg.IsSymmetric(m) {
		return nil, dynamo.Malformed("%s is not symmetric", name)
	}
	if !linalg.IsPSD(m) {
		return nil, dynamo.Malformed("%s is not positive semidefinite", name)
	}
	w := mat.NewSymDense(ny, nil)
	for i := 0; i < ny; i++ {
		for j := i; j < ny; j++ {
			w.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return w, nil
}

func reference(name string, y []float64, ny int) ([]float64, error) {
	if y == nil {
		return make([]float64, ny), nil
	}
	if len(y) != ny {
		return nil, dynamo.Malformed("%s has %d entries, want %d", name, len(y), ny)
	}
	if !dynamo.State(y).IsValid() {
		return nil, dynamo.Malformed("%s has non-finite entries", name)
	}
	return append([]float64(nil), y...), nil
}

func checkBounds(b Bounds, nu int) (Bounds, error) {
	var out Bounds
	if b.Lower != nil {
		if len(b.Lower) != nu {
			return out, dynamo.Malformed("lbu has %d entries, plant has %d controls", len(b.Lower), nu)
		}
		out.Lower = b.Lower.Clone()
	}
	if b.Upper != nil {
		if len(b.Upper) != nu {
			return out, dynamo.Malformed("ubu has %d entries, plant has %d controls", len(b.Upper), nu)
		}
		out.Upper = b.Upper.Clone()
	}
	for i := 0; i < nu; i++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if out.Lower != nil {
			lo = out.Lower[i]
		}
		if out.Upper != nil {
			hi = out.Upper[i]
		}
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return out, dynamo.Malformed("bound %d is NaN", i)
		}
		if lo > hi {
			return out, dynamo.Malformed("lbu[%d]=%g exceeds ubu[%d]=%g", i, lo, i, hi)
		}
	}
	return out, nil
}

func (s *Spec) StateDim() int   { return s.Plant.StateDim() }
func (s *Spec) ControlDim() int { return s.Plant.ControlDim() }

// Dt is the shooting interval Tf/N.
func (s *Spec) Dt() float64 { return s.Tf / float64(s.N) }

// StageResidual returns Vx·x + Vu·u − yref.
func (s *Spec) StageResidual(x dynamo.State, u dynamo.Control) *mat.VecDense {
	ny, _ := s.Vx.Dims()
	var r, ru mat.VecDense
	r.MulVec(s.Vx, mat.NewVecDense(len(x), x))
	if len(u) > 0 {
		ru.MulVec(s.Vu, mat.NewVecDense(len(u), u))
		r.AddVec(&r, &ru)
	}
	r.SubVec(&r, mat.NewVecDense(ny, s.Yref))
	return &r
}

// TerminalResidual returns Vx_e·x − yref_e.
func (s *Spec) TerminalResidual(x dynamo.State) *mat.VecDense {
	nyE, _ := s.VxE.Dims()
	var r mat.VecDense
	r.MulVec(s.VxE, mat.NewVecDense(len(x), x))
	r.SubVec(&r, mat.NewVecDense(nyE, s.YrefE))
	return &r
}

func (s *Spec) StageCost(x dynamo.State, u dynamo.Control) float64 {
	r := s.StageResidual(x, u)
	return 0.5 * mat.Inner(r, s.W, r)
}

func (s *Spec) TerminalCost(x dynamo.State) float64 {
	r := s.TerminalResidual(x)
	return 0.5 * mat.Inner(r, s.WE, r)
}

// TrajectoryCost sums the stage costs over U and the terminal cost at
// X[N]. X must hold N+1 states and U N controls.
func (s *Spec) TrajectoryCost(xs []dynamo.State, us []dynamo.Control) float64 {
	total := 0.0
	for k, u := range us {
		total += s.StageCost(xs[k], u)
	}
	return total + s.TerminalCost(xs[len(xs)-1])
}

// Rollout integrates the plant from x0 under the control sequence us and
// returns the N+1 visited states.
func (s *Spec) Rollout(x0 dynamo.State, us []dynamo.Control) ([]dynamo.State, error) {
	dt := s.Dt()
	xs := make([]dynamo.State, len(us)+1)
	xs[0] = x0.Clone()
	for k, u := range us {
		next, err := s.Integrator.Step(s.Plant, xs[k], u, float64(k)*dt, dt)
		if err != nil {
			return nil, err
		}
		xs[k+1] = next
	}
	return xs, nil
}
