// Package qp solves the small dense quadratic programs that appear inside the
// SQP iterations and the thruster allocation:
//
//	minimize   ½ zᵀHz + gᵀz
//	subject to lb ≤ z ≤ ub
//
// H must be symmetric positive definite. Bounds may be ±Inf.
package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotConvex   = errors.New("qp: hessian is not positive definite")
	ErrInfeasible  = errors.New("qp: lower bound exceeds upper bound")
	ErrMaxIter     = errors.New("qp: iteration limit reached")
	ErrSingularKKT = errors.New("qp: KKT system is singular")
)

// Problem is a box-constrained QP. Nil Lower or Upper means unbounded.
type Problem struct {
	H     mat.Symmetric
	G     []float64
	Lower []float64
	Upper []float64
}

func (p *Problem) Dim() int { return len(p.G) }

func (p *Problem) Validate() error {
	n := p.Dim()
	if r, c := p.H.Dims(); r != n || c != n {
		return fmt.Errorf("qp: hessian is %dx%d, gradient has %d entries", r, c, n)
	}
	if p.Lower != nil && len(p.Lower) != n {
		return fmt.Errorf("qp: %d lower bounds for %d variables", len(p.Lower), n)
	}
	if p.Upper != nil && len(p.Upper) != n {
		return fmt.Errorf("qp: %d upper bounds for %d variables", len(p.Upper), n)
	}
	for i := 0; i < n; i++ {
		if p.lo(i) > p.hi(i) {
			return fmt.Errorf("%w: variable %d has [%g, %g]", ErrInfeasible, i, p.lo(i), p.hi(i))
		}
	}
	return nil
}

func (p *Problem) lo(i int) float64 {
	if p.Lower == nil {
		return math.Inf(-1)
	}
	return p.Lower[i]
}

func (p *Problem) hi(i int) float64 {
	if p.Upper == nil {
		return math.Inf(1)
	}
	return p.Upper[i]
}

// Project clamps z onto the box in place.
func (p *Problem) Project(z []float64) {
	for i := range z {
		z[i] = math.Min(math.Max(z[i], p.lo(i)), p.hi(i))
	}
}

// Objective evaluates ½ zᵀHz + gᵀz.
func (p *Problem) Objective(z []float64) float64 {
	zv := mat.NewVecDense(len(z), z)
	gv := mat.NewVecDense(len(p.G), p.G)
	return 0.5*mat.Inner(zv, p.H, zv) + mat.Dot(gv, zv)
}

// Gradient returns Hz + g.
func (p *Problem) Gradient(z []float64) []float64 {
	var hz mat.VecDense
	hz.MulVec(p.H, mat.NewVecDense(len(z), z))
	grad := make([]float64, len(z))
	for i := range grad {
		grad[i] = hz.AtVec(i) + p.G[i]
	}
	return grad
}

type Result struct {
	Z          []float64
	Objective  float64
	Iterations int
	// Active marks variables that finished on a bound.
	Active []bool
}

// Solver is a box-QP backend. Warm may be nil; it is projected onto the box
// before use.
type Solver interface {
	Solve(p *Problem, warm []float64) (*Result, error)
}

const (
	NameActiveSet         = "active_set"
	NameProjectedGradient = "projected_gradient"
)

// New returns the backend registered under name.
func New(name string) (Solver, error) {
	switch name {
	case NameActiveSet, "":
		return NewActiveSet(), nil
	case NameProjectedGradient:
		return NewProjectedGradient(), nil
	}
	return nil, fmt.Errorf("qp: unknown solver %q", name)
}

func start(p *Problem, warm []float64) []float64 {
	z := make([]float64, p.Dim())
	if len(warm) == len(z) {
		copy(z, warm)
	}
	p.Project(z)
	return z
}

func finish(p *Problem, z []float64, iters int, tol float64) *Result {
	active := make([]bool, len(z))
	for i := range z {
		active[i] = z[i] <= p.lo(i)+tol || z[i] >= p.hi(i)-tol
	}
	return &Result{Z: z, Objective: p.Objective(z), Iterations: iters, Active: active}
}
