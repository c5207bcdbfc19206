package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ProjectedGradient is FISTA-accelerated projected gradient with a fixed
// step 1/λmax(H). It is slower than ActiveSet on small dense problems but
// has no factorization cost per iteration.
type ProjectedGradient struct {
	MaxIter int
	Tol     float64
}

func NewProjectedGradient() *ProjectedGradient {
	return &ProjectedGradient{MaxIter: 20000, Tol: 1e-12}
}

func (s *ProjectedGradient) Solve(p *Problem, warm []float64) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Dim()
	if n == 0 {
		return finish(p, nil, 0, s.Tol), nil
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(p.H, false); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", ErrNotConvex)
	}
	vals := eig.Values(nil)
	if floats.Min(vals) <= 0 {
		return nil, ErrNotConvex
	}
	step := 1 / floats.Max(vals)

	z := start(p, warm)
	y := append([]float64(nil), z...)
	prev := make([]float64, n)
	theta := 1.0

	for iter := 1; iter <= s.MaxIter; iter++ {
		copy(prev, z)

		grad := p.Gradient(y)
		for i := range z {
			z[i] = y[i] - step*grad[i]
		}
		p.Project(z)

		// Restart momentum when the objective goes up.
		if p.Objective(z) > p.Objective(prev) {
			theta = 1
			copy(y, prev)
			copy(z, prev)
			grad = p.Gradient(y)
			for i := range z {
				z[i] = y[i] - step*grad[i]
			}
			p.Project(z)
		}

		if floats.Distance(z, prev, math.Inf(1)) <= s.Tol*(1+floats.Norm(z, math.Inf(1))) {
			return finish(p, z, iter, 1e-9), nil
		}

		next := (1 + math.Sqrt(1+4*theta*theta)) / 2
		beta := (theta - 1) / next
		for i := range y {
			y[i] = z[i] + beta*(z[i]-prev[i])
		}
		theta = next
	}
	return finish(p, z, s.MaxIter, 1e-9), fmt.Errorf("%w: projected gradient after %d iterations", ErrMaxIter, s.MaxIter)
}
