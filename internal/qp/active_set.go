package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type bound int8

const (
	free bound = iota
	atLower
	atUpper
)

// ActiveSet is a primal active-set method specialised to box constraints.
// Each iteration solves the equality-constrained subproblem on the free
// variables with a Cholesky factorization.
type ActiveSet struct {
	MaxIter int
	Tol     float64
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{Tol: 1e-10}
}

func (s *ActiveSet) Solve(p *Problem, warm []float64) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Dim()
	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = 10*n + 50
	}
	tol := s.Tol

	z := start(p, warm)
	work := make([]bound, n)
	for i := range z {
		switch {
		case z[i] == p.lo(i):
			work[i] = atLower
		case z[i] == p.hi(i):
			work[i] = atUpper
		}
	}

	for iter := 1; iter <= maxIter; iter++ {
		step, err := s.freeStep(p, z, work)
		if err != nil {
			return nil, err
		}

		if maxAbs(step) <= tol*(1+maxAbs(z)) {
			// Stationary on the working set: release the bound with the
			// most negative multiplier, or stop.
			grad := p.Gradient(z)
			worst, worstVal := -1, -tol*(1+maxAbs(grad))
			for i, w := range work {
				var lambda float64
				switch w {
				case atLower:
					lambda = grad[i]
				case atUpper:
					lambda = -grad[i]
				default:
					continue
				}
				if lambda < worstVal {
					worst, worstVal = i, lambda
				}
			}
			if worst < 0 {
				return finish(p, z, iter, tol), nil
			}
			work[worst] = free
			continue
		}

		alpha, block, side := 1.0, -1, free
		for i, d := range step {
			if work[i] != free || d == 0 {
				continue
			}
			var a float64
			if d < 0 {
				a = (p.lo(i) - z[i]) / d
			} else {
				a = (p.hi(i) - z[i]) / d
			}
			if a < alpha {
				alpha, block = a, i
				if d < 0 {
					side = atLower
				} else {
					side = atUpper
				}
			}
		}
		for i := range z {
			z[i] += alpha * step[i]
		}
		if block >= 0 {
			work[block] = side
			if side == atLower {
				z[block] = p.lo(block)
			} else {
				z[block] = p.hi(block)
			}
		}
		p.Project(z)
	}
	return finish(p, z, maxIter, tol), fmt.Errorf("%w: active set after %d iterations", ErrMaxIter, maxIter)
}

// freeStep returns the Newton step on the free variables with the working
// set held fixed. Fixed entries of the step are zero.
func (s *ActiveSet) freeStep(p *Problem, z []float64, work []bound) ([]float64, error) {
	var idx []int
	for i, w := range work {
		if w == free {
			idx = append(idx, i)
		}
	}
	step := make([]float64, len(z))
	if len(idx) == 0 {
		return step, nil
	}

	grad := p.Gradient(z)
	hff := mat.NewSymDense(len(idx), nil)
	rhs := mat.NewVecDense(len(idx), nil)
	for a, i := range idx {
		for b := a; b < len(idx); b++ {
			hff.SetSym(a, b, p.H.At(i, idx[b]))
		}
		rhs.SetVec(a, -grad[i])
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(hff); !ok {
		return nil, ErrNotConvex
	}
	var d mat.VecDense
	if err := chol.SolveVecTo(&d, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConvex, err)
	}
	for a, i := range idx {
		step[i] = d.AtVec(a)
	}
	return step, nil
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
