package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxKKTCond is the largest KKT condition number SolveEquality accepts.
const maxKKTCond = 1e14

// SolveEquality minimizes ½ zᵀPz + qᵀz subject to Az = b by solving the KKT
// system
//
//	[P  Aᵀ] [z]   [-q]
//	[A  0 ] [λ] = [ b]
//
// with an LU factorization. q may be nil. It returns the primal solution and
// the equality multipliers.
func SolveEquality(p mat.Symmetric, q []float64, a mat.Matrix, b []float64) (z, lambda []float64, err error) {
	n := p.SymmetricDim()
	m, c := a.Dims()
	if c != n {
		return nil, nil, fmt.Errorf("qp: constraint matrix has %d columns, hessian is %dx%d", c, n, n)
	}
	if len(b) != m {
		return nil, nil, fmt.Errorf("qp: %d right-hand sides for %d constraints", len(b), m)
	}
	if q != nil && len(q) != n {
		return nil, nil, fmt.Errorf("qp: linear term has %d entries, want %d", len(q), n)
	}

	kkt := mat.NewDense(n+m, n+m, nil)
	kkt.Slice(0, n, 0, n).(*mat.Dense).Copy(p)
	kkt.Slice(n, n+m, 0, n).(*mat.Dense).Copy(a)
	kkt.Slice(0, n, n, n+m).(*mat.Dense).Copy(a.T())

	rhs := mat.NewVecDense(n+m, nil)
	for i := 0; i < n && q != nil; i++ {
		rhs.SetVec(i, -q[i])
	}
	for i := 0; i < m; i++ {
		rhs.SetVec(n+i, b[i])
	}

	var lu mat.LU
	lu.Factorize(kkt)
	if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) || c > maxKKTCond {
		return nil, nil, fmt.Errorf("%w: condition number %g", ErrSingularKKT, c)
	}
	var sol mat.VecDense
	if err := lu.SolveVecTo(&sol, false, rhs); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingularKKT, err)
	}

	raw := sol.RawVector().Data
	z = append([]float64(nil), raw[:n]...)
	lambda = append([]float64(nil), raw[n:]...)
	return z, lambda, nil
}
