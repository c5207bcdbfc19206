// Package linalg holds pure constructors for the dense matrices used by the
// plant models, the OCP formulation and the allocation problem, along with
// the structural checks the formulations validate against.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Eye returns the n×n identity.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Zeros returns an r×c zero matrix.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Diag returns a dense square matrix with d on its diagonal.
func Diag(d ...float64) *mat.Dense {
	m := mat.NewDense(len(d), len(d), nil)
	for i, v := range d {
		m.Set(i, i, v)
	}
	return m
}

// ScaledEye returns s·I of size n.
func ScaledEye(n int, s float64) *mat.Dense {
	m := Eye(n)
	m.Scale(s, m)
	return m
}

// BlockDiag stacks the given matrices along the diagonal.
func BlockDiag(blocks ...mat.Matrix) *mat.Dense {
	rows, cols := 0, 0
	for _, b := range blocks {
		r, c := b.Dims()
		rows += r
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	ro, co := 0, 0
	for _, b := range blocks {
		r, c := b.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(ro+i, co+j, b.At(i, j))
			}
		}
		ro += r
		co += c
	}
	return out
}

// HStack concatenates matrices with equal row count side by side.
func HStack(blocks ...mat.Matrix) *mat.Dense {
	rows, cols := blocks[0].Dims()
	for _, b := range blocks[1:] {
		_, c := b.Dims()
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	co := 0
	for _, b := range blocks {
		r, c := b.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, co+j, b.At(i, j))
			}
		}
		co += c
	}
	return out
}

// VStack concatenates matrices with equal column count on top of each other.
func VStack(blocks ...mat.Matrix) *mat.Dense {
	rows, cols := blocks[0].Dims()
	for _, b := range blocks[1:] {
		r, _ := b.Dims()
		rows += r
	}
	out := mat.NewDense(rows, cols, nil)
	ro := 0
	for _, b := range blocks {
		r, c := b.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(ro+i, j, b.At(i, j))
			}
		}
		ro += r
	}
	return out
}

// Yaw returns the planar body-to-inertial rotation J(ψ) for 3-DOF vessels.
func Yaw(psi float64) *mat.Dense {
	s, c := math.Sincos(psi)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// YawDerivative returns dJ/dψ.
func YawDerivative(psi float64) *mat.Dense {
	s, c := math.Sincos(psi)
	return mat.NewDense(3, 3, []float64{
		-s, -c, 0,
		c, -s, 0,
		0, 0, 0,
	})
}

// SymmetryTol is the absolute tolerance used by IsSymmetric and IsPSD.
const SymmetryTol = 1e-9

// IsSymmetric reports whether m is square and symmetric within SymmetryTol
// (scaled by the largest entry).
func IsSymmetric(m mat.Matrix) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}
	scale := math.Max(1, mat.Norm(m, math.Inf(1)))
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > SymmetryTol*scale {
				return false
			}
		}
	}
	return true
}

// IsPSD reports whether m is symmetric positive semi-definite.
func IsPSD(m mat.Matrix) bool {
	if !IsSymmetric(m) {
		return false
	}
	n, _ := m.Dims()
	if n == 0 {
		return true
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(sym, false) {
		return false
	}
	scale := math.Max(1, mat.Norm(m, math.Inf(1)))
	for _, v := range es.Values(nil) {
		if v < -SymmetryTol*scale {
			return false
		}
	}
	return true
}

// Rank returns the numerical rank of m from its singular values.
func Rank(m mat.Matrix) int {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return 0
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return 0
	}
	vals := svd.Values(nil)
	if len(vals) == 0 {
		return 0
	}
	tol := float64(max(r, c)) * vals[0] * 1e-12
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}

// Row returns a copy of row i of m.
func Row(m mat.Matrix, i int) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for j := range out {
		out[j] = m.At(i, j)
	}
	return out
}
