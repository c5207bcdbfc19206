package integrators

import (
	"github.com/san-kum/mpcsim/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Jacobians returns ∂f/∂x and ∂f/∂u at (x, u, t). Plants implementing
// dynamo.Linearizer supply them analytically, others are differenced with a
// central formula. The second result is nil when the plant has no inputs.
func Jacobians(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	if lin, ok := dyn.(dynamo.Linearizer); ok {
		return lin.Linearize(x, u, t)
	}

	nx, nu := dyn.StateDim(), dyn.ControlDim()
	settings := &fd.JacobianSettings{Formula: fd.Central}

	a := mat.NewDense(nx, nx, nil)
	fd.Jacobian(a, func(y, xx []float64) {
		copy(y, dyn.Derive(xx, u, t))
	}, x, settings)

	if nu == 0 {
		return a, nil
	}
	b := mat.NewDense(nx, nu, nil)
	fd.Jacobian(b, func(y, uu []float64) {
		copy(y, dyn.Derive(x, uu, t))
	}, u, settings)
	return a, b
}

// stageJacobian writes [∂f/∂x | ∂f/∂u] into an nx×(nx+nu) matrix.
func stageJacobian(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64) *mat.Dense {
	nx, nu := dyn.StateDim(), dyn.ControlDim()
	a, b := Jacobians(dyn, x, u, t)
	j := mat.NewDense(nx, nx+nu, nil)
	j.Slice(0, nx, 0, nx).(*mat.Dense).Copy(a)
	if b != nil {
		j.Slice(0, nx, nx, nx+nu).(*mat.Dense).Copy(b)
	}
	return j
}

// splitSensitivity splits a combined nx×(nx+nu) sensitivity.
func splitSensitivity(s *mat.Dense, nx, nu int) *dynamo.Sensitivity {
	sens := &dynamo.Sensitivity{X: mat.DenseCopyOf(s.Slice(0, nx, 0, nx))}
	if nu > 0 {
		sens.U = mat.DenseCopyOf(s.Slice(0, nx, nx, nx+nu))
	}
	return sens
}

// seedSensitivity returns [I | 0].
func seedSensitivity(nx, nu int) *mat.Dense {
	s := mat.NewDense(nx, nx+nu, nil)
	for i := 0; i < nx; i++ {
		s.Set(i, i, 1)
	}
	return s
}

// chain composes the running sensitivity s (w.r.t. the interval start) with
// the Jacobian phi of one substep: s ← Φx·s + [0 | Φu].
func chain(s, phi *mat.Dense, nx, nu int) *mat.Dense {
	var out mat.Dense
	out.Mul(phi.Slice(0, nx, 0, nx), s)
	if nu > 0 {
		uBlock := out.Slice(0, nx, nx, nx+nu).(*mat.Dense)
		uBlock.Add(uBlock, phi.Slice(0, nx, nx, nx+nu))
	}
	return &out
}
