package physics

import (
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// Vessel is a 3-DOF surface-vessel model with diagonal inertia and linear
// damping:
//
//	η̇ = J(ψ)·ν
//	ν̇ = M⁻¹·(τ − D·ν)
//
// State is [x, y, ψ, u, v, r] (NED pose, body velocities), control is the
// generalized force τ = [τ_u, τ_v, τ_r].
type Vessel struct {
	Inertia [3]float64 // m11, m22, m33
	Damping [3]float64 // Xu, Yv, Nr
}

func NewVessel() *Vessel {
	return &Vessel{
		Inertia: [3]float64{50.05, 84.36, 17.21},
		Damping: [3]float64{151.57, 132.5, 34.5},
	}
}

func (v *Vessel) StateDim() int   { return 6 }
func (v *Vessel) ControlDim() int { return 3 }

func (v *Vessel) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	j := linalg.Yaw(x[2])
	dx := make(dynamo.State, 6)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			dx[i] += j.At(i, k) * x[3+k]
		}
	}
	for i := 0; i < 3; i++ {
		tau := 0.0
		if i < len(u) {
			tau = u[i]
		}
		dx[3+i] = (tau - v.Damping[i]*x[3+i]) / v.Inertia[i]
	}
	return dx
}

func (v *Vessel) Linearize(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	a := mat.NewDense(6, 6, nil)
	b := mat.NewDense(6, 3, nil)

	j := linalg.Yaw(x[2])
	dj := linalg.YawDerivative(x[2])
	for i := 0; i < 3; i++ {
		dpsi := 0.0
		for k := 0; k < 3; k++ {
			a.Set(i, 3+k, j.At(i, k))
			dpsi += dj.At(i, k) * x[3+k]
		}
		a.Set(i, 2, dpsi)
	}
	for i := 0; i < 3; i++ {
		a.Set(3+i, 3+i, -v.Damping[i]/v.Inertia[i])
		b.Set(3+i, i, 1/v.Inertia[i])
	}
	return a, b
}

// Energy returns the kinetic energy ½νᵀMν.
func (v *Vessel) Energy(x dynamo.State) float64 {
	e := 0.0
	for i := 0; i < 3; i++ {
		e += 0.5 * v.Inertia[i] * x[3+i] * x[3+i]
	}
	return e
}
