package ocp

import (
	"github.com/san-kum/mpcsim/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// LinearLS builds the state/control selection cost
//
//	Vx = [I; 0], Vu = [0; I], W = blockdiag(Q, R), Vx_e = I, W_e = Qe
//
// with y = [x; u]. yref has nx+nu entries and yrefE nx; either may be nil.
func LinearLS(q, r, qe mat.Matrix, yref, yrefE []float64) Cost {
	nx, _ := q.Dims()
	nu, _ := r.Dims()
	return Cost{
		Vx:    linalg.VStack(linalg.Eye(nx), linalg.Zeros(nu, nx)),
		Vu:    linalg.VStack(linalg.Zeros(nx, nu), linalg.Eye(nu)),
		W:     linalg.BlockDiag(q, r),
		Yref:  yref,
		VxE:   linalg.Eye(nx),
		WE:    qe,
		YrefE: yrefE,
	}
}

// Scaled returns c with W and W_e multiplied by scale and scaleE. A nil
// weight stays nil.
func (c Cost) Scaled(scale, scaleE float64) Cost {
	out := c
	if c.W != nil {
		var w mat.Dense
		w.Scale(scale, c.W)
		out.W = &w
	}
	if c.WE != nil {
		var we mat.Dense
		we.Scale(scaleE, c.WE)
		out.WE = &we
	}
	return out
}
