package allocation

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Thruster is a force actuator at lever arm (X, Y) in the body frame that
// can push in any planar direction.
type Thruster struct {
	X, Y float64
}

type Geometry []Thruster

// DefaultGeometry is four thrusters on the corners of a 2×2 square.
func DefaultGeometry() Geometry {
	return Geometry{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
}

// Matrix returns the 3×2n configuration matrix mapping
// u = [u1x, u1y, …, unx, uny] to the generalized force [X, Y, N]. Thruster
// i contributes the columns [1, 0, −l_y]ᵀ and [0, 1, l_x]ᵀ.
func (g Geometry) Matrix() *mat.Dense {
	b := mat.NewDense(3, 2*len(g), nil)
	for i, t := range g {
		b.Set(0, 2*i, 1)
		b.Set(1, 2*i+1, 1)
		b.Set(2, 2*i, -t.Y)
		b.Set(2, 2*i+1, t.X)
	}
	return b
}

// Thrust is the force of one thruster in polar form. Azimuth is measured
// from the body x axis in radians.
type Thrust struct {
	Fx, Fy    float64
	Magnitude float64
	Azimuth   float64
}

// thrusts pairs u into per-thruster forces. A control vector that does not
// come from a Geometry (odd length) has no thruster view.
func thrusts(u []float64) []Thrust {
	if len(u)%2 != 0 {
		return nil
	}
	out := make([]Thrust, len(u)/2)
	for i := range out {
		fx, fy := u[2*i], u[2*i+1]
		out[i] = Thrust{
			Fx:        fx,
			Fy:        fy,
			Magnitude: math.Hypot(fx, fy),
			Azimuth:   math.Atan2(fy, fx),
		}
	}
	return out
}
