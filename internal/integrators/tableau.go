package integrators

import (
	"fmt"
	"math"
)

// Tableau is a Butcher tableau. A is s×s, B and C have s entries.
type Tableau struct {
	Name string
	A    [][]float64
	B    []float64
	C    []float64
}

func (t Tableau) Stages() int { return len(t.B) }

// Explicit reports whether A is strictly lower triangular.
func (t Tableau) Explicit() bool {
	for i := range t.A {
		for j := i; j < len(t.A[i]); j++ {
			if t.A[i][j] != 0 {
				return false
			}
		}
	}
	return true
}

// Collocation families for implicit Runge-Kutta schemes.
const (
	GaussRadauIIA = "GAUSS_RADAU_IIA"
	GaussLegendre = "GAUSS_LEGENDRE"
)

// ExplicitTableau returns the classical explicit scheme with the given number
// of stages: 1 (forward Euler), 2 (explicit midpoint), 3 (Kutta's third
// order) or 4 (RK4).
func ExplicitTableau(stages int) (Tableau, error) {
	switch stages {
	case 1:
		return eulerTableau, nil
	case 2:
		return Tableau{
			Name: "midpoint",
			A:    [][]float64{{0, 0}, {0.5, 0}},
			B:    []float64{0, 1},
			C:    []float64{0, 0.5},
		}, nil
	case 3:
		return Tableau{
			Name: "rk3",
			A:    [][]float64{{0, 0, 0}, {0.5, 0, 0}, {-1, 2, 0}},
			B:    []float64{1.0 / 6, 2.0 / 3, 1.0 / 6},
			C:    []float64{0, 0.5, 1},
		}, nil
	case 4:
		return rk4Tableau, nil
	}
	return Tableau{}, fmt.Errorf("integrators: no explicit scheme with %d stages (want 1 to 4)", stages)
}

// CollocationTableau returns the collocation scheme of the given family and
// stage count. Gauss-Radau IIA supports 1..3 stages, Gauss-Legendre 1..2.
func CollocationTableau(kind string, stages int) (Tableau, error) {
	switch kind {
	case GaussRadauIIA, "":
		switch stages {
		case 1:
			return Tableau{Name: "radau1", A: [][]float64{{1}}, B: []float64{1}, C: []float64{1}}, nil
		case 2:
			return Tableau{
				Name: "radau3",
				A:    [][]float64{{5.0 / 12, -1.0 / 12}, {3.0 / 4, 1.0 / 4}},
				B:    []float64{3.0 / 4, 1.0 / 4},
				C:    []float64{1.0 / 3, 1},
			}, nil
		case 3:
			s6 := math.Sqrt(6)
			return Tableau{
				Name: "radau5",
				A: [][]float64{
					{(88 - 7*s6) / 360, (296 - 169*s6) / 1800, (-2 + 3*s6) / 225},
					{(296 + 169*s6) / 1800, (88 + 7*s6) / 360, (-2 - 3*s6) / 225},
					{(16 - s6) / 36, (16 + s6) / 36, 1.0 / 9},
				},
				B: []float64{(16 - s6) / 36, (16 + s6) / 36, 1.0 / 9},
				C: []float64{(4 - s6) / 10, (4 + s6) / 10, 1},
			}, nil
		}
	case GaussLegendre:
		switch stages {
		case 1:
			return Tableau{Name: "gauss2", A: [][]float64{{0.5}}, B: []float64{1}, C: []float64{0.5}}, nil
		case 2:
			s3 := math.Sqrt(3)
			return Tableau{
				Name: "gauss4",
				A:    [][]float64{{0.25, 0.25 - s3/6}, {0.25 + s3/6, 0.25}},
				B:    []float64{0.5, 0.5},
				C:    []float64{0.5 - s3/6, 0.5 + s3/6},
			}, nil
		}
	default:
		return Tableau{}, fmt.Errorf("integrators: unknown collocation type %q", kind)
	}
	return Tableau{}, fmt.Errorf("integrators: %s does not support %d stages", kind, stages)
}
