package integrators

var eulerTableau = Tableau{
	Name: "euler",
	A:    [][]float64{{0}},
	B:    []float64{1},
	C:    []float64{0},
}

// NewEuler returns a single-stage, single-step forward Euler integrator.
func NewEuler() *ERK {
	return NewERK(eulerTableau, 1)
}
