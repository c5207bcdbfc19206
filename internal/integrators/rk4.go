package integrators

var rk4Tableau = Tableau{
	Name: "rk4",
	A: [][]float64{
		{0, 0, 0, 0},
		{0.5, 0, 0, 0},
		{0, 0.5, 0, 0},
		{0, 0, 1, 0},
	},
	B: []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
	C: []float64{0, 0.5, 0.5, 1},
}

// NewRK4 returns the classical four-stage integrator with one step per interval.
func NewRK4() *ERK {
	return NewERK(rk4Tableau, 1)
}
