package physics

import (
	"github.com/san-kum/mpcsim/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultMass      = 20.0
	DefaultStiffness = 2.0
	DefaultDamping   = 4.0
)

// SpringMass is a chain of masses connected by linear springs and dampers,
// anchored to a wall on the left. The external force acts on the first mass.
// State layout is [x_0..x_{n-1}, v_0..v_{n-1}]; for a single mass [x, v].
type SpringMass struct {
	NumMasses int
	Masses    []float64
	Stiffness []float64 // n entries, or n+1 when the last mass is also anchored on the right
	Damping   []float64
}

// NewSpringMass returns the single mass-spring-damper m·ẍ = u − k·x − c·ẋ
// with m=20, k=2, c=4.
func NewSpringMass() *SpringMass {
	return NewSpring(DefaultMass, DefaultStiffness, DefaultDamping)
}

// NewLightSpring returns the m=1, k=0.3, c=0.1 variant.
func NewLightSpring() *SpringMass {
	return NewSpring(1, 0.3, 0.1)
}

func NewSpring(m, k, c float64) *SpringMass {
	return &SpringMass{
		NumMasses: 1,
		Masses:    []float64{m},
		Stiffness: []float64{k},
		Damping:   []float64{c},
	}
}

func NewSpringMassChain(n int) *SpringMass {
	masses := make([]float64, n)
	stiffness := make([]float64, n+1)
	damping := make([]float64, n)

	for i := 0; i < n; i++ {
		masses[i] = DefaultMass
		stiffness[i] = DefaultStiffness
		damping[i] = DefaultDamping
	}
	stiffness[n] = DefaultStiffness

	return &SpringMass{
		NumMasses: n,
		Masses:    masses,
		Stiffness: stiffness,
		Damping:   damping,
	}
}

func (s *SpringMass) StateDim() int   { return s.NumMasses * 2 }
func (s *SpringMass) ControlDim() int { return 1 }

func (s *SpringMass) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	n := s.NumMasses
	dx := make(dynamo.State, n*2)

	for i := 0; i < n; i++ {
		dx[i] = x[n+i]
	}

	extForce := 0.0
	if len(u) > 0 {
		extForce = u[0]
	}

	for i := 0; i < n; i++ {
		pos, vel := x[i], x[n+i]

		var forceLeft, forceRight float64
		if i == 0 {
			forceLeft = -s.Stiffness[0] * pos
		} else {
			forceLeft = -s.Stiffness[i] * (pos - x[i-1])
		}

		if i == n-1 {
			if len(s.Stiffness) > n {
				forceRight = -s.Stiffness[n] * pos
			}
		} else {
			forceRight = -s.Stiffness[i+1] * (pos - x[i+1])
		}

		totalForce := forceLeft + forceRight - s.Damping[i]*vel
		if i == 0 {
			totalForce += extForce
		}
		dx[n+i] = totalForce / s.Masses[i]
	}

	return dx
}

// Linearize returns the constant system matrices of the chain.
func (s *SpringMass) Linearize(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	n := s.NumMasses
	a := mat.NewDense(2*n, 2*n, nil)
	b := mat.NewDense(2*n, 1, nil)

	for i := 0; i < n; i++ {
		a.Set(i, n+i, 1)

		m := s.Masses[i]
		diag := -s.Stiffness[i]
		if i > 0 {
			a.Set(n+i, i-1, s.Stiffness[i]/m)
		}
		if i < n-1 {
			diag -= s.Stiffness[i+1]
			a.Set(n+i, i+1, s.Stiffness[i+1]/m)
		} else if len(s.Stiffness) > n {
			diag -= s.Stiffness[n]
		}
		a.Set(n+i, i, diag/m)
		a.Set(n+i, n+i, -s.Damping[i]/m)
	}
	b.Set(n, 0, 1/s.Masses[0])

	return a, b
}

func (s *SpringMass) Energy(x dynamo.State) float64 {
	n := s.NumMasses
	energy := 0.0

	for i := 0; i < n; i++ {
		v := x[n+i]
		energy += 0.5 * s.Masses[i] * v * v
	}

	for i := 0; i < n; i++ {
		pos := x[i]
		if i == 0 {
			energy += 0.5 * s.Stiffness[0] * pos * pos
		} else {
			stretch := pos - x[i-1]
			energy += 0.5 * s.Stiffness[i] * stretch * stretch
		}
	}

	if len(s.Stiffness) > n {
		energy += 0.5 * s.Stiffness[n] * x[n-1] * x[n-1]
	}

	return energy
}
