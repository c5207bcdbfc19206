package metrics

import (
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

// Stability is the fraction of samples whose watched state components stay
// inside |x_i| ≤ threshold. With no indices every component is watched.
type Stability struct {
	name       string
	threshold  float64
	indices    []int
	violations int
	samples    int
	firstExit  float64
}

func NewStability(threshold float64, indices ...int) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
		indices:   indices,
		firstExit: math.Inf(1),
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	if s.inside(x) {
		return
	}
	s.violations++
	s.firstExit = math.Min(s.firstExit, t)
}

func (s *Stability) inside(x dynamo.State) bool {
	if len(s.indices) == 0 {
		for _, val := range x {
			if math.Abs(val) > s.threshold {
				return false
			}
		}
		return true
	}
	for _, i := range s.indices {
		if i < len(x) && math.Abs(x[i]) > s.threshold {
			return false
		}
	}
	return true
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

// FirstExit is the earliest time the state left the envelope, or +Inf.
func (s *Stability) FirstExit() float64 { return s.firstExit }

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
	s.firstExit = math.Inf(1)
}
