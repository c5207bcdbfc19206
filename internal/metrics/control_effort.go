package metrics

import (
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

// ControlEffort is the mean of Σ|u_i| over the applied controls.
type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	for _, val := range u {
		c.sum += math.Abs(val)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// Saturation is the fraction of samples where some control component sits
// on its bound.
type Saturation struct {
	name      string
	lower     dynamo.Control
	upper     dynamo.Control
	tol       float64
	saturated int
	samples   int
}

func NewSaturation(lower, upper dynamo.Control) *Saturation {
	return &Saturation{
		name:  "saturation",
		lower: lower.Clone(),
		upper: upper.Clone(),
		tol:   1e-6,
	}
}

func (s *Saturation) Name() string { return s.name }

func (s *Saturation) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	for i, val := range u {
		if i >= len(s.lower) || i >= len(s.upper) {
			break
		}
		scale := s.tol * (1 + math.Max(math.Abs(s.lower[i]), math.Abs(s.upper[i])))
		if val <= s.lower[i]+scale || val >= s.upper[i]-scale {
			s.saturated++
			return
		}
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.saturated) / float64(s.samples)
}

func (s *Saturation) Reset() {
	s.saturated = 0
	s.samples = 0
}
