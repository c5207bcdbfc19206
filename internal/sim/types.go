package sim

import (
	"fmt"
	"time"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
)

// Phase is the position of the loop within one sample period.
type Phase int

const (
	Idle Phase = iota
	Solving
	Applying
	Advanced
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Solving:
		return "solving"
	case Applying:
		return "applying"
	case Advanced:
		return "advanced"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// StepStats records the solve that produced one applied control.
type StepStats struct {
	Status     nlp.Status
	Iterations int
	Cost       float64
	Elapsed    time.Duration
}

// Result holds the closed-loop trajectory. States and Times have one more
// entry than Controls and Steps.
type Result struct {
	States   []dynamo.State
	Controls []dynamo.Control
	Times    []float64
	Steps    []StepStats
	Metrics  map[string]float64

	// EnergyDrift is |E_N − E_0|/|E_0| for plants that report energy.
	EnergyDrift float64
	SolveTime   time.Duration
}

func (r *Result) Final() dynamo.State {
	return r.States[len(r.States)-1]
}

// MaxIterations returns the largest iteration count of any solve.
func (r *Result) MaxIterations() int {
	m := 0
	for _, s := range r.Steps {
		m = max(m, s.Iterations)
	}
	return m
}
