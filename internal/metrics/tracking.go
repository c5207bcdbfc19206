package metrics

import (
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

// TrackingError is the RMS distance between the state and a reference
// over the first len(ref) state components.
type TrackingError struct {
	name    string
	ref     []float64
	sumSq   float64
	samples int
}

func NewTrackingError(ref []float64) *TrackingError {
	return &TrackingError{
		name: "tracking_error",
		ref:  append([]float64(nil), ref...),
	}
}

func (e *TrackingError) Name() string { return e.name }

func (e *TrackingError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	for i, r := range e.ref {
		if i >= len(x) {
			break
		}
		d := x[i] - r
		e.sumSq += d * d
	}
	e.samples++
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.samples = 0
}
