package nlp

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/mpcsim/internal/dynamo"
)

// Status is the solver return code. The numeric values are stable and are
// written to stored trajectories.
type Status int

const (
	StatusSuccess   Status = 0
	StatusFailure   Status = 1
	StatusMaxIter   Status = 2
	StatusMinStep   Status = 3
	StatusQPFailure Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusMaxIter:
		return "max_iter"
	case StatusMinStep:
		return "min_step"
	case StatusQPFailure:
		return "qp_failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Solution is the result of one solve. U holds N controls and X the N+1
// predicted states starting at x0.
type Solution struct {
	Status     Status
	U          []dynamo.Control
	X          []dynamo.State
	Cost       float64
	Iterations int
	Elapsed    time.Duration
}

// First returns the control to apply now.
func (s *Solution) First() dynamo.Control {
	if len(s.U) == 0 {
		return nil
	}
	return s.U[0].Clone()
}

// Shift drops the first stage and repeats the last one, giving a guess
// for the next sample instant. The receiver is not modified.
func (s *Solution) Shift() *Solution {
	out := &Solution{Status: s.Status, Cost: s.Cost}
	if n := len(s.U); n > 0 {
		out.U = make([]dynamo.Control, n)
		for k := 0; k < n-1; k++ {
			out.U[k] = s.U[k+1].Clone()
		}
		out.U[n-1] = s.U[n-1].Clone()
	}
	if n := len(s.X); n > 0 {
		out.X = make([]dynamo.State, n)
		for k := 0; k < n-1; k++ {
			out.X[k] = s.X[k+1].Clone()
		}
		out.X[n-1] = s.X[n-1].Clone()
	}
	return out
}

// StatusError reports a solve that ended with a nonzero status. Err is
// dynamo.ErrInfeasible unless a more specific cause is known.
type StatusError struct {
	Status     Status
	Iterations int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nlp: solver returned status %d (%s) after %d iterations: %v", int(e.Status), e.Status, e.Iterations, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Solver computes an optimal control sequence from the current state.
// Implementations hold no state between calls; warm may be nil.
type Solver interface {
	Solve(ctx context.Context, x0 dynamo.State, warm *Solution) (*Solution, error)
}
