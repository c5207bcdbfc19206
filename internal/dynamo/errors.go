package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for closed-loop simulation and optimization.
var (
	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrMalformedFormulation indicates a problem description that cannot be
	// solved: non-conforming matrices, indefinite weights, lbu > ubu, or a
	// rank-deficient allocation matrix. It is always raised before any solve.
	ErrMalformedFormulation = errors.New("dynamo: malformed formulation")

	// ErrInfeasible indicates the optimizer returned a nonzero status.
	ErrInfeasible = errors.New("dynamo: optimization infeasible or not converged")

	// ErrIntegratorDivergence indicates an implicit scheme exhausted its
	// Newton budget without converging.
	ErrIntegratorDivergence = errors.New("dynamo: implicit integrator did not converge")

	// ErrSolveTimeout indicates a solve exceeded its wall-clock budget.
	ErrSolveTimeout = errors.New("dynamo: solve exceeded time budget")
)

// SimulationError wraps an error with closed-loop context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// Malformed returns an error wrapping ErrMalformedFormulation.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFormulation, fmt.Sprintf(format, args...))
}
