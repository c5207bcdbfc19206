package control

import (
	"context"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
)

// Constant applies the same input at every step regardless of the state.
type Constant struct {
	U dynamo.Control
}

func NewConstant(u dynamo.Control) *Constant {
	return &Constant{U: u.Clone()}
}

// NewNone returns the zero input for a plant with dim controls.
func NewNone(dim int) *Constant {
	return &Constant{U: make(dynamo.Control, dim)}
}

func (c *Constant) Solve(ctx context.Context, x0 dynamo.State, warm *nlp.Solution) (*nlp.Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &nlp.Solution{
		Status: nlp.StatusSuccess,
		U:      []dynamo.Control{c.U.Clone()},
		X:      []dynamo.State{x0.Clone()},
	}, nil
}
