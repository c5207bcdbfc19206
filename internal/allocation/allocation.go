// Package allocation distributes a desired generalized force t_d = [X, Y, N]
// among redundant thrusters by solving
//
//	minimize   ½ uᵀ(w_u·I)u + ½ sᵀ(w_s·I)s
//	subject to B·u + s = t_d
//
// The slack s keeps the problem feasible when t_d is unreachable; a large
// slack weight makes B·u ≈ t_d whenever possible.
package allocation

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/linalg"
	"github.com/san-kum/mpcsim/internal/qp"
	"gonum.org/v1/gonum/mat"
)

type Mode string

const (
	// ModeSoft solves the equality-constrained QP above. UMax is not
	// enforced; Result.Saturated reports when it is exceeded.
	ModeSoft Mode = "soft"
	// ModeHard additionally enforces |u_i| ≤ UMax.
	ModeHard Mode = "hard"
)

type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusInaccurate Status = "optimal_inaccurate"
)

const (
	DefaultUMax        = 50.0
	DefaultWeightU     = 1.0
	DefaultWeightSlack = 10000.0
)

type Options struct {
	UMax        float64
	WeightU     float64
	WeightSlack float64
	Mode        Mode
	// QP solves the hard-mode problem. Defaults to the active-set backend.
	QP qp.Solver
}

func DefaultOptions() Options {
	return Options{
		UMax:        DefaultUMax,
		WeightU:     DefaultWeightU,
		WeightSlack: DefaultWeightSlack,
		Mode:        ModeSoft,
	}
}

type Result struct {
	U         []float64
	S         []float64
	Status    Status
	Achieved  []float64 // B·u
	// Thrusters is nil when B has an odd number of columns.
	Thrusters []Thrust
	// Saturated is true when any component reaches or exceeds UMax.
	Saturated bool
	Objective float64
}

// Allocator holds a validated allocation problem. It is immutable and safe
// for concurrent use.
type Allocator struct {
	b    *mat.Dense
	opts Options
	p    *mat.SymDense
	a    *mat.Dense
	h    *mat.SymDense
}

func New(b mat.Matrix, opts Options) (*Allocator, error) {
	rows, nu := b.Dims()
	if rows != 3 {
		return nil, dynamo.Malformed("configuration matrix has %d rows, want 3", rows)
	}
	if r := linalg.Rank(b); r != 3 {
		return nil, dynamo.Malformed("configuration matrix has rank %d, want 3", r)
	}
	if !(opts.WeightU > 0) || !(opts.WeightSlack > 0) {
		return nil, dynamo.Malformed("weights must be positive, got control %g and slack %g", opts.WeightU, opts.WeightSlack)
	}
	if opts.WeightSlack <= opts.WeightU {
		return nil, dynamo.Malformed("slack weight %g must exceed control weight %g", opts.WeightSlack, opts.WeightU)
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeSoft
	case ModeSoft, ModeHard:
	default:
		return nil, dynamo.Malformed("unknown allocation mode %q", opts.Mode)
	}
	if opts.Mode == ModeHard && !(opts.UMax > 0) {
		return nil, dynamo.Malformed("hard mode needs a positive u_max, got %g", opts.UMax)
	}
	if opts.QP == nil {
		opts.QP = qp.NewActiveSet()
	}

	bd := mat.DenseCopyOf(b)
	n := nu + 3
	p := mat.NewSymDense(n, nil)
	for i := 0; i < nu; i++ {
		p.SetSym(i, i, opts.WeightU)
	}
	for i := nu; i < n; i++ {
		p.SetSym(i, i, opts.WeightSlack)
	}

	// Hard mode eliminates s = t_d − B·u: H = w_u·I + w_s·BᵀB.
	h := mat.NewSymDense(nu, nil)
	h.SymOuterK(opts.WeightSlack, bd.T())
	for i := 0; i < nu; i++ {
		h.SetSym(i, i, h.At(i, i)+opts.WeightU)
	}

	return &Allocator{
		b:    bd,
		opts: opts,
		p:    p,
		a:    linalg.HStack(bd, linalg.Eye(3)),
		h:    h,
	}, nil
}

// NewFromGeometry builds the configuration matrix from thruster positions.
func NewFromGeometry(g Geometry, opts Options) (*Allocator, error) {
	if len(g) == 0 {
		return nil, dynamo.Malformed("no thrusters")
	}
	return New(g.Matrix(), opts)
}

func (a *Allocator) Mode() Mode         { return a.opts.Mode }
func (a *Allocator) Matrix() *mat.Dense { return mat.DenseCopyOf(a.b) }

func (a *Allocator) Allocate(td []float64) (*Result, error) {
	if len(td) != 3 {
		return nil, fmt.Errorf("%w: desired force has %d entries, want 3", dynamo.ErrDimensionMismatch, len(td))
	}
	if !dynamo.State(td).IsValid() {
		return nil, dynamo.ErrInvalidState
	}

	var (
		u      []float64
		status = StatusOptimal
	)
	switch a.opts.Mode {
	case ModeHard:
		var err error
		u, status, err = a.solveHard(td)
		if err != nil {
			return nil, err
		}
	default:
		z, _, err := qp.SolveEquality(a.p, nil, a.a, td)
		if err != nil {
			return nil, fmt.Errorf("allocation: %w", err)
		}
		_, nu := a.b.Dims()
		u = z[:nu]
	}
	return a.result(td, u, status), nil
}

func (a *Allocator) solveHard(td []float64) ([]float64, Status, error) {
	_, nu := a.b.Dims()
	var btd mat.VecDense
	btd.MulVec(a.b.T(), mat.NewVecDense(3, td))
	g := make([]float64, nu)
	lo := make([]float64, nu)
	hi := make([]float64, nu)
	for i := range g {
		g[i] = -a.opts.WeightSlack * btd.AtVec(i)
		lo[i], hi[i] = -a.opts.UMax, a.opts.UMax
	}
	res, err := a.opts.QP.Solve(&qp.Problem{H: a.h, G: g, Lower: lo, Upper: hi}, nil)
	switch {
	case err == nil:
		return res.Z, StatusOptimal, nil
	case res != nil && isMaxIter(err):
		return res.Z, StatusInaccurate, nil
	}
	return nil, "", fmt.Errorf("allocation: %w", err)
}

func isMaxIter(err error) bool {
	return err != nil && errors.Is(err, qp.ErrMaxIter)
}

func (a *Allocator) result(td, u []float64, status Status) *Result {
	var bu mat.VecDense
	bu.MulVec(a.b, mat.NewVecDense(len(u), u))
	achieved := append([]float64(nil), bu.RawVector().Data...)

	s := make([]float64, 3)
	obj := 0.0
	for i := range s {
		s[i] = td[i] - achieved[i]
		obj += 0.5 * a.opts.WeightSlack * s[i] * s[i]
	}
	saturated := false
	for _, v := range u {
		obj += 0.5 * a.opts.WeightU * v * v
		if a.opts.UMax > 0 && math.Abs(v) >= a.opts.UMax-1e-9 {
			saturated = true
		}
	}
	return &Result{
		U:         append([]float64(nil), u...),
		S:         s,
		Status:    status,
		Achieved:  achieved,
		Thrusters: thrusts(u),
		Saturated: saturated,
		Objective: obj,
	}
}
