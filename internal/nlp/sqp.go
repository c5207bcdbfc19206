// Package nlp solves the optimal control problems described by package ocp
// with a Gauss-Newton SQP method over single shooting. The dynamics are
// eliminated, so every iteration is a dense box-QP in the control
// increments handed to a qp.Solver.
package nlp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/ocp"
	"github.com/san-kum/mpcsim/internal/qp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

type Mode string

const (
	ModeSQP Mode = "sqp"
	// ModeRTI performs a single SQP iteration per solve.
	ModeRTI Mode = "sqp_rti"
)

const (
	DefaultMaxIter = 50
	DefaultTol     = 1e-6

	armijoC   = 1e-4
	minAlpha  = 1e-8
	hessShift = 1e-12

	// stallTol bounds the predicted decrease, relative to the cost, below
	// which the iterate is stationary up to rounding.
	stallTol = 1e-12
	// noiseTol is the relative cost change indistinguishable from rounding
	// in the rollout.
	noiseTol = 1.5e-8
)

type Options struct {
	Mode    Mode
	MaxIter int
	Tol     float64
	QP      qp.Solver
	// SolveTimeout bounds the wall-clock time of one solve. It is checked
	// between iterations. Zero disables it.
	SolveTimeout time.Duration
	Logger       *zap.Logger
}

type SQP struct {
	spec *ocp.Spec
	opts Options
	log  *zap.Logger
}

func NewSQP(spec *ocp.Spec, opts Options) (*SQP, error) {
	if spec == nil {
		return nil, dynamo.Malformed("nil formulation")
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeSQP
	case ModeSQP, ModeRTI:
	default:
		return nil, fmt.Errorf("nlp: unknown solver mode %q", opts.Mode)
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultMaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultTol
	}
	if opts.QP == nil {
		opts.QP = qp.NewActiveSet()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &SQP{spec: spec, opts: opts, log: log}, nil
}

func (s *SQP) Spec() *ocp.Spec { return s.spec }

func (s *SQP) String() string {
	return fmt.Sprintf("%s(N=%d, Tf=%g)", s.opts.Mode, s.spec.N, s.spec.Tf)
}

// iterate is the linearization of the problem at one control sequence.
type iterate struct {
	u    []dynamo.Control
	x    []dynamo.State
	sens []*dynamo.Sensitivity
	cost float64
}

func (s *SQP) Solve(ctx context.Context, x0 dynamo.State, warm *Solution) (*Solution, error) {
	start := time.Now()
	spec := s.spec
	if err := dynamo.CheckDims(spec.Plant, x0, make(dynamo.Control, spec.ControlDim())); err != nil {
		return nil, err
	}
	if !x0.IsValid() {
		return nil, dynamo.ErrInvalidState
	}

	if s.opts.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, s.opts.SolveTimeout, dynamo.ErrSolveTimeout)
		defer cancel()
	}

	it, err := s.linearize(x0, s.initialGuess(warm))
	if err != nil {
		return nil, s.fail(StatusFailure, 0, err)
	}

	maxIter := s.opts.MaxIter
	if s.opts.Mode == ModeRTI {
		maxIter = 1
	}

	status := StatusMaxIter
	iters := 0
	for iters < maxIter {
		if err := ctx.Err(); err != nil {
			if cause := context.Cause(ctx); errors.Is(cause, dynamo.ErrSolveTimeout) {
				return nil, fmt.Errorf("%w after %d iterations (%v)", dynamo.ErrSolveTimeout, iters, s.opts.SolveTimeout)
			}
			return nil, err
		}
		iters++

		prob := s.condense(it)
		res, err := s.opts.QP.Solve(prob, nil)
		if err != nil {
			return nil, s.fail(StatusQPFailure, iters, fmt.Errorf("%w: %v", dynamo.ErrInfeasible, err))
		}
		du := res.Z

		stepNorm := infNorm(du)
		slope := mat.Dot(mat.NewVecDense(len(du), prob.G), mat.NewVecDense(len(du), du))
		if stepNorm <= s.opts.Tol*(1+controlNorm(it.u)) || -slope <= stallTol*(1+math.Abs(it.cost)) {
			status = StatusSuccess
			break
		}

		next, alpha, best, err := s.lineSearch(x0, it, du, slope)
		if err != nil {
			return nil, s.fail(StatusFailure, iters, err)
		}
		if next == nil {
			status = StatusMinStep
			if s.opts.Mode == ModeRTI || s.stalled(it.cost, best, slope) {
				// The linearization point stays usable.
				status = StatusSuccess
			}
			s.log.Debug("sqp line search stalled",
				zap.Int("iter", iters),
				zap.Float64("cost", it.cost),
				zap.Float64("best", best),
				zap.Float64("slope", slope),
				zap.Stringer("status", status))
			break
		}
		s.log.Debug("sqp iteration",
			zap.Int("iter", iters),
			zap.Float64("cost", next.cost),
			zap.Float64("step", stepNorm),
			zap.Float64("alpha", alpha))
		it = next

		if s.opts.Mode == ModeRTI {
			status = StatusSuccess
		}
	}

	sol := &Solution{
		Status:     status,
		U:          it.u,
		X:          it.x,
		Cost:       it.cost,
		Iterations: iters,
		Elapsed:    time.Since(start),
	}
	if status != StatusSuccess {
		return nil, s.fail(status, iters, dynamo.ErrInfeasible)
	}
	return sol, nil
}

func (s *SQP) fail(status Status, iters int, err error) error {
	if !errors.Is(err, dynamo.ErrInfeasible) && !errors.Is(err, dynamo.ErrIntegratorDivergence) {
		err = fmt.Errorf("%w: %v", dynamo.ErrInfeasible, err)
	}
	return &StatusError{Status: status, Iterations: iters, Err: err}
}

// initialGuess shifts the previous solution by one stage, or starts from
// zero, and projects the result onto the bounds.
func (s *SQP) initialGuess(warm *Solution) []dynamo.Control {
	spec := s.spec
	nu := spec.ControlDim()
	us := make([]dynamo.Control, spec.N)
	var shifted *Solution
	if warm != nil && len(warm.U) == spec.N {
		shifted = warm.Shift()
	}
	for k := range us {
		if shifted != nil && len(shifted.U[k]) == nu {
			us[k] = spec.Bounds.Clamp(shifted.U[k])
		} else {
			us[k] = spec.Bounds.Clamp(make(dynamo.Control, nu))
		}
	}
	return us
}

func (s *SQP) linearize(x0 dynamo.State, us []dynamo.Control) (*iterate, error) {
	spec := s.spec
	dt := spec.Dt()
	it := &iterate{
		u:    us,
		x:    make([]dynamo.State, spec.N+1),
		sens: make([]*dynamo.Sensitivity, spec.N),
	}
	it.x[0] = x0.Clone()
	for k := 0; k < spec.N; k++ {
		next, sens, err := spec.Integrator.StepWithSensitivity(spec.Plant, it.x[k], us[k], float64(k)*dt, dt)
		if err != nil {
			return nil, fmt.Errorf("shooting interval %d: %w", k, err)
		}
		it.x[k+1] = next
		it.sens[k] = sens
	}
	it.cost = spec.TrajectoryCost(it.x, it.u)
	if math.IsNaN(it.cost) || math.IsInf(it.cost, 0) {
		return nil, dynamo.ErrInvalidState
	}
	return it, nil
}

// condense builds the Gauss-Newton QP in δU = [δu_0; …; δu_{N-1}].
// With δx_k = Γ_k·δU, the residual Jacobians are J_k = Vx·Γ_k + Vu·E_k and
// J_N = Vx_e·Γ_N, giving H = Σ J_kᵀ W J_k and g = Σ J_kᵀ W r_k.
func (s *SQP) condense(it *iterate) *qp.Problem {
	spec := s.spec
	n, nx, nu := spec.N, spec.StateDim(), spec.ControlDim()
	nz := n * nu
	ny, _ := spec.Vx.Dims()

	h := mat.NewDense(nz, nz, nil)
	g := mat.NewVecDense(nz, nil)
	gamma := mat.NewDense(nx, nz, nil)

	accumulate := func(j *mat.Dense, w mat.Symmetric, r *mat.VecDense) {
		var wj, jwj mat.Dense
		wj.Mul(w, j)
		jwj.Mul(j.T(), &wj)
		h.Add(h, &jwj)
		var jwr mat.VecDense
		jwr.MulVec(wj.T(), r)
		g.AddVec(g, &jwr)
	}

	for k := 0; k < n; k++ {
		var j mat.Dense
		j.Mul(spec.Vx, gamma)
		block := j.Slice(0, ny, k*nu, (k+1)*nu).(*mat.Dense)
		block.Add(block, spec.Vu)
		accumulate(&j, spec.W, spec.StageResidual(it.x[k], it.u[k]))

		var next mat.Dense
		next.Mul(it.sens[k].X, gamma)
		nb := next.Slice(0, nx, k*nu, (k+1)*nu).(*mat.Dense)
		nb.Add(nb, it.sens[k].U)
		gamma = &next
	}
	var je mat.Dense
	je.Mul(spec.VxE, gamma)
	accumulate(&je, spec.WE, spec.TerminalResidual(it.x[n]))

	hs := mat.NewSymDense(nz, nil)
	shift := 0.0
	for i := 0; i < nz; i++ {
		shift = math.Max(shift, math.Abs(h.At(i, i)))
	}
	shift = hessShift * (1 + shift)
	for i := 0; i < nz; i++ {
		for j := i; j < nz; j++ {
			v := 0.5 * (h.At(i, j) + h.At(j, i))
			if i == j {
				v += shift
			}
			hs.SetSym(i, j, v)
		}
	}

	lo := make([]float64, nz)
	hi := make([]float64, nz)
	for k := 0; k < n; k++ {
		for i := 0; i < nu; i++ {
			lo[k*nu+i], hi[k*nu+i] = math.Inf(-1), math.Inf(1)
			if spec.Bounds.Lower != nil {
				lo[k*nu+i] = spec.Bounds.Lower[i] - it.u[k][i]
			}
			if spec.Bounds.Upper != nil {
				hi[k*nu+i] = spec.Bounds.Upper[i] - it.u[k][i]
			}
			// Guard against rounding pushing the iterate just outside.
			lo[k*nu+i] = math.Min(lo[k*nu+i], 0)
			hi[k*nu+i] = math.Max(hi[k*nu+i], 0)
		}
	}
	return &qp.Problem{H: hs, G: g.RawVector().Data, Lower: lo, Upper: hi}
}

// lineSearch backtracks on the cost from the full step until the Armijo
// condition holds. A nil iterate means no acceptable step was found; best is
// then the lowest trial cost seen, or +Inf.
func (s *SQP) lineSearch(x0 dynamo.State, it *iterate, du []float64, slope float64) (*iterate, float64, float64, error) {
	spec := s.spec
	nu := spec.ControlDim()
	var lastErr error
	best := math.Inf(1)
	for alpha := 1.0; alpha >= minAlpha; alpha /= 2 {
		us := make([]dynamo.Control, len(it.u))
		for k, u := range it.u {
			us[k] = u.Clone()
			for i := 0; i < nu; i++ {
				us[k][i] += alpha * du[k*nu+i]
			}
			us[k] = spec.Bounds.Clamp(us[k])
		}
		trial, err := s.linearize(x0, us)
		if err != nil {
			lastErr = err
			continue
		}
		best = math.Min(best, trial.cost)
		if trial.cost <= it.cost+armijoC*alpha*slope {
			return trial, alpha, best, nil
		}
	}
	if math.IsInf(best, 1) && lastErr != nil {
		return nil, 0, best, lastErr
	}
	return nil, 0, best, nil
}

// stalled reports whether a failed line search happened at a point that is
// converged up to rounding: the predicted decrease is within the tolerance
// relative to the cost and no trial moved the cost by more than noise.
func (s *SQP) stalled(cost, best, slope float64) bool {
	scale := 1 + math.Abs(cost)
	if -slope > s.opts.Tol*scale {
		return false
	}
	return !math.IsInf(best, 1) && math.Abs(best-cost) <= noiseTol*scale
}

func infNorm(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func controlNorm(us []dynamo.Control) float64 {
	m := 0.0
	for _, u := range us {
		m = math.Max(m, infNorm(u))
	}
	return m
}
