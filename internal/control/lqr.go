package control

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
	"github.com/san-kum/mpcsim/internal/ocp"
	"gonum.org/v1/gonum/mat"
)

// Gains is the solution of a finite-horizon LQ problem: the optimal policy
// at stage k is u_k = −K[k]·x_k + Kff[k].
type Gains struct {
	K   []*mat.Dense
	Kff []*mat.VecDense
	// P is the cost-to-go Hessian at stage 0.
	P *mat.Dense
}

// Model is the affine discrete-time model x⁺ = A·x + B·u + C.
type Model struct {
	A, B *mat.Dense
	C    *mat.VecDense
}

// Riccati runs the backward recursion for the formulation's least-squares
// cost over its horizon on the given model. The cost terms are
//
//	Q = VxᵀWVx,  S = VxᵀWVu,  R = VuᵀWVu,  q = −VxᵀW·yref,  r = −VuᵀW·yref
//
// and the terminal value starts from P_N = Vx_eᵀW_eVx_e.
func Riccati(spec *ocp.Spec, m Model) (*Gains, error) {
	nx, nu := spec.StateDim(), spec.ControlDim()

	var wvx, wvu, q, s, r mat.Dense
	wvx.Mul(spec.W, spec.Vx)
	wvu.Mul(spec.W, spec.Vu)
	q.Mul(spec.Vx.T(), &wvx)
	s.Mul(spec.Vx.T(), &wvu)
	r.Mul(spec.Vu.T(), &wvu)

	ny, _ := spec.Vx.Dims()
	yref := mat.NewVecDense(ny, spec.Yref)
	var lq, lr mat.VecDense
	lq.MulVec(wvx.T(), yref)
	lq.ScaleVec(-1, &lq)
	lr.MulVec(wvu.T(), yref)
	lr.ScaleVec(-1, &lr)

	var wevx, p mat.Dense
	wevx.Mul(spec.WE, spec.VxE)
	p.Mul(spec.VxE.T(), &wevx)
	nyE, _ := spec.VxE.Dims()
	var pv mat.VecDense
	pv.MulVec(wevx.T(), mat.NewVecDense(nyE, spec.YrefE))
	pv.ScaleVec(-1, &pv)

	c := m.C
	if c == nil {
		c = mat.NewVecDense(nx, nil)
	}

	g := &Gains{
		K:   make([]*mat.Dense, spec.N),
		Kff: make([]*mat.VecDense, spec.N),
	}
	for k := spec.N - 1; k >= 0; k-- {
		// pc = P·c + p
		var pc mat.VecDense
		pc.MulVec(&p, c)
		pc.AddVec(&pc, &pv)

		var pb, pa, huu, hux mat.Dense
		pb.Mul(&p, m.B)
		pa.Mul(&p, m.A)
		huu.Mul(m.B.T(), &pb)
		huu.Add(&huu, &r)
		hux.Mul(m.B.T(), &pa)
		hux.Add(&hux, s.T())

		var hu mat.VecDense
		hu.MulVec(m.B.T(), &pc)
		hu.AddVec(&hu, &lr)

		var chol mat.Cholesky
		if ok := chol.Factorize(symmetrize(&huu)); !ok {
			return nil, dynamo.Malformed("stage %d: BᵀPB + R is not positive definite", k)
		}
		kfb := mat.NewDense(nu, nx, nil)
		if err := chol.SolveTo(kfb, &hux); err != nil {
			return nil, fmt.Errorf("control: stage %d gain: %w", k, err)
		}
		kff := mat.NewVecDense(nu, nil)
		if err := chol.SolveVecTo(kff, &hu); err != nil {
			return nil, fmt.Errorf("control: stage %d feedforward: %w", k, err)
		}
		kff.ScaleVec(-1, kff)
		g.K[k], g.Kff[k] = kfb, kff

		// P ← Q + AᵀPA − H_uxᵀK
		var next, tmp mat.Dense
		next.Mul(m.A.T(), &pa)
		next.Add(&next, &q)
		tmp.Mul(hux.T(), kfb)
		next.Sub(&next, &tmp)

		// p ← q + Aᵀ(Pc + p) − Kᵀh_u
		var nextv, tv mat.VecDense
		nextv.MulVec(m.A.T(), &pc)
		nextv.AddVec(&nextv, &lq)
		tv.MulVec(kfb.T(), &hu)
		nextv.SubVec(&nextv, &tv)

		p.CloneFrom(symmetrize(&next))
		pv.CloneFromVec(&nextv)
	}
	g.P = mat.DenseCopyOf(&p)
	return g, nil
}

func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// Linearize returns the affine model of one shooting interval at (x, u).
func Linearize(spec *ocp.Spec, x dynamo.State, u dynamo.Control) (Model, error) {
	next, sens, err := spec.Integrator.StepWithSensitivity(spec.Plant, x, u, 0, spec.Dt())
	if err != nil {
		return Model{}, err
	}
	nx := spec.StateDim()
	var ax, bu mat.VecDense
	ax.MulVec(sens.X, mat.NewVecDense(nx, x))
	bu.MulVec(sens.U, mat.NewVecDense(len(u), u))
	c := mat.NewVecDense(nx, next.Clone())
	c.SubVec(c, &ax)
	c.SubVec(c, &bu)
	return Model{A: sens.X, B: sens.U, C: c}, nil
}

// LQR is a receding-horizon LQ policy. Each solve linearizes the plant at
// the current state, runs the Riccati recursion over the formulation's
// horizon and saturates the resulting controls at the bounds. On a linear
// plant without active bounds it reproduces the MPC solution exactly.
type LQR struct {
	spec *ocp.Spec
}

func NewLQR(spec *ocp.Spec) (*LQR, error) {
	if spec == nil {
		return nil, dynamo.Malformed("nil formulation")
	}
	return &LQR{spec: spec}, nil
}

func (l *LQR) String() string { return fmt.Sprintf("lqr(N=%d)", l.spec.N) }

func (l *LQR) Solve(ctx context.Context, x0 dynamo.State, warm *nlp.Solution) (*nlp.Solution, error) {
	start := time.Now()
	spec := l.spec
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ulin := spec.Bounds.Clamp(make(dynamo.Control, spec.ControlDim()))
	if err := dynamo.CheckDims(spec.Plant, x0, ulin); err != nil {
		return nil, err
	}
	model, err := Linearize(spec, x0, ulin)
	if err != nil {
		return nil, &nlp.StatusError{Status: nlp.StatusFailure, Err: err}
	}
	gains, err := Riccati(spec, model)
	if err != nil {
		return nil, err
	}

	sol := &nlp.Solution{
		Status: nlp.StatusSuccess,
		U:      make([]dynamo.Control, spec.N),
		X:      make([]dynamo.State, spec.N+1),
	}
	sol.X[0] = x0.Clone()
	dt := spec.Dt()
	for k := 0; k < spec.N; k++ {
		sol.U[k] = spec.Bounds.Clamp(gains.Policy(k, sol.X[k]))
		next, err := spec.Integrator.Step(spec.Plant, sol.X[k], sol.U[k], float64(k)*dt, dt)
		if err != nil {
			return nil, &nlp.StatusError{Status: nlp.StatusFailure, Err: err}
		}
		sol.X[k+1] = next
	}
	sol.Cost = spec.TrajectoryCost(sol.X, sol.U)
	sol.Elapsed = time.Since(start)
	return sol, nil
}

// Policy evaluates u_k = −K[k]·x + Kff[k].
func (g *Gains) Policy(k int, x dynamo.State) dynamo.Control {
	var u mat.VecDense
	u.MulVec(g.K[k], mat.NewVecDense(len(x), x))
	u.SubVec(g.Kff[k], &u)
	return dynamo.Control(append([]float64(nil), u.RawVector().Data...))
}
