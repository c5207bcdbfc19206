// Package experiment turns a scenario configuration into a runnable closed
// loop: plant, shooting and plant integrators, formulation, solver, metrics.
package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/mpcsim/internal/allocation"
	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/control"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/linalg"
	"github.com/san-kum/mpcsim/internal/nlp"
	"github.com/san-kum/mpcsim/internal/ocp"
	"github.com/san-kum/mpcsim/internal/sim"
	"go.uber.org/zap"
)

const (
	ControllerMPC  = "mpc"
	ControllerLQR  = "lqr"
	ControllerNone = "none"
)

type Experiment struct {
	cfg      *config.Config
	registry *Registry
	log      *zap.Logger

	plant     dynamo.System
	shooting  dynamo.SensitivityIntegrator
	plantStep dynamo.SensitivityIntegrator
	spec      *ocp.Spec
	solver    nlp.Solver
	loop      *sim.Loop
}

func New(cfg *config.Config) *Experiment {
	return &Experiment{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      zap.NewNop(),
	}
}

func (e *Experiment) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	e.log = log
}

// Setup resolves every component named by the configuration. Formulation
// errors are reported here, before any solve.
func (e *Experiment) Setup() error {
	cfg := e.cfg
	plant, err := e.registry.GetPlant(cfg.Plant)
	if err != nil {
		return err
	}
	e.plant = plant

	if e.shooting, err = e.registry.GetIntegrator(cfg.Integrator); err != nil {
		return fmt.Errorf("integrator: %w", err)
	}
	plantCfg := cfg.PlantIntegrator
	if plantCfg.Type == "" {
		plantCfg = cfg.Integrator
	}
	if e.plantStep, err = e.registry.GetIntegrator(plantCfg); err != nil {
		return fmt.Errorf("plant integrator: %w", err)
	}

	switch cfg.Controller {
	case ControllerMPC, "":
		if err := e.buildSpec(); err != nil {
			return err
		}
		qpSolver, err := e.registry.GetQP(cfg.Solver.QPSolver)
		if err != nil {
			return err
		}
		e.solver, err = nlp.NewSQP(e.spec, nlp.Options{
			Mode:         nlp.Mode(cfg.Solver.NLPSolverType),
			MaxIter:      cfg.Solver.MaxIter,
			Tol:          cfg.Solver.Tol,
			QP:           qpSolver,
			SolveTimeout: cfg.Solver.SolveTimeout,
			Logger:       e.log.Named("sqp"),
		})
		if err != nil {
			return err
		}
	case ControllerLQR:
		if err := e.buildSpec(); err != nil {
			return err
		}
		if e.solver, err = control.NewLQR(e.spec); err != nil {
			return err
		}
	case ControllerNone:
		nu := plant.ControlDim()
		switch len(cfg.Input) {
		case 0:
			e.solver = control.NewNone(nu)
		case nu:
			e.solver = control.NewConstant(cfg.Input)
		default:
			return fmt.Errorf("%w: input has %d entries, plant has %d controls", dynamo.ErrDimensionMismatch, len(cfg.Input), nu)
		}
	default:
		return fmt.Errorf("unknown controller: %s", cfg.Controller)
	}

	e.loop = sim.NewLoop(plant, e.plantStep, e.solver, cfg.Dt())
	e.loop.SetLogger(e.log.Named("loop"))
	for _, m := range e.registry.DefaultMetrics(plant, cfg) {
		e.loop.AddMetric(m)
	}
	return nil
}

func (e *Experiment) buildSpec() error {
	cfg := e.cfg
	nx, nu := e.plant.StateDim(), e.plant.ControlDim()
	if len(cfg.Cost.Q) != nx || len(cfg.Cost.QE) != nx {
		return dynamo.Malformed("cost q and q_e need %d entries, got %d and %d", nx, len(cfg.Cost.Q), len(cfg.Cost.QE))
	}
	if len(cfg.Cost.R) != nu {
		return dynamo.Malformed("cost r needs %d entries, got %d", nu, len(cfg.Cost.R))
	}

	cost := ocp.LinearLS(
		linalg.Diag(cfg.Cost.Q...),
		linalg.Diag(cfg.Cost.R...),
		linalg.Diag(cfg.Cost.QE...),
		nonEmpty(cfg.Cost.Yref),
		nonEmpty(cfg.Cost.YrefE),
	).Scaled(scaleOrOne(cfg.Cost.Scale), scaleOrOne(cfg.Cost.ScaleE))

	bounds := ocp.Bounds{}
	if len(cfg.Bounds.Lower) > 0 {
		bounds.Lower = dynamo.Control(cfg.Bounds.Lower).Clone()
	}
	if len(cfg.Bounds.Upper) > 0 {
		bounds.Upper = dynamo.Control(cfg.Bounds.Upper).Clone()
	}

	spec, err := ocp.Build(e.plant, e.shooting, cfg.Horizon.N, cfg.Horizon.Tf, cost, bounds)
	if err != nil {
		return err
	}
	e.spec = spec
	return nil
}

func nonEmpty(s []float64) []float64 {
	if len(s) == 0 {
		return nil
	}
	return s
}

func scaleOrOne(s float64) float64 {
	if s == 0 {
		return 1
	}
	return s
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.loop == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	x0 := make(dynamo.State, len(e.cfg.X0))
	copy(x0, e.cfg.X0)
	return e.loop.Run(ctx, x0, e.cfg.Nsim)
}

// RunEnsemble runs the configured loop from every x0 in parallel.
func (e *Experiment) RunEnsemble(ctx context.Context, x0s []dynamo.State, workers int) ([]*sim.Result, error) {
	if e.loop == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	ens := &sim.Ensemble{
		Plant:      e.plant,
		Integrator: e.plantStep,
		Solver:     e.solver,
		Dt:         e.cfg.Dt(),
		Metrics:    func() []dynamo.Metric { return e.registry.DefaultMetrics(e.plant, e.cfg) },
		Workers:    workers,
		Logger:     e.log.Named("ensemble"),
	}
	return ens.Run(ctx, x0s, e.cfg.Nsim)
}

// Sensitivity returns the plant integrator's step Jacobians at (x, u).
func (e *Experiment) Sensitivity(x dynamo.State, u dynamo.Control) (*dynamo.Sensitivity, error) {
	if e.plantStep == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	_, sens, err := e.plantStep.StepWithSensitivity(e.plant, x, u, 0, e.cfg.Dt())
	return sens, err
}

func (e *Experiment) Config() *config.Config { return e.cfg }
func (e *Experiment) Plant() dynamo.System   { return e.plant }
func (e *Experiment) Spec() *ocp.Spec        { return e.spec }
func (e *Experiment) Solver() nlp.Solver     { return e.solver }

// GetLoop returns the underlying loop for adding observers.
func (e *Experiment) GetLoop() *sim.Loop { return e.loop }

// NewAllocator builds the allocation problem described by cfg.
func NewAllocator(cfg config.AllocationConfig, qpName string) (*allocation.Allocator, error) {
	geom := make(allocation.Geometry, len(cfg.Thrusters))
	for i, th := range cfg.Thrusters {
		geom[i] = allocation.Thruster{X: th.X, Y: th.Y}
	}
	if len(geom) == 0 {
		geom = allocation.DefaultGeometry()
	}
	solver, err := NewRegistry().GetQP(qpName)
	if err != nil {
		return nil, err
	}
	return allocation.NewFromGeometry(geom, allocation.Options{
		UMax:        cfg.UMax,
		WeightU:     cfg.WeightU,
		WeightSlack: cfg.WeightSlack,
		Mode:        allocation.Mode(cfg.Mode),
		QP:          solver,
	})
}
