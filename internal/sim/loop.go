package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
	"go.uber.org/zap"
)

// Loop is the receding-horizon cycle: solve from the current state, apply
// the first control, advance the plant one sample, repeat.
//
// A Loop runs one trajectory at a time. The solver and integrators it holds
// may be shared between loops.
type Loop struct {
	plant      dynamo.System
	integrator dynamo.Integrator
	solver     nlp.Solver
	dt         float64
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
	log        *zap.Logger
	phase      Phase
}

// NewLoop returns a loop that advances plant with integrator every dt
// seconds using the controls computed by solver. The plant integrator need
// not be the one the solver shoots with.
func NewLoop(plant dynamo.System, integrator dynamo.Integrator, solver nlp.Solver, dt float64) *Loop {
	return &Loop{
		plant:      plant,
		integrator: integrator,
		solver:     solver,
		dt:         dt,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
		log:        zap.NewNop(),
	}
}

func (l *Loop) AddMetric(m dynamo.Metric)     { l.metrics = append(l.metrics, m) }
func (l *Loop) AddObserver(o dynamo.Observer) { l.observers = append(l.observers, o) }

func (l *Loop) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	l.log = log
}

func (l *Loop) Phase() Phase { return l.phase }
func (l *Loop) Dt() float64  { return l.dt }

// Run executes nsim closed-loop steps from x0. The first error from the
// solver or the plant integrator, or a cancelled ctx, stops the run and is
// returned as a *dynamo.SimulationError; no partial result is returned.
func (l *Loop) Run(ctx context.Context, x0 dynamo.State, nsim int) (*Result, error) {
	if err := l.validate(x0, nsim); err != nil {
		return nil, err
	}

	result := &Result{
		States:   make([]dynamo.State, 0, nsim+1),
		Controls: make([]dynamo.Control, 0, nsim),
		Times:    make([]float64, 0, nsim+1),
		Steps:    make([]StepStats, 0, nsim),
		Metrics:  make(map[string]float64),
	}

	for _, m := range l.metrics {
		m.Reset()
	}

	x := x0.Clone()
	t := 0.0
	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, t)

	initialEnergy := l.computeEnergy(x)
	l.phase = Idle

	var warm *nlp.Solution
	for i := 0; i < nsim; i++ {
		select {
		case <-ctx.Done():
			return nil, l.fail(i, t, x, ctx.Err())
		default:
		}

		l.phase = Solving
		sol, err := l.solver.Solve(ctx, x, warm)
		if err != nil {
			return nil, l.fail(i, t, x, err)
		}
		u := sol.First()
		if err := dynamo.CheckDims(l.plant, x, u); err != nil {
			return nil, l.fail(i, t, x, err)
		}

		l.phase = Applying
		for _, m := range l.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range l.observers {
			obs.OnStep(x, u, t)
		}

		next, err := l.integrator.Step(l.plant, x, u, t, l.dt)
		if err != nil {
			return nil, l.fail(i, t, x, err)
		}

		x = next
		t = float64(i+1) * l.dt
		l.phase = Advanced

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u)
		result.Times = append(result.Times, t)
		result.Steps = append(result.Steps, StepStats{
			Status:     sol.Status,
			Iterations: sol.Iterations,
			Cost:       sol.Cost,
			Elapsed:    sol.Elapsed,
		})
		result.SolveTime += sol.Elapsed

		l.log.Debug("step",
			zap.Int("step", i),
			zap.Float64("t", t),
			zap.Float64s("u", u),
			zap.Int("iterations", sol.Iterations),
			zap.Duration("elapsed", sol.Elapsed))

		warm = sol
	}

	finalEnergy := l.computeEnergy(x)
	if initialEnergy != 0 {
		result.EnergyDrift = math.Abs(finalEnergy-initialEnergy) / math.Abs(initialEnergy)
	}

	for _, m := range l.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	l.phase = Idle
	return result, nil
}

func (l *Loop) fail(step int, t float64, x dynamo.State, err error) error {
	l.phase = Failed
	l.log.Warn("closed loop failed",
		zap.Int("step", step),
		zap.Float64("t", t),
		zap.Float64s("state", x),
		zap.Error(err))
	return &dynamo.SimulationError{Step: step, Time: t, State: x.Clone(), Wrapped: err}
}

func (l *Loop) validate(x0 dynamo.State, nsim int) error {
	if l.dt <= 0 || math.IsNaN(l.dt) {
		return fmt.Errorf("sim: dt must be positive, got %g", l.dt)
	}
	if nsim < 0 {
		return fmt.Errorf("sim: nsim must be non-negative, got %d", nsim)
	}
	if len(x0) != l.plant.StateDim() {
		return fmt.Errorf("%w: x0 has %d entries, plant has %d states", dynamo.ErrDimensionMismatch, len(x0), l.plant.StateDim())
	}
	if !x0.IsValid() {
		return dynamo.ErrInvalidState
	}
	return nil
}

func (l *Loop) computeEnergy(x dynamo.State) float64 {
	if h, ok := l.plant.(dynamo.Hamiltonian); ok {
		return h.Energy(x)
	}
	return 0
}
