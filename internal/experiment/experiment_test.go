package experiment

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
)

func TestSetupPresets(t *testing.T) {
	for _, plant := range config.ListPlants() {
		for _, name := range config.ListPresets(plant) {
			t.Run(plant+"/"+name, func(t *testing.T) {
				exp := New(config.GetPreset(plant, name))
				if err := exp.Setup(); err != nil {
					t.Fatalf("setup: %v", err)
				}
				if exp.GetLoop() == nil || exp.Solver() == nil {
					t.Fatal("expected loop and solver")
				}
			})
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	plants := r.ListPlants()
	if len(plants) != 4 || plants[0] != "spring" {
		t.Errorf("unexpected plants %v", plants)
	}
	if _, err := r.GetPlant("pendulum"); err == nil {
		t.Error("expected error for unknown plant")
	}

	tests := []struct {
		cfg     config.IntegratorConfig
		wantErr bool
	}{
		{config.IntegratorConfig{Type: "erk", NumStages: 4, NumSteps: 1}, false},
		{config.IntegratorConfig{Type: "ERK", NumStages: 3, NumSteps: 3}, false},
		{config.IntegratorConfig{Type: "irk", NumStages: 3, NumSteps: 3, NewtonIter: 3, CollocationType: "GAUSS_RADAU_IIA"}, false},
		{config.IntegratorConfig{Type: "irk", NumStages: 2, CollocationType: "GAUSS_LEGENDRE"}, false},
		{config.IntegratorConfig{Type: "erk", NumStages: 7}, true},
		{config.IntegratorConfig{Type: "irk", CollocationType: "LOBATTO"}, true},
		{config.IntegratorConfig{Type: "verlet"}, true},
	}
	for _, tt := range tests {
		_, err := r.GetIntegrator(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%+v: wantErr %v, got %v", tt.cfg, tt.wantErr, err)
		}
	}
}

func TestRunSpringClosedLoop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Nsim = 40

	exp := New(cfg)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Controls) != 40 || len(res.States) != 41 {
		t.Fatalf("unexpected trajectory lengths %d/%d", len(res.Controls), len(res.States))
	}
	for i, u := range res.Controls {
		if math.Abs(u[0]) > 100+1e-6 {
			t.Errorf("step %d: |u|=%f exceeds bound", i, math.Abs(u[0]))
		}
	}
	for _, name := range []string{"energy", "energy_drift", "stability", "control_effort", "saturation", "tracking_error"} {
		if _, ok := res.Metrics[name]; !ok {
			t.Errorf("missing metric %s", name)
		}
	}
	if res.Metrics["saturation"] == 0 {
		t.Error("expected the first steps to saturate")
	}
}

func TestRunVesselClosedLoop(t *testing.T) {
	cfg := config.GetPreset("vessel", "closed_loop")
	cfg.Nsim = 300

	exp := New(cfg)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != cfg.Nsim {
		t.Fatalf("ran %d of %d steps", len(res.Steps), cfg.Nsim)
	}
	for i, st := range res.Steps {
		if st.Status != nlp.StatusSuccess {
			t.Fatalf("step %d: status %v", i, st.Status)
		}
	}
	for i, u := range res.Controls {
		for j, v := range u {
			if math.Abs(v) > 200+1e-6 {
				t.Errorf("step %d: |tau[%d]|=%f exceeds bound", i, j, math.Abs(v))
			}
		}
	}

	start := math.Hypot(cfg.X0[0], cfg.X0[1])
	final := res.Final()
	if d := math.Hypot(final[0], final[1]); d > 0.9*start {
		t.Errorf("vessel did not approach the origin: distance %f, started at %f", d, start)
	}
}

func TestRunLQRController(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Controller = ControllerLQR
	cfg.Nsim = 100

	exp := New(cfg)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if x := res.Final()[0]; x < 1 || x > 2.5 {
		t.Errorf("expected position heading to 2, got %f", x)
	}
}

func TestOpenLoopSpringSettles(t *testing.T) {
	exp := New(config.GetPreset("spring", "open_loop"))
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	final := res.Final()
	if math.Abs(final[0]) > 1e-3 || math.Abs(final[1]) > 1e-3 {
		t.Errorf("expected the spring at rest, got %v", final)
	}

	sens, err := exp.Sensitivity(final, res.Controls[len(res.Controls)-1])
	if err != nil {
		t.Fatal(err)
	}
	if r, c := sens.X.Dims(); r != 2 || c != 2 {
		t.Errorf("expected 2x2 state sensitivity, got %dx%d", r, c)
	}
	if r, c := sens.U.Dims(); r != 2 || c != 1 {
		t.Errorf("expected 2x1 control sensitivity, got %dx%d", r, c)
	}
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		malformed bool
	}{
		{"unknown plant", func(c *config.Config) { c.Plant = "pendulum" }, false},
		{"unknown controller", func(c *config.Config) { c.Controller = "pid" }, false},
		{"unknown qp", func(c *config.Config) { c.Solver.QPSolver = "osqp" }, false},
		{"unknown nlp mode", func(c *config.Config) { c.Solver.NLPSolverType = "ipopt" }, false},
		{"crossed bounds", func(c *config.Config) { c.Bounds.Lower, c.Bounds.Upper = []float64{1}, []float64{-1} }, true},
		{"short q", func(c *config.Config) { c.Cost.Q = []float64{1} }, true},
		{"long r", func(c *config.Config) { c.Cost.R = []float64{1, 1} }, true},
		{"zero horizon", func(c *config.Config) { c.Horizon.N = 0 }, true},
		{"bad input", func(c *config.Config) { c.Controller = ControllerNone; c.Input = []float64{1, 2} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := New(cfg).Setup()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.malformed && !errors.Is(err, dynamo.ErrMalformedFormulation) {
				t.Errorf("expected malformed formulation, got %v", err)
			}
		})
	}
}

func TestRunBeforeSetup(t *testing.T) {
	if _, err := New(config.DefaultConfig()).Run(context.Background()); err == nil {
		t.Error("expected error before setup")
	}
}

func TestRunEnsemble(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Nsim = 10

	exp := New(cfg)
	if err := exp.Setup(); err != nil {
		t.Fatal(err)
	}
	x0s := []dynamo.State{{0, 0}, {1, 0}, {-1, 0.5}}
	results, err := exp.RunEnsemble(context.Background(), x0s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(x0s) {
		t.Fatalf("expected %d results, got %d", len(x0s), len(results))
	}
	for i, res := range results {
		if res.States[0][0] != x0s[i][0] {
			t.Errorf("run %d started from %v", i, res.States[0])
		}
	}
}

func TestNewAllocator(t *testing.T) {
	alloc, err := NewAllocator(config.DefaultAllocation(), "active_set")
	if err != nil {
		t.Fatal(err)
	}
	res, err := alloc.Allocate([]float64{0, 0, 40})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{0, 0, 40} {
		if math.Abs(res.Achieved[i]-want) > 0.1 {
			t.Errorf("achieved[%d]=%f, want %f", i, res.Achieved[i], want)
		}
	}

	bad := config.DefaultAllocation()
	bad.Mode = "strict"
	if _, err := NewAllocator(bad, ""); !errors.Is(err, dynamo.ErrMalformedFormulation) {
		t.Errorf("expected malformed formulation, got %v", err)
	}
}
