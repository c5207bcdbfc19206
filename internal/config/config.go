package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHorizonN  = 20
	DefaultHorizonTf = 1.0
	DefaultNsim      = 200
	DefaultMaxIter   = 50
	DefaultTol       = 1e-6
)

// Config describes one scenario: the plant, the optimal control problem
// solved at every sample, the integrators and the allocation problem.
type Config struct {
	Plant      string `yaml:"plant"`
	Controller string `yaml:"controller"`

	Horizon HorizonConfig `yaml:"horizon"`
	Nsim    int           `yaml:"nsim"`
	X0      []float64     `yaml:"x0"`
	// Input is the constant control of open-loop runs.
	Input []float64 `yaml:"input,omitempty"`

	Cost            CostConfig       `yaml:"cost"`
	Bounds          BoundsConfig     `yaml:"bounds"`
	Integrator      IntegratorConfig `yaml:"integrator"`
	PlantIntegrator IntegratorConfig `yaml:"plant_integrator"`
	Solver          SolverConfig     `yaml:"solver"`
	Allocation      AllocationConfig `yaml:"allocation"`
}

type HorizonConfig struct {
	N  int     `yaml:"n"`
	Tf float64 `yaml:"tf"`
}

// CostConfig holds diagonal weights. W = scale·blockdiag(Q, R) and
// W_e = scale_e·Q_e.
type CostConfig struct {
	Q      []float64 `yaml:"q"`
	R      []float64 `yaml:"r"`
	QE     []float64 `yaml:"q_e"`
	Scale  float64   `yaml:"scale"`
	ScaleE float64   `yaml:"scale_e"`
	Yref   []float64 `yaml:"yref,omitempty"`
	YrefE  []float64 `yaml:"yref_e,omitempty"`
}

type BoundsConfig struct {
	Lower []float64 `yaml:"lbu,omitempty"`
	Upper []float64 `yaml:"ubu,omitempty"`
}

type IntegratorConfig struct {
	Type            string  `yaml:"type"`
	NumStages       int     `yaml:"num_stages"`
	NumSteps        int     `yaml:"num_steps"`
	NewtonIter      int     `yaml:"newton_iter,omitempty"`
	NewtonTol       float64 `yaml:"newton_tol,omitempty"`
	CollocationType string  `yaml:"collocation_type,omitempty"`
	// Dt is the plant sample interval. Zero means Tf/N.
	Dt float64 `yaml:"dt,omitempty"`
}

type SolverConfig struct {
	NLPSolverType string        `yaml:"nlp_solver_type"`
	QPSolver      string        `yaml:"qp_solver"`
	MaxIter       int           `yaml:"max_iter"`
	Tol           float64       `yaml:"tol"`
	SolveTimeout  time.Duration `yaml:"solve_timeout,omitempty"`
}

type ThrusterConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type AllocationConfig struct {
	Thrusters   []ThrusterConfig `yaml:"thrusters"`
	UMax        float64          `yaml:"u_max"`
	WeightU     float64          `yaml:"weight_u"`
	WeightSlack float64          `yaml:"weight_slack"`
	Mode        string           `yaml:"mode"`
}

func DefaultIntegrator() IntegratorConfig {
	return IntegratorConfig{Type: "erk", NumStages: 4, NumSteps: 1}
}

func DefaultAllocation() AllocationConfig {
	return AllocationConfig{
		Thrusters:   []ThrusterConfig{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}},
		UMax:        50,
		WeightU:     1,
		WeightSlack: 10000,
		Mode:        "soft",
	}
}

// DefaultConfig is the spring closed loop.
func DefaultConfig() *Config {
	return &Config{
		Plant:      "spring",
		Controller: "mpc",
		Horizon:    HorizonConfig{N: DefaultHorizonN, Tf: DefaultHorizonTf},
		Nsim:       DefaultNsim,
		X0:         []float64{0, 0},
		Cost: CostConfig{
			Q:      []float64{2e3, 2e3},
			R:      []float64{2e-2},
			QE:     []float64{2e3, 2e3},
			Scale:  1,
			ScaleE: 1,
			Yref:   []float64{2, 0, 0},
			YrefE:  []float64{2, 0},
		},
		Bounds:          BoundsConfig{Lower: []float64{-100}, Upper: []float64{100}},
		Integrator:      DefaultIntegrator(),
		PlantIntegrator: DefaultIntegrator(),
		Solver: SolverConfig{
			NLPSolverType: "sqp",
			QPSolver:      "active_set",
			MaxIter:       DefaultMaxIter,
			Tol:           DefaultTol,
		},
		Allocation: DefaultAllocation(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig, so omitted keys keep their
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.X0 = cloneFloats(c.X0)
	out.Input = cloneFloats(c.Input)
	out.Cost.Q = cloneFloats(c.Cost.Q)
	out.Cost.R = cloneFloats(c.Cost.R)
	out.Cost.QE = cloneFloats(c.Cost.QE)
	out.Cost.Yref = cloneFloats(c.Cost.Yref)
	out.Cost.YrefE = cloneFloats(c.Cost.YrefE)
	out.Bounds.Lower = cloneFloats(c.Bounds.Lower)
	out.Bounds.Upper = cloneFloats(c.Bounds.Upper)
	out.Allocation.Thrusters = append([]ThrusterConfig(nil), c.Allocation.Thrusters...)
	return &out
}

// Dt is the plant sample interval.
func (c *Config) Dt() float64 {
	if c.PlantIntegrator.Dt > 0 {
		return c.PlantIntegrator.Dt
	}
	if c.Horizon.N <= 0 {
		return 0
	}
	return c.Horizon.Tf / float64(c.Horizon.N)
}

func cloneFloats(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}
