package experiment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/integrators"
	"github.com/san-kum/mpcsim/internal/metrics"
	"github.com/san-kum/mpcsim/internal/physics"
	"github.com/san-kum/mpcsim/internal/qp"
)

type Registry struct {
	plants      map[string]func() dynamo.System
	integrators map[string]func(config.IntegratorConfig) (dynamo.SensitivityIntegrator, error)
}

func NewRegistry() *Registry {
	r := &Registry{
		plants:      make(map[string]func() dynamo.System),
		integrators: make(map[string]func(config.IntegratorConfig) (dynamo.SensitivityIntegrator, error)),
	}

	r.plants["spring"] = func() dynamo.System { return physics.NewSpringMass() }
	r.plants["spring_light"] = func() dynamo.System { return physics.NewLightSpring() }
	r.plants["spring_chain"] = func() dynamo.System { return physics.NewSpringMassChain(3) }
	r.plants["vessel"] = func() dynamo.System { return physics.NewVessel() }

	r.integrators["erk"] = func(c config.IntegratorConfig) (dynamo.SensitivityIntegrator, error) {
		stages := c.NumStages
		if stages == 0 {
			stages = 4
		}
		tab, err := integrators.ExplicitTableau(stages)
		if err != nil {
			return nil, err
		}
		return integrators.NewERK(tab, c.NumSteps), nil
	}
	r.integrators["irk"] = func(c config.IntegratorConfig) (dynamo.SensitivityIntegrator, error) {
		stages := c.NumStages
		if stages == 0 {
			stages = 3
		}
		tab, err := integrators.CollocationTableau(c.CollocationType, stages)
		if err != nil {
			return nil, err
		}
		irk := integrators.NewIRK(tab, c.NumSteps, c.NewtonIter)
		if c.NewtonTol > 0 {
			irk.NewtonTol = c.NewtonTol
		}
		return irk, nil
	}

	return r
}

func (r *Registry) GetPlant(name string) (dynamo.System, error) {
	fn, ok := r.plants[name]
	if !ok {
		return nil, fmt.Errorf("unknown plant: %s", name)
	}
	return fn(), nil
}

func (r *Registry) GetIntegrator(c config.IntegratorConfig) (dynamo.SensitivityIntegrator, error) {
	name := strings.ToLower(c.Type)
	if name == "" {
		name = "erk"
	}
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", c.Type)
	}
	return fn(c)
}

func (r *Registry) GetQP(name string) (qp.Solver, error) {
	return qp.New(name)
}

func (r *Registry) ListPlants() []string {
	names := make([]string, 0, len(r.plants))
	for name := range r.plants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics returns fresh metrics for one run of cfg on plant.
func (r *Registry) DefaultMetrics(plant dynamo.System, cfg *config.Config) []dynamo.Metric {
	ms := []dynamo.Metric{
		metrics.NewEnergy(plant),
		metrics.NewEnergyDrift(plant),
		metrics.NewStability(100.0),
		metrics.NewControlEffort(),
	}
	if cfg.Controller == ControllerNone {
		return ms
	}
	if len(cfg.Bounds.Lower) > 0 && len(cfg.Bounds.Upper) > 0 {
		ms = append(ms, metrics.NewSaturation(cfg.Bounds.Lower, cfg.Bounds.Upper))
	}
	if len(cfg.Cost.YrefE) > 0 {
		ms = append(ms, metrics.NewTrackingError(cfg.Cost.YrefE))
	} else {
		ms = append(ms, metrics.NewTrackingError(make([]float64, plant.StateDim())))
	}
	return ms
}
