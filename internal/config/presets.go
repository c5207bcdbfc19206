package config

import "sort"

var radau3 = IntegratorConfig{
	Type:            "irk",
	NumStages:       3,
	NumSteps:        3,
	NewtonIter:      3,
	CollocationType: "GAUSS_RADAU_IIA",
}

func vesselClosedLoop() *Config {
	cfg := DefaultConfig()
	cfg.Plant = "vessel"
	cfg.Horizon = HorizonConfig{N: 20, Tf: 0.1}
	cfg.Nsim = 1000
	cfg.X0 = []float64{10, -5, 1.57, 0, 0, 0}
	cfg.Cost = CostConfig{
		Q:      []float64{10, 10, 0, 1, 1, 1},
		R:      []float64{1e-7, 1e-2, 1e-7},
		QE:     []float64{10, 10, 0, 1, 1, 1},
		Scale:  1e5,
		ScaleE: 1e4,
	}
	cfg.Bounds = BoundsConfig{
		Lower: []float64{-200, -200, -200},
		Upper: []float64{200, 200, 200},
	}
	cfg.PlantIntegrator = IntegratorConfig{Type: "erk", NumStages: 3, NumSteps: 3, Dt: 0.01}
	return cfg
}

func vesselOpenLoop() *Config {
	cfg := vesselClosedLoop()
	cfg.Controller = "none"
	cfg.X0 = []float64{0, 0, 0, 0, 0, 0}
	cfg.Input = []float64{2000, 0, 250}
	p := radau3
	p.Dt = 0.01
	cfg.PlantIntegrator = p
	return cfg
}

func springOpenLoop() *Config {
	cfg := DefaultConfig()
	cfg.Controller = "none"
	cfg.Nsim = 1000
	cfg.X0 = []float64{1, 0}
	cfg.Input = []float64{0}
	p := radau3
	p.Dt = 0.1
	cfg.PlantIntegrator = p
	return cfg
}

func springStep() *Config {
	cfg := DefaultConfig()
	cfg.Plant = "spring_light"
	cfg.Controller = "none"
	cfg.Nsim = 1000
	cfg.X0 = []float64{0, 0}
	cfg.Input = []float64{1}
	cfg.PlantIntegrator = IntegratorConfig{Type: "erk", NumStages: 4, NumSteps: 1, Dt: 0.1}
	return cfg
}

func springRTI() *Config {
	cfg := DefaultConfig()
	cfg.Solver.NLPSolverType = "sqp_rti"
	return cfg
}

var Presets = map[string]map[string]*Config{
	"spring": {
		"closed_loop":     DefaultConfig(),
		"closed_loop_rti": springRTI(),
		"open_loop":       springOpenLoop(),
		"step":            springStep(),
	},
	"vessel": {
		"closed_loop": vesselClosedLoop(),
		"open_loop":   vesselOpenLoop(),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(plant, preset string) *Config {
	plantPresets, ok := Presets[plant]
	if !ok {
		return nil
	}
	cfg, ok := plantPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(plant string) []string {
	plantPresets, ok := Presets[plant]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(plantPresets))
	for name := range plantPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListPlants() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
