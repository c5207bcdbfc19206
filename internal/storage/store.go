package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/sim"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	configFile     = "config.yaml"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID            string             `json:"id"`
	Plant         string             `json:"plant"`
	Controller    string             `json:"controller"`
	Solver        string             `json:"solver"`
	Integrator    string             `json:"integrator"`
	Timestamp     time.Time          `json:"timestamp"`
	Dt            float64            `json:"dt"`
	Nsim          int                `json:"nsim"`
	HorizonN      int                `json:"horizon_n"`
	HorizonTf     float64            `json:"horizon_tf"`
	StateDim      int                `json:"state_dim"`
	ControlDim    int                `json:"control_dim"`
	MaxIterations int                `json:"max_iterations"`
	SolveTime     time.Duration      `json:"solve_time"`
	EnergyDrift   float64            `json:"energy_drift"`
	Metrics       map[string]float64 `json:"metrics"`
}

// Trajectory is a run read back from disk. Controls, Status and
// Iterations have one entry less than Times and States.
type Trajectory struct {
	Times      []float64
	States     [][]float64
	Controls   [][]float64
	Status     []int
	Iterations []int
}

// Save writes metadata.json, trajectory.csv and the scenario config into a
// fresh run directory and returns the run ID.
func (s *Store) Save(cfg *config.Config, result *sim.Result) (string, error) {
	if len(result.States) == 0 {
		return "", fmt.Errorf("storage: empty result")
	}
	if err := s.Init(); err != nil {
		return "", err
	}

	now := time.Now()
	runID, runDir, err := s.newRunDir(cfg.Plant, now)
	if err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:            runID,
		Plant:         cfg.Plant,
		Controller:    cfg.Controller,
		Solver:        cfg.Solver.NLPSolverType,
		Integrator:    cfg.Integrator.Type,
		Timestamp:     now,
		Dt:            cfg.Dt(),
		Nsim:          len(result.Controls),
		HorizonN:      cfg.Horizon.N,
		HorizonTf:     cfg.Horizon.Tf,
		StateDim:      len(result.States[0]),
		MaxIterations: result.MaxIterations(),
		SolveTime:     result.SolveTime,
		EnergyDrift:   result.EnergyDrift,
		Metrics:       result.Metrics,
	}
	if len(result.Controls) > 0 {
		meta.ControlDim = len(result.Controls[0])
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, configFile), cfg); err != nil {
		return "", err
	}
	if err := writeTrajectory(filepath.Join(runDir, trajectoryFile), meta, result); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *Store) newRunDir(plant string, now time.Time) (string, string, error) {
	base := fmt.Sprintf("%s_%d", plant, now.Unix())
	for i := 0; ; i++ {
		runID := base
		if i > 0 {
			runID = fmt.Sprintf("%s_%d", base, i)
		}
		runDir := filepath.Join(s.baseDir, runID)
		err := os.Mkdir(runDir, 0755)
		if err == nil {
			return runID, runDir, nil
		}
		if !os.IsExist(err) {
			return "", "", err
		}
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrajectory(path string, meta RunMetadata, result *sim.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{"time"}
	for i := 0; i < meta.StateDim; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := 0; i < meta.ControlDim; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	header = append(header, "status", "iterations")
	if err := w.Write(header); err != nil {
		return err
	}

	for i := range result.States {
		row := []string{formatFloat(result.Times[i])}
		for _, val := range result.States[i] {
			row = append(row, formatFloat(val))
		}
		// The final state has no control; its control columns stay empty.
		if i < len(result.Controls) {
			for _, val := range result.Controls[i] {
				row = append(row, formatFloat(val))
			}
			st := result.Steps[i]
			row = append(row, strconv.Itoa(int(st.Status)), strconv.Itoa(st.Iterations))
		} else {
			for j := 0; j < meta.ControlDim+2; j++ {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadConfig returns the scenario the run was produced from.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, configFile))
}

func (s *Store) LoadTrajectory(runID string) (*Trajectory, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}

	want := 1 + meta.StateDim + meta.ControlDim + 2
	tr := &Trajectory{}
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) != want {
			return nil, fmt.Errorf("storage: %s: row %d has %d fields, want %d", runID, i, len(record), want)
		}

		vals, err := parseFloats(record[:1+meta.StateDim])
		if err != nil {
			return nil, fmt.Errorf("storage: %s: row %d: %w", runID, i, err)
		}
		tr.Times = append(tr.Times, vals[0])
		tr.States = append(tr.States, vals[1:])

		tail := record[1+meta.StateDim:]
		if tail[len(tail)-1] == "" {
			continue
		}
		u, err := parseFloats(tail[:meta.ControlDim])
		if err != nil {
			return nil, fmt.Errorf("storage: %s: row %d: %w", runID, i, err)
		}
		status, err := strconv.Atoi(tail[meta.ControlDim])
		if err != nil {
			return nil, fmt.Errorf("storage: %s: row %d: %w", runID, i, err)
		}
		iters, err := strconv.Atoi(tail[meta.ControlDim+1])
		if err != nil {
			return nil, fmt.Errorf("storage: %s: row %d: %w", runID, i, err)
		}
		tr.Controls = append(tr.Controls, u)
		tr.Status = append(tr.Status, status)
		tr.Iterations = append(tr.Iterations, iters)
	}
	return tr, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
