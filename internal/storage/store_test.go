package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
	"github.com/san-kum/mpcsim/internal/sim"
)

func testResult() *sim.Result {
	return &sim.Result{
		States: []dynamo.State{
			{0.0, 0.0},
			{0.1, 2.5},
			{0.35, 2.25},
		},
		Controls: []dynamo.Control{{100}, {-12.125}},
		Times:    []float64{0, 0.05, 0.1},
		Steps: []sim.StepStats{
			{Status: nlp.StatusSuccess, Iterations: 4},
			{Status: nlp.StatusMaxIter, Iterations: 50},
		},
		Metrics:   map[string]float64{"control_effort": 56.0625},
		SolveTime: 3 * time.Millisecond,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	cfg := config.DefaultConfig()
	result := testResult()

	runID, err := st.Save(cfg, result)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Plant != "spring" || meta.Controller != "mpc" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.StateDim != 2 || meta.ControlDim != 1 || meta.Nsim != 2 {
		t.Errorf("unexpected dimensions %+v", meta)
	}
	if meta.MaxIterations != 50 {
		t.Errorf("expected max iterations 50, got %d", meta.MaxIterations)
	}
	if meta.Metrics["control_effort"] != 56.0625 {
		t.Errorf("expected control effort 56.0625, got %f", meta.Metrics["control_effort"])
	}

	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		t.Fatalf("load trajectory failed: %v", err)
	}
	if len(tr.States) != 3 || len(tr.Times) != 3 || len(tr.Controls) != 2 {
		t.Fatalf("unexpected trajectory lengths %d/%d/%d", len(tr.States), len(tr.Times), len(tr.Controls))
	}
	for i := range result.States {
		for j := range result.States[i] {
			if tr.States[i][j] != result.States[i][j] {
				t.Errorf("state %d[%d]: expected %v, got %v", i, j, result.States[i][j], tr.States[i][j])
			}
		}
	}
	if tr.Controls[1][0] != -12.125 {
		t.Errorf("expected control -12.125, got %v", tr.Controls[1][0])
	}
	if tr.Status[1] != int(nlp.StatusMaxIter) || tr.Iterations[0] != 4 {
		t.Errorf("unexpected solve stats %v %v", tr.Status, tr.Iterations)
	}

	loaded, err := st.LoadConfig(runID)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if loaded.Horizon.N != cfg.Horizon.N || loaded.Cost.Q[0] != cfg.Cost.Q[0] {
		t.Error("stored config differs from the saved one")
	}
}

func TestStoreList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "runs"))

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	for i := 0; i < 2; i++ {
		if _, err := st.Save(config.DefaultConfig(), testResult()); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID == runs[1].ID {
		t.Error("expected distinct run ids")
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(config.DefaultConfig(), testResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{metadataFile, trajectoryFile, configFile} {
		if _, err := os.Stat(filepath.Join(tmpDir, runID, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
}

func TestStoreErrors(t *testing.T) {
	st := New(t.TempDir())

	if _, err := st.Load("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := st.Save(config.DefaultConfig(), &sim.Result{}); err == nil {
		t.Error("expected error for empty result")
	}
}

func TestExport(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(config.DefaultConfig(), testResult())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := st.Export(runID, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if data.ID != runID || len(data.States) != 3 || len(data.Controls) != 2 {
		t.Errorf("unexpected export %+v", data)
	}

	path := filepath.Join(t.TempDir(), "run.json")
	if err := st.ExportFile(runID, path); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Error("expected non-empty export file")
	}
}
