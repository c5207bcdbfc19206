package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	RunMetadata
	Times      []float64   `json:"times"`
	States     [][]float64 `json:"states"`
	Controls   [][]float64 `json:"controls"`
	Status     []int       `json:"status"`
	Iterations []int       `json:"iterations"`
}

// Export writes the run as a single JSON document.
func (s *Store) Export(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	tr, err := s.LoadTrajectory(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		RunMetadata: *meta,
		Times:       tr.Times,
		States:      tr.States,
		Controls:    tr.Controls,
		Status:      tr.Status,
		Iterations:  tr.Iterations,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (s *Store) ExportFile(runID, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.Export(runID, file)
}
