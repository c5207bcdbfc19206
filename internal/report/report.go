// Package report renders run, allocation and sensitivity summaries for the
// terminal.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/mpcsim/internal/allocation"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/nlp"
	"github.com/san-kum/mpcsim/internal/sim"
	"gonum.org/v1/gonum/mat"
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, MetricLabel.Render(label), MetricValue.Render(value))
}

func formatVec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Status colors a solver status: success green, max_iter and min_step
// amber, anything else red.
func Status(s nlp.Status) string {
	switch s {
	case nlp.StatusSuccess:
		return StatusOK.Render(s.String())
	case nlp.StatusMaxIter, nlp.StatusMinStep:
		return StatusWarn.Render(s.String())
	}
	return StatusFail.Render(s.String())
}

// Run summarizes a closed-loop result.
func Run(title, runID string, res *sim.Result, elapsed time.Duration) string {
	lines := []string{Title.Render(title)}
	if runID != "" {
		lines = append(lines, row("run id", runID))
	}
	lines = append(lines,
		row("steps", fmt.Sprintf("%d", len(res.Controls))),
		row("final state", formatVec(res.Final())),
		row("wall time", elapsed.Round(time.Microsecond).String()),
		row("solve time", res.SolveTime.Round(time.Microsecond).String()),
		row("max iterations", fmt.Sprintf("%d", res.MaxIterations())),
	)

	counts := make(map[nlp.Status]int)
	for _, st := range res.Steps {
		counts[st.Status]++
	}
	statuses := make([]nlp.Status, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, s := range statuses {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			MetricLabel.Render("status"), Status(s), Subtle.Render(fmt.Sprintf(" ×%d", counts[s]))))
	}

	if len(res.Metrics) > 0 {
		lines = append(lines, "", Subtle.Render("metrics"))
		names := make([]string, 0, len(res.Metrics))
		for name := range res.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, row(name, fmt.Sprintf("%.6g", res.Metrics[name])))
		}
	}
	return Panel.Render(strings.Join(lines, "\n"))
}

// Allocation summarizes an allocation result with one line per thruster.
func Allocation(td []float64, res *allocation.Result) string {
	lines := []string{
		Title.Render("allocation"),
		row("requested", formatVec(td)),
		row("achieved", formatVec(res.Achieved)),
		row("slack", formatVec(res.S)),
		row("status", string(res.Status)),
		row("objective", fmt.Sprintf("%.6g", res.Objective)),
	}
	if res.Saturated {
		lines = append(lines, StatusWarn.Render("saturated"))
	}
	lines = append(lines, "")
	for i, th := range res.Thrusters {
		lines = append(lines, row(fmt.Sprintf("thruster %d", i),
			fmt.Sprintf("%8.3f N  %7.2f°", th.Magnitude, th.Azimuth*180/math.Pi)))
	}
	return Panel.Render(strings.Join(lines, "\n"))
}

// Sensitivity prints the step Jacobians A = ∂x⁺/∂x and B = ∂x⁺/∂u.
func Sensitivity(x dynamo.State, u dynamo.Control, sens *dynamo.Sensitivity) string {
	lines := []string{
		Title.Render("sensitivities"),
		row("x", formatVec(x)),
		row("u", formatVec(u)),
		"",
		Subtle.Render("∂x⁺/∂x"),
		matrix(sens.X),
		"",
		Subtle.Render("∂x⁺/∂u"),
		matrix(sens.U),
	}
	return Panel.Render(strings.Join(lines, "\n"))
}

func matrix(m *mat.Dense) string {
	return fmt.Sprintf("%.5g", mat.Formatted(m, mat.Squeeze()))
}
