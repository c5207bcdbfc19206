package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/mpcsim/internal/actuator"
	"github.com/san-kum/mpcsim/internal/config"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/experiment"
	"github.com/san-kum/mpcsim/internal/optim"
	"github.com/san-kum/mpcsim/internal/report"
	"github.com/san-kum/mpcsim/internal/sim"
	"github.com/san-kum/mpcsim/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string
	controller string
	nsim       int
	noSave     bool
	input      []float64
	initial    []string
	// allocate
	td        []float64
	umax      float64
	allocMode string
	qpSolver  string
	canIface  string
	// export
	outputFile string
	// tune
	params  []string
	metric  string
	workers int

	log = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mpcsim",
		Short:         "receding-horizon control and thruster allocation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			log = l
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mpcsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [plant]",
		Short: "run the closed loop",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runClosedLoop,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "closed_loop", "preset configuration")
	runCmd.Flags().StringVar(&controller, "controller", "", "controller (mpc, lqr)")
	runCmd.Flags().IntVar(&nsim, "nsim", 0, "number of closed-loop steps")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().StringArrayVar(&initial, "x0", nil, "initial state a,b,...; repeat to run an ensemble")
	runCmd.Flags().IntVar(&workers, "workers", 4, "concurrent ensemble runs")

	simulateCmd := &cobra.Command{
		Use:   "simulate [plant]",
		Short: "integrate the plant with a constant input",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runOpenLoop,
	}
	simulateCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	simulateCmd.Flags().StringVar(&preset, "preset", "open_loop", "preset configuration")
	simulateCmd.Flags().IntVar(&nsim, "nsim", 0, "number of integration steps")
	simulateCmd.Flags().Float64SliceVar(&input, "input", nil, "constant input")
	simulateCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "distribute a generalized force among thrusters",
		Args:  cobra.NoArgs,
		RunE:  runAllocate,
	}
	allocateCmd.Flags().Float64SliceVar(&td, "td", []float64{0, 0, 40}, "desired force [X,Y,N]")
	allocateCmd.Flags().Float64Var(&umax, "umax", config.DefaultAllocation().UMax, "thruster force limit")
	allocateCmd.Flags().StringVar(&allocMode, "mode", "soft", "allocation mode (soft, hard)")
	allocateCmd.Flags().StringVar(&qpSolver, "qp", "active_set", "qp backend for hard mode")
	allocateCmd.Flags().StringVar(&canIface, "can", "", "publish thruster commands on this CAN interface")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets [plant]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plants := config.ListPlants()
			if len(args) > 0 {
				plants = args
			}
			for _, plant := range plants {
				presets := config.ListPresets(plant)
				if len(presets) == 0 {
					fmt.Printf("no presets for plant: %s\n", plant)
					continue
				}
				fmt.Printf("presets for %s:\n", plant)
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}

	tuneCmd := &cobra.Command{
		Use:   "tune [plant]",
		Short: "grid search over cost parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTune,
	}
	tuneCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	tuneCmd.Flags().StringVar(&preset, "preset", "closed_loop", "preset configuration")
	tuneCmd.Flags().IntVar(&nsim, "nsim", 0, "number of closed-loop steps")
	tuneCmd.Flags().StringArrayVar(&params, "param", []string{"scale=0.1,1,10"}, "parameter grid, name=v1,v2,...")
	tuneCmd.Flags().StringVar(&metric, "metric", "tracking_error", "metric to minimize")
	tuneCmd.Flags().IntVar(&workers, "workers", 4, "concurrent runs")

	rootCmd.AddCommand(runCmd, simulateCmd, allocateCmd, listCmd, exportCmd, presetsCmd, tuneCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// loadConfig resolves the scenario: --config wins over the preset, and
// explicit flags win over both.
func loadConfig(cmd *cobra.Command, args []string, defaultPreset string) (*config.Config, error) {
	plant := "spring"
	if len(args) > 0 {
		plant = args[0]
	}
	name := defaultPreset
	if cmd.Flags().Changed("preset") {
		name = preset
	}

	var cfg *config.Config
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.GetPreset(plant, name)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s/%s (available: %v)", plant, name, config.ListPresets(plant))
		}
	}

	if f := cmd.Flags().Lookup("nsim"); f != nil && f.Changed {
		cfg.Nsim = nsim
	}
	if f := cmd.Flags().Lookup("controller"); f != nil && f.Changed {
		cfg.Controller = controller
	}
	return cfg, nil
}

func runExperiment(ctx context.Context, cfg *config.Config, title string, save bool) (*experiment.Experiment, *sim.Result, error) {
	exp := experiment.New(cfg)
	exp.SetLogger(log)
	if err := exp.Setup(); err != nil {
		return nil, nil, err
	}

	fmt.Printf("running %s...\n", title)
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	elapsed := time.Since(start)

	runID := ""
	if save {
		st := storage.New(dataDir)
		if runID, err = st.Save(cfg, result); err != nil {
			return nil, nil, err
		}
	}
	fmt.Println(report.Run(title, runID, result, elapsed))
	return exp, result, nil
}

func lastControl(exp *experiment.Experiment, us []dynamo.Control) dynamo.Control {
	if len(us) == 0 {
		return make(dynamo.Control, exp.Plant().ControlDim())
	}
	return us[len(us)-1]
}

func runClosedLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args, "closed_loop")
	if err != nil {
		return err
	}
	if cfg.Controller == experiment.ControllerNone {
		return fmt.Errorf("run needs a feedback controller; use simulate for open-loop runs")
	}
	title := cfg.Plant + " closed loop (" + cfg.Controller + ")"

	x0s := make([]dynamo.State, 0, len(initial))
	for _, s := range initial {
		x0, err := parseFloats(s)
		if err != nil {
			return fmt.Errorf("bad --x0 %q: %w", s, err)
		}
		x0s = append(x0s, x0)
	}
	switch len(x0s) {
	case 0:
	case 1:
		cfg.X0 = x0s[0]
	default:
		return runEnsemble(cmd.Context(), cfg, title, x0s, !noSave)
	}
	_, _, err = runExperiment(cmd.Context(), cfg, title, !noSave)
	return err
}

func runEnsemble(ctx context.Context, cfg *config.Config, title string, x0s []dynamo.State, save bool) error {
	exp := experiment.New(cfg)
	exp.SetLogger(log)
	if err := exp.Setup(); err != nil {
		return err
	}
	for i, x0 := range x0s {
		if len(x0) != exp.Plant().StateDim() {
			return fmt.Errorf("--x0 #%d has %d entries, plant %s needs %d", i+1, len(x0), cfg.Plant, exp.Plant().StateDim())
		}
	}

	fmt.Printf("running %s from %d initial states...\n", title, len(x0s))
	start := time.Now()
	results, err := exp.RunEnsemble(ctx, x0s, workers)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	st := storage.New(dataDir)
	for i, result := range results {
		runID := ""
		if save {
			run := cfg.Clone()
			run.X0 = x0s[i]
			if runID, err = st.Save(run, result); err != nil {
				return err
			}
		}
		fmt.Println(report.Run(fmt.Sprintf("%s, x0=%v", title, x0s[i]), runID, result, elapsed))
	}
	return nil
}

func runOpenLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args, "open_loop")
	if err != nil {
		return err
	}
	cfg.Controller = experiment.ControllerNone
	if cmd.Flags().Changed("input") {
		cfg.Input = input
	}
	exp, result, err := runExperiment(cmd.Context(), cfg, cfg.Plant+" open loop", !noSave)
	if err != nil {
		return err
	}

	x, u := result.Final(), lastControl(exp, result.Controls)
	sens, err := exp.Sensitivity(x, u)
	if err != nil {
		return err
	}
	fmt.Println(report.Sensitivity(x, u, sens))
	return nil
}

func runAllocate(cmd *cobra.Command, args []string) error {
	if len(td) != 3 {
		return fmt.Errorf("--td needs 3 entries [X,Y,N], got %d", len(td))
	}
	acfg := config.DefaultAllocation()
	acfg.UMax = umax
	acfg.Mode = allocMode

	alloc, err := experiment.NewAllocator(acfg, qpSolver)
	if err != nil {
		return err
	}
	res, err := alloc.Allocate(td)
	if err != nil {
		return err
	}
	fmt.Println(report.Allocation(td, res))

	if canIface == "" {
		return nil
	}
	ctx := cmd.Context()
	w, err := actuator.NewSocketCANWriter(ctx, canIface)
	if err != nil {
		return err
	}
	pub := actuator.NewPublisher(w, actuator.DefaultCodec(), log.Named("can"))
	defer pub.Close()
	if err := pub.Publish(ctx, res); err != nil {
		return err
	}
	fmt.Printf("published %d thruster commands on %s\n", len(res.Thrusters), canIface)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLANT\tTIME\tCTRL\tSOLVER\tSTEPS\tDT\tMAX ITER")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.4fs\t%d\n",
			run.ID,
			run.Plant,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Controller,
			run.Solver,
			run.Nsim,
			run.Dt,
			run.MaxIterations,
		)
	}

	return w.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if outputFile == "" {
		return st.Export(args[0], os.Stdout)
	}
	if err := st.ExportFile(args[0], outputFile); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", args[0], outputFile)
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args, "closed_loop")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	ranges := make([][]float64, 0, len(params))
	for _, p := range params {
		name, values, err := parseParam(p)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}

	g := optim.NewGridSearch(names, ranges)
	g.Workers = workers
	start := time.Now()
	res, err := g.Search(cmd.Context(), optim.ConfigBuilder(cfg), metric)
	if err != nil {
		return err
	}

	fmt.Printf("evaluated %d points in %v (%d failed)\n", res.Evaluated, time.Since(start).Round(time.Millisecond), res.Failed)
	if res.LastError != nil {
		log.Warn("grid point failed", zap.Error(res.LastError))
	}
	fmt.Printf("best %s: %.6g\n", metric, res.Value)
	for _, name := range names {
		fmt.Printf("  %s = %g\n", name, res.Params[name])
	}
	return nil
}

func parseParam(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("bad --param %q, want name=v1,v2", s)
	}
	values, err := parseFloats(list)
	if err != nil {
		return "", nil, fmt.Errorf("bad --param %q: %w", s, err)
	}
	return name, values, nil
}

func parseFloats(list string) ([]float64, error) {
	fields := strings.Split(list, ",")
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
