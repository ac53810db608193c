package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/phold-sim/sim"
	"github.com/inference-sim/phold-sim/sim/device"
	"github.com/inference-sim/phold-sim/sim/results"
	"github.com/inference-sim/phold-sim/sim/trace"
)

var (
	// CLI flags for the PHOLD workload
	numLPs        int     // Number of logical processes
	workGroupSize int     // Work-items per work-group
	stopTime      float32 // Simulated time at which the run ends
	lookahead     float32 // Minimum delay added to every successor event
	meanDelay     float32 // Mean of the exponential part of the successor delay
	localRate     float64 // Probability a successor targets its own LP
	seed          int64   // Seed for per-LP generator derivation

	// CLI flags for execution
	reducer     string // LBTS reducer: sort or min
	workers     int    // Host workers for sorting and reduction (0 = device compute units)
	deviceIndex int    // Index into the discovered device list
	logLevel    string // Log verbosity level
	traceLevel  string // Round trace level

	// CLI flags for presets and output
	defaultsFilePath string // Path to defaults.yaml
	presetName       string // Preset to load from defaults.yaml
	resultsJSONPath  string // File to write the run record to
	resultsDBPath    string // SQLite run history to append to
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "phold",
	Short: "Synchronous parallel discrete-event simulation benchmark (PHOLD)",
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the PHOLD benchmark",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := buildConfig(cmd.Flags().Changed)
		if err != nil {
			logrus.Fatalf("load config: %v", err)
		}

		devices, err := device.Discover()
		if err != nil {
			logrus.Fatalf("discover devices: %v", err)
		}
		if deviceIndex < 0 || deviceIndex >= len(devices) {
			logrus.Fatalf("select device: index %d out of range, %d device(s) found", deviceIndex, len(devices))
		}
		dev := devices[deviceIndex]
		logrus.Infof("Using device %d %q: %d compute units, %d bytes global memory",
			dev.ID, dev.Name, dev.ComputeUnits, dev.GlobalMemBytes)

		ctx := cmd.Context()
		startTime := time.Now()
		s, err := sim.NewSimulator(cfg, dev)
		if err != nil {
			logrus.Fatalf("create simulator: %v", err)
		}
		m, err := s.Run(ctx)
		if err != nil {
			logrus.Fatalf("run simulation: %v", err)
		}
		m.Print()
		if s.Trace.Enabled() {
			printTraceSummary(trace.Summarize(s.Trace))
		}

		rec := results.NewRunRecord(s.Config(), dev.Name, startTime, m)
		if resultsJSONPath != "" {
			if err := results.WriteJSON(resultsJSONPath, rec); err != nil {
				logrus.Fatalf("save results: %v", err)
			}
			logrus.Infof("Wrote run record to %s", resultsJSONPath)
		}
		if resultsDBPath != "" {
			if err := appendHistory(ctx, resultsDBPath, rec); err != nil {
				logrus.Fatalf("record run history: %v", err)
			}
		}

		logrus.Info("Simulation complete.")
	},
}

// buildConfig starts from the built-in defaults, applies the preset if one was
// named, then applies every flag the user set explicitly.
func buildConfig(changed func(name string) bool) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if presetName != "" {
		p, err := GetPreset(defaultsFilePath, presetName)
		if err != nil {
			return cfg, err
		}
		p.applyTo(&cfg)
		logrus.Infof("Loaded preset %q from %s", presetName, defaultsFilePath)
	}

	// Flags override the preset only when given on the command line.
	if changed("lps") {
		cfg.NumLPs = numLPs
	}
	if changed("work-group-size") {
		cfg.WorkGroupSize = workGroupSize
	}
	if changed("stop-time") {
		cfg.StopTime = stopTime
	}
	if changed("lookahead") {
		cfg.Lookahead = lookahead
	}
	if changed("mean-delay") {
		cfg.MeanDelay = meanDelay
	}
	if changed("local-rate") {
		cfg.LocalRate = localRate
	}
	if changed("seed") {
		cfg.Seed = seed
	}
	if changed("reducer") {
		cfg.Reducer = reducer
	}
	if changed("workers") {
		cfg.Workers = workers
	}
	cfg.TraceLevel = trace.TraceLevel(traceLevel)
	return cfg, cfg.Validate()
}

func appendHistory(ctx context.Context, path string, rec results.RunRecord) error {
	store, err := results.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Insert(ctx, rec)
	if err != nil {
		return err
	}
	logrus.Infof("Recorded run %d in %s", id, path)
	return nil
}

// Execute runs the CLI root command
// Interrupts cancel the context handed to every subcommand.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().IntVar(&numLPs, "lps", sim.DefaultNumLPs, "Number of logical processes")
	runCmd.Flags().IntVar(&workGroupSize, "work-group-size", sim.DefaultWorkGroupSize, "Work-items per work-group")
	runCmd.Flags().Float32Var(&stopTime, "stop-time", sim.DefaultStopTime, "Simulated time at which the run stops")
	runCmd.Flags().Float32Var(&lookahead, "lookahead", sim.DefaultLookahead, "Minimum delay of every successor event")
	runCmd.Flags().Float32Var(&meanDelay, "mean-delay", sim.DefaultMeanDelay, "Mean of the exponential successor delay")
	runCmd.Flags().Float64Var(&localRate, "local-rate", sim.DefaultLocalRate, "Probability a successor event targets its own LP")
	runCmd.Flags().Int64Var(&seed, "seed", sim.DefaultSeed, "Seed for per-LP random number generators")

	runCmd.Flags().StringVar(&reducer, "reducer", sim.ReducerSort, "LBTS reducer (sort, min)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Host workers for sorting and reduction (0 = device compute units)")
	runCmd.Flags().IntVar(&deviceIndex, "device", 0, "Index of the compute device to run on")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Round trace level (none, rounds)")

	runCmd.Flags().StringVar(&defaultsFilePath, "config", "defaults.yaml", "Path to the presets file")
	runCmd.Flags().StringVar(&presetName, "preset", "", "Preset to load from the presets file")
	runCmd.Flags().StringVar(&resultsJSONPath, "results-json", "", "Write the run record as JSON to this file")
	runCmd.Flags().StringVar(&resultsDBPath, "results-db", "", "Append the run record to this SQLite database")

	historyCmd.Flags().StringVar(&historyDBPath, "results-db", "runs.db", "SQLite run history to read")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of most recent runs to show")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}
