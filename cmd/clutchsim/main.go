// Command clutchsim runs a clutch-scheduler discrete-event simulation to
// completion and prints a summary.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AndrewWarb/human-scheduler/internal/config"
	"github.com/AndrewWarb/human-scheduler/pkg/api"
	"github.com/AndrewWarb/human-scheduler/pkg/engine"
	"golang.org/x/time/rate"
)

var (
	flagConfigFile string
	flagScenario   string
	flagDuration   int64
	flagCPUs       int
	flagSeed       int64
	flagTrace      bool
	flagStrictRT   bool
	flagServe      bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clutchsim",
		Short: "Run a clutch-scheduler discrete-event simulation",
		RunE:  runSimulate,
	}
	cmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a yaml config file")
	cmd.Flags().StringVar(&flagScenario, "scenario", "", fmt.Sprintf("scenario name (%s)", strings.Join(engine.ScenarioNames(), ", ")))
	cmd.Flags().Int64Var(&flagDuration, "duration", 0, "simulation duration in microseconds")
	cmd.Flags().IntVar(&flagCPUs, "cpus", 0, "number of simulated processors")
	cmd.Flags().Int64Var(&flagSeed, "seed", 0, "PRNG seed")
	cmd.Flags().BoolVar(&flagTrace, "trace", false, "print the full event trace on completion")
	cmd.Flags().BoolVar(&flagStrictRT, "strict-rt", false, "use strict fixed-priority RT semantics")
	cmd.Flags().BoolVar(&flagServe, "serve", false, "serve the final snapshot over the read-only API after completion")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) (err error) {
	cfg, loadErr := config.Load(flagConfigFile)
	if loadErr != nil {
		return loadErr
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("clutchsim: invalid configuration after flag overrides: %w", err)
	}

	logger := newLogger(cfg.Logging)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("scheduler core aborted")
			err = fmt.Errorf("clutchsim: aborted: %v", r)
		}
	}()

	params := engine.ScenarioParams{
		Name:     cfg.Scenario.Name,
		NumCPUs:  cfg.Scenario.CPUs,
		Duration: cfg.Scenario.Duration,
		TickUS:   cfg.Engine.TickIntervalUS,
		Seed:     cfg.Scenario.Seed,
		StrictRT: cfg.Scheduler.StrictRT,
	}
	scn, buildErr := engine.Build(cfg.Scenario.Name, params, logger)
	if buildErr != nil {
		return buildErr
	}

	logger.Info().
		Str("scenario", scn.Name).
		Str("fingerprint", engine.Fingerprint(params)).
		Int("cpus", cfg.Scenario.CPUs).
		Int64("duration_us", cfg.Scenario.Duration).
		Int64("seed", cfg.Scenario.Seed).
		Msg("starting simulation")

	scn.Engine.Run()

	printSummary(scn, cfg.Scenario.Duration)
	if flagTrace {
		for _, line := range scn.Scheduler.Stats().Trace.Lines() {
			fmt.Println(line)
		}
	}

	if flagServe || cfg.API.Enabled {
		return serveSnapshot(cfg, scn, logger)
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flagScenario != "" {
		cfg.Scenario.Name = flagScenario
	}
	if flagDuration > 0 {
		cfg.Scenario.Duration = flagDuration
	}
	if flagCPUs > 0 {
		cfg.Scenario.CPUs = flagCPUs
	}
	if flagSeed != 0 {
		cfg.Scenario.Seed = flagSeed
	}
	if flagStrictRT {
		cfg.Scheduler.StrictRT = true
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func printSummary(scn *engine.Scenario, now int64) {
	snap := scn.Scheduler.Snapshot(now)
	fmt.Printf("scenario=%s threads=%d wakeups=%d blocks=%d quantum_expires=%d ticks=%d context_switches=%d rt_deadline_misses=%d\n",
		scn.Name, len(snap.Threads), snap.Counters.Wakeups, snap.Counters.Blocks,
		snap.Counters.QuantumExpires, snap.Counters.Ticks, snap.Counters.ContextSwitches,
		snap.Counters.RTDeadlineMisses)
}

func serveSnapshot(cfg *config.Config, scn *engine.Scenario, logger zerolog.Logger) error {
	srv := api.New(api.Config{
		Addr:           cfg.API.Listen,
		JWTSecret:      []byte(cfg.API.JWTSecret),
		TraceRateLimit: rate.Limit(cfg.API.TraceRateLimit),
		TraceBurst:     cfg.API.TraceBurst,
	}, scn.Scheduler, scn.Engine.Now, logger)

	logger.Info().Str("addr", cfg.API.Listen).Msg("serving final snapshot over the read-only API")
	return http.ListenAndServe(cfg.API.Listen, srv.Handler())
}
