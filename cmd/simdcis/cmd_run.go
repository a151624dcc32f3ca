package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/config"
	"github.com/nvandessel/simdcis/internal/logging"
	"github.com/nvandessel/simdcis/internal/output"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/pathutil"
	"github.com/nvandessel/simdcis/internal/sanitize"
	"github.com/nvandessel/simdcis/internal/screening"
	"github.com/nvandessel/simdcis/internal/simulation"
	"github.com/nvandessel/simdcis/internal/stats"
	"github.com/nvandessel/simdcis/internal/store"
)

// runResult is the JSON output of a completed run.
type runResult struct {
	RunID      string        `json:"run_id,omitempty"`
	OutDir     string        `json:"out_dir"`
	Files      []string      `json:"files"`
	Iterations int           `json:"iterations"`
	Population int           `json:"population"`
	Elapsed    string        `json:"elapsed"`
	Totals     stats.Summary `json:"totals"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: `Run the simulation for every iteration of the population.

The transition table has one row per age 0-100:
  age pDeath pOnset1 pOnset2 pOnset3 pRegress1..3 pProgress1..3

The run parameters file sets Compliance, Sensitivity, ClinicalDet,
NPopulation, NIterations and optionally ScreenMode (1 = biennial,
0 = cross-validation). YAML, TOML and JSON files are also accepted.

Files written to the output directory:
  simdcis<it>.out    per-individual trajectories (unless --no-trajectories)
  simdcis1.det       one summary row per iteration
  simdcis2.det       age bucket x grade tables per iteration
  summary.arrow      summaries as an Arrow IPC file (with --arrow)
  events.jsonl       event log (log level debug or trace)

Examples:
  simdcis run --table transition.txt --params inputparams.txt
  simdcis run --table transition.txt --params run.yaml --out runs/a --workers 4
  simdcis run --table transition.txt --params inputparams.txt --store --label study=baseline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			return runSimulation(cmd, cfg)
		},
	}

	cmd.Flags().String("table", "", "Transition probability table (required)")
	cmd.Flags().String("params", "", "Run parameters file (required)")
	cmd.Flags().String("out", "", "Output directory (default from config)")
	cmd.Flags().Int("workers", 0, "Iterations simulated at once (default from config, 0 = one per CPU)")
	cmd.Flags().Bool("no-trajectories", false, "Do not write trajectory files")
	cmd.Flags().Bool("compress", false, "Gzip trajectory files")
	cmd.Flags().Bool("arrow", false, "Also write summary.arrow")
	cmd.Flags().Bool("store", false, "Record the run in the results database")
	cmd.Flags().String("db", "", "Results database path (implies --store)")
	cmd.Flags().StringToString("label", nil, "Label stored with the run (key=value, repeatable)")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("params")

	return cmd
}

// applyRunFlags overrides configuration values with the flags that were set.
func applyRunFlags(cmd *cobra.Command, cfg *config.SimdcisConfig) error {
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output.Dir, _ = flags.GetString("out")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("no-trajectories") {
		noTraj, _ := flags.GetBool("no-trajectories")
		cfg.Output.Trajectories = !noTraj
	}
	if flags.Changed("compress") {
		cfg.Output.Compress, _ = flags.GetBool("compress")
	}
	if flags.Changed("arrow") {
		cfg.Output.Arrow, _ = flags.GetBool("arrow")
	}
	if flags.Changed("store") {
		cfg.Store.Enabled, _ = flags.GetBool("store")
	}
	if db, _ := flags.GetString("db"); db != "" {
		cfg.Store.Enabled = true
		cfg.Store.Path = db
	}
	return cfg.Validate()
}

// progressInterval is the minimum time between progress log lines.
const progressInterval = 5 * time.Second

// closer is an output file that must be flushed after the run.
type closer interface {
	Close() error
}

func runSimulation(cmd *cobra.Command, cfg *config.SimdcisConfig) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	tablePath, _ := cmd.Flags().GetString("table")
	paramsPath, _ := cmd.Flags().GetString("params")
	rawLabels, _ := cmd.Flags().GetStringToString("label")
	logger := newLogger(cmd, cfg)

	labels, err := sanitize.Labels(rawLabels)
	if err != nil {
		return err
	}

	table, err := params.LoadTable(tablePath)
	if err != nil {
		return err
	}
	if err := table.Validate(tablePath); err != nil {
		return err
	}
	runCfg, err := params.LoadRunConfig(paramsPath)
	if err != nil {
		return err
	}
	policy, err := screening.New(runCfg)
	if err != nil {
		return err
	}

	outDir := cfg.Output.Dir
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logBanner(logger, tablePath, paramsPath, runCfg, policy, cfg)

	var (
		sinks   []simulation.SummarySink
		closers []closer
		files   []string
	)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i].Close())
		}
		closers = nil
		return errors.Join(errs...)
	}
	defer closeAll()

	summaryPath := filepath.Join(outDir, output.SummaryFileName)
	summaryTable, err := output.CreateSummaryTable(summaryPath, policy.RoundAges())
	if err != nil {
		return err
	}
	sinks, closers, files = append(sinks, summaryTable), append(closers, summaryTable), append(files, summaryPath)

	gradePath := filepath.Join(outDir, output.GradeFileName)
	gradeTable, err := output.CreateGradeTable(gradePath)
	if err != nil {
		return err
	}
	sinks, closers, files = append(sinks, gradeTable), append(closers, gradeTable), append(files, gradePath)

	if cfg.Output.Arrow {
		arrowPath := filepath.Join(outDir, output.ArrowFileName)
		aw, err := output.CreateArrowFile(arrowPath, string(policy.Name()), policy.RoundAges())
		if err != nil {
			return err
		}
		sinks, closers, files = append(sinks, aw), append(closers, aw), append(files, arrowPath)
	}

	sinks = append(sinks, simulation.NewProgressSink(logger, runCfg.IterationCount, runCfg.PopulationSize, progressInterval))

	var trajectories simulation.TrajectorySinkFactory
	if cfg.Output.Trajectories {
		trajectories = output.TrajectoryFiles(outDir, cfg.Output.Compress)
		for it := 0; it < runCfg.IterationCount; it++ {
			files = append(files, filepath.Join(outDir, output.TrajectoryFileName(it, cfg.Output.Compress)))
		}
	}

	events := logging.NewEventLogger(outDir, cfg.Logging.Level)
	defer events.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("interrupted, stopping run", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var results *store.SQLiteResultStore
	var runID string
	if cfg.Store.Enabled {
		dbPath, err := resolveDBPath(cfg.Store.Path, cfg, outDir)
		if err != nil {
			return err
		}
		results, err = store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open results database: %w", err)
		}
		defer results.Close()

		runID, err = results.CreateRun(ctx, store.Run{
			Config:    runCfg,
			RoundAges: policy.RoundAges(),
			Workers:   cfg.Workers,
			TablePath: tablePath,
			ParamPath: paramsPath,
			Labels:    labels,
		})
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		sinks = append(sinks, store.NewRunSink(ctx, results, runID))
		logger.Info("recording run", "run_id", runID, "db", pathutil.RedactPath(dbPath))
	}

	events.Log(map[string]any{
		"event":      "run_start",
		"run_id":     runID,
		"screening":  string(runCfg.Variant),
		"population": runCfg.PopulationSize,
		"iterations": runCfg.IterationCount,
	})

	driver, err := simulation.NewDriver(simulation.Config{
		Table:        table,
		Run:          runCfg,
		Workers:      cfg.Workers,
		Trajectories: trajectories,
		Summaries:    sinks,
		Logger:       logger,
		Events:       events,
	})
	if err != nil {
		return err
	}

	result, runErr := driver.Run(ctx)
	closeErr := closeAll()

	if results != nil {
		status := store.StatusComplete
		if runErr != nil || closeErr != nil {
			status = store.StatusFailed
		}
		if err := results.FinishRun(context.Background(), runID, status); err != nil {
			logger.Warn("failed to update run status", "run_id", runID, "error", err)
		}
	}

	events.Log(map[string]any{
		"event":   "run_done",
		"run_id":  runID,
		"ok":      runErr == nil && closeErr == nil,
		"elapsed": result.Elapsed.String(),
	})

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run cancelled")
		}
		return fmt.Errorf("run failed: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finish output files: %w", closeErr)
	}

	out := runResult{
		RunID:      runID,
		OutDir:     outDir,
		Files:      files,
		Iterations: runCfg.IterationCount,
		Population: runCfg.PopulationSize,
		Elapsed:    result.Elapsed.Round(time.Millisecond).String(),
		Totals:     result.Totals,
	}
	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printRunResult(cmd.OutOrStdout(), out)
	return nil
}

// logBanner logs the loaded parameters before the run starts.
func logBanner(logger *slog.Logger, tablePath, paramsPath string, runCfg params.RunConfig, policy screening.Policy, cfg *config.SimdcisConfig) {
	logger.Info("loaded parameters",
		"table", pathutil.RedactPath(tablePath),
		"params", pathutil.RedactPath(paramsPath))
	logger.Info("run configuration",
		"compliance", runCfg.Compliance,
		"sensitivity", runCfg.Sensitivity,
		"clinical_detection", runCfg.ClinicalDetectionRate,
		"population", humanize.Comma(int64(runCfg.PopulationSize)),
		"iterations", runCfg.IterationCount,
		"screening", policy.Name(),
		"screening_ages", policy.RoundAges())
	logger.Debug("output settings",
		"dir", cfg.Output.Dir,
		"trajectories", cfg.Output.Trajectories,
		"compress", cfg.Output.Compress,
		"arrow", cfg.Output.Arrow,
		"store", cfg.Store.Enabled)
}

func printRunResult(w io.Writer, r runResult) {
	t := r.Totals
	fmt.Fprintf(w, "Simulated %d iterations of %s individuals in %s\n",
		r.Iterations, humanize.Comma(int64(r.Population)), r.Elapsed)
	if r.RunID != "" {
		fmt.Fprintf(w, "Run ID: %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Output: %s\n\n", r.OutDir)
	fmt.Fprintf(w, "Totals over all iterations:\n")
	fmt.Fprintf(w, "  mammograms:          %s\n", humanize.Comma(int64(t.Mammograms)))
	fmt.Fprintf(w, "  deaths:              %s (mean age %s)\n", humanize.Comma(int64(t.Deaths)), t.AvgDeathAge)
	fmt.Fprintf(w, "  regressions:         %s\n", humanize.Comma(int64(t.Regressions)))
	fmt.Fprintf(w, "  invasive:            %s\n", humanize.Comma(int64(t.Invasive)))
	fmt.Fprintf(w, "  screen detected:     %s (mean age %s)\n", humanize.Comma(int64(t.ScreenDetected)), t.AvgScreenAge)
	fmt.Fprintf(w, "  clinically detected: %s (mean age %s)\n", humanize.Comma(int64(t.ClinicallyDetected)), t.AvgClinicalAge)
	fmt.Fprintf(w, "  survivors:           %s\n", humanize.Comma(int64(t.Survivors)))
}
