package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/config"
	"github.com/nvandessel/simdcis/internal/logging"
	"github.com/nvandessel/simdcis/internal/pathutil"
	"github.com/nvandessel/simdcis/internal/store"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simdcis",
		Short: "Microsimulation of DCIS screening and progression",
		Long: `simdcis simulates a population through ages 0-100 under an age-indexed
DCIS onset, regression and progression model, applies a mammography
screening policy and background clinical detection, and writes
per-individual trajectories and per-iteration summaries.

Runs can be recorded in a SQLite results database for later reporting.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (default from config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newReportCmd(),
		newRunsCmd(),
		newInspectArrowCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// loadConfig loads and validates the tool configuration, applying the
// --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.SimdcisConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.SimdcisConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// resolveDBPath picks the results database: the explicit path, then the
// configured one, then ~/.simdcis/results.db. The result must lie under
// ~/.simdcis, the working directory or one of extraDirs.
func resolveDBPath(explicit string, cfg *config.SimdcisConfig, extraDirs ...string) (string, error) {
	path := explicit
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		def, err := store.DefaultDBPath()
		if err != nil {
			return "", err
		}
		path = def
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	roots, err := pathutil.DefaultStoreRoots(append([]string{cwd}, extraDirs...)...)
	if err != nil {
		return "", err
	}
	resolved, err := roots.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("results database: %w", err)
	}
	return resolved, nil
}

// openStore opens the results database selected by the --db flag.
func openStore(cmd *cobra.Command, cfg *config.SimdcisConfig) (*store.SQLiteResultStore, error) {
	dbFlag, _ := cmd.Flags().GetString("db")
	path, err := resolveDBPath(dbFlag, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no results database at %s; record runs with 'simdcis run --db' or store.enabled", pathutil.RedactPath(path))
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	return s, nil
}
