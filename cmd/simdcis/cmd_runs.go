package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/archive"
	"github.com/nvandessel/simdcis/internal/report"
	"github.com/nvandessel/simdcis/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the results database",
		Long: `List runs recorded in the results database, newest first.

Examples:
  simdcis runs
  simdcis runs --db runs/results.db --json
  simdcis runs rm 3f2a9c1e
  simdcis runs prune --keep 10 --max-age 30d
  simdcis runs export 3f2a9c1e --out baseline.simdcis.gz
  simdcis runs import baseline.simdcis.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(context.Background())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(out).Encode(map[string]any{
					"runs":  runs,
					"count": len(runs),
				})
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			return report.RenderRuns(out, runs)
		},
	}

	cmd.PersistentFlags().String("db", "", "Results database (default from config)")
	cmd.AddCommand(newRunsRemoveCmd(), newRunsPruneCmd(), newRunsExportCmd(), newRunsImportCmd())

	return cmd
}

func newRunsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Delete a run and its summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if err := s.DeleteRun(ctx, run.ID); err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"status": "deleted",
					"run_id": run.ID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s (%d iterations)\n", run.ID, run.Stored)
			return nil
		},
	}
}

func newRunsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs from the results database",
		Long: `Delete stored runs not kept by the retention flags. A run is kept when
it is among the --keep newest runs, younger than --max-age, or still
running. At least one of --keep and --max-age is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			policy := &store.CompositePolicy{Policies: []store.RetentionPolicy{
				&store.StatusPolicy{Statuses: []string{store.StatusRunning}},
			}}
			if keep < 0 {
				return fmt.Errorf("--keep must be non-negative, got %d", keep)
			}
			if cmd.Flags().Changed("keep") {
				policy.Policies = append(policy.Policies, &store.CountPolicy{MaxCount: keep})
			}
			if maxAge != "" {
				d, err := store.ParseDuration(maxAge)
				if err != nil {
					return err
				}
				policy.Policies = append(policy.Policies, &store.AgePolicy{MaxAge: d})
			}
			if len(policy.Policies) == 1 {
				return fmt.Errorf("at least one of --keep and --max-age is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			pruned, err := store.Prune(context.Background(), s, policy, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				ids := make([]string, len(pruned))
				for i, r := range pruned {
					ids[i] = r.ID
				}
				return json.NewEncoder(out).Encode(map[string]any{
					"pruned":  ids,
					"count":   len(ids),
					"dry_run": dryRun,
				})
			}
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			for _, r := range pruned {
				fmt.Fprintf(out, "%s run %s (%s, %s)\n", verb, r.ID, r.Status, r.CreatedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintf(out, "%s %d run(s)\n", verb, len(pruned))
			return nil
		},
	}

	cmd.Flags().Int("keep", 0, "Keep the N newest runs")
	cmd.Flags().String("max-age", "", "Keep runs younger than this (e.g. 720h, 30d, 2w)")
	cmd.Flags().Bool("dry-run", false, "List the runs that would be deleted")

	return cmd
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write a run and its summaries to an archive file",
		Long: `Write a stored run and its summaries to a checksummed, gzip-compressed
archive that 'simdcis runs import' can load into another results database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			if path == "" {
				run, err := s.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				path = archive.DefaultPath(".", run.ID)
			}
			header, err := archive.Export(ctx, s, args[0], path)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"path":   path,
					"header": header,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported run %s (%d iterations) to %s\n", header.RunID, header.Iterations, path)
			return nil
		},
	}

	cmd.Flags().StringP("out", "o", "", "Archive path (default: ./run-<id>-<time>"+archive.FileExt+")")

	return cmd
}

func newRunsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Load runs from archive files",
		Long: `Load runs written by 'simdcis runs export'. Runs already in the database
are skipped unless --replace is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			replace, _ := cmd.Flags().GetBool("replace")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath, err = resolveDBPath(dbPath, cfg); err != nil {
				return err
			}
			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open results database: %w", err)
			}
			defer s.Close()

			ctx := context.Background()
			results := make([]*archive.ImportResult, 0, len(args))
			for _, path := range args {
				r, err := archive.Import(ctx, s, path, replace)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, r)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{"imported": results})
			}
			for _, r := range results {
				if r.Skipped {
					fmt.Fprintf(out, "Skipped run %s (already stored)\n", r.RunID)
					continue
				}
				fmt.Fprintf(out, "Imported run %s (%d iterations)\n", r.RunID, r.Summaries)
			}
			return nil
		},
	}

	cmd.Flags().Bool("replace", false, "Replace runs that are already stored")

	return cmd
}
