package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/report"
	"github.com/nvandessel/simdcis/internal/store"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report the summaries of a stored run",
		Long: `Show the per-iteration summaries of a run recorded in the results
database, with the mean, standard deviation and range of every counter
across iterations. Undefined averages (no events in an iteration) are
shown as NA and left out of the statistics.

Examples:
  simdcis report                    # Latest run
  simdcis report --run 3f2a9c1e     # Run by ID prefix
  simdcis report --check            # Also check the stored counts
  simdcis report --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			runID, _ := cmd.Flags().GetString("run")
			check, _ := cmd.Flags().GetBool("check")

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
			run, err := selectRun(ctx, s, runID)
			if err != nil {
				return err
			}
			summaries, err := s.LoadSummaries(ctx, run.ID)
			if err != nil {
				return err
			}
			rep := report.New(*run, summaries)

			var issues []store.ValidationError
			if check {
				if issues, err = store.ValidateRun(ctx, s, run.ID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if !check {
					return rep.WriteJSON(out)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{"report": rep, "issues": issues}); err != nil {
					return err
				}
			} else {
				if err := rep.Render(out); err != nil {
					return err
				}
				if check {
					fmt.Fprintln(out)
					if len(issues) == 0 {
						fmt.Fprintln(out, "✓ Stored counts are consistent")
					}
					for _, e := range issues {
						fmt.Fprintf(out, "  - %s\n", e)
					}
				}
			}

			if len(issues) > 0 {
				return fmt.Errorf("run %s has %d inconsistent count(s)", run.ID, len(issues))
			}
			return nil
		},
	}

	cmd.Flags().String("db", "", "Results database (default from config)")
	cmd.Flags().String("run", "", "Run ID or unique prefix (default: latest run)")
	cmd.Flags().Bool("check", false, "Check the stored counts for consistency")

	return cmd
}

// selectRun returns the run named by id, or the newest run when id is empty.
func selectRun(ctx context.Context, s store.ResultStore, id string) (*store.Run, error) {
	if id != "" {
		return s.GetRun(ctx, id)
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs recorded")
	}
	return &runs[0], nil
}
