package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/screening"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a transition table and run parameters",
		Long: `Load the inputs of a run without simulating.

This command checks for:
  - Unreadable files, missing or extra columns, non-numeric fields
  - Age rows missing or out of sequence (0-100)
  - Negative probabilities
  - Probability partitions summing above 1

Examples:
  simdcis validate --table transition.txt
  simdcis validate --table transition.txt --params inputparams.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			tablePath, _ := cmd.Flags().GetString("table")
			paramsPath, _ := cmd.Flags().GetString("params")
			out := cmd.OutOrStdout()

			table, err := params.LoadTable(tablePath)
			if err != nil {
				return err
			}
			violations := table.Violations()

			var runCfg *params.RunConfig
			var screeningAges []int
			if paramsPath != "" {
				c, err := params.LoadRunConfig(paramsPath)
				if err != nil {
					return err
				}
				policy, err := screening.New(c)
				if err != nil {
					return err
				}
				runCfg = &c
				screeningAges = policy.RoundAges()
			}

			if jsonOut {
				msgs := make([]string, len(violations))
				for i, v := range violations {
					msgs[i] = v.String()
				}
				result := map[string]any{
					"valid":      len(violations) == 0,
					"table":      tablePath,
					"violations": msgs,
				}
				if runCfg != nil {
					result["run"] = runCfg
					result["screening_ages"] = screeningAges
				}
				if err := json.NewEncoder(out).Encode(result); err != nil {
					return err
				}
			} else {
				if len(violations) == 0 {
					fmt.Fprintf(out, "✓ Transition table is valid (%d ages)\n", constants.AgeCount)
				} else {
					fmt.Fprintf(out, "Found %d issue(s) in the transition table:\n\n", len(violations))
					for _, v := range violations {
						fmt.Fprintf(out, "  - %s\n", v)
					}
				}
				if runCfg != nil {
					fmt.Fprintf(out, "✓ Run parameters are valid\n")
					fmt.Fprintf(out, "  screening:   %s at ages %v\n", runCfg.Variant, screeningAges)
					fmt.Fprintf(out, "  compliance:  %g\n", runCfg.Compliance)
					fmt.Fprintf(out, "  sensitivity: %g\n", runCfg.Sensitivity)
					fmt.Fprintf(out, "  clinical:    %g\n", runCfg.ClinicalDetectionRate)
					fmt.Fprintf(out, "  population:  %d x %d iterations\n", runCfg.PopulationSize, runCfg.IterationCount)
				}
			}

			if len(violations) > 0 {
				return fmt.Errorf("transition table has %d issue(s)", len(violations))
			}
			return nil
		},
	}

	cmd.Flags().String("table", "", "Transition probability table (required)")
	cmd.Flags().String("params", "", "Run parameters file")
	cmd.MarkFlagRequired("table")

	return cmd
}
