package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simdcis/internal/output"
	"github.com/nvandessel/simdcis/internal/report"
)

func newInspectArrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-arrow <file>",
		Short: "Print the summaries stored in an Arrow file",
		Long: `Print the rows of a summary.arrow file written by 'simdcis run --arrow',
followed by the cross-iteration statistics.

Examples:
  simdcis inspect-arrow runs/a/summary.arrow
  simdcis inspect-arrow runs/a/summary.arrow --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			data, err := output.ReadArrowFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read arrow file: %w", err)
			}
			st := report.Summarize(data.Summaries, report.DefaultMetrics)

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"screening":  data.Screening,
					"round_ages": data.RoundAges,
					"summaries":  data.Summaries,
					"stats":      st,
				})
			}

			fmt.Fprintf(out, "%s screening at ages %v, %d iteration(s)\n\n", data.Screening, data.RoundAges, len(data.Summaries))
			if err := report.RenderSummaries(out, data.Summaries); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return report.RenderStats(out, st)
		},
	}
}
