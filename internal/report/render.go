package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/nvandessel/simdcis/internal/stats"
	"github.com/nvandessel/simdcis/internal/store"
)

var (
	colorHeader lipgloss.Color = "#cba6f7"
	colorMuted  lipgloss.Color = "#6c7086"

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHeader).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	naStyle     = cellStyle.Foreground(colorMuted)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Report is everything shown for one stored run.
type Report struct {
	Run       store.Run       `json:"run"`
	Summaries []stats.Summary `json:"summaries"`
	Stats     []Stat          `json:"stats"`
}

// New builds the report of run from its summaries.
func New(run store.Run, summaries []stats.Summary) *Report {
	return &Report{
		Run:       run,
		Summaries: summaries,
		Stats:     Summarize(summaries, DefaultMetrics),
	}
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Render writes the run header, the per-iteration table and the
// cross-iteration statistics.
func (r *Report) Render(w io.Writer) error {
	cfg := r.Run.Config
	header := fmt.Sprintf("Run %s (%s, %s)\n", r.Run.ID, cfg.Variant, r.Run.Status)
	details := fmt.Sprintf("population %s, %d/%d iterations, compliance %g, sensitivity %g, clinical detection %g\n",
		humanize.Comma(int64(cfg.PopulationSize)), len(r.Summaries), cfg.IterationCount,
		cfg.Compliance, cfg.Sensitivity, cfg.ClinicalDetectionRate)
	if _, err := io.WriteString(w, titleStyle.Render(header)+details+"\n"); err != nil {
		return err
	}
	if err := RenderSummaries(w, r.Summaries); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return RenderStats(w, r.Stats)
}

// RenderSummaries writes one table row per iteration.
func RenderSummaries(w io.Writer, summaries []stats.Summary) error {
	headers := []string{"Iter", "Mammograms", "Deaths", "Regressions", "Invasive", "Screen", "Clinical", "Survivors", "AvDeath", "AvSDAge", "AvCDAge"}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			strconv.Itoa(s.Iteration),
			humanize.Comma(int64(s.Mammograms)),
			humanize.Comma(int64(s.Deaths)),
			humanize.Comma(int64(s.Regressions)),
			humanize.Comma(int64(s.Invasive)),
			humanize.Comma(int64(s.ScreenDetected)),
			humanize.Comma(int64(s.ClinicallyDetected)),
			humanize.Comma(int64(s.Survivors)),
			s.AvgDeathAge.String(),
			s.AvgScreenAge.String(),
			s.AvgClinicalAge.String(),
		})
	}
	return writeTable(w, headers, rows)
}

// RenderStats writes one table row per metric.
func RenderStats(w io.Writer, st []Stat) error {
	headers := []string{"Metric", "N", "Mean", "SD", "Min", "Median", "Max"}
	rows := make([][]string, 0, len(st))
	for _, s := range st {
		rows = append(rows, []string{
			s.Name, strconv.Itoa(s.N),
			s.Mean.String(), s.SD.String(), s.Min.String(), s.Median.String(), s.Max.String(),
		})
	}
	return writeTable(w, headers, rows)
}

// RenderRuns writes one table row per stored run.
func RenderRuns(w io.Writer, runs []store.Run) error {
	headers := []string{"ID", "Created", "Status", "Screening", "Population", "Iterations"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Status,
			string(r.Config.Variant),
			humanize.Comma(int64(r.Config.PopulationSize)),
			fmt.Sprintf("%d/%d", r.Stored, r.Config.IterationCount),
		})
	}
	return writeTable(w, headers, rows)
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && col < len(rows[row]) && rows[row][col] == stats.NA {
				return naStyle
			}
			return cellStyle
		})
	_, err := io.WriteString(w, t.String()+"\n")
	return err
}
