// Package report derives cross-iteration statistics from summary records
// and renders them as console tables or JSON.
package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/simdcis/internal/stats"
)

// Metric extracts one per-iteration value from a summary. ok is false
// when the value is undefined for that iteration.
type Metric struct {
	Name  string
	Value func(s stats.Summary) (v float64, ok bool)
}

func count(f func(s stats.Summary) int) func(stats.Summary) (float64, bool) {
	return func(s stats.Summary) (float64, bool) { return float64(f(s)), true }
}

func average(f func(s stats.Summary) stats.Average) func(stats.Summary) (float64, bool) {
	return func(s stats.Summary) (float64, bool) {
		a := f(s)
		return a.Value, a.Valid
	}
}

// DefaultMetrics are the columns of a run report.
var DefaultMetrics = []Metric{
	{"mammograms", count(func(s stats.Summary) int { return s.Mammograms })},
	{"deaths", count(func(s stats.Summary) int { return s.Deaths })},
	{"regressions", count(func(s stats.Summary) int { return s.Regressions })},
	{"invasive", count(func(s stats.Summary) int { return s.Invasive })},
	{"screen_detected", count(func(s stats.Summary) int { return s.ScreenDetected })},
	{"clinically_detected", count(func(s stats.Summary) int { return s.ClinicallyDetected })},
	{"survivors", count(func(s stats.Summary) int { return s.Survivors })},
	{"avg_death_age", average(func(s stats.Summary) stats.Average { return s.AvgDeathAge })},
	{"avg_screen_age", average(func(s stats.Summary) stats.Average { return s.AvgScreenAge })},
	{"avg_clinical_age", average(func(s stats.Summary) stats.Average { return s.AvgClinicalAge })},
}

// Stat describes one metric across iterations. N counts the iterations
// where the metric was defined; SD needs at least two of them.
type Stat struct {
	Name   string        `json:"name"`
	N      int           `json:"n"`
	Mean   stats.Average `json:"mean"`
	SD     stats.Average `json:"sd"`
	Min    stats.Average `json:"min"`
	Median stats.Average `json:"median"`
	Max    stats.Average `json:"max"`
}

// Describe computes the statistics of xs.
func Describe(name string, xs []float64) Stat {
	st := Stat{Name: name, N: len(xs)}
	if len(xs) == 0 {
		return st
	}
	mean, sd := stat.MeanStdDev(xs, nil)
	st.Mean = valid(mean)
	if len(xs) > 1 {
		st.SD = valid(sd)
	}
	st.Min = valid(floats.Min(xs))
	st.Max = valid(floats.Max(xs))

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	st.Median = valid(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	return st
}

func valid(v float64) stats.Average {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return stats.Average{}
	}
	return stats.Average{Value: v, Valid: true}
}

// Summarize applies Describe to every metric over summaries. Iterations
// where a metric is undefined are left out of its statistics.
func Summarize(summaries []stats.Summary, metrics []Metric) []Stat {
	out := make([]Stat, 0, len(metrics))
	for _, m := range metrics {
		xs := make([]float64, 0, len(summaries))
		for _, s := range summaries {
			if v, ok := m.Value(s); ok {
				xs = append(xs, v)
			}
		}
		out = append(out, Describe(m.Name, xs))
	}
	return out
}
