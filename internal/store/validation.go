package store

import (
	"context"
	"fmt"

	"github.com/nvandessel/simdcis/internal/stats"
)

// ValidationError describes an inconsistency in a stored run.
type ValidationError struct {
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"` // -1 for run-level issues
	Check     string `json:"check"`     // "conservation", "grades", "buckets", "rounds", "iterations"
	Detail    string `json:"detail"`
}

// String returns a human-readable description of the validation error.
func (e ValidationError) String() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("%s: run %s: %s", e.Check, e.RunID, e.Detail)
	}
	return fmt.Sprintf("%s: run %s iteration %d: %s", e.Check, e.RunID, e.Iteration, e.Detail)
}

// ValidateRun checks the stored summaries of a run for internal
// consistency:
// - every individual has exactly one outcome
// - per-grade, per-bucket and per-round tables add up to their totals
// - a complete run has one summary per iteration, numbered 0..n-1
func ValidateRun(ctx context.Context, s ResultStore, runID string) ([]ValidationError, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.LoadSummaries(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}

	var errs []ValidationError
	add := func(it int, check, format string, args ...any) {
		errs = append(errs, ValidationError{
			RunID:     run.ID,
			Iteration: it,
			Check:     check,
			Detail:    fmt.Sprintf(format, args...),
		})
	}

	for i, sum := range summaries {
		if sum.Iteration != i {
			add(-1, "iterations", "summary %d has iteration %d", i, sum.Iteration)
		}
		if sum.Population != run.Config.PopulationSize {
			add(sum.Iteration, "conservation", "population %d, run has %d", sum.Population, run.Config.PopulationSize)
		}
		if got := sum.Outcomes(); got != sum.Population {
			add(sum.Iteration, "conservation", "outcomes add up to %d, population %d", got, sum.Population)
		}
		checkGrades(sum, add)
		checkBuckets(sum, add)
		checkRounds(sum, add)
	}

	if run.Status == StatusComplete && len(summaries) != run.Config.IterationCount {
		add(-1, "iterations", "%d summaries stored, run has %d iterations", len(summaries), run.Config.IterationCount)
	}
	if len(summaries) > run.Config.IterationCount {
		add(-1, "iterations", "%d summaries stored, more than %d iterations", len(summaries), run.Config.IterationCount)
	}

	return errs, nil
}

type addFunc func(it int, check, format string, args ...any)

func checkGrades(sum stats.Summary, add addFunc) {
	for _, c := range []struct {
		name   string
		total  int
		grades [3]int
	}{
		{"invasive", sum.Invasive, sum.InvasiveByGrade},
		{"screen", sum.ScreenDetected, sum.ScreenByGrade},
		{"clinical", sum.ClinicallyDetected, sum.ClinicalByGrade},
	} {
		if got := c.grades[0] + c.grades[1] + c.grades[2]; got != c.total {
			add(sum.Iteration, "grades", "%s by grade adds up to %d, total %d", c.name, got, c.total)
		}
	}
}

func checkBuckets(sum stats.Summary, add addFunc) {
	for _, c := range []struct {
		name   string
		grades [3]int
		table  *stats.BucketGrade
	}{
		{"invasive", sum.InvasiveByGrade, &sum.InvasiveByBucket},
		{"screen", sum.ScreenByGrade, &sum.ScreenByBucket},
		{"clinical", sum.ClinicalByGrade, &sum.ClinicalByBucket},
	} {
		var got [3]int
		for _, row := range c.table {
			for g, n := range row {
				got[g] += n
			}
		}
		if got != c.grades {
			add(sum.Iteration, "buckets", "%s buckets add up to %v, by grade %v", c.name, got, c.grades)
		}
	}
}

func checkRounds(sum stats.Summary, add addFunc) {
	mam, sd := 0, 0
	for r := range sum.MammogramsByRound {
		mam += sum.MammogramsByRound[r]
		sd += sum.ScreenByRound[r]
	}
	if mam != sum.Mammograms {
		add(sum.Iteration, "rounds", "mammograms by round add up to %d, total %d", mam, sum.Mammograms)
	}
	if sd != sum.ScreenDetected {
		add(sum.Iteration, "rounds", "screen detections by round add up to %d, total %d", sd, sum.ScreenDetected)
	}
}
