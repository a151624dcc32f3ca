// Package stats accumulates individual outcomes into per-iteration counts
// and derives the summary record with its average ages.
package stats

import (
	"fmt"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
)

// BucketGrade is a count table indexed by [age bucket][grade index].
type BucketGrade [constants.AgeBuckets][constants.Grades]int

// Bucket returns the age bucket of age.
func Bucket(age int) int {
	return age / constants.AgeBucketWidth
}

// Counts holds the raw counters of one iteration (or of several merged
// iterations). Round-indexed slices are sized by the active policy.
type Counts struct {
	Population int `json:"population"`

	Mammograms        int   `json:"mammograms"`
	MammogramsByRound []int `json:"mammograms_by_round"`

	Deaths      int                   `json:"deaths"`
	DeathAgeSum int                   `json:"death_age_sum"`
	Regressions int                   `json:"regressions"`
	Onsets      [constants.Grades]int `json:"onsets_by_grade"`

	Invasive         int                   `json:"invasive"`
	InvasiveByGrade  [constants.Grades]int `json:"invasive_by_grade"`
	InvasiveByBucket BucketGrade           `json:"invasive_by_bucket"`

	ScreenDetected int                   `json:"screen_detected"`
	ScreenAgeSum   int                   `json:"screen_age_sum"`
	ScreenByRound  []int                 `json:"screen_by_round"`
	ScreenByGrade  [constants.Grades]int `json:"screen_by_grade"`
	ScreenByBucket BucketGrade           `json:"screen_by_bucket"`

	ClinicallyDetected int                   `json:"clinically_detected"`
	ClinicalAgeSum     int                   `json:"clinical_age_sum"`
	ClinicalByGrade    [constants.Grades]int `json:"clinical_by_grade"`
	ClinicalByBucket   BucketGrade           `json:"clinical_by_bucket"`

	// Survivors are individuals still Healthy or in DCIS after MaxAge.
	Survivors int `json:"survivors"`
}

// Rounds returns the number of screening rounds the counts are sized for.
func (c *Counts) Rounds() int {
	return len(c.MammogramsByRound)
}

// ClinicalInBucket returns clinical detections in bucket b over all grades.
func (c *Counts) ClinicalInBucket(b int) int {
	n := 0
	for _, v := range c.ClinicalByBucket[b] {
		n += v
	}
	return n
}

// Outcomes returns the sum of all terminal outcomes plus survivors. It
// equals Population for consistent counts.
func (c *Counts) Outcomes() int {
	return c.Deaths + c.Invasive + c.ScreenDetected + c.ClinicallyDetected + c.Survivors
}

func (c Counts) clone() Counts {
	c.MammogramsByRound = append([]int(nil), c.MammogramsByRound...)
	c.ScreenByRound = append([]int(nil), c.ScreenByRound...)
	return c
}

// Aggregator owns the counters of one iteration. It is not safe for
// concurrent use; parallel workers keep their own and Merge them.
type Aggregator struct {
	c Counts
}

// NewAggregator returns an empty aggregator for a policy with the given
// number of screening rounds.
func NewAggregator(rounds int) *Aggregator {
	return &Aggregator{c: Counts{
		MammogramsByRound: make([]int, rounds),
		ScreenByRound:     make([]int, rounds),
	}}
}

// Reset clears all counters, keeping the round count.
func (a *Aggregator) Reset() {
	*a = *NewAggregator(a.c.Rounds())
}

// Record adds one finished trajectory.
func (a *Aggregator) Record(t *model.Trajectory) {
	c := &a.c
	c.Population++
	c.Regressions += t.Regressions
	for g, n := range t.Onsets {
		c.Onsets[g] += n
	}
	for _, m := range t.Mammograms {
		c.Mammograms++
		if m.Round >= 0 && m.Round < len(c.MammogramsByRound) {
			c.MammogramsByRound[m.Round]++
		}
	}

	final, age := t.Final()
	switch final.State {
	case model.Dead:
		c.Deaths++
		c.DeathAgeSum += age
	case model.Invasive:
		g := final.Grade.Index()
		c.Invasive++
		c.InvasiveByGrade[g]++
		c.InvasiveByBucket[Bucket(age)][g]++
	case model.ScreenDetected:
		g := final.Grade.Index()
		c.ScreenDetected++
		c.ScreenAgeSum += age
		c.ScreenByGrade[g]++
		c.ScreenByBucket[Bucket(age)][g]++
		if t.ScreenRound >= 0 && t.ScreenRound < len(c.ScreenByRound) {
			c.ScreenByRound[t.ScreenRound]++
		}
	case model.ClinicallyDetected:
		g := final.Grade.Index()
		c.ClinicallyDetected++
		c.ClinicalAgeSum += age
		c.ClinicalByGrade[g]++
		c.ClinicalByBucket[Bucket(age)][g]++
	default:
		c.Survivors++
	}
}

// Merge adds the counters of o into a. Merging is associative and
// commutative. Both aggregators must be sized for the same rounds.
func (a *Aggregator) Merge(o *Aggregator) error {
	if a.c.Rounds() != o.c.Rounds() {
		return fmt.Errorf("cannot merge counts for %d rounds into %d rounds", o.c.Rounds(), a.c.Rounds())
	}
	c, x := &a.c, &o.c
	c.Population += x.Population
	c.Mammograms += x.Mammograms
	c.Deaths += x.Deaths
	c.DeathAgeSum += x.DeathAgeSum
	c.Regressions += x.Regressions
	c.Invasive += x.Invasive
	c.ScreenDetected += x.ScreenDetected
	c.ScreenAgeSum += x.ScreenAgeSum
	c.ClinicallyDetected += x.ClinicallyDetected
	c.ClinicalAgeSum += x.ClinicalAgeSum
	c.Survivors += x.Survivors
	for r := range c.MammogramsByRound {
		c.MammogramsByRound[r] += x.MammogramsByRound[r]
		c.ScreenByRound[r] += x.ScreenByRound[r]
	}
	for g := 0; g < constants.Grades; g++ {
		c.Onsets[g] += x.Onsets[g]
		c.InvasiveByGrade[g] += x.InvasiveByGrade[g]
		c.ScreenByGrade[g] += x.ScreenByGrade[g]
		c.ClinicalByGrade[g] += x.ClinicalByGrade[g]
		for b := 0; b < constants.AgeBuckets; b++ {
			c.InvasiveByBucket[b][g] += x.InvasiveByBucket[b][g]
			c.ScreenByBucket[b][g] += x.ScreenByBucket[b][g]
			c.ClinicalByBucket[b][g] += x.ClinicalByBucket[b][g]
		}
	}
	return nil
}

// Counts returns a copy of the current counters.
func (a *Aggregator) Counts() Counts {
	return a.c.clone()
}

// Summary is the per-iteration record written to the summary sinks.
type Summary struct {
	Iteration int `json:"iteration"`
	Counts

	AvgDeathAge    Average `json:"avg_death_age"`
	AvgScreenAge   Average `json:"avg_screen_age"`
	AvgClinicalAge Average `json:"avg_clinical_age"`
}

// Summarize derives the summary record for iteration from the counters.
func (a *Aggregator) Summarize(iteration int) Summary {
	c := a.c.clone()
	return Summary{
		Iteration:      iteration,
		Counts:         c,
		AvgDeathAge:    Mean(c.DeathAgeSum, c.Deaths),
		AvgScreenAge:   Mean(c.ScreenAgeSum, c.ScreenDetected),
		AvgClinicalAge: Mean(c.ClinicalAgeSum, c.ClinicallyDetected),
	}
}
