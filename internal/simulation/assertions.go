package simulation

import (
	"testing"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/stats"
)

// AssertConserved asserts that every summary accounts for each individual
// exactly once across deaths, invasive cancers, detections and survivors.
func AssertConserved(t *testing.T, summaries []stats.Summary, population int) {
	t.Helper()
	for _, s := range summaries {
		if s.Population != population {
			t.Errorf("AssertConserved: iteration %d: population %d, want %d", s.Iteration, s.Population, population)
		}
		if got := s.Outcomes(); got != population {
			t.Errorf("AssertConserved: iteration %d: deaths %d + invasive %d + screen %d + clinical %d + survivors %d = %d, want %d",
				s.Iteration, s.Deaths, s.Invasive, s.ScreenDetected, s.ClinicallyDetected, s.Survivors, got, population)
		}
	}
}

// AssertOrdered asserts that summaries arrived in iteration order.
func AssertOrdered(t *testing.T, summaries []stats.Summary) {
	t.Helper()
	for i, s := range summaries {
		if s.Iteration != i {
			t.Errorf("AssertOrdered: position %d holds iteration %d", i, s.Iteration)
		}
	}
}

// AssertWellFormed asserts that a trajectory has one valid status per
// simulated age, that only its last status may be terminal, and that it
// holds at most one detection.
func AssertWellFormed(t *testing.T, tr *model.Trajectory) {
	t.Helper()
	if len(tr.Statuses) == 0 || len(tr.Statuses) > constants.AgeCount {
		t.Errorf("AssertWellFormed: individual %d: %d statuses", tr.Individual, len(tr.Statuses))
		return
	}
	detections := 0
	last := len(tr.Statuses) - 1
	for age, st := range tr.Statuses {
		if !st.State.Valid() || !st.Grade.Valid() {
			t.Errorf("AssertWellFormed: individual %d age %d: invalid status %+v", tr.Individual, age, st)
		}
		if st.State.Terminal() && age != last {
			t.Errorf("AssertWellFormed: individual %d: terminal %s at age %d before end %d", tr.Individual, st.State, age, last)
		}
		if st.State == model.ScreenDetected || st.State == model.ClinicallyDetected {
			detections++
		}
		if st.State == model.DCIS && st.Grade == constants.NoGrade {
			t.Errorf("AssertWellFormed: individual %d age %d: DCIS without grade", tr.Individual, age)
		}
	}
	if detections > 1 {
		t.Errorf("AssertWellFormed: individual %d: %d detections", tr.Individual, detections)
	}
	if !tr.Statuses[last].State.Terminal() && last != constants.MaxAge {
		t.Errorf("AssertWellFormed: individual %d: non-terminal trajectory ends at age %d", tr.Individual, last)
	}
}
