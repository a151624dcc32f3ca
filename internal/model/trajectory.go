package model

import "github.com/nvandessel/simdcis/internal/constants"

// Mammogram records an attended screening invitation.
type Mammogram struct {
	Age   int
	Round int
}

// Trajectory is the life history of one individual in one iteration.
// Statuses[a] holds the (state, grade) after age a was simulated; the slice
// ends at the terminal age or at MaxAge.
type Trajectory struct {
	Individual int
	Iteration  int
	Statuses   []Status

	// Onsets counts DCIS onsets by grade index. An individual whose lesion
	// regresses can develop a new one later.
	Onsets      [constants.Grades]int
	Regressions int
	Mammograms  []Mammogram

	// ScreenRound is the policy round of the screen detection, or -1.
	ScreenRound int
}

// NewTrajectory returns an empty trajectory for the given individual.
func NewTrajectory(individual, iteration int) *Trajectory {
	return &Trajectory{
		Individual:  individual,
		Iteration:   iteration,
		Statuses:    make([]Status, 0, constants.AgeCount),
		ScreenRound: -1,
	}
}

// Final returns the last recorded status and its age. An empty trajectory
// reports Healthy at age -1.
func (t *Trajectory) Final() (Status, int) {
	if len(t.Statuses) == 0 {
		return Status{State: Healthy}, -1
	}
	last := len(t.Statuses) - 1
	return t.Statuses[last], last
}

// Outcome returns the final state. Individuals that never reached a
// terminal state end in Healthy or DCIS.
func (t *Trajectory) Outcome() State {
	s, _ := t.Final()
	return s.State
}
