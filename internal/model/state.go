// Package model defines the per-individual state machine vocabulary:
// lesion states, grades, trajectories and the ordered-branch sampler.
package model

import "fmt"

// State is the health state of a simulated individual. The numeric values
// are part of the trajectory file format.
type State int

const (
	Healthy            State = 0
	Dead               State = 1
	DCIS               State = 2
	Invasive           State = 3
	ScreenDetected     State = 4
	ClinicallyDetected State = 5
)

// Terminal reports whether the individual stops advancing in age once in s.
func (s State) Terminal() bool {
	switch s {
	case Dead, Invasive, ScreenDetected, ClinicallyDetected:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= Healthy && s <= ClinicallyDetected
}

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Dead:
		return "dead"
	case DCIS:
		return "dcis"
	case Invasive:
		return "invasive"
	case ScreenDetected:
		return "screen-detected"
	case ClinicallyDetected:
		return "clinically-detected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Grade is the DCIS grade. Zero means no active lesion.
type Grade int

// Index returns the zero-based index used by grade-indexed vectors.
// It panics on NoGrade, which never has grade-specific probabilities.
func (g Grade) Index() int {
	if g < 1 || g > 3 {
		panic(fmt.Sprintf("model: grade %d has no index", int(g)))
	}
	return int(g) - 1
}

// Valid reports whether g is 0..3.
func (g Grade) Valid() bool {
	return g >= 0 && g <= 3
}

// Status is a (state, grade) pair, the unit recorded for each simulated age.
type Status struct {
	State State
	Grade Grade
}
