package simulation

import (
	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/screening"
)

// Cause names what changed an individual's status at one age.
type Cause string

const (
	CauseDeath       Cause = "death"
	CauseOnset       Cause = "onset"
	CauseRegression  Cause = "regression"
	CauseProgression Cause = "progression"
	CauseScreen      Cause = "screen"
	CauseClinical    Cause = "clinical"
)

// Event is one status change, reported to an Observer.
type Event struct {
	Iteration  int
	Individual int
	Age        int
	From       model.Status
	To         model.Status
	Cause      Cause
}

// Draws supplies an individual's random numbers. rng.Stream implements it.
type Draws interface {
	Progression(age int) float64
	Detection(age int) float64
	Participation() float64
}

// Observer receives status changes as they happen. It is called from the
// goroutine simulating the individual.
type Observer func(Event)

// Machine is the per-individual state machine. It holds only immutable
// inputs and is safe for concurrent use.
type Machine struct {
	table    *params.Table
	policy   screening.Policy
	clinical screening.Clinical
	observe  Observer
}

// NewMachine creates a machine. observe may be nil.
func NewMachine(table *params.Table, policy screening.Policy, clinical screening.Clinical, observe Observer) *Machine {
	return &Machine{table: table, policy: policy, clinical: clinical, observe: observe}
}

// Run simulates one individual to its terminal state or past MaxAge.
func (m *Machine) Run(stream Draws, individual, iteration int) *model.Trajectory {
	t := model.NewTrajectory(individual, iteration)
	cur := model.Status{State: model.Healthy}

	for age := 0; age <= constants.MaxAge; age++ {
		next, cause := m.progress(age, cur, stream.Progression(age))

		switch cause {
		case CauseOnset:
			t.Onsets[next.Grade.Index()]++
		case CauseRegression:
			t.Regressions++
		}
		if cause != "" {
			m.emit(t, age, cur, next, cause)
		}

		if !next.State.Terminal() {
			draw := stream.Detection(age)
			res := m.policy.Evaluate(age, next, draw, stream)
			if res.Attended {
				t.Mammograms = append(t.Mammograms, model.Mammogram{Age: age, Round: res.Round})
			}
			switch {
			case res.Detected:
				detected := model.Status{State: model.ScreenDetected, Grade: next.Grade}
				m.emit(t, age, next, detected, CauseScreen)
				next = detected
				t.ScreenRound = res.Round
			case m.clinical.Evaluate(next, draw):
				detected := model.Status{State: model.ClinicallyDetected, Grade: next.Grade}
				m.emit(t, age, next, detected, CauseClinical)
				next = detected
			}
		}

		t.Statuses = append(t.Statuses, next)
		cur = next
		if cur.State.Terminal() {
			break
		}
	}
	return t
}

// progress applies the natural-history transition for age. The returned
// cause is empty when the individual stays in its current status.
func (m *Machine) progress(age int, cur model.Status, u float64) (model.Status, Cause) {
	switch cur.State {
	case model.Healthy:
		branches := [1 + constants.Grades]model.Branch[model.Status]{
			{P: m.table.Death(age), Outcome: model.Status{State: model.Dead}},
			{P: m.table.Onset(age, 1), Outcome: model.Status{State: model.DCIS, Grade: 1}},
			{P: m.table.Onset(age, 2), Outcome: model.Status{State: model.DCIS, Grade: 2}},
			{P: m.table.Onset(age, 3), Outcome: model.Status{State: model.DCIS, Grade: 3}},
		}
		next, ok := model.Choose(u, branches[:], cur)
		if !ok {
			return cur, ""
		}
		if next.State == model.Dead {
			return next, CauseDeath
		}
		return next, CauseOnset

	case model.DCIS:
		g := cur.Grade
		branches := [3]model.Branch[model.Status]{
			{P: m.table.Death(age), Outcome: model.Status{State: model.Dead, Grade: g}},
			{P: m.table.Regress(age, g), Outcome: model.Status{State: model.Healthy}},
			{P: m.table.Progress(age, g), Outcome: model.Status{State: model.Invasive, Grade: g}},
		}
		next, ok := model.Choose(u, branches[:], cur)
		if !ok {
			return cur, ""
		}
		switch next.State {
		case model.Dead:
			return next, CauseDeath
		case model.Healthy:
			return next, CauseRegression
		default:
			return next, CauseProgression
		}

	default:
		return cur, ""
	}
}

func (m *Machine) emit(t *model.Trajectory, age int, from, to model.Status, cause Cause) {
	if m.observe == nil {
		return
	}
	m.observe(Event{
		Iteration:  t.Iteration,
		Individual: t.Individual,
		Age:        age,
		From:       from,
		To:         to,
		Cause:      cause,
	})
}
