package simulation

import (
	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/params"
)

// Scenario defines a synthetic run: a parameter table generated from a row
// function plus the run settings.
type Scenario struct {
	Name string

	// Rows returns the transition probabilities for age. Nil means every
	// probability is zero.
	Rows func(age int) params.Row

	Run     params.RunConfig
	Workers int

	// KeepTrajectories records every trajectory in the ScenarioResult.
	KeepTrajectories bool
}

// Table builds the scenario's parameter table.
func (s Scenario) Table() *params.Table {
	var rows [constants.AgeCount]params.Row
	if s.Rows != nil {
		for age := range rows {
			rows[age] = s.Rows(age)
		}
	}
	return params.NewTable(rows)
}

// Constant returns a row function yielding row at every age.
func Constant(row params.Row) func(int) params.Row {
	return func(int) params.Row { return row }
}

// DeathAt returns a row function in which nothing happens except certain
// death at age.
func DeathAt(age int) func(int) params.Row {
	return func(a int) params.Row {
		if a == age {
			return params.Row{Death: 1}
		}
		return params.Row{}
	}
}

// OnsetAt returns a row function with certain onset of grade at age and
// no other transition.
func OnsetAt(age, grade int) func(int) params.Row {
	return func(a int) params.Row {
		var r params.Row
		if a == age {
			r.Onset[grade-1] = 1
		}
		return r
	}
}

// ScenarioResult captures everything a scenario run produced.
type ScenarioResult struct {
	Result
	// Trajectories[it][i] is individual i of iteration it.
	Trajectories [][]*model.Trajectory
}
