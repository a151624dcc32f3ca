// Package screening decides, for one individual at one age, whether a
// detection event preempts the natural history: a scheduled mammogram
// (Policy) or background clinical detection (Clinical).
package screening

import (
	"fmt"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/params"
)

// ParticipationSource supplies fresh uniform draws for attendance decisions.
// rng.Stream implements it.
type ParticipationSource interface {
	Participation() float64
}

// Result is the outcome of one screening invitation.
type Result struct {
	Attended bool // a mammogram took place
	Round    int  // schedule round of the mammogram, -1 when not invited
	Detected bool // the mammogram found DCIS
}

// Policy is a screening schedule. Exactly one Policy is active per run.
type Policy interface {
	// Name identifies the policy in outputs.
	Name() params.Variant

	// RoundAges lists the screening ages in round order.
	RoundAges() []int

	// Evaluate screens an individual at age. detectionDraw is the
	// individual's detection draw for that age.
	Evaluate(age int, status model.Status, detectionDraw float64, part ParticipationSource) Result
}

// New returns the policy for cfg.Variant.
func New(cfg params.RunConfig) (Policy, error) {
	switch cfg.Variant {
	case params.Biennial:
		return NewBiennial(cfg.Compliance, cfg.Sensitivity), nil
	case params.CrossValidation:
		return NewCrossValidation(cfg.Sensitivity), nil
	default:
		return nil, fmt.Errorf("unknown screening variant %q", cfg.Variant)
	}
}

// detects applies the mammogram sensitivity test.
func detects(status model.Status, detectionDraw, sensitivity float64) bool {
	return status.State == model.DCIS && detectionDraw < sensitivity
}

// Biennial invites ages 50, 52, ..., 74. Attendance is gated by compliance.
type Biennial struct {
	Compliance  float64
	Sensitivity float64
}

// NewBiennial returns a biennial policy.
func NewBiennial(compliance, sensitivity float64) *Biennial {
	return &Biennial{Compliance: compliance, Sensitivity: sensitivity}
}

func (b *Biennial) Name() params.Variant { return params.Biennial }

func (b *Biennial) RoundAges() []int {
	ages := make([]int, 0, constants.BiennialRounds)
	for age := constants.BiennialFirstAge; age <= constants.BiennialLastAge; age += constants.BiennialInterval {
		ages = append(ages, age)
	}
	return ages
}

// round returns the round index for age, or -1 if age is not invited.
func (b *Biennial) round(age int) int {
	if age < constants.BiennialFirstAge || age > constants.BiennialLastAge {
		return -1
	}
	if (age-constants.BiennialFirstAge)%constants.BiennialInterval != 0 {
		return -1
	}
	return (age - constants.BiennialFirstAge) / constants.BiennialInterval
}

func (b *Biennial) Evaluate(age int, status model.Status, detectionDraw float64, part ParticipationSource) Result {
	round := b.round(age)
	if round < 0 {
		return Result{Round: -1}
	}
	if part.Participation() >= b.Compliance {
		return Result{Round: round}
	}
	return Result{
		Attended: true,
		Round:    round,
		Detected: detects(status, detectionDraw, b.Sensitivity),
	}
}

// CrossValidation is the short validation sub-study schedule: age 50
// always screens, ages 51 and 52 with probability 0.78 and age 53 with
// probability 0.81. Run compliance does not apply.
type CrossValidation struct {
	Sensitivity float64
}

// NewCrossValidation returns a cross-validation policy.
func NewCrossValidation(sensitivity float64) *CrossValidation {
	return &CrossValidation{Sensitivity: sensitivity}
}

func (c *CrossValidation) Name() params.Variant { return params.CrossValidation }

func (c *CrossValidation) RoundAges() []int {
	ages := make([]int, constants.CrossValidationRounds)
	for i := range ages {
		ages[i] = constants.CrossValidationFirstAge + i
	}
	return ages
}

// participation returns the attendance probability at age; zero outside
// the schedule.
func (c *CrossValidation) participation(age int) float64 {
	switch age - constants.CrossValidationFirstAge {
	case 0:
		return 1
	case 1, 2:
		return constants.CrossValidationEarlyParticipation
	case 3:
		return constants.CrossValidationLateParticipation
	default:
		return 0
	}
}

func (c *CrossValidation) Evaluate(age int, status model.Status, detectionDraw float64, part ParticipationSource) Result {
	p := c.participation(age)
	if p == 0 {
		return Result{Round: -1}
	}
	round := age - constants.CrossValidationFirstAge
	// Age 50 attends unconditionally and consumes no participation draw.
	if p < 1 && part.Participation() >= p {
		return Result{Round: round}
	}
	return Result{
		Attended: true,
		Round:    round,
		Detected: detects(status, detectionDraw, c.Sensitivity),
	}
}

// Clinical is background detection outside the screening program.
type Clinical struct {
	Rate float64
}

// Evaluate reports whether DCIS is clinically detected given the
// individual's detection draw. Callers invoke it only when screening did
// not detect at the same age.
func (c Clinical) Evaluate(status model.Status, detectionDraw float64) bool {
	return status.State == model.DCIS && detectionDraw < c.Rate
}
