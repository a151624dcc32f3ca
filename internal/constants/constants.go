// Package constants provides named constants used throughout the simdcis codebase.
// This centralizes model dimensions and schedule parameters in one place.
package constants

// Lifetime constants
const (
	// MaxAge is the last simulated age. Individuals still active after this
	// age leave the simulation as survivors.
	MaxAge = 100

	// AgeCount is the number of simulated ages (0..MaxAge inclusive).
	// Parameter tables and random streams are sized to this.
	AgeCount = MaxAge + 1

	// AgeBucketWidth groups ages for the bucketed detection and progression counts.
	AgeBucketWidth = 5

	// AgeBuckets is the number of age buckets (0,5,..,100).
	AgeBuckets = MaxAge/AgeBucketWidth + 1
)

// Grade constants
const (
	// Grades is the number of DCIS grades (1, 2, 3).
	Grades = 3

	// NoGrade marks an individual without an active lesion.
	NoGrade = 0
)

// Biennial screening schedule.
const (
	// BiennialFirstAge is the first age invited for screening.
	BiennialFirstAge = 50

	// BiennialLastAge is the last age invited for screening.
	BiennialLastAge = 74

	// BiennialInterval is the number of years between invitations.
	BiennialInterval = 2

	// BiennialRounds is the number of screening rounds (50, 52, ..., 74).
	BiennialRounds = (BiennialLastAge-BiennialFirstAge)/BiennialInterval + 1
)

// Cross-validation sub-study schedule. Age 50 always attends; the following
// ages attend with a fixed participation probability.
const (
	// CrossValidationFirstAge is the first (always attended) screening age.
	CrossValidationFirstAge = 50

	// CrossValidationEarlyParticipation is the participation probability at ages 51 and 52.
	CrossValidationEarlyParticipation = 0.78

	// CrossValidationLateParticipation is the participation probability at age 53.
	CrossValidationLateParticipation = 0.81

	// CrossValidationRounds is the number of screening rounds (50..53).
	CrossValidationRounds = 4
)

// ProbabilityTolerance is the slack allowed when checking that a
// probability partition sums to at most 1.
const ProbabilityTolerance = 1e-9
