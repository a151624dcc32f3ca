// Package rng derives the reproducible per-individual random numbers that
// drive the state machine.
//
// Each individual in each iteration owns a Stream made of two fixed
// sequences of uniform draws, one per simulated age:
//
//   - progression draws, seeded with individual + 1 + iteration*population
//   - detection draws, seeded with 2*(individual + 1) + iteration*population
//
// Both sequences come from math/rand/v2's PCG generator. The seed formula
// fills the first PCG word; the second word selects the sequence kind and
// the iteration (iteration<<1 for progression, iteration<<1|1 for
// detection). Where the two seed formulas produce the same number for
// different individuals, the generators still differ.
//
// Participation draws (screening attendance) are generated on demand by
// continuing the detection generator past its fixed draws.
package rng

import (
	"math/rand/v2"

	"github.com/nvandessel/simdcis/internal/constants"
)

// Stream holds one individual's random numbers for one iteration.
// A Stream is not safe for concurrent use and is never shared.
type Stream struct {
	progression   [constants.AgeCount]float64
	detection     [constants.AgeCount]float64
	participation *rand.Rand
}

// ProgressionSeed returns the seed of the progression sequence.
func ProgressionSeed(individual, iteration, population int) uint64 {
	return uint64(individual + 1 + iteration*population)
}

// DetectionSeed returns the seed of the detection sequence.
func DetectionSeed(individual, iteration, population int) uint64 {
	return uint64(2*(individual+1) + iteration*population)
}

// NewStream derives the stream for (individual, iteration, population).
// The same triple always yields the same draws.
func NewStream(individual, iteration, population int) *Stream {
	s := &Stream{}
	sel := uint64(iteration) << 1

	prog := rand.New(rand.NewPCG(ProgressionSeed(individual, iteration, population), sel))
	for i := range s.progression {
		s.progression[i] = prog.Float64()
	}

	det := rand.New(rand.NewPCG(DetectionSeed(individual, iteration, population), sel|1))
	for i := range s.detection {
		s.detection[i] = det.Float64()
	}
	s.participation = det

	return s
}

// Progression returns the natural-history draw for age.
func (s *Stream) Progression(age int) float64 {
	return s.progression[age]
}

// Detection returns the screening/clinical detection draw for age.
func (s *Stream) Detection(age int) float64 {
	return s.detection[age]
}

// Participation returns a fresh uniform draw for a screening attendance
// decision. Successive calls return successive values.
func (s *Stream) Participation() float64 {
	return s.participation.Float64()
}
