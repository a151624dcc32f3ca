// Package simulation runs the DCIS natural-history state machine for a
// synthetic population over repeated iterations.
//
// A Machine advances one individual from age 0 through MaxAge, consuming
// that individual's rng.Stream: one progression draw per age for the
// Markov transition, then the age's detection draw for the active
// screening policy and, if screening did not detect, for clinical
// detection. The loop stops at the first terminal state.
//
// A Driver repeats the population loop for every iteration. Iterations run
// concurrently on a bounded worker pool; each owns its own Aggregator, and
// summaries reach the sinks in iteration order.
//
// Usage:
//
//	d, err := simulation.NewDriver(simulation.Config{
//	    Table:     table,
//	    Run:       runCfg,
//	    Summaries: []simulation.SummarySink{detWriter},
//	})
//	result, err := d.Run(ctx)
package simulation
