package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/simdcis/internal/logging"
	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/rng"
	"github.com/nvandessel/simdcis/internal/screening"
	"github.com/nvandessel/simdcis/internal/stats"
)

// cancelCheckInterval is how many individuals are simulated between
// context checks.
const cancelCheckInterval = 1000

// TrajectorySink receives the trajectories of one iteration in individual
// order.
type TrajectorySink interface {
	WriteTrajectory(t *model.Trajectory) error
	Close() error
}

// TrajectorySinkFactory opens the trajectory sink for an iteration.
type TrajectorySinkFactory func(iteration int) (TrajectorySink, error)

// SummarySink receives one summary per iteration, in iteration order.
type SummarySink interface {
	WriteSummary(s stats.Summary) error
}

// Config configures a Driver.
type Config struct {
	Table *params.Table
	Run   params.RunConfig

	// Workers bounds the number of iterations simulated at once.
	// Zero means runtime.NumCPU().
	Workers int

	// Trajectories, when non-nil, receives every individual's trajectory.
	Trajectories TrajectorySinkFactory
	Summaries    []SummarySink

	Logger *slog.Logger
	Events *logging.EventLogger
}

// Result is what a completed run produced.
type Result struct {
	Summaries []stats.Summary
	Totals    stats.Summary
	Elapsed   time.Duration
}

// Driver repeats the population simulation for every iteration.
type Driver struct {
	cfg     Config
	policy  screening.Policy
	machine *Machine
	logger  *slog.Logger
}

// NewDriver validates cfg and builds the screening policy and machine.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Table == nil {
		return nil, errors.New("simulation: parameter table is required")
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	policy, err := screening.New(cfg.Run)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var observe Observer
	if cfg.Events.Tracing() {
		events := cfg.Events
		observe = func(e Event) {
			events.Log(map[string]any{
				"event":      "transition",
				"iteration":  e.Iteration,
				"individual": e.Individual,
				"age":        e.Age,
				"from":       e.From.State.String(),
				"to":         e.To.State.String(),
				"grade":      int(e.To.Grade),
				"cause":      string(e.Cause),
			})
		}
	}

	clinical := screening.Clinical{Rate: cfg.Run.ClinicalDetectionRate}
	return &Driver{
		cfg:     cfg,
		policy:  policy,
		machine: NewMachine(cfg.Table, policy, clinical, observe),
		logger:  logger,
	}, nil
}

// Policy returns the active screening policy.
func (d *Driver) Policy() screening.Policy {
	return d.policy
}

// Run simulates all iterations. It stops at the first sink error or when
// ctx is cancelled; summaries already emitted stay emitted.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	rounds := len(d.policy.RoundAges())
	n := d.cfg.Run.IterationCount

	d.logger.Info("starting run",
		"screening", d.policy.Name(),
		"iterations", n,
		"population", humanize.Comma(int64(d.cfg.Run.PopulationSize)),
		"workers", d.cfg.Workers)

	em := &emitter{
		sinks:   d.cfg.Summaries,
		pending: make(map[int]*stats.Aggregator),
		totals:  stats.NewAggregator(rounds),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for it := 0; it < n; it++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			agg, err := d.iterate(gctx, it, rounds)
			if err != nil {
				return err
			}
			return em.complete(it, agg)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	elapsed := time.Since(start)
	individuals := int64(n) * int64(d.cfg.Run.PopulationSize)
	d.logger.Info("run complete",
		"individuals", humanize.Comma(individuals),
		"elapsed", elapsed.Round(time.Millisecond))

	return Result{
		Summaries: em.emitted,
		Totals:    em.totals.Summarize(-1),
		Elapsed:   elapsed,
	}, nil
}

// iterate runs the population loop for one iteration.
func (d *Driver) iterate(ctx context.Context, it, rounds int) (*stats.Aggregator, error) {
	start := time.Now()
	agg := stats.NewAggregator(rounds)

	var sink TrajectorySink
	if d.cfg.Trajectories != nil {
		s, err := d.cfg.Trajectories(it)
		if err != nil {
			return nil, err
		}
		sink = s
	}

	pop := d.cfg.Run.PopulationSize
	for i := 0; i < pop; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				if sink != nil {
					sink.Close()
				}
				return nil, err
			}
		}
		t := d.machine.Run(rng.NewStream(i, it, pop), i, it)
		if sink != nil {
			if err := sink.WriteTrajectory(t); err != nil {
				sink.Close()
				return nil, err
			}
		}
		agg.Record(t)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			return nil, err
		}
	}

	c := agg.Counts()
	d.logger.Debug("iteration complete",
		"iteration", it,
		"individuals", humanize.Comma(int64(pop)),
		"elapsed", time.Since(start).Round(time.Millisecond))
	d.cfg.Events.Log(map[string]any{
		"event":      "iteration_done",
		"iteration":  it,
		"population": c.Population,
		"deaths":     c.Deaths,
		"invasive":   c.Invasive,
		"screen":     c.ScreenDetected,
		"clinical":   c.ClinicallyDetected,
		"survivors":  c.Survivors,
		"mammograms": c.Mammograms,
	})
	return agg, nil
}

// emitter releases finished iterations to the summary sinks in iteration
// order, whatever order they complete in.
type emitter struct {
	mu      sync.Mutex
	sinks   []SummarySink
	next    int
	pending map[int]*stats.Aggregator
	emitted []stats.Summary
	totals  *stats.Aggregator
}

func (e *emitter) complete(it int, agg *stats.Aggregator) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[it] = agg
	for {
		ready, ok := e.pending[e.next]
		if !ok {
			return nil
		}
		delete(e.pending, e.next)

		s := ready.Summarize(e.next)
		for _, sink := range e.sinks {
			if err := sink.WriteSummary(s); err != nil {
				return err
			}
		}
		if err := e.totals.Merge(ready); err != nil {
			return err
		}
		e.emitted = append(e.emitted, s)
		e.next++
	}
}
