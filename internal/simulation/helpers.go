package simulation

import (
	"context"
	"sync"
	"testing"

	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/stats"
)

// Recorder keeps trajectories and summaries in memory. It implements
// SummarySink, and Sink opens a TrajectorySink per iteration.
type Recorder struct {
	mu           sync.Mutex
	trajectories map[int][]*model.Trajectory
	summaries    []stats.Summary
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{trajectories: make(map[int][]*model.Trajectory)}
}

// Sink is a TrajectorySinkFactory.
func (r *Recorder) Sink(iteration int) (TrajectorySink, error) {
	return &recorderSink{r: r, iteration: iteration}, nil
}

func (r *Recorder) WriteSummary(s stats.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

// Summaries returns the summaries in the order they were written.
func (r *Recorder) Summaries() []stats.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stats.Summary(nil), r.summaries...)
}

// Iteration returns the trajectories recorded for iteration.
func (r *Recorder) Iteration(it int) []*model.Trajectory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trajectories[it]
}

type recorderSink struct {
	r         *Recorder
	iteration int
	buf       []*model.Trajectory
}

func (s *recorderSink) WriteTrajectory(t *model.Trajectory) error {
	s.buf = append(s.buf, t)
	return nil
}

func (s *recorderSink) Close() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.trajectories[s.iteration] = s.buf
	return nil
}

// RunScenario runs s to completion, failing the test on error.
func RunScenario(t *testing.T, s Scenario) ScenarioResult {
	t.Helper()

	rec := NewRecorder()
	cfg := Config{
		Table:     s.Table(),
		Run:       s.Run,
		Workers:   s.Workers,
		Summaries: []SummarySink{rec},
	}
	if s.KeepTrajectories {
		cfg.Trajectories = rec.Sink
	}

	d, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("RunScenario(%s): NewDriver: %v", s.Name, err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("RunScenario(%s): Run: %v", s.Name, err)
	}

	out := ScenarioResult{Result: res}
	if s.KeepTrajectories {
		out.Trajectories = make([][]*model.Trajectory, s.Run.IterationCount)
		for it := range out.Trajectories {
			out.Trajectories[it] = rec.Iteration(it)
		}
	}
	return out
}
