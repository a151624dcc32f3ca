// Package store defines the ResultStore interface for persisting runs and
// their per-iteration summaries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/stats"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

var (
	// ErrRunNotFound is returned when a run ID (or prefix) matches no stored run.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when an imported run ID is already stored.
	ErrRunExists = errors.New("run already exists")
)

func validStatus(s string) bool {
	switch s {
	case StatusRunning, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Run describes one stored simulation run.
type Run struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Status    string            `json:"status"`
	Config    params.RunConfig  `json:"config"`
	RoundAges []int             `json:"round_ages"`
	Workers   int               `json:"workers"`
	TablePath string            `json:"table_path,omitempty"`
	ParamPath string            `json:"params_path,omitempty"`
	Stored    int               `json:"stored_iterations"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ResultStore persists runs and their summaries.
type ResultStore interface {
	// CreateRun stores r with status running and returns its new ID.
	CreateRun(ctx context.Context, r Run) (string, error)

	// ImportRun stores r, keeping its ID, creation time and status.
	ImportRun(ctx context.Context, r Run) error

	// FinishRun sets the final status of a run.
	FinishRun(ctx context.Context, id, status string) error

	// SaveSummary stores the summary of one iteration of a run.
	SaveSummary(ctx context.Context, runID string, s stats.Summary) error

	// GetRun returns the run whose ID equals or starts with id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]Run, error)

	// LoadSummaries returns the stored summaries of a run in iteration order.
	LoadSummaries(ctx context.Context, runID string) ([]stats.Summary, error)

	// DeleteRun removes a run and everything stored for it.
	DeleteRun(ctx context.Context, id string) error

	Close() error
}
