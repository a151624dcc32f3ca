// Package archive exports stored runs to portable files and imports them
// into another results database.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/simdcis/internal/store"
)

// FileExt is the extension of archive files.
const FileExt = ".simdcis.gz"

// DefaultPath returns the archive path for run id in dir.
func DefaultPath(dir, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(dir, fmt.Sprintf("run-%s-%s%s", short, time.Now().Format("20060102-150405"), FileExt))
}

// Export writes the run matching id (or a unique prefix) and its summaries
// to path.
func Export(ctx context.Context, s store.ResultStore, id, path string) (*Header, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	summaries, err := s.LoadSummaries(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries of run %s: %w", run.ID, err)
	}
	run.Stored = len(summaries)
	return Write(path, &Payload{Run: *run, Summaries: summaries})
}

// ImportResult describes one imported archive.
type ImportResult struct {
	RunID     string `json:"run_id"`
	Summaries int    `json:"summaries"`
	Skipped   bool   `json:"skipped"`
}

// Import stores the run in the archive at path. A run whose ID is already
// stored is skipped unless replace is set, in which case it is deleted first.
func Import(ctx context.Context, s store.ResultStore, path string, replace bool) (*ImportResult, error) {
	_, p, err := Read(path)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{RunID: p.Run.ID}

	if replace {
		if err := s.DeleteRun(ctx, p.Run.ID); err != nil && !errors.Is(err, store.ErrRunNotFound) {
			return nil, err
		}
	}
	if err := s.ImportRun(ctx, p.Run); err != nil {
		if errors.Is(err, store.ErrRunExists) {
			result.Skipped = true
			return result, nil
		}
		return nil, err
	}

	for _, sum := range p.Summaries {
		if err := s.SaveSummary(ctx, p.Run.ID, sum); err != nil {
			if delErr := s.DeleteRun(ctx, p.Run.ID); delErr != nil {
				err = errors.Join(err, delErr)
			}
			return nil, fmt.Errorf("failed to import iteration %d: %w", sum.Iteration, err)
		}
		result.Summaries++
	}
	return result, nil
}
