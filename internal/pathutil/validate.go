// Package pathutil checks where results databases may be written and
// shortens paths for log and error output.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath shortens a path to .../<parent>/<base>, e.g.
// "/home/ana/runs/transition.txt" becomes ".../runs/transition.txt".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// StoreRoots lists the directories a results database may live under.
type StoreRoots []string

// DefaultStoreRoots returns ~/.simdcis plus every non-empty dir in extra
// (typically the working directory and the run output directory).
func DefaultStoreRoots(extra ...string) (StoreRoots, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	roots := StoreRoots{filepath.Join(home, ".simdcis")}
	for _, d := range extra {
		if d != "" {
			roots = append(roots, d)
		}
	}
	return roots, nil
}

// Resolve returns the absolute form of a database path after checking that,
// with symlinks followed, it lies under one of the roots. The database file
// and its directory need not exist yet.
func (r StoreRoots) Resolve(path string) (string, error) {
	switch {
	case path == "":
		return "", errors.New("database path is empty")
	case strings.ContainsRune(path, 0):
		return "", errors.New("database path contains a NUL byte")
	case len(r) == 0:
		return "", errors.New("no store roots configured")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make %s absolute: %w", RedactPath(path), err)
	}
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", err
	}

	for _, root := range r {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootResolved, err := evalExisting(rootAbs)
		if err != nil {
			continue
		}
		if within(rootResolved, resolved) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%s is not under any store root", RedactPath(abs))
}

// evalExisting follows symlinks in the longest existing prefix of an
// absolute path and re-appends the missing tail.
func evalExisting(abs string) (string, error) {
	var tail []string
	p := abs
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("cannot resolve %s", RedactPath(abs))
		}
		tail = append(tail, filepath.Base(p))
		p = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
