package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFileName is the file name of the default results database.
const DBFileName = "results.db"

// GlobalSimdcisPath returns the path to the global .simdcis directory.
// On Unix: ~/.simdcis
// On Windows: %USERPROFILE%\.simdcis
func GlobalSimdcisPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".simdcis"), nil
}

// DefaultDBPath returns ~/.simdcis/results.db.
func DefaultDBPath() (string, error) {
	dir, err := GlobalSimdcisPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName), nil
}

// EnsureGlobalSimdcisDir creates the global .simdcis directory if it doesn't exist.
func EnsureGlobalSimdcisDir() error {
	globalPath, err := GlobalSimdcisPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(globalPath, 0755); err != nil {
		return fmt.Errorf("failed to create global .simdcis directory: %w", err)
	}
	return nil
}
