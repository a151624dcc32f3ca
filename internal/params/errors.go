// Package params loads the two simulation inputs: the age-indexed
// transition probability table and the run configuration.
package params

import (
	"fmt"

	"github.com/nvandessel/simdcis/internal/pathutil"
)

// ConfigError reports a missing or malformed parameter or configuration
// source. It is always fatal: no simulation starts after one.
type ConfigError struct {
	Source string // file the problem was found in
	Line   int    // 1-based line number, 0 when not line-specific
	Field  string // offending key or column, may be empty
	Err    error
}

func (e *ConfigError) Error() string {
	loc := pathutil.RedactPath(e.Source)
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Field != "" {
		return fmt.Sprintf("config error in %s (%s): %v", loc, e.Field, e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", loc, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
