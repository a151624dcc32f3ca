// Package output writes simulation results to files: per-iteration
// trajectory files, the per-iteration summary and grade tables, and a
// columnar Arrow IPC summary.
//
// File names follow the historical layout:
//
//	simdcis<it>.out   one line per individual: index, then state+grade per age
//	simdcis1.det      one row per iteration with all counters and averages
//	simdcis2.det      one row per iteration and age bucket, split by grade
//	summary.arrow     the summary rows as an Arrow IPC file
package output

import (
	"fmt"

	"github.com/nvandessel/simdcis/internal/pathutil"
)

// SinkError reports a failure to open, write or close an output file.
type SinkError struct {
	Path string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("output %s %s: %v", e.Op, pathutil.RedactPath(e.Path), e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
