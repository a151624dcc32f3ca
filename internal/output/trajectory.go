package output

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/simulation"
)

// TrajectoryFileName returns the trajectory file name for iteration.
func TrajectoryFileName(iteration int, compress bool) string {
	name := fmt.Sprintf("simdcis%d.out", iteration)
	if compress {
		name += ".gz"
	}
	return name
}

// AppendTrajectory appends the text line for t: the individual index and
// one two-digit state+grade code per simulated age, each followed by a tab.
func AppendTrajectory(buf []byte, t *model.Trajectory) []byte {
	buf = strconv.AppendInt(buf, int64(t.Individual), 10)
	buf = append(buf, '\t')
	for _, st := range t.Statuses {
		buf = append(buf, byte('0'+st.State), byte('0'+st.Grade), '\t')
	}
	return append(buf, '\n')
}

// TrajectoryWriter writes one iteration's trajectories to a file,
// optionally gzip-compressed. It is not safe for concurrent use.
type TrajectoryWriter struct {
	path string
	file *os.File
	gz   *gzip.Writer
	w    *bufio.Writer
	line []byte
}

// CreateTrajectoryFile creates dir/simdcis<iteration>.out (or .out.gz).
func CreateTrajectoryFile(dir string, iteration int, compress bool) (*TrajectoryWriter, error) {
	path := filepath.Join(dir, TrajectoryFileName(iteration, compress))
	f, err := os.Create(path)
	if err != nil {
		return nil, &SinkError{Path: path, Op: "open", Err: err}
	}

	tw := &TrajectoryWriter{path: path, file: f}
	var dst io.Writer = f
	if compress {
		tw.gz = gzip.NewWriter(f)
		dst = tw.gz
	}
	tw.w = bufio.NewWriterSize(dst, 64*1024)
	return tw, nil
}

// Path returns the file being written.
func (tw *TrajectoryWriter) Path() string {
	return tw.path
}

func (tw *TrajectoryWriter) WriteTrajectory(t *model.Trajectory) error {
	tw.line = AppendTrajectory(tw.line[:0], t)
	if _, err := tw.w.Write(tw.line); err != nil {
		return &SinkError{Path: tw.path, Op: "write", Err: err}
	}
	return nil
}

// Close flushes buffered lines and closes the file. It is safe to call
// more than once.
func (tw *TrajectoryWriter) Close() error {
	if tw.file == nil {
		return nil
	}
	f := tw.file
	tw.file = nil

	err := tw.w.Flush()
	if tw.gz != nil {
		if cerr := tw.gz.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &SinkError{Path: tw.path, Op: "close", Err: err}
	}
	return nil
}

// TrajectoryFiles returns a factory creating one trajectory file per
// iteration in dir.
func TrajectoryFiles(dir string, compress bool) simulation.TrajectorySinkFactory {
	return func(iteration int) (simulation.TrajectorySink, error) {
		return CreateTrajectoryFile(dir, iteration, compress)
	}
}
