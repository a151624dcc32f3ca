package output

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/simdcis/internal/stats"
)

// ArrowFileName is the default name of the columnar summary file.
const ArrowFileName = "summary.arrow"

// Schema metadata keys.
const (
	metaScreening = "simdcis.screening"
	metaRoundAges = "simdcis.round_ages"
)

// Column layout of the summary file. Round-indexed counts are list columns;
// undefined averages are nulls.
var arrowFields = []arrow.Field{
	{Name: "iteration", Type: arrow.PrimitiveTypes.Int64},
	{Name: "population", Type: arrow.PrimitiveTypes.Int64},
	{Name: "mammograms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "deaths", Type: arrow.PrimitiveTypes.Int64},
	{Name: "regressions", Type: arrow.PrimitiveTypes.Int64},
	{Name: "invasive", Type: arrow.PrimitiveTypes.Int64},
	{Name: "screen_detected", Type: arrow.PrimitiveTypes.Int64},
	{Name: "clinically_detected", Type: arrow.PrimitiveTypes.Int64},
	{Name: "survivors", Type: arrow.PrimitiveTypes.Int64},
	{Name: "onsets_by_grade", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "mammograms_by_round", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "screen_by_round", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "avg_death_age", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "avg_screen_age", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "avg_clinical_age", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}

const (
	colIteration = iota
	colPopulation
	colMammograms
	colDeaths
	colRegressions
	colInvasive
	colScreen
	colClinical
	colSurvivors
	colOnsets
	colMammogramsByRound
	colScreenByRound
	colAvgDeath
	colAvgScreen
	colAvgClinical
)

// ArrowSchema returns the summary schema for a policy screening at
// roundAges.
func ArrowSchema(screening string, roundAges []int) *arrow.Schema {
	ages := make([]string, len(roundAges))
	for i, a := range roundAges {
		ages[i] = strconv.Itoa(a)
	}
	md := arrow.NewMetadata(
		[]string{metaScreening, metaRoundAges},
		[]string{screening, strings.Join(ages, ",")},
	)
	return arrow.NewSchema(arrowFields, &md)
}

// ArrowWriter collects summaries and writes them as one record batch to
// an Arrow IPC file on Close.
type ArrowWriter struct {
	path    string
	file    *os.File
	schema  *arrow.Schema
	builder *array.RecordBuilder
	rows    int
}

// CreateArrowFile creates path for writing.
func CreateArrowFile(path, screening string, roundAges []int) (*ArrowWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &SinkError{Path: path, Op: "open", Err: err}
	}
	schema := ArrowSchema(screening, roundAges)
	return &ArrowWriter{
		path:    path,
		file:    f,
		schema:  schema,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, schema),
	}, nil
}

func (aw *ArrowWriter) WriteSummary(s stats.Summary) error {
	if aw.file == nil {
		return &SinkError{Path: aw.path, Op: "write", Err: errors.New("writer closed")}
	}
	b := aw.builder
	ints := []struct {
		col int
		v   int
	}{
		{colIteration, s.Iteration},
		{colPopulation, s.Population},
		{colMammograms, s.Mammograms},
		{colDeaths, s.Deaths},
		{colRegressions, s.Regressions},
		{colInvasive, s.Invasive},
		{colScreen, s.ScreenDetected},
		{colClinical, s.ClinicallyDetected},
		{colSurvivors, s.Survivors},
	}
	for _, x := range ints {
		b.Field(x.col).(*array.Int64Builder).Append(int64(x.v))
	}

	appendList(b.Field(colOnsets).(*array.ListBuilder), s.Onsets[:])
	appendList(b.Field(colMammogramsByRound).(*array.ListBuilder), s.MammogramsByRound)
	appendList(b.Field(colScreenByRound).(*array.ListBuilder), s.ScreenByRound)

	appendAverage(b.Field(colAvgDeath).(*array.Float64Builder), s.AvgDeathAge)
	appendAverage(b.Field(colAvgScreen).(*array.Float64Builder), s.AvgScreenAge)
	appendAverage(b.Field(colAvgClinical).(*array.Float64Builder), s.AvgClinicalAge)

	aw.rows++
	return nil
}

func appendList(lb *array.ListBuilder, values []int) {
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.Int64Builder)
	for _, v := range values {
		vb.Append(int64(v))
	}
}

func appendAverage(fb *array.Float64Builder, a stats.Average) {
	if !a.Valid {
		fb.AppendNull()
		return
	}
	fb.Append(a.Value)
}

// Close writes the collected rows and closes the file.
func (aw *ArrowWriter) Close() error {
	if aw.file == nil {
		return nil
	}
	f := aw.file
	aw.file = nil
	defer aw.builder.Release()

	err := aw.writeRecord(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &SinkError{Path: aw.path, Op: "close", Err: err}
	}
	return nil
}

func (aw *ArrowWriter) writeRecord(f *os.File) error {
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(aw.schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return err
	}
	rec := aw.builder.NewRecord()
	defer rec.Release()
	if aw.rows > 0 {
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// ArrowSummaries is the content of a summary Arrow file.
type ArrowSummaries struct {
	Screening string
	RoundAges []int
	Summaries []stats.Summary
}

// ReadArrowFile reads a summary file written by ArrowWriter. Age-bucket
// tables are not stored in the file and come back empty.
func ReadArrowFile(path string) (*ArrowSummaries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer r.Close()

	out := &ArrowSummaries{}
	md := r.Schema().Metadata()
	if i := md.FindKey(metaScreening); i >= 0 {
		out.Screening = md.Values()[i]
	}
	if i := md.FindKey(metaRoundAges); i >= 0 && md.Values()[i] != "" {
		for _, a := range strings.Split(md.Values()[i], ",") {
			age, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("reading %s: bad round age %q: %w", path, a, err)
			}
			out.RoundAges = append(out.RoundAges, age)
		}
	}

	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading %s record %d: %w", path, i, err)
		}
		out.Summaries = append(out.Summaries, recordSummaries(rec)...)
	}
	return out, nil
}

func recordSummaries(rec arrow.Record) []stats.Summary {
	n := int(rec.NumRows())
	intCol := func(col, row int) int {
		return int(rec.Column(col).(*array.Int64).Value(row))
	}
	listCol := func(col, row int) []int {
		l := rec.Column(col).(*array.List)
		values := l.ListValues().(*array.Int64)
		start, end := l.ValueOffsets(row)
		out := make([]int, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, int(values.Value(int(j))))
		}
		return out
	}
	avgCol := func(col, row int) stats.Average {
		c := rec.Column(col).(*array.Float64)
		if c.IsNull(row) {
			return stats.Average{}
		}
		return stats.Average{Value: c.Value(row), Valid: true}
	}

	out := make([]stats.Summary, n)
	for row := 0; row < n; row++ {
		s := &out[row]
		s.Iteration = intCol(colIteration, row)
		s.Population = intCol(colPopulation, row)
		s.Mammograms = intCol(colMammograms, row)
		s.Deaths = intCol(colDeaths, row)
		s.Regressions = intCol(colRegressions, row)
		s.Invasive = intCol(colInvasive, row)
		s.ScreenDetected = intCol(colScreen, row)
		s.ClinicallyDetected = intCol(colClinical, row)
		s.Survivors = intCol(colSurvivors, row)
		copy(s.Onsets[:], listCol(colOnsets, row))
		s.MammogramsByRound = listCol(colMammogramsByRound, row)
		s.ScreenByRound = listCol(colScreenByRound, row)
		s.AvgDeathAge = avgCol(colAvgDeath, row)
		s.AvgScreenAge = avgCol(colAvgScreen, row)
		s.AvgClinicalAge = avgCol(colAvgClinical, row)
	}
	return out
}
