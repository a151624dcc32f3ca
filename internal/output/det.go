package output

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/stats"
)

// File names of the two summary tables.
const (
	SummaryFileName = "simdcis1.det"
	GradeFileName   = "simdcis2.det"
)

// tsvFile is a buffered tab-separated output file.
type tsvFile struct {
	path string
	file *os.File
	w    *bufio.Writer
}

func createTSV(path string, header ...[]string) (*tsvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &SinkError{Path: path, Op: "open", Err: err}
	}
	t := &tsvFile{path: path, file: f, w: bufio.NewWriter(f)}
	for _, h := range header {
		if err := t.row(h); err != nil {
			f.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *tsvFile) row(fields []string) error {
	if _, err := t.w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		return &SinkError{Path: t.path, Op: "write", Err: err}
	}
	return nil
}

// flush makes completed rows visible to readers of the file.
func (t *tsvFile) flush() error {
	if err := t.w.Flush(); err != nil {
		return &SinkError{Path: t.path, Op: "write", Err: err}
	}
	return nil
}

func (t *tsvFile) Close() error {
	if t.file == nil {
		return nil
	}
	f := t.file
	t.file = nil
	err := t.w.Flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &SinkError{Path: t.path, Op: "close", Err: err}
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }

// SummaryTable writes simdcis1.det: one row per iteration.
type SummaryTable struct {
	*tsvFile
}

// SummaryHeader returns the column names of simdcis1.det for a policy
// screening at roundAges.
func SummaryHeader(roundAges []int) []string {
	h := []string{"Iter", "Nmam", "Ndeath", "Nreg", "NIBC", "NCD", "NSD", "Nsurv"}
	for g := 1; g <= constants.Grades; g++ {
		h = append(h, fmt.Sprintf("Ng%d", g))
	}
	for g := 1; g <= constants.Grades; g++ {
		h = append(h, fmt.Sprintf("NSDg%d", g))
	}
	for _, age := range roundAges {
		h = append(h, fmt.Sprintf("Nmam%d", age))
	}
	for _, age := range roundAges {
		h = append(h, fmt.Sprintf("NSD%d", age))
	}
	for b := 0; b < constants.AgeBuckets; b++ {
		h = append(h, fmt.Sprintf("NCDi%d", b*constants.AgeBucketWidth))
	}
	return append(h, "AvDeath", "AvSDAge", "AvCDAge")
}

// CreateSummaryTable creates path and writes the header.
func CreateSummaryTable(path string, roundAges []int) (*SummaryTable, error) {
	t, err := createTSV(path, SummaryHeader(roundAges))
	if err != nil {
		return nil, err
	}
	return &SummaryTable{t}, nil
}

func (t *SummaryTable) WriteSummary(s stats.Summary) error {
	row := []string{
		itoa(s.Iteration), itoa(s.Mammograms), itoa(s.Deaths), itoa(s.Regressions),
		itoa(s.Invasive), itoa(s.ClinicallyDetected), itoa(s.ScreenDetected), itoa(s.Survivors),
	}
	for _, n := range s.Onsets {
		row = append(row, itoa(n))
	}
	for _, n := range s.ScreenByGrade {
		row = append(row, itoa(n))
	}
	for _, n := range s.MammogramsByRound {
		row = append(row, itoa(n))
	}
	for _, n := range s.ScreenByRound {
		row = append(row, itoa(n))
	}
	for b := 0; b < constants.AgeBuckets; b++ {
		row = append(row, itoa(s.ClinicalInBucket(b)))
	}
	row = append(row, s.AvgDeathAge.String(), s.AvgScreenAge.String(), s.AvgClinicalAge.String())
	if err := t.row(row); err != nil {
		return err
	}
	return t.flush()
}

// GradeTable writes simdcis2.det: for every iteration, one row per age
// bucket with screen, clinical and invasive counts, in total and by grade.
type GradeTable struct {
	*tsvFile
}

// GradeHeader returns the two header lines of simdcis2.det.
func GradeHeader() [][]string {
	return [][]string{
		{"", "", "Screen", "", "", "", "Clinical", "", "", "", "Progressed", "", "", ""},
		{"Iter", "Age", "All", "1", "2", "3", "All", "1", "2", "3", "All", "1", "2", "3"},
	}
}

// CreateGradeTable creates path and writes the header.
func CreateGradeTable(path string) (*GradeTable, error) {
	t, err := createTSV(path, GradeHeader()...)
	if err != nil {
		return nil, err
	}
	return &GradeTable{t}, nil
}

func (t *GradeTable) WriteSummary(s stats.Summary) error {
	for b := 0; b < constants.AgeBuckets; b++ {
		row := []string{itoa(s.Iteration), itoa(b * constants.AgeBucketWidth)}
		for _, table := range []*stats.BucketGrade{&s.ScreenByBucket, &s.ClinicalByBucket, &s.InvasiveByBucket} {
			total := 0
			for _, n := range table[b] {
				total += n
			}
			row = append(row, itoa(total))
			for _, n := range table[b] {
				row = append(row, itoa(n))
			}
		}
		if err := t.row(row); err != nil {
			return err
		}
	}
	return t.flush()
}
