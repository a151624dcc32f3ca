package params

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/model"
)

// tableFields is the number of columns in a parameter row: the age index
// followed by death, three onset, three regression and three progression
// probabilities.
const tableFields = 1 + 1 + 3*constants.Grades

// Row holds the transition probabilities for one age.
type Row struct {
	Death    float64
	Onset    [constants.Grades]float64
	Regress  [constants.Grades]float64
	Progress [constants.Grades]float64
}

// Table is the immutable age-indexed transition probability table.
type Table struct {
	rows [constants.AgeCount]Row
}

// NewTable builds a table from explicit rows. It is mostly useful for tests
// and synthetic scenarios; the rows are copied.
func NewTable(rows [constants.AgeCount]Row) *Table {
	return &Table{rows: rows}
}

// Row returns the probabilities for age.
func (t *Table) Row(age int) Row {
	return t.rows[age]
}

// Death returns the background mortality probability at age.
func (t *Table) Death(age int) float64 {
	return t.rows[age].Death
}

// Onset returns the healthy to DCIS probability for grade g at age.
func (t *Table) Onset(age int, g model.Grade) float64 {
	return t.rows[age].Onset[g.Index()]
}

// Regress returns the DCIS to healthy probability for grade g at age.
func (t *Table) Regress(age int, g model.Grade) float64 {
	return t.rows[age].Regress[g.Index()]
}

// Progress returns the DCIS to invasive probability for grade g at age.
func (t *Table) Progress(age int, g model.Grade) float64 {
	return t.rows[age].Progress[g.Index()]
}

// LoadTable reads a parameter table from path.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	defer f.Close()
	return ParseTable(f, path)
}

// ParseTable reads a whitespace separated parameter table. Blank lines and
// lines starting with '#' are ignored. Exactly AgeCount data rows are
// required, with the age column running 0..MaxAge in order.
func ParseTable(r io.Reader, source string) (*Table, error) {
	t := &Table{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	age := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if age >= constants.AgeCount {
			return nil, &ConfigError{Source: source, Line: lineNum, Err: fmt.Errorf("unexpected row after age %d", constants.MaxAge)}
		}

		fields := strings.Fields(line)
		if len(fields) != tableFields {
			return nil, &ConfigError{Source: source, Line: lineNum, Err: fmt.Errorf("expected %d fields, got %d", tableFields, len(fields))}
		}

		rowAge, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, &ConfigError{Source: source, Line: lineNum, Field: "age", Err: err}
		}
		if rowAge != age {
			return nil, &ConfigError{Source: source, Line: lineNum, Field: "age", Err: fmt.Errorf("expected age %d, got %d", age, rowAge)}
		}

		vals := make([]float64, tableFields-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &ConfigError{Source: source, Line: lineNum, Field: columnName(i), Err: err}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ConfigError{Source: source, Line: lineNum, Field: columnName(i), Err: fmt.Errorf("non-finite value %q", f)}
			}
			vals[i] = v
		}

		row := &t.rows[age]
		row.Death = vals[0]
		copy(row.Onset[:], vals[1:1+constants.Grades])
		copy(row.Regress[:], vals[1+constants.Grades:1+2*constants.Grades])
		copy(row.Progress[:], vals[1+2*constants.Grades:])
		age++
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}
	if age < constants.AgeCount {
		return nil, &ConfigError{Source: source, Err: fmt.Errorf("found %d age rows, need %d", age, constants.AgeCount)}
	}

	return t, nil
}

// columnName names probability column i (0 = death) for error messages.
func columnName(i int) string {
	switch {
	case i == 0:
		return "death"
	case i <= constants.Grades:
		return fmt.Sprintf("onset%d", i)
	case i <= 2*constants.Grades:
		return fmt.Sprintf("regress%d", i-constants.Grades)
	default:
		return fmt.Sprintf("progress%d", i-2*constants.Grades)
	}
}

// Violation describes one probability partition that cannot be sampled.
type Violation struct {
	Age    int
	Column string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("age %d %s: %s", v.Age, v.Column, v.Detail)
}

// Violations checks every age for negative probabilities and partitions
// whose mass exceeds 1. Each partition is sampled against a single uniform
// draw, so the implied "stay" mass must be non-negative.
func (t *Table) Violations() []Violation {
	var out []Violation
	for age, row := range t.rows {
		check := func(column string, p float64) {
			switch {
			case math.IsNaN(p) || math.IsInf(p, 0):
				out = append(out, Violation{Age: age, Column: column, Detail: fmt.Sprintf("non-finite probability %g", p)})
			case p < 0:
				out = append(out, Violation{Age: age, Column: column, Detail: fmt.Sprintf("negative probability %g", p)})
			}
		}
		check("death", row.Death)

		healthy := row.Death
		for g := 0; g < constants.Grades; g++ {
			check(fmt.Sprintf("onset%d", g+1), row.Onset[g])
			check(fmt.Sprintf("regress%d", g+1), row.Regress[g])
			check(fmt.Sprintf("progress%d", g+1), row.Progress[g])
			healthy += row.Onset[g]

			dcis := row.Death + row.Regress[g] + row.Progress[g]
			if !(dcis <= 1+constants.ProbabilityTolerance) {
				out = append(out, Violation{Age: age, Column: fmt.Sprintf("dcis%d", g+1), Detail: fmt.Sprintf("death+regress+progress = %g > 1", dcis)})
			}
		}
		if !(healthy <= 1+constants.ProbabilityTolerance) {
			out = append(out, Violation{Age: age, Column: "healthy", Detail: fmt.Sprintf("death+onset = %g > 1", healthy)})
		}
	}
	return out
}

// Validate returns a ConfigError listing all violations, or nil.
func (t *Table) Validate(source string) error {
	v := t.Violations()
	if len(v) == 0 {
		return nil
	}
	msgs := make([]string, len(v))
	for i, x := range v {
		msgs[i] = x.String()
	}
	return &ConfigError{Source: source, Err: errors.New(strings.Join(msgs, "; "))}
}
