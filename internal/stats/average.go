package stats

import (
	"encoding/json"
	"strconv"
)

// NA is the text rendering of an undefined average.
const NA = "NA"

// Average is a mean whose denominator may be zero. An invalid Average
// is reported as NA in text outputs and null in structured ones, never
// as a platform-specific NaN.
type Average struct {
	Value float64
	Valid bool
}

// Mean returns sum/n, or an invalid Average when n is zero.
func Mean(sum, n int) Average {
	if n == 0 {
		return Average{}
	}
	return Average{Value: float64(sum) / float64(n), Valid: true}
}

// Ptr returns the value as a pointer, nil when invalid. Used for nullable
// database columns and Arrow fields.
func (a Average) Ptr() *float64 {
	if !a.Valid {
		return nil
	}
	v := a.Value
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr(p *float64) Average {
	if p == nil {
		return Average{}
	}
	return Average{Value: *p, Valid: true}
}

func (a Average) String() string {
	if !a.Valid {
		return NA
	}
	return strconv.FormatFloat(a.Value, 'f', 2, 64)
}

func (a Average) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

func (a *Average) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Average{}
		return nil
	}
	if err := json.Unmarshal(data, &a.Value); err != nil {
		return err
	}
	a.Valid = true
	return nil
}
