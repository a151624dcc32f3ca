package params

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Variant selects the screening policy of a run.
type Variant string

const (
	Biennial        Variant = "biennial"
	CrossValidation Variant = "cross-validation"
)

// ParseVariant accepts the policy names and the historical ScreenMode
// codes (1 = biennial, 0 = cross-validation).
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "biennial", "1":
		return Biennial, nil
	case "cross-validation", "crossvalidation", "cv", "0":
		return CrossValidation, nil
	default:
		return "", fmt.Errorf("unknown screening variant %q (valid: biennial, cross-validation)", s)
	}
}

// RunConfig holds the scalar parameters of a run. It is immutable once loaded.
type RunConfig struct {
	Compliance            float64 `json:"compliance"`
	Sensitivity           float64 `json:"sensitivity"`
	ClinicalDetectionRate float64 `json:"clinical_detection_rate"`
	PopulationSize        int     `json:"population_size"`
	IterationCount        int     `json:"iteration_count"`
	Variant               Variant `json:"screening"`
}

// Validate checks ranges.
func (c RunConfig) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"compliance", c.Compliance},
		{"sensitivity", c.Sensitivity},
		{"clinical_detection_rate", c.ClinicalDetectionRate},
	} {
		if !(p.v >= 0 && p.v <= 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %g", p.name, p.v)
		}
	}
	if c.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be positive, got %d", c.PopulationSize)
	}
	if c.IterationCount <= 0 {
		return fmt.Errorf("iteration_count must be positive, got %d", c.IterationCount)
	}
	if _, err := ParseVariant(string(c.Variant)); err != nil {
		return err
	}
	return nil
}

// runKeys lists the accepted spellings for each setting. The first is the
// historical inputparams.txt key; lookups are case-insensitive.
var runKeys = struct {
	compliance, sensitivity, clinical, population, iterations, variant []string
}{
	compliance:  []string{"compliance"},
	sensitivity: []string{"sensitivity"},
	clinical:    []string{"clinicaldet", "clinical_detection_rate"},
	population:  []string{"npopulation", "population_size"},
	iterations:  []string{"niterations", "iteration_count"},
	variant:     []string{"screenmode", "screening"},
}

// LoadRunConfig reads a run configuration file. Files with a .yaml, .yml,
// .toml or .json extension are read in that format; anything else is read
// as "Key value" lines. SIMDCIS_<KEY> environment variables override file
// values. A missing screening selector defaults to biennial.
func LoadRunConfig(path string) (RunConfig, error) {
	v := viper.New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	case ".toml":
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	case ".json":
		v.SetConfigFile(path)
		v.SetConfigType("json")
	default:
		if err := mergeKeyValues(v, path); err != nil {
			return RunConfig{}, err
		}
	}
	v.SetEnvPrefix("SIMDCIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return RunConfig{}, &ConfigError{Source: path, Err: err}
		}
	}
	return fromViper(v, path)
}

// mergeKeyValues reads "Key value" (or "Key=value") lines into v's config
// layer, so environment variables still override them. Blank lines and
// lines starting with '#' are ignored.
func mergeKeyValues(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ConfigError{Source: path, Err: err}
	}
	defer f.Close()

	values := make(map[string]any)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return &ConfigError{Source: path, Line: lineNum, Err: fmt.Errorf("expected \"Key value\", got %q", line)}
			}
			key, value = fields[0], fields[1]
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return &ConfigError{Source: path, Line: lineNum, Err: fmt.Errorf("missing key in %q", line)}
		}
		values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return &ConfigError{Source: path, Err: err}
	}
	return v.MergeConfigMap(values)
}

func fromViper(v *viper.Viper, source string) (RunConfig, error) {
	var c RunConfig
	var err error

	if c.Compliance, err = floatKey(v, source, runKeys.compliance); err != nil {
		return RunConfig{}, err
	}
	if c.Sensitivity, err = floatKey(v, source, runKeys.sensitivity); err != nil {
		return RunConfig{}, err
	}
	if c.ClinicalDetectionRate, err = floatKey(v, source, runKeys.clinical); err != nil {
		return RunConfig{}, err
	}
	if c.PopulationSize, err = intKey(v, source, runKeys.population); err != nil {
		return RunConfig{}, err
	}
	if c.IterationCount, err = intKey(v, source, runKeys.iterations); err != nil {
		return RunConfig{}, err
	}

	c.Variant = Biennial
	if key, raw, ok := lookup(v, runKeys.variant); ok {
		if c.Variant, err = ParseVariant(raw); err != nil {
			return RunConfig{}, &ConfigError{Source: source, Field: key, Err: err}
		}
	}

	if err := c.Validate(); err != nil {
		return RunConfig{}, &ConfigError{Source: source, Err: err}
	}
	return c, nil
}

// lookup returns the first set key among names and its raw string value.
func lookup(v *viper.Viper, names []string) (string, string, bool) {
	for _, name := range names {
		if v.IsSet(name) {
			return name, strings.TrimSpace(v.GetString(name)), true
		}
	}
	return "", "", false
}

func floatKey(v *viper.Viper, source string, names []string) (float64, error) {
	key, raw, ok := lookup(v, names)
	if !ok {
		return 0, &ConfigError{Source: source, Field: names[0], Err: errors.New("missing required key")}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ConfigError{Source: source, Field: key, Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ConfigError{Source: source, Field: key, Err: fmt.Errorf("non-finite value %q", raw)}
	}
	return f, nil
}

func intKey(v *viper.Viper, source string, names []string) (int, error) {
	key, raw, ok := lookup(v, names)
	if !ok {
		return 0, &ConfigError{Source: source, Field: names[0], Err: errors.New("missing required key")}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Source: source, Field: key, Err: err}
	}
	return n, nil
}
