package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/output"
	"github.com/nvandessel/simdcis/internal/store"
)

// isolateHome sets HOME to a temp directory to avoid touching real ~/.simdcis/
// MUST be called for any test that loads config or opens the results database
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
	t.Setenv("USERPROFILE", tmpHome)
}

// executeCmd runs the root command with args and returns its stdout.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const testRow = "0.02\t0.01\t0.01\t0.01\t0.05\t0.05\t0.05\t0.02\t0.02\t0.02"

// writeInputs writes a transition table with identical rows and a run
// parameters file into dir.
func writeInputs(t *testing.T, dir, row string, population, iterations int) (tablePath, paramsPath string) {
	t.Helper()
	var b strings.Builder
	for age := 0; age < constants.AgeCount; age++ {
		fmt.Fprintf(&b, "%d\t%s\n", age, row)
	}
	tablePath = filepath.Join(dir, "transition.txt")
	if err := os.WriteFile(tablePath, []byte(b.String()), 0600); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}

	paramsPath = filepath.Join(dir, "inputparams.txt")
	content := fmt.Sprintf("Compliance 0.7\nSensitivity 0.8\nClinicalDet 0.1\nNpopulation %d\nNiterations %d\nScreenMode 1\n", population, iterations)
	if err := os.WriteFile(paramsPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write params: %v", err)
	}
	return tablePath, paramsPath
}

func TestNewVersionCmd(t *testing.T) {
	out, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "simdcis version "+version) {
		t.Errorf("version output = %q", out)
	}

	out, err = executeCmd(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json error = %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if v["version"] != version {
		t.Errorf("version = %q, want %q", v["version"], version)
	}
}

func TestRunCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, testRow, 50, 3)
	outDir := filepath.Join(tmpDir, "out")

	out, err := executeCmd(t, "run", "--table", table, "--params", params, "--out", outDir, "--workers", "2", "--json")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	var result runResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if result.RunID != "" {
		t.Errorf("RunID = %q, want none without --store", result.RunID)
	}
	if result.Totals.Population != 150 {
		t.Errorf("Totals.Population = %d, want 150", result.Totals.Population)
	}
	if got := result.Totals.Outcomes(); got != 150 {
		t.Errorf("Totals.Outcomes() = %d, want 150", got)
	}

	det, err := os.ReadFile(filepath.Join(outDir, output.SummaryFileName))
	if err != nil {
		t.Fatalf("summary table not written: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(det), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("summary table has %d lines, want header + 3 rows", len(lines))
	}
	for i, line := range lines[1:] {
		if !strings.HasPrefix(line, fmt.Sprintf("%d\t", i)) {
			t.Errorf("row %d = %q, want iteration %d first", i, line, i)
		}
	}

	for it := 0; it < 3; it++ {
		data, err := os.ReadFile(filepath.Join(outDir, output.TrajectoryFileName(it, false)))
		if err != nil {
			t.Fatalf("trajectory file %d not written: %v", it, err)
		}
		if n := strings.Count(string(data), "\n"); n != 50 {
			t.Errorf("trajectory file %d has %d lines, want 50", it, n)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, output.GradeFileName)); err != nil {
		t.Errorf("grade table not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, output.ArrowFileName)); !os.IsNotExist(err) {
		t.Error("summary.arrow should only be written with --arrow")
	}
}

func TestRunCmd_Deterministic(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, testRow, 40, 2)

	read := func(dir string) string {
		data, err := os.ReadFile(filepath.Join(dir, output.SummaryFileName))
		if err != nil {
			t.Fatalf("read summary: %v", err)
		}
		return string(data)
	}

	serial := filepath.Join(tmpDir, "serial")
	parallel := filepath.Join(tmpDir, "parallel")
	if _, err := executeCmd(t, "run", "--table", table, "--params", params, "--out", serial, "--workers", "1", "--no-trajectories"); err != nil {
		t.Fatalf("serial run error = %v", err)
	}
	if _, err := executeCmd(t, "run", "--table", table, "--params", params, "--out", parallel, "--workers", "4", "--no-trajectories"); err != nil {
		t.Fatalf("parallel run error = %v", err)
	}
	if read(serial) != read(parallel) {
		t.Error("summary tables differ between serial and parallel runs")
	}
	if _, err := os.Stat(filepath.Join(serial, output.TrajectoryFileName(0, false))); !os.IsNotExist(err) {
		t.Error("trajectory files written despite --no-trajectories")
	}
}

func TestRunCmd_InvalidTable(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, "0.9\t0.1\t0.1\t0\t0\t0\t0\t0\t0\t0", 10, 1)

	if _, err := executeCmd(t, "run", "--table", table, "--params", params, "--out", filepath.Join(tmpDir, "out")); err == nil {
		t.Error("run should fail for a table whose partitions exceed 1")
	}
}

func TestRunCmd_MissingFlags(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	if _, err := executeCmd(t, "run", "--table", "transition.txt"); err == nil {
		t.Error("run without --params should fail")
	}
}

func TestRunStoreAndReport(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, testRow, 30, 2)
	outDir := filepath.Join(tmpDir, "out")

	out, err := executeCmd(t, "run", "--table", table, "--params", params, "--out", outDir,
		"--store", "--label", "Study=test", "--arrow", "--json")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	var result runResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if result.RunID == "" {
		t.Fatal("run with --store should report a run ID")
	}

	dbPath, err := store.DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("results database not created: %v", err)
	}

	out, err = executeCmd(t, "runs", "--json")
	if err != nil {
		t.Fatalf("runs error = %v", err)
	}
	var listed struct {
		Runs  []store.Run `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if listed.Count != 1 || listed.Runs[0].ID != result.RunID {
		t.Fatalf("runs = %+v", listed)
	}
	if r := listed.Runs[0]; r.Status != store.StatusComplete || r.Stored != 2 || r.Labels["study"] != "test" {
		t.Errorf("stored run = %+v", r)
	}

	out, err = executeCmd(t, "report", "--run", result.RunID[:8], "--check")
	if err != nil {
		t.Fatalf("report error = %v\n%s", err, out)
	}
	for _, want := range []string{result.RunID, "avg_death_age", "Stored counts are consistent"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCmd(t, "inspect-arrow", filepath.Join(outDir, output.ArrowFileName), "--json")
	if err != nil {
		t.Fatalf("inspect-arrow error = %v", err)
	}
	var arrowOut struct {
		Screening string            `json:"screening"`
		Summaries []json.RawMessage `json:"summaries"`
	}
	if err := json.Unmarshal([]byte(out), &arrowOut); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if arrowOut.Screening != "biennial" || len(arrowOut.Summaries) != 2 {
		t.Errorf("inspect-arrow = %s with %d summaries", arrowOut.Screening, len(arrowOut.Summaries))
	}

	out, err = executeCmd(t, "runs", "prune", "--keep", "1", "--dry-run")
	if err != nil {
		t.Fatalf("runs prune error = %v", err)
	}
	if !strings.Contains(out, "Would delete 0 run(s)") {
		t.Errorf("runs prune --dry-run = %q", out)
	}
	if _, err := executeCmd(t, "runs", "prune"); err == nil {
		t.Error("runs prune without retention flags should fail")
	}

	archivePath := filepath.Join(tmpDir, "run.simdcis.gz")
	if _, err := executeCmd(t, "runs", "export", result.RunID[:8], "--out", archivePath); err != nil {
		t.Fatalf("runs export error = %v", err)
	}

	if _, err := executeCmd(t, "runs", "rm", result.RunID); err != nil {
		t.Fatalf("runs rm error = %v", err)
	}
	out, err = executeCmd(t, "runs")
	if err != nil {
		t.Fatalf("runs error = %v", err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Errorf("runs after rm = %q", out)
	}

	out, err = executeCmd(t, "runs", "import", archivePath)
	if err != nil {
		t.Fatalf("runs import error = %v", err)
	}
	if !strings.Contains(out, "Imported run "+result.RunID+" (2 iterations)") {
		t.Errorf("runs import = %q", out)
	}
	if _, err := executeCmd(t, "report", "--run", result.RunID, "--check"); err != nil {
		t.Errorf("report on imported run error = %v", err)
	}
}

func TestReportCmd_NoDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	if _, err := executeCmd(t, "report"); err == nil {
		t.Error("report without a results database should fail")
	}
}

func TestResolveDBPath_OutsideAllowedDirs(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, testRow, 10, 1)

	_, err := executeCmd(t, "run", "--table", table, "--params", params,
		"--out", filepath.Join(tmpDir, "out"), "--db", "/etc/simdcis-results.db")
	if err == nil || !strings.Contains(err.Error(), "not under any store root") {
		t.Errorf("run with a database outside the allowed directories: error = %v", err)
	}
}

func TestValidateCmd(t *testing.T) {
	tests := []struct {
		name    string
		row     string
		wantErr bool
		want    string
	}{
		{"valid", testRow, false, "Transition table is valid"},
		{"partition above one", "0.5\t0.3\t0.3\t0\t0\t0\t0\t0\t0\t0", true, "death+onset"},
		{"negative", "-0.1\t0\t0\t0\t0\t0\t0\t0\t0\t0", true, "negative probability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			isolateHome(t, tmpDir)
			table, params := writeInputs(t, tmpDir, tt.row, 10, 1)

			out, err := executeCmd(t, "validate", "--table", table, "--params", params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("validate output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestValidateCmd_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	table, params := writeInputs(t, tmpDir, testRow, 10, 1)

	out, err := executeCmd(t, "validate", "--table", table, "--params", params, "--json")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var result struct {
		Valid         bool  `json:"valid"`
		ScreeningAges []int `json:"screening_ages"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if !result.Valid || len(result.ScreeningAges) != constants.BiennialRounds {
		t.Errorf("validate --json = %+v", result)
	}
}

func TestConfigCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	t.Setenv("SIMDCIS_WORKERS", "")

	if _, err := executeCmd(t, "config", "set", "workers", "4"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	out, err := executeCmd(t, "config", "get", "workers")
	if err != nil {
		t.Fatalf("config get error = %v", err)
	}
	if strings.TrimSpace(out) != "workers = 4" {
		t.Errorf("config get = %q", out)
	}

	if _, err := executeCmd(t, "config", "set", "logging.level", "loud"); err == nil {
		t.Error("config set with an invalid level should fail")
	}
	if _, err := executeCmd(t, "config", "get", "no.such.key"); err == nil {
		t.Error("config get of an unknown key should fail")
	}

	out, err = executeCmd(t, "config", "list")
	if err != nil {
		t.Fatalf("config list error = %v", err)
	}
	for _, want := range []string{"output.dir:", "store.path:", "(default)", "workers:"} {
		if !strings.Contains(out, want) {
			t.Errorf("config list missing %q:\n%s", want, out)
		}
	}
}
