package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nvandessel/simdcis/internal/model"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/stats"
)

var testRoundAges = []int{50, 51, 52, 53}

func testConfig() params.RunConfig {
	return params.RunConfig{
		Compliance:            0.7,
		Sensitivity:           0.8,
		ClinicalDetectionRate: 0.1,
		PopulationSize:        4,
		IterationCount:        2,
		Variant:               params.CrossValidation,
	}
}

func openTestStore(t *testing.T) *SQLiteResultStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ending returns a trajectory whose last status is st at age.
func ending(age int, st model.Status) *model.Trajectory {
	tr := model.NewTrajectory(0, 0)
	for a := 0; a < age; a++ {
		tr.Statuses = append(tr.Statuses, model.Status{State: model.Healthy})
	}
	tr.Statuses = append(tr.Statuses, st)
	return tr
}

// testSummary records one individual per outcome kind.
func testSummary(iteration int) stats.Summary {
	agg := stats.NewAggregator(len(testRoundAges))

	dead := ending(82, model.Status{State: model.Dead})
	dead.Mammograms = []model.Mammogram{{Age: 50, Round: 0}, {Age: 51, Round: 1}}
	agg.Record(dead)

	sd := ending(52, model.Status{State: model.ScreenDetected, Grade: 2})
	sd.Onsets[1] = 1
	sd.Mammograms = []model.Mammogram{{Age: 50, Round: 0}, {Age: 52, Round: 2}}
	sd.ScreenRound = 2
	agg.Record(sd)

	inv := ending(61, model.Status{State: model.Invasive, Grade: 3})
	inv.Onsets[2] = 1
	agg.Record(inv)

	survivor := ending(100, model.Status{State: model.Healthy})
	survivor.Regressions = 1
	survivor.Onsets[0] = 1
	agg.Record(survivor)

	return agg.Summarize(iteration)
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "results.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening runs the integrity checks on the existing schema.
	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	s.Close()
}

func TestCreateAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, Run{
		Config:    testConfig(),
		RoundAges: testRoundAges,
		Workers:   3,
		TablePath: "transition.txt",
		Labels:    map[string]string{"study": "cv"},
	})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if len(id) != 36 {
		t.Errorf("CreateRun() id = %q, want a UUID", id)
	}

	got, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, StatusRunning)
	}
	if got.Config != testConfig() {
		t.Errorf("Config = %+v, want %+v", got.Config, testConfig())
	}
	if !reflect.DeepEqual(got.RoundAges, testRoundAges) {
		t.Errorf("RoundAges = %v", got.RoundAges)
	}
	if got.Workers != 3 || got.TablePath != "transition.txt" || got.ParamPath != "" {
		t.Errorf("run = %+v", got)
	}
	if got.Labels["study"] != "cv" {
		t.Errorf("Labels = %v", got.Labels)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	byPrefix, err := s.GetRun(ctx, id[:8])
	if err != nil {
		t.Fatalf("GetRun(prefix) error = %v", err)
	}
	if byPrefix.ID != id {
		t.Errorf("GetRun(prefix) = %s, want %s", byPrefix.ID, id)
	}

	if _, err := s.GetRun(ctx, "no-such-run"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(unknown) error = %v, want ErrRunNotFound", err)
	}
}

func TestSaveAndLoadSummaries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: testRoundAges})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	want := []stats.Summary{testSummary(0), testSummary(1)}
	sink := NewRunSink(ctx, s, id)
	for _, sum := range want {
		if err := sink.WriteSummary(sum); err != nil {
			t.Fatalf("WriteSummary() error = %v", err)
		}
	}

	got, err := s.LoadSummaries(ctx, id)
	if err != nil {
		t.Fatalf("LoadSummaries() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadSummaries() =\n%+v\nwant\n%+v", got, want)
	}
	if got[0].AvgClinicalAge.Valid {
		t.Error("clinical average should load as invalid when there were no clinical detections")
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Stored != 2 {
		t.Errorf("Stored = %d, want 2", run.Stored)
	}
}

func TestSaveSummary_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSummary(ctx, "missing", testSummary(0)); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SaveSummary(unknown run) error = %v, want ErrRunNotFound", err)
	}

	id, err := s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: []int{50, 52}})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.SaveSummary(ctx, id, testSummary(0)); err == nil {
		t.Error("SaveSummary() with mismatched rounds should fail")
	}

	id, err = s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: testRoundAges})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.SaveSummary(ctx, id, testSummary(0)); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if err := s.SaveSummary(ctx, id, testSummary(0)); err == nil {
		t.Error("saving the same iteration twice should fail")
	}
}

func TestFinishListDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: testRoundAges})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	second, err := s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: testRoundAges})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := s.FinishRun(ctx, first, StatusComplete); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	if err := s.FinishRun(ctx, first, "done"); err == nil {
		t.Error("FinishRun() with an invalid status should fail")
	}
	if err := s.FinishRun(ctx, "missing", StatusFailed); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(unknown) error = %v, want ErrRunNotFound", err)
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	statuses := map[string]string{}
	for _, r := range runs {
		statuses[r.ID] = r.Status
	}
	if statuses[first] != StatusComplete || statuses[second] != StatusRunning {
		t.Errorf("statuses = %v", statuses)
	}

	if err := s.SaveSummary(ctx, first, testSummary(0)); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if err := s.DeleteRun(ctx, first); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := s.GetRun(ctx, first); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(deleted) error = %v, want ErrRunNotFound", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM round_counts`).Scan(&n); err != nil {
		t.Fatalf("count round_counts: %v", err)
	}
	if n != 0 {
		t.Errorf("round_counts has %d rows after delete, want 0", n)
	}
	if err := ValidateIntegrity(ctx, s.db); err != nil {
		t.Errorf("ValidateIntegrity() error = %v", err)
	}
}

func TestDefaultDBPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	got, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath() error = %v", err)
	}
	if want := filepath.Join(home, ".simdcis", DBFileName); got != want {
		t.Errorf("DefaultDBPath() = %q, want %q", got, want)
	}
	if err := EnsureGlobalSimdcisDir(); err != nil {
		t.Fatalf("EnsureGlobalSimdcisDir() error = %v", err)
	}
	if info, err := os.Stat(filepath.Join(home, ".simdcis")); err != nil || !info.IsDir() {
		t.Errorf(".simdcis directory was not created: %v", err)
	}
}
