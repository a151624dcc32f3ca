package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/simdcis/internal/constants"
	"github.com/nvandessel/simdcis/internal/params"
	"github.com/nvandessel/simdcis/internal/stats"
)

// Count kinds stored in grade_counts and bucket_counts.
const (
	kindOnset    = "onset"
	kindInvasive = "invasive"
	kindScreen   = "screen"
	kindClinical = "clinical"
)

// SQLiteResultStore implements ResultStore using SQLite.
type SQLiteResultStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string

	// roundAges caches the schedule of runs summaries are being saved for.
	roundAges map[string][]int
}

var _ ResultStore = (*SQLiteResultStore)(nil)

// Open opens (creating if needed) the results database at dbPath.
func Open(dbPath string) (*SQLiteResultStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteResultStore{
		db:        db,
		dbPath:    dbPath,
		roundAges: make(map[string][]int),
	}, nil
}

// Path returns the database file path.
func (s *SQLiteResultStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

// CreateRun stores r with a fresh UUID and status running.
func (s *SQLiteResultStore) CreateRun(ctx context.Context, r Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.insertRun(ctx, id, StatusRunning, r); err != nil {
		return "", err
	}
	return id, nil
}

// ImportRun stores r under its own ID and status. It returns ErrRunExists
// if a run with that ID is already stored.
func (s *SQLiteResultStore) ImportRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("imported run has no ID")
	}
	if !validStatus(r.Status) {
		return fmt.Errorf("invalid run status %q", r.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, r.ID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check run %s: %w", r.ID, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, r.ID)
	}
	return s.insertRun(ctx, r.ID, r.Status, r)
}

// insertRun writes the runs row. The caller holds s.mu.
func (s *SQLiteResultStore) insertRun(ctx context.Context, id, status string, r Run) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	roundAges := r.RoundAges
	if roundAges == nil {
		roundAges = []int{}
	}
	agesJSON, err := json.Marshal(roundAges)
	if err != nil {
		return fmt.Errorf("failed to marshal round ages: %w", err)
	}
	var labelsJSON sql.NullString
	if len(r.Labels) > 0 {
		b, err := json.Marshal(r.Labels)
		if err != nil {
			return fmt.Errorf("failed to marshal labels: %w", err)
		}
		labelsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, status, screening, compliance, sensitivity,
			clinical_rate, population, iterations, workers, round_ages, table_path,
			params_path, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, created.UTC().Format(time.RFC3339Nano), status, string(r.Config.Variant),
		r.Config.Compliance, r.Config.Sensitivity, r.Config.ClinicalDetectionRate,
		r.Config.PopulationSize, r.Config.IterationCount, r.Workers, string(agesJSON),
		nullString(r.TablePath), nullString(r.ParamPath), labelsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.roundAges[id] = append([]int(nil), roundAges...)
	return nil
}

// FinishRun sets the final status of run id.
func (s *SQLiteResultStore) FinishRun(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid run status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(s.roundAges, id)
	return nil
}

// SaveSummary stores one iteration's summary with its grade, bucket and
// round tables in a single transaction.
func (s *SQLiteResultStore) SaveSummary(ctx context.Context, runID string, sum stats.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ages, err := s.runRoundAges(ctx, runID)
	if err != nil {
		return err
	}
	if len(sum.MammogramsByRound) != len(ages) || len(sum.ScreenByRound) != len(ages) {
		return fmt.Errorf("summary has %d rounds, run %s has %d", len(sum.MammogramsByRound), runID, len(ages))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO summaries (run_id, iteration, population, mammograms, deaths,
			death_age_sum, regressions, invasive, screen_detected, screen_age_sum,
			clinically_detected, clinical_age_sum, survivors, avg_death_age,
			avg_screen_age, avg_clinical_age)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, sum.Iteration, sum.Population, sum.Mammograms, sum.Deaths,
		sum.DeathAgeSum, sum.Regressions, sum.Invasive, sum.ScreenDetected, sum.ScreenAgeSum,
		sum.ClinicallyDetected, sum.ClinicalAgeSum, sum.Survivors,
		sum.AvgDeathAge.Ptr(), sum.AvgScreenAge.Ptr(), sum.AvgClinicalAge.Ptr())
	if err != nil {
		return fmt.Errorf("failed to insert summary %d: %w", sum.Iteration, err)
	}

	grades := []struct {
		kind   string
		counts [constants.Grades]int
	}{
		{kindOnset, sum.Onsets},
		{kindInvasive, sum.InvasiveByGrade},
		{kindScreen, sum.ScreenByGrade},
		{kindClinical, sum.ClinicalByGrade},
	}
	for _, g := range grades {
		for i, n := range g.counts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO grade_counts (run_id, iteration, kind, grade, n) VALUES (?, ?, ?, ?, ?)`,
				runID, sum.Iteration, g.kind, i+1, n); err != nil {
				return fmt.Errorf("failed to insert grade counts: %w", err)
			}
		}
	}

	buckets := []struct {
		kind  string
		table *stats.BucketGrade
	}{
		{kindInvasive, &sum.InvasiveByBucket},
		{kindScreen, &sum.ScreenByBucket},
		{kindClinical, &sum.ClinicalByBucket},
	}
	for _, b := range buckets {
		for bucket, row := range b.table {
			for i, n := range row {
				if n == 0 {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO bucket_counts (run_id, iteration, kind, bucket, grade, n) VALUES (?, ?, ?, ?, ?, ?)`,
					runID, sum.Iteration, b.kind, bucket, i+1, n); err != nil {
					return fmt.Errorf("failed to insert bucket counts: %w", err)
				}
			}
		}
	}

	for r, age := range ages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO round_counts (run_id, iteration, round, age, mammograms, screen_detected) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, sum.Iteration, r, age, sum.MammogramsByRound[r], sum.ScreenByRound[r]); err != nil {
			return fmt.Errorf("failed to insert round counts: %w", err)
		}
	}

	return tx.Commit()
}

// runRoundAges returns the screening ages of a run. Callers hold s.mu.
func (s *SQLiteResultStore) runRoundAges(ctx context.Context, runID string) ([]int, error) {
	if ages, ok := s.roundAges[runID]; ok {
		return ages, nil
	}
	var agesJSON string
	err := s.db.QueryRowContext(ctx, `SELECT round_ages FROM runs WHERE id = ?`, runID).Scan(&agesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	var ages []int
	if err := json.Unmarshal([]byte(agesJSON), &ages); err != nil {
		return nil, fmt.Errorf("failed to parse round ages of run %s: %w", runID, err)
	}
	s.roundAges[runID] = ages
	return ages, nil
}

const runColumns = `id, created_at, status, screening, compliance, sensitivity,
	clinical_rate, population, iterations, workers, round_ages, table_path,
	params_path, labels, (SELECT COUNT(*) FROM summaries WHERE summaries.run_id = runs.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                   Run
		created, screening  string
		agesJSON            string
		tablePath, paramPth sql.NullString
		labelsJSON          sql.NullString
	)
	err := row.Scan(&r.ID, &created, &r.Status, &screening, &r.Config.Compliance,
		&r.Config.Sensitivity, &r.Config.ClinicalDetectionRate, &r.Config.PopulationSize,
		&r.Config.IterationCount, &r.Workers, &agesJSON, &tablePath, &paramPth,
		&labelsJSON, &r.Stored)
	if err != nil {
		return nil, err
	}
	r.Config.Variant = params.Variant(screening)
	r.TablePath = tablePath.String
	r.ParamPath = paramPth.String
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at %q: %w", r.ID, created, err)
	}
	if err := json.Unmarshal([]byte(agesJSON), &r.RoundAges); err != nil {
		return nil, fmt.Errorf("run %s: bad round_ages: %w", r.ID, err)
	}
	if labelsJSON.Valid {
		if err := json.Unmarshal([]byte(labelsJSON.String), &r.Labels); err != nil {
			return nil, fmt.Errorf("run %s: bad labels: %w", r.ID, err)
		}
	}
	return &r, nil
}

// GetRun returns the run whose ID equals id or, failing that, the single
// run whose ID starts with id.
func (s *SQLiteResultStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRun(ctx, id)
}

func (s *SQLiteResultStore) getRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// ListRuns returns all runs, newest first.
func (s *SQLiteResultStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LoadSummaries returns the stored summaries of runID in iteration order.
func (s *SQLiteResultStore) LoadSummaries(ctx context.Context, runID string) ([]stats.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	runID = run.ID
	rounds := len(run.RoundAges)

	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, population, mammograms, deaths, death_age_sum, regressions,
			invasive, screen_detected, screen_age_sum, clinically_detected,
			clinical_age_sum, survivors, avg_death_age, avg_screen_age, avg_clinical_age
		FROM summaries WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}

	var summaries []stats.Summary
	index := make(map[int]int)
	for rows.Next() {
		sum := stats.NewAggregator(rounds).Summarize(0)
		var death, screen, clinical *float64
		if err := rows.Scan(&sum.Iteration, &sum.Population, &sum.Mammograms, &sum.Deaths,
			&sum.DeathAgeSum, &sum.Regressions, &sum.Invasive, &sum.ScreenDetected,
			&sum.ScreenAgeSum, &sum.ClinicallyDetected, &sum.ClinicalAgeSum, &sum.Survivors,
			&death, &screen, &clinical); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.AvgDeathAge = stats.FromPtr(death)
		sum.AvgScreenAge = stats.FromPtr(screen)
		sum.AvgClinicalAge = stats.FromPtr(clinical)
		index[sum.Iteration] = len(summaries)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}
	rows.Close()

	if err := s.loadGradeCounts(ctx, runID, summaries, index); err != nil {
		return nil, err
	}
	if err := s.loadBucketCounts(ctx, runID, summaries, index); err != nil {
		return nil, err
	}
	if err := s.loadRoundCounts(ctx, runID, summaries, index); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *SQLiteResultStore) loadGradeCounts(ctx context.Context, runID string, summaries []stats.Summary, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, kind, grade, n FROM grade_counts WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to query grade counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it, grade, n int
		var kind string
		if err := rows.Scan(&it, &kind, &grade, &n); err != nil {
			return fmt.Errorf("failed to scan grade counts: %w", err)
		}
		i, ok := index[it]
		if !ok || grade < 1 || grade > constants.Grades {
			return fmt.Errorf("orphan grade count: iteration %d grade %d", it, grade)
		}
		sum := &summaries[i]
		switch kind {
		case kindOnset:
			sum.Onsets[grade-1] = n
		case kindInvasive:
			sum.InvasiveByGrade[grade-1] = n
		case kindScreen:
			sum.ScreenByGrade[grade-1] = n
		case kindClinical:
			sum.ClinicalByGrade[grade-1] = n
		default:
			return fmt.Errorf("unknown grade count kind %q", kind)
		}
	}
	return rows.Err()
}

func (s *SQLiteResultStore) loadBucketCounts(ctx context.Context, runID string, summaries []stats.Summary, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, kind, bucket, grade, n FROM bucket_counts WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to query bucket counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it, bucket, grade, n int
		var kind string
		if err := rows.Scan(&it, &kind, &bucket, &grade, &n); err != nil {
			return fmt.Errorf("failed to scan bucket counts: %w", err)
		}
		i, ok := index[it]
		if !ok || bucket < 0 || bucket >= constants.AgeBuckets || grade < 1 || grade > constants.Grades {
			return fmt.Errorf("orphan bucket count: iteration %d bucket %d grade %d", it, bucket, grade)
		}
		sum := &summaries[i]
		switch kind {
		case kindInvasive:
			sum.InvasiveByBucket[bucket][grade-1] = n
		case kindScreen:
			sum.ScreenByBucket[bucket][grade-1] = n
		case kindClinical:
			sum.ClinicalByBucket[bucket][grade-1] = n
		default:
			return fmt.Errorf("unknown bucket count kind %q", kind)
		}
	}
	return rows.Err()
}

func (s *SQLiteResultStore) loadRoundCounts(ctx context.Context, runID string, summaries []stats.Summary, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, round, mammograms, screen_detected FROM round_counts WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to query round counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it, round, mam, sd int
		if err := rows.Scan(&it, &round, &mam, &sd); err != nil {
			return fmt.Errorf("failed to scan round counts: %w", err)
		}
		i, ok := index[it]
		if !ok || round < 0 || round >= len(summaries[i].MammogramsByRound) {
			return fmt.Errorf("orphan round count: iteration %d round %d", it, round)
		}
		summaries[i].MammogramsByRound[round] = mam
		summaries[i].ScreenByRound[round] = sd
	}
	return rows.Err()
}

// DeleteRun removes run id and, by cascade, its summaries.
func (s *SQLiteResultStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(s.roundAges, id)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RunSink adapts a store to the simulation's summary sink for one run.
type RunSink struct {
	ctx   context.Context
	store ResultStore
	runID string
}

// NewRunSink returns a sink saving summaries under runID. ctx bounds every
// write.
func NewRunSink(ctx context.Context, s ResultStore, runID string) *RunSink {
	return &RunSink{ctx: ctx, store: s, runID: runID}
}

// RunID returns the run the sink writes to.
func (rs *RunSink) RunID() string {
	return rs.runID
}

func (rs *RunSink) WriteSummary(sum stats.Summary) error {
	return rs.store.SaveSummary(rs.ctx, rs.runID, sum)
}
