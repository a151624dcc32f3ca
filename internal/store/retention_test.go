package store

import (
	"context"
	"testing"
	"time"
)

func testRuns(now time.Time) []Run {
	return []Run{
		{ID: "run-5", CreatedAt: now, Status: StatusRunning},
		{ID: "run-4", CreatedAt: now.Add(-1 * time.Hour), Status: StatusComplete},
		{ID: "run-3", CreatedAt: now.Add(-30 * time.Hour), Status: StatusFailed},
		{ID: "run-2", CreatedAt: now.Add(-72 * time.Hour), Status: StatusComplete},
		{ID: "run-1", CreatedAt: now.Add(-720 * time.Hour), Status: StatusRunning},
	}
}

func ids(runs []Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

func TestRetentionPolicies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		policy RetentionPolicy
		want   []string
	}{
		{"count keeps newest", &CountPolicy{MaxCount: 2}, []string{"run-5", "run-4"}},
		{"count above total", &CountPolicy{MaxCount: 10}, []string{"run-5", "run-4", "run-3", "run-2", "run-1"}},
		{"age", &AgePolicy{MaxAge: 24 * time.Hour, now: func() time.Time { return now }}, []string{"run-5", "run-4"}},
		{"status", &StatusPolicy{Statuses: []string{StatusRunning}}, []string{"run-5", "run-1"}},
		{"composite union", &CompositePolicy{Policies: []RetentionPolicy{
			&CountPolicy{MaxCount: 1},
			&StatusPolicy{Statuses: []string{StatusFailed}},
		}}, []string{"run-5", "run-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.policy.Apply(testRuns(now)))
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Apply() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var created []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateRun(ctx, Run{Config: testConfig(), RoundAges: testRoundAges, Workers: 1})
		if err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
		if err := s.SaveSummary(ctx, id, testSummary(0)); err != nil {
			t.Fatalf("SaveSummary() error = %v", err)
		}
		created = append(created, id)
		time.Sleep(2 * time.Millisecond)
	}

	policy := &CountPolicy{MaxCount: 1}
	pruned, err := Prune(ctx, s, policy, true)
	if err != nil {
		t.Fatalf("Prune(dry run) error = %v", err)
	}
	if len(pruned) != 2 {
		t.Fatalf("Prune(dry run) = %v, want 2 runs", ids(pruned))
	}
	if runs, _ := s.ListRuns(ctx); len(runs) != 3 {
		t.Fatalf("dry run deleted runs: %d left", len(runs))
	}

	pruned, err = Prune(ctx, s, policy, false)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(pruned) != 2 {
		t.Fatalf("Prune() = %v, want 2 runs", ids(pruned))
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != created[2] {
		t.Errorf("remaining runs = %v, want [%s]", ids(runs), created[2])
	}
	if err := ValidateIntegrity(ctx, s.db); err != nil {
		t.Errorf("ValidateIntegrity() after prune error = %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"d", 0, true},
		{"5y", 0, true},
		{"-3d", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
