package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:               id,
		Request:          "Find DEGs in GSE555",
		WorkingDirectory: "/tmp/ws/find_degs_20260301",
		Status:           "completed",
		Datasets:         []string{"GSE555", "GSE777"},
		StartedAt:        started,
		FinishedAt:       started.Add(42 * time.Second),
		Steps: []StepRecord{
			{Index: 0, Description: "Download GSE555", Status: "completed", Source: "model"},
			{Index: 1, Description: "Differential expression", Status: "completed", Source: "template"},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	want := sampleRun("run-1", time.Unix(1780000000, 0))

	if err := s.Record(want); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1780000000, 0)
	for i, id := range []string{"old", "mid", "new"} {
		run := sampleRun(id, base.Add(time.Duration(i)*time.Hour))
		run.Steps = nil
		if err := s.Record(run); err != nil {
			t.Fatalf("Record %s failed: %v", id, err)
		}
	}

	runs, err := s.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "new" || runs[2].ID != "old" {
		t.Errorf("Runs not newest first: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}

func TestListHonorsLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1780000000, 0)
	for i := 0; i < 5; i++ {
		run := sampleRun(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		run.Steps = nil
		if err := s.Record(run); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	runs, err := s.List(2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Limit ignored: got %d runs", len(runs))
	}
}

func TestRecordDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	run := sampleRun("dup", time.Unix(1780000000, 0))
	if err := s.Record(run); err != nil {
		t.Fatalf("First record failed: %v", err)
	}
	if err := s.Record(run); err == nil {
		t.Error("Expected primary-key violation on duplicate run id")
	}
}

func TestRecordCancelledRunWithEmptyDatasets(t *testing.T) {
	s := newTestStore(t)
	run := Run{
		ID:        "cancelled-1",
		Request:   "analyze something",
		Status:    "cancelled",
		StartedAt: time.Unix(1780000000, 0),
		Steps: []StepRecord{
			{Index: 0, Description: "Download data", Status: "completed", Source: "model"},
			{Index: 1, Description: "Analyze data", Status: "cancelled"},
		},
	}
	if err := s.Record(run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := s.Get("cancelled-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Datasets != nil {
		t.Errorf("Expected nil datasets, got %v", got.Datasets)
	}
	if got.Steps[1].Status != "cancelled" {
		t.Errorf("Step status lost: %v", got.Steps[1])
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.Record(sampleRun("persist", time.Unix(1780000000, 0))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Close()

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Get("persist"); err != nil {
		t.Errorf("Run lost across reopen: %v", err)
	}
}
