package database

import (
	"testing"
	"time"
)

func newRun(id, status string) *Run {
	return &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Status:    status,
	}
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)

	run := newRun("run-1", RunRunning)
	if err := repo.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	stored, err := repo.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected run to exist")
	}
	if stored.Status != RunRunning {
		t.Errorf("Expected running status, got %s", stored.Status)
	}
	if stored.FinishedAt != nil {
		t.Error("Expected no finished_at on a running run")
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = RunPartial
	run.Fetched = 42
	run.NewPosts = 10
	run.UpdatedPosts = 2
	run.Analyzed = 9
	run.Errors = 3
	run.SourceOutcomes = map[string]SourceOutcome{
		"src-a": {Status: SourceSuccess, Fetched: 40, New: 10, Updated: 2, Analyzed: 9},
		"src-b": {Status: SourceFailed, Errors: 3},
	}

	if err := repo.FinalizeRun(run); err != nil {
		t.Fatalf("FinalizeRun failed: %v", err)
	}

	stored, err = repo.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun after finalize failed: %v", err)
	}
	if stored.Status != RunPartial {
		t.Errorf("Expected partial status, got %s", stored.Status)
	}
	if stored.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
	if stored.Fetched != 42 || stored.NewPosts != 10 || stored.Analyzed != 9 {
		t.Errorf("Unexpected counters: %+v", stored)
	}
	if len(stored.SourceOutcomes) != 2 {
		t.Fatalf("Expected 2 source outcomes, got %d", len(stored.SourceOutcomes))
	}
	if stored.SourceOutcomes["src-b"].Status != SourceFailed {
		t.Errorf("Unexpected src-b outcome: %+v", stored.SourceOutcomes["src-b"])
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)

	run, err := repo.GetRun("missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run != nil {
		t.Error("Expected nil for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)

	old := newRun("run-old", RunCompleted)
	old.StartedAt = time.Now().UTC().Add(-time.Hour)
	if err := repo.CreateRun(old); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := repo.CreateRun(newRun("run-new", RunRunning)); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	runs, err := repo.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" {
		t.Errorf("Expected newest run first, got %s", runs[0].ID)
	}

	runs, err = repo.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns with limit failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected limit to apply, got %d runs", len(runs))
	}
}

func TestGetLastCompletedRunSkipsFailedAndRunning(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)

	completed := newRun("run-completed", RunCompleted)
	completed.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	repo.CreateRun(completed)

	failed := newRun("run-failed", RunFailed)
	failed.StartedAt = time.Now().UTC().Add(-time.Hour)
	repo.CreateRun(failed)

	repo.CreateRun(newRun("run-running", RunRunning))

	last, err := repo.GetLastCompletedRun()
	if err != nil {
		t.Fatalf("GetLastCompletedRun failed: %v", err)
	}
	if last == nil {
		t.Fatal("Expected a completed run")
	}
	if last.ID != "run-completed" {
		t.Errorf("Expected run-completed, got %s", last.ID)
	}
}
