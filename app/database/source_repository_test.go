package database

import (
	"testing"
	"time"
)

func TestUpsertSourcePreservesLastRun(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)

	if err := repo.UpsertSource("src-a", "Source A", "https://a.example.com", true); err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	ranAt := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateLastRun("src-a", ranAt); err != nil {
		t.Fatalf("UpdateLastRun failed: %v", err)
	}

	// Re-registering on startup must not wipe last_run_at.
	if err := repo.UpsertSource("src-a", "Source A renamed", "https://a.example.com", false); err != nil {
		t.Fatalf("Second UpsertSource failed: %v", err)
	}

	src, err := repo.GetSource("src-a")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src == nil {
		t.Fatal("Expected source to exist")
	}
	if src.Name != "Source A renamed" {
		t.Errorf("Expected updated name, got %q", src.Name)
	}
	if src.Enabled {
		t.Error("Expected source to be disabled after upsert")
	}
	if src.LastRunAt == nil {
		t.Fatal("Expected last_run_at to survive upsert")
	}
	if !src.LastRunAt.Equal(ranAt) {
		t.Errorf("Expected last_run_at %v, got %v", ranAt, src.LastRunAt)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)

	src, err := repo.GetSource("missing")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src != nil {
		t.Error("Expected nil for missing source")
	}
}

func TestGetSourceCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)

	repo.UpsertSource("src-a", "A", "https://a.example.com", true)
	repo.UpsertSource("src-b", "B", "https://b.example.com", false)

	count, err := repo.GetSourceCount()
	if err != nil {
		t.Fatalf("GetSourceCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 sources, got %d", count)
	}
}
