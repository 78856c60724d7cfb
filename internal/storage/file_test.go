package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileRecorder_AppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "log.jsonl")
	rec, err := NewFileRecorder(p)
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}

	ev1 := Event{Timestamp: time.Unix(1, 0).UTC(), Stage: StageAccepted, Token: "T1", Channel: "web", Command: "draw", UserID: "1", Status: "202"}
	ev2 := Event{Timestamp: time.Unix(2, 0).UTC(), Stage: StageCompleted, Token: "T1", Channel: "web", Command: "draw", UserID: "1", Status: "success"}
	if err := rec.AppendInteraction(ev1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := rec.AppendInteraction(ev2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	events, err := rec.LoadInteractions()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2, got %d", len(events))
	}
	if events[0].Stage != StageAccepted || events[1].Stage != StageCompleted {
		t.Fatalf("order mismatch: %+v", events)
	}

	// ensure file exists and non-empty
	st, err := os.Stat(p)
	if err != nil || st.Size() == 0 {
		t.Fatalf("file not written")
	}
}

func TestFileRecorder_SkipsGarbageLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.jsonl")
	if err := os.WriteFile(p, []byte("{not json}\n\n{\"command\":\"ping\",\"stage\":\"accepted\"}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := NewFileRecorder(p)
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}
	events, err := rec.LoadInteractions()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 1 || events[0].Command != "ping" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestFileRecorder_Prune(t *testing.T) {
	rec, err := NewFileRecorder(filepath.Join(t.TempDir(), "log.jsonl"))
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := rec.AppendInteraction(Event{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour), Command: "ping"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	removed, err := rec.Prune(base.Add(72 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 3 {
		t.Fatalf("want 3 removed, got %d", removed)
	}
	events, _ := rec.LoadInteractions()
	if len(events) != 2 {
		t.Fatalf("want 2 left, got %d", len(events))
	}
}
