package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"guidon/internal/analytics"
	"guidon/internal/storage"
)

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() int {
	c.calls++
	return 2
}

func TestAddAndRunNow(t *testing.T) {
	s := New(nil)
	sw := &countingSweeper{}
	if err := s.Add(JobResultSweep, "@every 1m", SweepJob(sw, zap.NewNop())); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(JobResultSweep, "@every 1m", SweepJob(sw, zap.NewNop())); err == nil {
		t.Fatal("duplicate job accepted")
	}
	if !s.IsRunning() {
		t.Fatal("scheduler has no entries")
	}
	if err := s.RunNow(JobResultSweep); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sw.calls != 1 {
		t.Fatalf("calls = %d", sw.calls)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Fatal("unknown job ran")
	}
	s.Start()
	s.Stop()
}

type fakeCompactor struct {
	calls int
	err   error
}

func (f *fakeCompactor) CompactJournal() (int, error) {
	f.calls++
	return 3, f.err
}

func TestCompactJob(t *testing.T) {
	s := New(nil)
	c := &fakeCompactor{}
	if err := s.Add(JobJournalCompact, "@every 10m", CompactJob(c, zap.NewNop())); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RunNow(JobJournalCompact); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.calls != 1 {
		t.Fatalf("calls = %d", c.calls)
	}
	c.err = errors.New("disk full")
	if err := CompactJob(c, zap.NewNop())(context.Background()); err == nil || !errors.Is(err, c.err) {
		t.Fatalf("want wrapped compaction error, got %v", err)
	}
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(nil)
	if err := s.Add("bad", "not a spec", func(context.Context) error { return nil }); err == nil {
		t.Fatal("bad spec accepted")
	}
	if err := s.Add("off", "", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("empty spec should disable the job: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("no job should be scheduled")
	}
}

func TestReportJobSummarisesAndPrunes(t *testing.T) {
	rec, err := storage.NewFileRecorder(filepath.Join(t.TempDir(), "interactions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	events := []storage.Event{
		{Timestamp: now.Add(-40 * 24 * time.Hour), Stage: storage.StageAccepted, Command: "draw", UserID: "old"},
		{Timestamp: now.Add(-time.Hour), Stage: storage.StageAccepted, Command: "draw", Channel: "web", UserID: "u1"},
		{Timestamp: now.Add(-time.Hour), Stage: storage.StageAccepted, Command: "ping", Channel: "chat", UserID: "u2"},
		{Timestamp: now.Add(-time.Hour), Stage: storage.StageCompleted, Command: "draw", Status: "success"},
	}
	for _, ev := range events {
		if err := rec.AppendInteraction(ev); err != nil {
			t.Fatal(err)
		}
	}

	var got *analytics.DailyStats
	job := ReportJob(rec, 30*24*time.Hour, func() time.Time { return now }, func(_ context.Context, st *analytics.DailyStats) error {
		got = st
		return nil
	}, zap.NewNop())
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if got == nil || got.TotalCommands != 2 || got.UniqueUsers != 2 || got.Completed != 1 {
		t.Fatalf("stats = %+v", got)
	}
	left, _ := rec.LoadInteractions()
	if len(left) != 3 {
		t.Fatalf("want 3 events after prune, got %d", len(left))
	}
}

func TestReportJobPropagatesReportError(t *testing.T) {
	job := ReportJob(storage.Discard{}, 0, nil, func(context.Context, *analytics.DailyStats) error {
		return errors.New("chat down")
	}, zap.NewNop())
	if err := job(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
