package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guidon/internal/analytics"
	"guidon/internal/storage"
)

const (
	JobResultSweep    = "result-sweep"
	JobDailyReport    = "daily-report"
	JobJournalCompact = "journal-compact"
)

type Sweeper interface {
	Sweep() int
}

// SweepJob evicts expired result records.
func SweepJob(s Sweeper, logger *zap.Logger) Job {
	return func(context.Context) error {
		if n := s.Sweep(); n > 0 {
			logger.Info("🧹 expired results evicted", zap.Int("count", n))
		}
		return nil
	}
}

type Compactor interface {
	CompactJournal() (int, error)
}

// CompactJob rewrites the queue journal down to unacked messages.
func CompactJob(c Compactor, logger *zap.Logger) Job {
	return func(context.Context) error {
		kept, err := c.CompactJournal()
		if err != nil {
			return fmt.Errorf("compact queue journal: %w", err)
		}
		logger.Debug("queue journal compacted", zap.Int("pending", kept))
		return nil
	}
}

type Pruner interface {
	Prune(cutoff time.Time) (int, error)
}

// Report receives the rendered daily summary.
type Report func(ctx context.Context, stats *analytics.DailyStats) error

// ReportJob summarises the current day of the interaction journal and, when
// the recorder supports it, drops events older than retention.
func ReportJob(rec storage.Recorder, retention time.Duration, now func() time.Time, report Report, logger *zap.Logger) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		events, err := rec.LoadInteractions()
		if err != nil {
			return fmt.Errorf("load interactions: %w", err)
		}
		t := now().UTC()
		stats := analytics.AnalyzeDailyLogs(events, t)
		if report != nil {
			if err := report(ctx, stats); err != nil {
				return fmt.Errorf("report: %w", err)
			}
		}
		logger.Info("📊 daily usage report",
			zap.String("date", stats.Date),
			zap.Int("commands", stats.TotalCommands),
			zap.Int("users", stats.UniqueUsers),
			zap.Int("failed", stats.Failed))

		p, ok := rec.(Pruner)
		if !ok || retention <= 0 {
			return nil
		}
		removed, err := p.Prune(t.Add(-retention))
		if err != nil {
			return fmt.Errorf("prune journal: %w", err)
		}
		if removed > 0 {
			logger.Info("interaction journal pruned", zap.Int("removed", removed))
		}
		return nil
	}
}
