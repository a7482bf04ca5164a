package tasks

import (
	"context"
	"time"
)

// Retention configures RunJanitor.
type Retention struct {
	Interval    time.Duration
	LiveDays    int
	HistoryDays int
}

// RunJanitor runs Cleanup and PurgeHistory once, then on every interval tick,
// until ctx is cancelled. A zero day count skips that sweep.
func (m *Manager) RunJanitor(ctx context.Context, r Retention) {
	if r.Interval <= 0 {
		r.Interval = 24 * time.Hour
	}
	sweep := func() {
		if r.LiveDays > 0 {
			if _, err := m.Cleanup(ctx, r.LiveDays); err != nil && ctx.Err() == nil {
				m.logger.Warn("tasks.janitor.cleanup_failed", "error", err)
			}
		}
		if r.HistoryDays > 0 {
			if _, err := m.PurgeHistory(ctx, r.HistoryDays); err != nil && ctx.Err() == nil {
				m.logger.Warn("tasks.janitor.purge_failed", "error", err)
			}
		}
	}

	sweep()
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep()
		}
	}
}
