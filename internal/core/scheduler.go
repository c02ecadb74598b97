package core

// scheduler.go runs periodic maintenance:
//  1. End sessions that have been idle longer than the session TTL, releasing
//     their staged files.
//  2. Remove spool files no live session references any more.
//  3. Purge submission history older than the retention window.
//
// Failures are logged and the loop keeps going.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSessionTTL is how long an idle session keeps its staged files.
const DefaultSessionTTL = 2 * time.Hour

// SweepConfig holds configuration for the maintenance scheduler.
// Zero values fall back to defaults; a zero HistoryRetention keeps history forever.
type SweepConfig struct {
	SessionTTL       time.Duration // idle time before a session is ended (default: 2h)
	Interval         time.Duration // how often to run (default: 10m)
	HistoryRetention time.Duration // age after which history is purged
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	return c
}

// StartSweepScheduler runs the sweep immediately, then every Interval, until
// ctx is cancelled.
func (s *Service) StartSweepScheduler(ctx context.Context, cfg SweepConfig) {
	cfg = cfg.withDefaults()
	slog.Info("sweep scheduler started",
		"session_ttl", cfg.SessionTTL,
		"interval", cfg.Interval,
		"history_retention", cfg.HistoryRetention,
	)

	s.runSweep(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx, cfg)
		}
	}
}

// runSweep performs one maintenance cycle.
func (s *Service) runSweep(ctx context.Context, cfg SweepConfig) {
	start := time.Now()

	ended, err := s.SweepSessions(cfg.SessionTTL)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
	}
	if ended > 0 {
		slog.Info("ended idle sessions", "sessions_ended", ended)
	}

	if s.spool != nil {
		// The grace period covers uploads saved but not yet added to a store.
		live := s.sessions.spooled()
		purged, err := s.spool.PurgeOlderThan(cfg.Interval, func(id string) bool { return live[id] })
		if err != nil {
			slog.Error("spool purge failed", "error", err)
		} else if purged > 0 {
			slog.Info("purged orphaned spool files", "files_purged", purged)
		}
	}

	if cfg.HistoryRetention > 0 {
		purged, err := s.history.Purge(ctx, time.Now().Add(-cfg.HistoryRetention))
		if err != nil {
			slog.Error("history purge failed", "error", err)
		} else if purged > 0 {
			slog.Info("purged submission history", "entries_purged", purged)
		}
	}

	slog.Debug("sweep completed", "duration_ms", time.Since(start).Milliseconds())
}
