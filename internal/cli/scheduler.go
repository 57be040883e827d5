package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/roach88/wardsync/internal/wal"
)

// cleaner applies WAL retention.
type cleaner interface {
	Cleanup(ctx context.Context) (wal.CleanupResult, error)
}

// cleanupScheduler runs WAL retention on a cron schedule while `run` is
// active.
type cleanupScheduler struct {
	cron    *cron.Cron
	target  cleaner
	ctx     context.Context
	running atomic.Bool
}

func newCleanupScheduler(ctx context.Context, spec string, target cleaner) (*cleanupScheduler, error) {
	s := &cleanupScheduler{cron: cron.New(), target: target, ctx: ctx}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *cleanupScheduler) Start() {
	slog.Info("cleanup scheduler started", "event", "cli_cleanup_start", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop waits for a running cleanup to finish.
func (s *cleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("cleanup scheduler stopped", "event", "cli_cleanup_stop")
}

func (s *cleanupScheduler) runOnce() {
	if !s.running.CompareAndSwap(false, true) {
		slog.Info("cleanup already running, skipping scheduled run", "event", "cli_cleanup_skipped")
		return
	}
	defer s.running.Store(false)

	res, err := s.target.Cleanup(s.ctx)
	if err != nil {
		slog.Warn("scheduled cleanup failed", "event", "cli_cleanup_error", "error", err)
		return
	}
	slog.Info("scheduled cleanup", "event", "cli_cleanup", "cleared", res.Cleared, "enforced", res.Enforced)
}
