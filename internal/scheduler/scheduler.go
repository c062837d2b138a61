// Package scheduler runs background housekeeping for a long-lived client,
// currently the daily history retention pass.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/util"
)

// Pruner deletes history older than a number of days.
type Pruner interface {
	Prune(days int) error
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	pruner Pruner
	now    func() time.Time
	log    zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pruner: pruner,
		now:    time.Now,
		log:    util.ComponentLogger("scheduler"),
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	db := s.cfg.GetApplicationData().Database
	if s.pruner == nil || !db.Enabled || db.RetentionDays <= 0 {
		s.log.Debug().Msg("history retention disabled")
		return
	}

	s.log.Info().Int("retention_days", db.RetentionDays).Msg("scheduler started")
	s.runPruneLoop(ctx)
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		next := s.nextPruneTime()
		wait := next.Sub(s.now())
		if wait <= 0 {
			wait = 24 * time.Hour
		}

		s.log.Debug().
			Time("next_run", next).
			Dur("sleep", wait).
			Msg("history prune scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.PruneNow()
		}
	}
}

// PruneNow applies the configured retention immediately.
func (s *Scheduler) PruneNow() {
	days := s.cfg.GetApplicationData().Database.RetentionDays
	if days <= 0 {
		return
	}
	start := s.now()
	if err := s.pruner.Prune(days); err != nil {
		s.log.Warn().Err(err).Msg("history prune failed")
		return
	}
	s.log.Info().
		Int("retention_days", days).
		Dur("took", s.now().Sub(start)).
		Msg("history pruned")
}

// nextPruneTime returns the next occurrence of the configured HH:MM.
func (s *Scheduler) nextPruneTime() time.Time {
	pruneTime := s.cfg.GetApplicationData().Database.PruneTime
	parts := strings.Split(pruneTime, ":")

	hour, minute := 4, 0
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
