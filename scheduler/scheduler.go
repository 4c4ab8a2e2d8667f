// Package scheduler runs background sync passes on a cron schedule, so
// mutations queued while the connectivity signal never fired still replay.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/fieldline/ordersync/logging"
)

// Syncer is the part of the sync engine the scheduler drives.
type Syncer interface {
	SyncWithServer(ctx context.Context) error
}

// Scheduler triggers periodic sync passes. The engine's own in-progress
// guard makes an overlapping trigger a no-op, so the schedule can be
// aggressive without risk of concurrent passes.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	logger *logging.Logger
}

// New creates a scheduler driving the given syncer.
func New(syncer Syncer) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		syncer: syncer,
		logger: logging.WithComponent("scheduler"),
	}
}

// Add registers a sync job for the cron spec (e.g. "@every 5m"). The ctx is
// captured per job and bounds every pass the job starts.
func (s *Scheduler) Add(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.syncer.SyncWithServer(ctx); err != nil {
			s.logger.LogError(ctx, err, "scheduled sync failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.logger.Info("scheduled background sync", "spec", spec)
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new jobs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
