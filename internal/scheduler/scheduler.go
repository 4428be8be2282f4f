// Package scheduler enqueues recurring scans for targets carrying a cron
// schedule. It only creates QUEUED scan rows; the worker pool picks them up
// like any on-demand submission.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/logging"
)

const defaultCheckInterval = time.Minute

// Scheduler periodically sweeps scheduled targets and enqueues scans whose
// next run is due.
type Scheduler struct {
	store         *db.Store
	logger        *logging.Logger
	checkInterval time.Duration
}

// New creates a scheduler.
func New(store *db.Store, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		logger:        logger.WithComponent("scheduler"),
		checkInterval: defaultCheckInterval,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "interval", s.checkInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep enqueues one scan per due target. A target is due when its
// next_scan_at has passed, or has never been set for a schedule-bearing
// target.
func (s *Scheduler) sweep(ctx context.Context) {
	targets, err := s.store.Targets.ListScheduled(ctx)
	if err != nil {
		s.logger.Error("Scheduled target sweep failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, target := range targets {
		if target.Schedule == nil || *target.Schedule == "" {
			continue
		}
		schedule, err := cron.ParseStandard(*target.Schedule)
		if err != nil {
			s.logger.Warn("Invalid target schedule",
				"target_id", target.ID, "schedule", *target.Schedule)
			continue
		}

		if target.NextScanAt == nil {
			// First sighting of this schedule; anchor the next run
			// without scanning immediately.
			if err := s.store.Targets.ScheduleNextScan(ctx, target.ID, schedule.Next(now)); err != nil {
				s.logger.Error("Could not anchor schedule", "target_id", target.ID, "error", err)
			}
			continue
		}
		if target.NextScanAt.After(now) {
			continue
		}

		scan := &db.Scan{
			TargetID: target.ID,
			Type:     db.ScanTypeScheduled,
			Profile:  target.DefaultProfile,
		}
		if err := s.store.Scans.Create(ctx, scan); err != nil {
			s.logger.Error("Could not enqueue scheduled scan",
				"target_id", target.ID, "error", err)
			continue
		}

		if err := s.store.Targets.ScheduleNextScan(ctx, target.ID, schedule.Next(now)); err != nil {
			s.logger.Error("Could not advance schedule", "target_id", target.ID, "error", err)
		}
		s.logger.Info("Enqueued scheduled scan",
			"target_id", target.ID, "scan_id", scan.ID, "profile", scan.Profile)
	}
}
