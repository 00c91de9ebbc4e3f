// Package maintenance schedules background index upkeep: periodic
// persistence of the live snapshot and an off-peak full rebuild.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Index is the slice of the vector index the scheduler drives.
type Index interface {
	Persist() error
	RebuildFromStore(ctx context.Context) (int, error)
}

// Scheduler runs the maintenance jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	idx  Index
}

// NewScheduler registers the persist and rebuild jobs. Specs use the
// standard 5-field cron syntax or @every intervals.
func NewScheduler(idx Index, persistSpec, rebuildSpec string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		idx:  idx,
	}

	if _, err := s.cron.AddFunc(persistSpec, s.persist); err != nil {
		return nil, fmt.Errorf("invalid persist schedule %q: %w", persistSpec, err)
	}
	if _, err := s.cron.AddFunc(rebuildSpec, s.rebuild); err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", rebuildSpec, err)
	}
	return s, nil
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("maintenance scheduler stopped")
}

func (s *Scheduler) persist() {
	if err := s.idx.Persist(); err != nil {
		slog.Error("scheduled index persist failed", "error", err)
	}
}

func (s *Scheduler) rebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	count, err := s.idx.RebuildFromStore(ctx)
	if err != nil {
		slog.Error("scheduled index rebuild failed", "error", err)
		return
	}
	slog.Info("scheduled index rebuild finished", "vectors", count)

	if err := s.idx.Persist(); err != nil {
		slog.Error("persist after rebuild failed", "error", err)
	}
}
