package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/pkg/metrics"
)

// Sweeper is the background coordinator: on a schedule it requeues jobs whose
// claim went stale, force-fails jobs past their requeue budget, and drops
// event streams past the retention window. It keeps the queue moving even
// when every worker is busy or gone.
type Sweeper struct {
	store store.Store
	bus   *events.Bus
	cron  *cron.Cron

	lease         time.Duration
	maxAttempts   int
	sweepSchedule string
	purgeSchedule string
}

func NewSweeper(s store.Store, bus *events.Bus, cfg *config.Config) *Sweeper {
	return &Sweeper{
		store:         s,
		bus:           bus,
		cron:          cron.New(),
		lease:         cfg.Worker.LeaseDuration,
		maxAttempts:   cfg.Worker.MaxAttempts,
		sweepSchedule: cfg.Worker.SweepSchedule,
		purgeSchedule: cfg.Events.PurgeSchedule,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.sweepSchedule, s.sweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.purgeSchedule, s.purge); err != nil {
		return err
	}

	s.cron.Start()
	zap.S().Named("sweeper").Infow("sweeper started", "sweep_schedule", s.sweepSchedule, "purge_schedule", s.purgeSchedule)
	return nil
}

// Stop halts scheduling and returns a context that is done once any running
// sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) sweep() {
	result, err := s.store.Job().SweepStale(context.Background(), s.lease, s.maxAttempts)
	if err != nil {
		zap.S().Named("sweeper").Errorw("sweeping stale claims", "error", err)
		return
	}

	for range result.Requeued {
		metrics.IncreaseJobRequeues()
	}
	publishLeaseExhaustions(s.bus, result.Exhausted, s.maxAttempts)

	if len(result.Requeued) > 0 || len(result.Exhausted) > 0 {
		zap.S().Named("sweeper").Infow("stale claims swept", "requeued", len(result.Requeued), "exhausted", len(result.Exhausted))
	}
}

func (s *Sweeper) purge() {
	if dropped := s.bus.Purge(time.Now()); dropped > 0 {
		zap.S().Named("sweeper").Debugw("event streams purged", "dropped", dropped)
	}
}
