// Package worker runs the job processing loop: claim, execute the pipeline,
// report progress, finish. Multiple workers may poll the same store, from this
// process or others; the store's conditional claim keeps them from colliding.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/service"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/store/model"
	"github.com/reviewlens/reviewlens/pkg/metrics"
)

type Worker struct {
	id       string
	store    store.Store
	bus      *events.Bus
	business *service.BusinessService

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	leaseDuration     time.Duration
	maxAttempts       int
}

func NewWorker(s store.Store, bus *events.Bus, business *service.BusinessService, cfg *config.Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	return &Worker{
		id:                fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		store:             s,
		bus:               bus,
		business:          business,
		pollInterval:      cfg.Worker.PollInterval,
		heartbeatInterval: cfg.Worker.HeartbeatInterval,
		leaseDuration:     cfg.Worker.LeaseDuration,
		maxAttempts:       cfg.Worker.MaxAttempts,
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Run polls for claimable jobs until ctx is canceled. Job failures never stop
// the loop; they fail the job and polling continues.
func (w *Worker) Run(ctx context.Context) error {
	zap.S().Named("worker").Infow("worker started", "worker_id", w.id, "poll_interval", w.pollInterval)

	ticker := jitterbug.New(w.pollInterval, &jitterbug.Norm{Stdev: w.pollInterval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.S().Named("worker").Infow("worker stopped", "worker_id", w.id)
			return nil
		case <-ticker.C:
		}

		w.drain(ctx)
	}
}

// drain claims and processes jobs until the queue has nothing eligible.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, exhausted, err := w.store.Job().ClaimNext(ctx, w.id, w.leaseDuration, w.maxAttempts)
		publishLeaseExhaustions(w.bus, exhausted, w.maxAttempts)
		if err != nil {
			zap.S().Named("worker").Errorw("claiming next job", "worker_id", w.id, "error", err)
			return
		}
		if job == nil {
			return
		}

		metrics.IncreaseJobsClaimed()
		zap.S().Named("worker").Infow("job claimed", "worker_id", w.id, "job_id", job.ID, "attempt", job.Attempts)
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Named("worker").Errorw("pipeline panicked", "worker_id", w.id, "job_id", job.ID, "panic", r)
			w.failJob(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	renewCtx, cancelRenewal := context.WithCancel(ctx)
	defer cancelRenewal()
	go w.renewClaim(renewCtx, job.ID)

	emit := func(stage string, message string, data map[string]any) {
		w.bus.Publish(job.ID, stage, message, data)
		if err := w.store.Job().Heartbeat(ctx, job.ID, w.id); err != nil {
			zap.S().Named("worker").Warnw("heartbeat on progress failed", "worker_id", w.id, "job_id", job.ID, "error", err)
		}
	}

	result, err := w.business.RunJob(ctx, job, emit)
	cancelRenewal()
	if err != nil {
		w.failJob(ctx, job, err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("encoding result: %v", err))
		return
	}

	if _, err := w.store.Job().Complete(ctx, job.ID, w.id, resultJSON); err != nil {
		// Losing the claim here means another worker took the job over after
		// our lease went stale. Its outcome stands, ours is dropped.
		zap.S().Named("worker").Warnw("could not complete job", "worker_id", w.id, "job_id", job.ID, "error", err)
		return
	}

	metrics.IncreaseJobsFinished(model.JobStatusDone)
	w.bus.Publish(job.ID, events.StageCompleted, "Job completed.", map[string]any{
		"business_id": result.BusinessID,
		"analysis_id": result.AnalysisID,
		"cached":      result.Cached,
	})
	zap.S().Named("worker").Infow("job completed", "worker_id", w.id, "job_id", job.ID, "cached", result.Cached)
}

func (w *Worker) failJob(ctx context.Context, job *model.Job, message string) {
	if _, err := w.store.Job().Fail(ctx, job.ID, w.id, message); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			zap.S().Named("worker").Warnw("job no longer ours to fail", "worker_id", w.id, "job_id", job.ID, "error", err)
			return
		}
		zap.S().Named("worker").Errorw("failing job", "worker_id", w.id, "job_id", job.ID, "error", err)
		return
	}

	metrics.IncreaseJobsFinished(model.JobStatusFailed)
	w.bus.Publish(job.ID, events.StageFailed, message, nil)
	zap.S().Named("worker").Infow("job failed", "worker_id", w.id, "job_id", job.ID, "error", message)
}

// publishLeaseExhaustions closes out the streams of jobs the store just
// force-failed for lease exhaustion. The message mirrors the error the store
// recorded on the row, so live subscribers see the same terminal outcome a
// later GET would.
func publishLeaseExhaustions(bus *events.Bus, ids []uuid.UUID, maxAttempts int) {
	for _, id := range ids {
		metrics.IncreaseLeaseExhaustions()
		bus.Publish(id, events.StageFailed, fmt.Sprintf("lease exhausted after %d attempts", maxAttempts), nil)
	}
}

// renewClaim keeps the lease fresh while a long stage (scrape, LLM call) emits
// no progress. It stops as soon as the claim is lost.
func (w *Worker) renewClaim(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.store.Job().Heartbeat(ctx, jobID, w.id); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				zap.S().Named("worker").Warnw("claim lost, stopping renewal", "worker_id", w.id, "job_id", jobID)
				return
			}
			zap.S().Named("worker").Warnw("claim renewal failed", "worker_id", w.id, "job_id", jobID, "error", err)
		}
	}
}
