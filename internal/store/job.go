package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

// claimSelectRetries bounds how many times ClaimNext retries candidate
// selection after losing a conditional update race to another worker.
const claimSelectRetries = 4

// SweepResult reports what a stale-claim sweep did. Exhausted carries the
// ids of jobs that were force-failed so the caller can emit terminal events
// for any live stream subscribers.
type SweepResult struct {
	Requeued  []uuid.UUID
	Exhausted []uuid.UUID
}

// Job is the coordination surface over job records. Every transition is a
// conditional update keyed on the row's current status (and claim age where
// relevant), checked via RowsAffected, so concurrent callers cannot
// double-claim or overwrite each other's outcome.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, page Pagination) (model.JobList, int64, error)
	ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (*model.Job, []uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, workerID string, result []byte) (*model.Job, error)
	Fail(ctx context.Context, id uuid.UUID, workerID string, errMsg string) (*model.Job, error)
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error
	SweepStale(ctx context.Context, lease time.Duration, maxAttempts int) (SweepResult, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = model.JobStatusQueued

	if err := s.getDB(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, page Pagination) (model.JobList, int64, error) {
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs model.JobList
	result := page.Apply(tx.Order("created_at DESC, id DESC")).Find(&jobs)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return jobs, total, nil
}

// ClaimNext atomically assigns the oldest eligible job to workerID. Eligible
// means queued, or running with a heartbeat older than the lease. A stale
// running job whose attempts already reached maxAttempts is force-failed with
// a lease exhaustion error instead of being taken over.
//
// Exactly one concurrent caller wins any given job: the transition is an
// UPDATE guarded by the current status (and the stale heartbeat for
// takeovers), and losing the race just moves on to the next candidate.
//
// The second return value lists jobs that were force-failed for lease
// exhaustion along the way. The store has no event bus, so the caller is
// responsible for publishing a terminal event for each of them.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration, maxAttempts int) (*model.Job, []uuid.UUID, error) {
	db := s.getDB(ctx)
	var exhausted []uuid.UUID

	for i := 0; i < claimSelectRetries; i++ {
		var candidate model.Job
		err := db.Where("status = ?", model.JobStatusQueued).
			Order("created_at ASC, id ASC").
			First(&candidate).Error
		switch {
		case err == nil:
			claimed, err := s.tryClaim(ctx, candidate.ID, workerID, "status = ?", model.JobStatusQueued)
			if err != nil {
				return nil, exhausted, err
			}
			if claimed != nil {
				return claimed, exhausted, nil
			}
			continue
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, exhausted, fmt.Errorf("selecting queued job: %w", err)
		}

		// no queued jobs: look for an expired claim
		cutoff := time.Now().Add(-lease)
		err = db.Where("status = ? AND heartbeat_at < ?", model.JobStatusRunning, cutoff).
			Order("heartbeat_at ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, exhausted, nil
			}
			return nil, exhausted, fmt.Errorf("selecting stale job: %w", err)
		}

		if candidate.Attempts >= maxAttempts {
			done, err := s.exhaust(ctx, candidate.ID, cutoff, maxAttempts)
			if err != nil {
				return nil, exhausted, err
			}
			if done {
				exhausted = append(exhausted, candidate.ID)
			}
			continue
		}

		claimed, err := s.tryClaim(ctx, candidate.ID, workerID,
			"status = ? AND heartbeat_at < ?", model.JobStatusRunning, cutoff)
		if err != nil {
			return nil, exhausted, err
		}
		if claimed != nil {
			return claimed, exhausted, nil
		}
	}

	return nil, exhausted, nil
}

// tryClaim performs the conditional claim update. guard carries the
// status/claim-age condition the claim is keyed on. Returns nil when another
// caller won the race.
func (s *JobStore) tryClaim(ctx context.Context, id uuid.UUID, workerID string, guard string, guardArgs ...any) (*model.Job, error) {
	now := time.Now()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Where(guard, guardArgs...).
		Updates(map[string]any{
			"status":       model.JobStatusRunning,
			"claimed_by":   workerID,
			"claimed_at":   now,
			"heartbeat_at": now,
			"started_at":   now,
			"attempts":     gorm.Expr("attempts + 1"),
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("claiming job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return s.Get(ctx, id)
}

// exhaust force-fails a stale running job that has used up its requeue
// budget. Guarded by the stale heartbeat so a freshly-heartbeating worker is
// never failed under its feet.
func (s *JobStore) exhaust(ctx context.Context, id uuid.UUID, cutoff time.Time, maxAttempts int) (bool, error) {
	now := time.Now()
	msg := fmt.Sprintf("lease exhausted after %d attempts", maxAttempts)
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND heartbeat_at < ?", id, model.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":      model.JobStatusFailed,
			"error":       msg,
			"claimed_by":  nil,
			"claimed_at":  nil,
			"finished_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failing exhausted job %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result []byte) (*model.Job, error) {
	return s.finish(ctx, id, workerID, map[string]any{
		"status": model.JobStatusDone,
		"result": result,
	})
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, errMsg string) (*model.Job, error) {
	return s.finish(ctx, id, workerID, map[string]any{
		"status": model.JobStatusFailed,
		"error":  errMsg,
	})
}

func (s *JobStore) finish(ctx context.Context, id uuid.UUID, workerID string, fields map[string]any) (*model.Job, error) {
	now := time.Now()
	fields["claimed_by"] = nil
	fields["claimed_at"] = nil
	fields["finished_at"] = now
	fields["updated_at"] = now

	res := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, model.JobStatusRunning, workerID).
		Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("finishing job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the job does not exist, it is terminal already, or another
		// worker holds the claim. Report which, never overwrite.
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return nil, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, job.Status)
		}
		return nil, fmt.Errorf("%w: job %s is %s and not claimed by %s", ErrInvalidTransition, id, job.Status, workerID)
	}

	return s.Get(ctx, id)
}

func (s *JobStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	now := time.Now()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, model.JobStatusRunning, workerID).
		Updates(map[string]any{"heartbeat_at": now, "updated_at": now})
	if result.Error != nil {
		return fmt.Errorf("renewing claim on job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s is no longer claimed by %s", ErrInvalidTransition, id, workerID)
	}
	return nil
}

// SweepStale requeues expired claims and force-fails jobs past their requeue
// budget. It keeps the queue moving even when no worker is polling with
// ClaimNext.
func (s *JobStore) SweepStale(ctx context.Context, lease time.Duration, maxAttempts int) (SweepResult, error) {
	db := s.getDB(ctx)
	cutoff := time.Now().Add(-lease)

	var stale model.JobList
	err := db.Where("status = ? AND heartbeat_at < ?", model.JobStatusRunning, cutoff).
		Order("heartbeat_at ASC").
		Find(&stale).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("selecting stale jobs: %w", err)
	}

	var out SweepResult
	for _, job := range stale {
		if job.Attempts >= maxAttempts {
			done, err := s.exhaust(ctx, job.ID, cutoff, maxAttempts)
			if err != nil {
				return out, err
			}
			if done {
				out.Exhausted = append(out.Exhausted, job.ID)
			}
			continue
		}

		now := time.Now()
		result := db.Model(&model.Job{}).
			Where("id = ? AND status = ? AND heartbeat_at < ?", job.ID, model.JobStatusRunning, cutoff).
			Updates(map[string]any{
				"status":       model.JobStatusQueued,
				"claimed_by":   nil,
				"claimed_at":   nil,
				"heartbeat_at": nil,
				"updated_at":   now,
			})
		if result.Error != nil {
			return out, fmt.Errorf("requeueing job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected > 0 {
			out.Requeued = append(out.Requeued, job.ID)
		}
	}

	return out, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
