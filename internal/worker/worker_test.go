package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/batcher"
	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/service"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/worker"
)

type erroringScraper struct{}

func (erroringScraper) Scrape(context.Context, string, string) (scraper.Listing, []pipeline.RawReview, error) {
	return scraper.Listing{}, nil, errors.New("page did not load")
}

func newHarness(t *testing.T, sc scraper.Scraper, cfg *config.Config) (store.Store, *events.Bus, *service.JobService, *worker.Worker) {
	t.Helper()

	db, err := store.InitDB(cfg)
	require.NoError(t, err)
	s := store.NewStore(db)
	require.NoError(t, s.InitialMigration())
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(cfg.Events.SubscriberBuffer, cfg.Events.RetentionWindow)
	analyzer := pipeline.NewHeuristicAnalyzer(cfg.Analysis.AnalyzerRPS)
	business := service.NewBusinessService(s, sc, analyzer, service.AnalysisDefaults{
		Batchers:  []string{batcher.LatestText},
		BatchSize: cfg.Analysis.BatchSize,
		PoolSize:  cfg.Analysis.PoolSize,
	})
	jobs := service.NewJobService(s, bus)

	return s, bus, jobs, worker.NewWorker(s, bus, business, cfg)
}

func runWorker(t *testing.T, w *worker.Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerCompletesEnqueuedJob(t *testing.T) {
	_, bus, jobs, w := newHarness(t, scraper.NewFixtureScraper(), config.NewDefault())
	runWorker(t, w)

	job, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Casa Pepe", Force: true})
	require.NoError(t, err)

	sub := bus.Subscribe(job.ID, 1)
	defer sub.Close()

	var final *api.Job
	require.Eventually(t, func() bool {
		current, err := jobs.Get(context.TODO(), job.ID)
		if err != nil || (current.Status != api.JobStatusDone && current.Status != api.JobStatusFailed) {
			return false
		}
		final = current
		return true
	}, 10*time.Second, 50*time.Millisecond)

	require.Equal(t, api.JobStatusDone, final.Status)
	require.NotNil(t, final.Result)
	assert.Nil(t, final.Error)
	assert.False(t, final.Result.Cached)
	assert.NotZero(t, final.Result.BusinessID)
	assert.NotZero(t, final.Result.AnalysisID)
	assert.Greater(t, final.Result.ReviewCount, 0)

	// the stream saw the full pipeline and ended on the terminal event
	var stages []string
	for event := range sub.Events() {
		stages = append(stages, event.Stage)
	}
	require.NotEmpty(t, stages)
	assert.Equal(t, events.StageQueued, stages[0])
	assert.Contains(t, stages, events.StageScraping)
	assert.Equal(t, events.StageCompleted, stages[len(stages)-1])
}

func TestWorkerFailsJobAndKeepsPolling(t *testing.T) {
	_, _, jobs, w := newHarness(t, erroringScraper{}, config.NewDefault())
	runWorker(t, w)

	first, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Casa Pepe", Force: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := jobs.Get(context.TODO(), first.ID)
		return err == nil && current.Status == api.JobStatusFailed
	}, 10*time.Second, 50*time.Millisecond)

	failed, err := jobs.Get(context.TODO(), first.ID)
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "page did not load")
	assert.Nil(t, failed.Result)

	// a failure never wedges the loop
	second, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Bar Manolo", Force: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := jobs.Get(context.TODO(), second.ID)
		return err == nil && current.Status == api.JobStatusFailed
	}, 10*time.Second, 50*time.Millisecond)
}

// drainStream reads stages until the bus closes the subscription.
func drainStream(t *testing.T, sub *events.Subscription) []string {
	t.Helper()
	var stages []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event, open := <-sub.Events():
			if !open {
				return stages
			}
			stages = append(stages, event.Stage)
		case <-timeout:
			t.Fatal("stream never terminated")
		}
	}
}

// exhaustionConfig makes a single stale claim exhaust the attempts budget
// almost immediately.
func exhaustionConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Worker.LeaseDuration = 50 * time.Millisecond
	cfg.Worker.MaxAttempts = 1
	cfg.Worker.SweepSchedule = "@every 100ms"
	return cfg
}

func TestSweeperEndsStreamOfLeaseExhaustedJob(t *testing.T) {
	cfg := exhaustionConfig()
	s, bus, jobs, _ := newHarness(t, scraper.NewFixtureScraper(), cfg)

	job, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Casa Pepe", Force: true})
	require.NoError(t, err)

	// a worker claims the job and dies without ever heartbeating again
	claimed, _, err := s.Job().ClaimNext(context.TODO(), "dead-worker", time.Minute, cfg.Worker.MaxAttempts)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	sub := bus.Subscribe(job.ID, 1)
	defer sub.Close()

	sweeper := worker.NewSweeper(s, bus, cfg)
	require.NoError(t, sweeper.Start())
	t.Cleanup(func() { <-sweeper.Stop().Done() })

	stages := drainStream(t, sub)
	require.NotEmpty(t, stages)
	assert.Equal(t, events.StageFailed, stages[len(stages)-1])

	failed, err := jobs.Get(context.TODO(), job.ID)
	require.NoError(t, err)
	require.Equal(t, api.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "lease exhausted")
}

func TestClaimPathEndsStreamOfLeaseExhaustedJob(t *testing.T) {
	cfg := exhaustionConfig()
	s, bus, jobs, w := newHarness(t, scraper.NewFixtureScraper(), cfg)

	job, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Casa Pepe", Force: true})
	require.NoError(t, err)

	claimed, _, err := s.Job().ClaimNext(context.TODO(), "dead-worker", time.Minute, cfg.Worker.MaxAttempts)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	sub := bus.Subscribe(job.ID, 1)
	defer sub.Close()

	// the polling worker finds the stale exhausted claim and closes it out
	runWorker(t, w)

	stages := drainStream(t, sub)
	require.NotEmpty(t, stages)
	assert.Equal(t, events.StageFailed, stages[len(stages)-1])

	failed, err := jobs.Get(context.TODO(), job.ID)
	require.NoError(t, err)
	require.Equal(t, api.JobStatusFailed, failed.Status)
}

func TestWorkerServesCachedResult(t *testing.T) {
	_, _, jobs, w := newHarness(t, scraper.NewFixtureScraper(), config.NewDefault())
	runWorker(t, w)

	waitDone := func(id uuid.UUID) *api.Job {
		var final *api.Job
		require.Eventually(t, func() bool {
			current, err := jobs.Get(context.TODO(), id)
			if err != nil || current.Status != api.JobStatusDone {
				return false
			}
			final = current
			return true
		}, 10*time.Second, 50*time.Millisecond)
		return final
	}

	first, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "Casa Pepe"})
	require.NoError(t, err)
	firstDone := waitDone(first.ID)

	second, err := jobs.Enqueue(context.TODO(), api.JobCreate{Name: "casa  PEPE"})
	require.NoError(t, err)
	secondDone := waitDone(second.ID)

	require.NotNil(t, secondDone.Result)
	assert.True(t, secondDone.Result.Cached)
	assert.Equal(t, firstDone.Result.BusinessID, secondDone.Result.BusinessID)
	assert.Equal(t, firstDone.Result.AnalysisID, secondDone.Result.AnalysisID)
}
