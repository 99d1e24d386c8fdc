package store_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/store/model"
)

const (
	insertJobStm        = "INSERT INTO jobs (id, name, name_normalized, status, created_at, updated_at) VALUES ('%s', '%s', '%s', '%s', '%s', '%s');"
	ageHeartbeatStm     = "UPDATE jobs SET heartbeat_at = '%s' WHERE id = '%s';"
	bumpAttemptsStm     = "UPDATE jobs SET attempts = %d WHERE id = '%s';"
	testLease           = 200 * time.Millisecond
	testMaxAttempts     = 3
	sqliteTimestampDate = "2006-01-02 15:04:05"
)

func insertQueuedJob(db *gorm.DB, name string, createdAt time.Time) uuid.UUID {
	id := uuid.New()
	ts := createdAt.UTC().Format(sqliteTimestampDate)
	tx := db.Exec(fmt.Sprintf(insertJobStm, id, name, name, model.JobStatusQueued, ts, ts))
	Expect(tx.Error).To(BeNil())
	return id
}

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db

		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("create and read", func() {
		It("creates a job in queued state", func() {
			job, err := s.Job().Create(context.TODO(), model.Job{Name: "Casa Pepe", NameNormalized: "casa pepe", Strategy: "interactive"})
			Expect(err).To(BeNil())
			Expect(job.ID).ToNot(Equal(uuid.Nil))
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.Attempts).To(Equal(0))
			Expect(job.ClaimedBy).To(BeNil())
			Expect(job.Result).To(BeEmpty())
			Expect(job.Error).To(BeNil())
		})

		It("gets a job by id", func() {
			created, err := s.Job().Create(context.TODO(), model.Job{Name: "Casa Pepe", NameNormalized: "casa pepe"})
			Expect(err).To(BeNil())

			job, err := s.Job().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.Name).To(Equal("Casa Pepe"))
		})

		It("returns not found for a missing job", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("lists jobs filtered by status with pagination", func() {
			for i := 0; i < 5; i++ {
				insertQueuedJob(gormdb, fmt.Sprintf("business %d", i), time.Now().Add(time.Duration(i)*time.Second))
			}

			jobs, total, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByStatus(model.JobStatusQueued), store.NewPagination(1, 3))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(5)))
			Expect(jobs).To(HaveLen(3))

			jobs, _, err = s.Job().List(context.TODO(), nil, store.NewPagination(2, 3))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))
		})
	})

	Context("claim", func() {
		It("claims the oldest queued job", func() {
			older := insertQueuedJob(gormdb, "older", time.Now().Add(-time.Hour))
			insertQueuedJob(gormdb, "newer", time.Now())

			job, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(job).ToNot(BeNil())
			Expect(job.ID).To(Equal(older))
			Expect(job.Status).To(Equal(model.JobStatusRunning))
			Expect(*job.ClaimedBy).To(Equal("worker-a"))
			Expect(job.Attempts).To(Equal(1))
			Expect(job.HeartbeatAt).ToNot(BeNil())
			Expect(job.StartedAt).ToNot(BeNil())
		})

		It("returns nil when nothing is claimable", func() {
			job, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(job).To(BeNil())
		})

		It("gives one queued job to exactly one of many concurrent claimers", func() {
			target := insertQueuedJob(gormdb, "contended", time.Now())

			var wg sync.WaitGroup
			winners := make(chan string, 10)
			for i := 0; i < 10; i++ {
				workerID := fmt.Sprintf("worker-%d", i)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					job, _, err := s.Job().ClaimNext(context.TODO(), workerID, testLease, testMaxAttempts)
					Expect(err).To(BeNil())
					if job != nil && job.ID == target {
						winners <- workerID
					}
				}()
			}
			wg.Wait()
			close(winners)

			count := 0
			for range winners {
				count++
			}
			Expect(count).To(Equal(1))

			job, err := s.Job().Get(context.TODO(), target)
			Expect(err).To(BeNil())
			Expect(job.Attempts).To(Equal(1))
		})

		It("takes over a running job whose heartbeat went stale", func() {
			id := insertQueuedJob(gormdb, "stale", time.Now())

			job, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(job.ID).To(Equal(id))

			// a fresh claim is not eligible
			other, _, err := s.Job().ClaimNext(context.TODO(), "worker-b", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(other).To(BeNil())

			stale := time.Now().Add(-time.Hour).UTC().Format(sqliteTimestampDate)
			Expect(gormdb.Exec(fmt.Sprintf(ageHeartbeatStm, stale, id)).Error).To(BeNil())

			taken, _, err := s.Job().ClaimNext(context.TODO(), "worker-b", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(taken).ToNot(BeNil())
			Expect(taken.ID).To(Equal(id))
			Expect(*taken.ClaimedBy).To(Equal("worker-b"))
			Expect(taken.Attempts).To(Equal(2))
		})

		It("force-fails a stale job past its attempts budget", func() {
			id := insertQueuedJob(gormdb, "exhausted", time.Now())

			_, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
			Expect(err).To(BeNil())

			stale := time.Now().Add(-time.Hour).UTC().Format(sqliteTimestampDate)
			Expect(gormdb.Exec(fmt.Sprintf(ageHeartbeatStm, stale, id)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(bumpAttemptsStm, testMaxAttempts, id)).Error).To(BeNil())

			job, exhausted, err := s.Job().ClaimNext(context.TODO(), "worker-b", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(job).To(BeNil())
			Expect(exhausted).To(ConsistOf(id))

			failed, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(failed.Status).To(Equal(model.JobStatusFailed))
			Expect(*failed.Error).To(ContainSubstring("lease exhausted"))
			Expect(failed.ClaimedBy).To(BeNil())
		})
	})

	Context("finish", func() {
		var id uuid.UUID

		BeforeEach(func() {
			id = insertQueuedJob(gormdb, "finishing", time.Now())
			job, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(job.ID).To(Equal(id))
		})

		It("completes a claimed job", func() {
			job, err := s.Job().Complete(context.TODO(), id, "worker-a", []byte(`{"cached":false}`))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusDone))
			Expect(job.Result).ToNot(BeEmpty())
			Expect(job.Error).To(BeNil())
			Expect(job.ClaimedBy).To(BeNil())
			Expect(job.FinishedAt).ToNot(BeNil())
		})

		It("fails a claimed job with an error message", func() {
			job, err := s.Job().Fail(context.TODO(), id, "worker-a", "scrape timed out")
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(*job.Error).To(Equal("scrape timed out"))
			Expect(job.Result).To(BeEmpty())
		})

		It("refuses to finish a job claimed by another worker", func() {
			_, err := s.Job().Complete(context.TODO(), id, "worker-b", []byte(`{}`))
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("keeps terminal jobs immutable", func() {
			_, err := s.Job().Complete(context.TODO(), id, "worker-a", []byte(`{"cached":true}`))
			Expect(err).To(BeNil())

			_, err = s.Job().Fail(context.TODO(), id, "worker-a", "too late")
			Expect(err).To(MatchError(store.ErrInvalidTransition))

			job, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusDone))
			Expect(job.Error).To(BeNil())
		})

		It("renews the claim on heartbeat", func() {
			before, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())

			time.Sleep(50 * time.Millisecond)
			Expect(s.Job().Heartbeat(context.TODO(), id, "worker-a")).To(Succeed())

			after, err := s.Job().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(after.HeartbeatAt.After(*before.HeartbeatAt)).To(BeTrue())
		})

		It("rejects heartbeats from a worker that lost the claim", func() {
			Expect(s.Job().Heartbeat(context.TODO(), id, "worker-b")).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("sweep", func() {
		It("requeues stale claims and exhausts those past the budget", func() {
			staleID := insertQueuedJob(gormdb, "stale-sweep", time.Now())
			exhaustedID := insertQueuedJob(gormdb, "exhausted-sweep", time.Now())
			freshID := insertQueuedJob(gormdb, "fresh-sweep", time.Now())

			for range []int{0, 1, 2} {
				_, _, err := s.Job().ClaimNext(context.TODO(), "worker-a", testLease, testMaxAttempts)
				Expect(err).To(BeNil())
			}

			stale := time.Now().Add(-time.Hour).UTC().Format(sqliteTimestampDate)
			Expect(gormdb.Exec(fmt.Sprintf(ageHeartbeatStm, stale, staleID)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(ageHeartbeatStm, stale, exhaustedID)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(bumpAttemptsStm, testMaxAttempts, exhaustedID)).Error).To(BeNil())

			result, err := s.Job().SweepStale(context.TODO(), testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(result.Requeued).To(ConsistOf(staleID))
			Expect(result.Exhausted).To(ConsistOf(exhaustedID))

			requeued, err := s.Job().Get(context.TODO(), staleID)
			Expect(err).To(BeNil())
			Expect(requeued.Status).To(Equal(model.JobStatusQueued))
			Expect(requeued.ClaimedBy).To(BeNil())
			Expect(requeued.HeartbeatAt).To(BeNil())

			exhausted, err := s.Job().Get(context.TODO(), exhaustedID)
			Expect(err).To(BeNil())
			Expect(exhausted.Status).To(Equal(model.JobStatusFailed))

			fresh, err := s.Job().Get(context.TODO(), freshID)
			Expect(err).To(BeNil())
			Expect(fresh.Status).To(Equal(model.JobStatusRunning))
		})

		It("does nothing when no claim is stale", func() {
			insertQueuedJob(gormdb, "idle", time.Now())

			result, err := s.Job().SweepStale(context.TODO(), testLease, testMaxAttempts)
			Expect(err).To(BeNil())
			Expect(result.Requeued).To(BeEmpty())
			Expect(result.Exhausted).To(BeEmpty())
		})
	})
})
