package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "reviewlens"

	jobsClaimedTotal     = "jobs_claimed_total"
	jobsFinishedTotal    = "jobs_finished_total"
	jobRequeuesTotal     = "job_requeues_total"
	leaseExhaustionTotal = "job_lease_exhaustions_total"
	batchesAnalyzedTotal = "batches_analyzed_total"
	sseSubscribers       = "progress_subscribers"

	jobStatusLabel = "status"
	batcherLabel   = "batcher"
	outcomeLabel   = "outcome"
)

var jobsClaimedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsClaimedTotal,
		Help:      "number of job claims won by workers",
	},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs reaching a terminal status",
	},
	[]string{jobStatusLabel},
)

var jobRequeuesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobRequeuesTotal,
		Help:      "number of stale claims taken over by another worker",
	},
)

var leaseExhaustionTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      leaseExhaustionTotal,
		Help:      "number of jobs force-failed after exhausting their requeue budget",
	},
)

var batchesAnalyzedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      batchesAnalyzedTotal,
		Help:      "number of reanalysis batches sent to the analyzer",
	},
	[]string{batcherLabel, outcomeLabel},
)

var sseSubscribersMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      sseSubscribers,
		Help:      "number of currently attached progress stream subscribers",
	},
)

func IncreaseJobsClaimed() {
	jobsClaimedTotalMetric.Inc()
}

func IncreaseJobsFinished(status string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{jobStatusLabel: status}).Inc()
}

func IncreaseJobRequeues() {
	jobRequeuesTotalMetric.Inc()
}

func IncreaseLeaseExhaustions() {
	leaseExhaustionTotalMetric.Inc()
}

func IncreaseBatchesAnalyzed(batcher string, outcome string) {
	batchesAnalyzedTotalMetric.With(prometheus.Labels{batcherLabel: batcher, outcomeLabel: outcome}).Inc()
}

func SetProgressSubscribers(count int) {
	sseSubscribersMetric.Set(float64(count))
}

func RegisterDomainMetrics() {
	prometheus.MustRegister(
		jobsClaimedTotalMetric,
		jobsFinishedTotalMetric,
		jobRequeuesTotalMetric,
		leaseExhaustionTotalMetric,
		batchesAnalyzedTotalMetric,
		sseSubscribersMetric,
	)
}
