package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

func StringToJobStatus(s string) JobStatus {
	switch s {
	case string(JobStatusQueued):
		return JobStatusQueued
	case string(JobStatusRunning):
		return JobStatusRunning
	case string(JobStatusDone):
		return JobStatusDone
	case string(JobStatusFailed):
		return JobStatusFailed
	default:
		return JobStatusQueued
	}
}

// JobCreate is the request body accepted by POST /api/v1alpha1/jobs.
// Name must keep at least 3 characters once cleaned of noise words and
// punctuation; the tag enforces the raw-length floor and the service
// re-checks the cleaned form.
type JobCreate struct {
	Name     string `json:"name" validate:"required,min=3,max=255"`
	Force    bool   `json:"force"`
	Strategy string `json:"strategy" validate:"omitempty,max=50"`
}

// Job is the read view of an analysis job. Result and Error are mutually
// exclusive and both nil until the job reaches a terminal status.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Force      bool            `json:"force"`
	Strategy   string          `json:"strategy"`
	Status     JobStatus       `json:"status"`
	Result     *JobResult      `json:"result"`
	Error      *string         `json:"error"`
	Attempts   int             `json:"attempts"`
	ClaimedBy  *string         `json:"claimed_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// JobResult is what a completed pipeline run produced.
type JobResult struct {
	BusinessID           uuid.UUID `json:"business_id"`
	Cached               bool      `json:"cached"`
	Strategy             string    `json:"strategy"`
	ReviewCount          int       `json:"review_count"`
	ScrapedReviewCount   int       `json:"scraped_review_count"`
	ProcessedReviewCount int       `json:"processed_review_count"`
	AnalysisID           uuid.UUID `json:"analysis_id"`
}

type JobList struct {
	Items    []Job `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// ProgressEvent is one record of the job's live event stream.
type ProgressEvent struct {
	JobID     uuid.UUID      `json:"job_id"`
	Sequence  int64          `json:"sequence"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Listing struct {
	Address       string   `json:"address,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Website       string   `json:"website,omitempty"`
	OverallRating float64  `json:"overall_rating,omitempty"`
	TotalReviews  int      `json:"total_reviews,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

type Business struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	Source           string         `json:"source"`
	Listing          *Listing       `json:"listing,omitempty"`
	Stats            map[string]any `json:"stats,omitempty"`
	ReviewCount      int            `json:"review_count"`
	LatestAnalysisID *uuid.UUID     `json:"latest_analysis_id,omitempty"`
	LastScrapedAt    *time.Time     `json:"last_scraped_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type BusinessList struct {
	Items    []Business `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int64      `json:"total"`
}

type Review struct {
	ID            uuid.UUID `json:"id"`
	BusinessID    uuid.UUID `json:"business_id"`
	AuthorName    string    `json:"author_name"`
	Rating        float64   `json:"rating"`
	Text          string    `json:"text"`
	OwnerReply    string    `json:"owner_reply,omitempty"`
	HasText       bool      `json:"has_text"`
	HasOwnerReply bool      `json:"has_owner_reply"`
	RelativeTime  string    `json:"relative_time,omitempty"`
	RecencyBucket string    `json:"recency_bucket"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

type ReviewList struct {
	Items    []Review `json:"items"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int64    `json:"total"`
}

// ReanalyzeRequest selects which batchers re-derive an analysis from stored
// reviews, without re-scraping.
type ReanalyzeRequest struct {
	Batchers       []string `json:"batchers" validate:"omitempty,dive,min=1"`
	BatchSize      int      `json:"batch_size" validate:"omitempty,min=1"`
	MaxReviewsPool int      `json:"max_reviews_pool" validate:"omitempty,min=1"`
}

// BatchRun is the per-batcher provenance attached to a merged analysis.
type BatchRun struct {
	Batcher       string  `json:"batcher"`
	RequestedSize int     `json:"requested_size"`
	SampleSize    int     `json:"sample_size"`
	QualityScore  float64 `json:"quality_score"`
	Error         string  `json:"error,omitempty"`
}

type AnalysisMeta struct {
	Type      string     `json:"type"`
	Batchers  []string   `json:"batchers"`
	BatchSize int        `json:"batch_size"`
	PoolSize  int        `json:"pool_size"`
	Runs      []BatchRun `json:"runs"`
}

type Analysis struct {
	ID                  uuid.UUID     `json:"id"`
	BusinessID          uuid.UUID     `json:"business_id"`
	OverallSentiment    string        `json:"overall_sentiment"`
	MainTopics          []string      `json:"main_topics"`
	Strengths           []string      `json:"strengths"`
	Weaknesses          []string      `json:"weaknesses"`
	SuggestedOwnerReply string        `json:"suggested_owner_reply"`
	Meta                *AnalysisMeta `json:"meta,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

type AnalysisList struct {
	Items    []Analysis `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int64      `json:"total"`
}

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"request_id,omitempty"`
}
