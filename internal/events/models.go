package events

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline stage labels. Completed and Failed are terminal: they end every
// live stream attached to the job.
const (
	StageQueued        = "queued"
	StageScraping      = "scraping"
	StagePreprocessing = "preprocessing"
	StageAnalyzing     = "analyzing"
	StagePersisting    = "persisting"
	StageCacheHit      = "cache_hit"
	StageCompleted     = "completed"
	StageFailed        = "failed"
)

func IsTerminalStage(stage string) bool {
	return stage == StageCompleted || stage == StageFailed
}

// ProgressEvent is one append-only notification of pipeline advancement.
// Sequence numbers are per job, strictly increasing, assigned by the bus.
type ProgressEvent struct {
	JobID     uuid.UUID      `json:"job_id"`
	Sequence  int64          `json:"sequence"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
