package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job status constants. A job only ever moves queued -> running -> done|failed;
// a stale running claim may be taken back to queued by the coordinator.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Job is one durable unit of scrape-and-analyze work.
// ClaimedBy/ClaimedAt are set iff the job is running; exactly one of
// Result/Error is set once the job is terminal.
type Job struct {
	ID             uuid.UUID `gorm:"primaryKey;type:VARCHAR(255)"`
	Name           string    `gorm:"not null"`
	NameNormalized string    `gorm:"not null;index:jobs_name_normalized_idx"`
	Force          bool      `gorm:"not null;default:false"`
	Strategy       string    `gorm:"type:VARCHAR(100)"`
	Status         string    `gorm:"not null;index:jobs_status_idx;type:VARCHAR(20)"`
	Result         []byte    `gorm:"type:jsonb"`
	Error          *string
	Attempts       int     `gorm:"not null;default:0"`
	ClaimedBy      *string `gorm:"type:VARCHAR(255)"`
	ClaimedAt      *time.Time
	HeartbeatAt    *time.Time `gorm:"index:jobs_heartbeat_idx"`
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}
