package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Analysis is append-only: a reanalysis inserts a new record and businesses
// point at the latest one, history stays queryable.
type Analysis struct {
	ID                  uuid.UUID `gorm:"primaryKey;type:VARCHAR(255)"`
	BusinessID          uuid.UUID `gorm:"not null;index:analyses_business_id_idx"`
	OverallSentiment    string    `gorm:"not null;type:VARCHAR(20)"`
	MainTopics          []byte    `gorm:"type:jsonb"`
	Strengths           []byte    `gorm:"type:jsonb"`
	Weaknesses          []byte    `gorm:"type:jsonb"`
	SuggestedOwnerReply string
	// Meta carries reanalysis provenance: which batchers ran, their sample
	// sizes and per-batch outcome.
	Meta      []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;index:analyses_created_at_idx"`
}

type AnalysisList []Analysis

func (a Analysis) String() string {
	val, _ := json.Marshal(a)
	return string(val)
}
