package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Business struct {
	ID             uuid.UUID `gorm:"primaryKey;type:VARCHAR(255)"`
	Name           string    `gorm:"not null"`
	NameNormalized string    `gorm:"not null;uniqueIndex:businesses_name_normalized_key"`
	Source         string    `gorm:"not null;type:VARCHAR(100);default:google_maps"`

	// Listing fields as scraped from the business page.
	Address       string
	Phone         string
	Website       string
	OverallRating float64
	TotalReviews  int
	Categories    []byte `gorm:"type:jsonb"`

	Stats                []byte `gorm:"type:jsonb"`
	ReviewCount          int    `gorm:"not null;default:0"`
	ScrapedReviewCount   int    `gorm:"not null;default:0"`
	ProcessedReviewCount int    `gorm:"not null;default:0"`
	LatestAnalysisID     *uuid.UUID
	LastScrapedAt        *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

type BusinessList []Business

func (b Business) String() string {
	val, _ := json.Marshal(b)
	return string(val)
}

// Review is one stored customer review. Fingerprint dedupes re-scrapes of the
// same review within a business.
type Review struct {
	ID            uuid.UUID `gorm:"primaryKey;type:VARCHAR(255)"`
	BusinessID    uuid.UUID `gorm:"not null;index:reviews_business_id_idx;uniqueIndex:reviews_business_fingerprint_key"`
	Fingerprint   string    `gorm:"not null;type:VARCHAR(64);uniqueIndex:reviews_business_fingerprint_key"`
	AuthorName    string
	Rating        float64 `gorm:"not null;default:0"`
	Text          string
	OwnerReply    string
	HasText       bool   `gorm:"not null;default:false"`
	HasOwnerReply bool   `gorm:"not null;default:false"`
	RelativeTime  string `gorm:"type:VARCHAR(100)"`
	RecencyBucket string `gorm:"type:VARCHAR(20);default:unknown"`
	ScrapedAt     time.Time `gorm:"not null;index:reviews_scraped_at_idx"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ReviewList []Review

func (r Review) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
