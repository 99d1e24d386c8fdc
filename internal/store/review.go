package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

type Review interface {
	UpsertBatch(ctx context.Context, reviews []model.Review) error
	List(ctx context.Context, businessID uuid.UUID, page Pagination) (model.ReviewList, int64, error)
	// Pool returns the most recently scraped reviews for a business, newest
	// first, capped at limit. This is the read-only input of the reanalysis
	// partitioner.
	Pool(ctx context.Context, businessID uuid.UUID, limit int) (model.ReviewList, error)
	CountByBusiness(ctx context.Context, businessID uuid.UUID) (int64, error)
}

type ReviewStore struct {
	db *gorm.DB
}

// Make sure we conform to Review interface
var _ Review = (*ReviewStore)(nil)

func NewReviewStore(db *gorm.DB) Review {
	return &ReviewStore{db: db}
}

// UpsertBatch stores scraped reviews, refreshing rows whose fingerprint was
// seen in an earlier scrape of the same business.
func (s *ReviewStore) UpsertBatch(ctx context.Context, reviews []model.Review) error {
	if len(reviews) == 0 {
		return nil
	}

	for i := range reviews {
		if reviews[i].ID == uuid.Nil {
			reviews[i].ID = uuid.New()
		}
	}

	err := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "business_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"author_name", "rating", "text", "owner_reply", "has_text",
			"has_owner_reply", "relative_time", "recency_bucket", "scraped_at", "updated_at",
		}),
	}).Create(&reviews).Error
	if err != nil {
		return fmt.Errorf("upserting reviews: %w", err)
	}
	return nil
}

func (s *ReviewStore) List(ctx context.Context, businessID uuid.UUID, page Pagination) (model.ReviewList, int64, error) {
	tx := s.getDB(ctx).Model(&model.Review{}).Where("business_id = ?", businessID)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reviews model.ReviewList
	result := page.Apply(tx.Order("scraped_at DESC, id DESC")).Find(&reviews)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return reviews, total, nil
}

func (s *ReviewStore) Pool(ctx context.Context, businessID uuid.UUID, limit int) (model.ReviewList, error) {
	var reviews model.ReviewList
	result := s.getDB(ctx).
		Where("business_id = ?", businessID).
		Order("scraped_at DESC, id DESC").
		Limit(limit).
		Find(&reviews)
	if result.Error != nil {
		return nil, fmt.Errorf("loading review pool: %w", result.Error)
	}
	return reviews, nil
}

func (s *ReviewStore) CountByBusiness(ctx context.Context, businessID uuid.UUID) (int64, error) {
	var count int64
	err := s.getDB(ctx).Model(&model.Review{}).Where("business_id = ?", businessID).Count(&count).Error
	return count, err
}

func (s *ReviewStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
