package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

type Business interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Business, error)
	GetByNormalizedName(ctx context.Context, nameNormalized string) (*model.Business, error)
	List(ctx context.Context, filter *BusinessQueryFilter, page Pagination) (model.BusinessList, int64, error)
	Upsert(ctx context.Context, business model.Business) (*model.Business, error)
	SetLatestAnalysis(ctx context.Context, id uuid.UUID, analysisID uuid.UUID, stats []byte, reviewCount int) error
}

type BusinessStore struct {
	db *gorm.DB
}

// Make sure we conform to Business interface
var _ Business = (*BusinessStore)(nil)

func NewBusinessStore(db *gorm.DB) Business {
	return &BusinessStore{db: db}
}

func (s *BusinessStore) Get(ctx context.Context, id uuid.UUID) (*model.Business, error) {
	var business model.Business
	result := s.getDB(ctx).First(&business, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying business: %w", result.Error)
	}
	return &business, nil
}

func (s *BusinessStore) GetByNormalizedName(ctx context.Context, nameNormalized string) (*model.Business, error) {
	var business model.Business
	result := s.getDB(ctx).First(&business, "name_normalized = ?", nameNormalized)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying business by name: %w", result.Error)
	}
	return &business, nil
}

func (s *BusinessStore) List(ctx context.Context, filter *BusinessQueryFilter, page Pagination) (model.BusinessList, int64, error) {
	tx := s.getDB(ctx).Model(&model.Business{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var businesses model.BusinessList
	result := page.Apply(tx.Order("created_at DESC, id DESC")).Find(&businesses)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return businesses, total, nil
}

// Upsert creates the business or refreshes its scraped listing fields, keyed
// on the normalized name.
func (s *BusinessStore) Upsert(ctx context.Context, business model.Business) (*model.Business, error) {
	if business.ID == uuid.Nil {
		business.ID = uuid.New()
	}

	err := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name_normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "address", "phone", "website", "overall_rating", "total_reviews",
			"categories", "stats", "review_count", "scraped_review_count",
			"processed_review_count", "last_scraped_at", "updated_at",
		}),
	}).Create(&business).Error
	if err != nil {
		return nil, fmt.Errorf("upserting business: %w", err)
	}

	return s.GetByNormalizedName(ctx, business.NameNormalized)
}

func (s *BusinessStore) SetLatestAnalysis(ctx context.Context, id uuid.UUID, analysisID uuid.UUID, stats []byte, reviewCount int) error {
	fields := map[string]any{
		"latest_analysis_id": analysisID,
		"review_count":       reviewCount,
		"updated_at":         time.Now(),
	}
	if stats != nil {
		fields["stats"] = stats
	}

	result := s.getDB(ctx).Model(&model.Business{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating latest analysis: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *BusinessStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
