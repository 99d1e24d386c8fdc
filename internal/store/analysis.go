package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

type Analysis interface {
	Create(ctx context.Context, analysis model.Analysis) (*model.Analysis, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Analysis, error)
	GetLatestByBusiness(ctx context.Context, businessID uuid.UUID) (*model.Analysis, error)
	List(ctx context.Context, businessID uuid.UUID, page Pagination) (model.AnalysisList, int64, error)
}

type AnalysisStore struct {
	db *gorm.DB
}

// Make sure we conform to Analysis interface
var _ Analysis = (*AnalysisStore)(nil)

func NewAnalysisStore(db *gorm.DB) Analysis {
	return &AnalysisStore{db: db}
}

func (s *AnalysisStore) Create(ctx context.Context, analysis model.Analysis) (*model.Analysis, error) {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}

	if err := s.getDB(ctx).Create(&analysis).Error; err != nil {
		return nil, fmt.Errorf("creating analysis: %w", err)
	}
	return &analysis, nil
}

func (s *AnalysisStore) Get(ctx context.Context, id uuid.UUID) (*model.Analysis, error) {
	var analysis model.Analysis
	result := s.getDB(ctx).First(&analysis, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying analysis: %w", result.Error)
	}
	return &analysis, nil
}

func (s *AnalysisStore) GetLatestByBusiness(ctx context.Context, businessID uuid.UUID) (*model.Analysis, error) {
	var analysis model.Analysis
	result := s.getDB(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC, id DESC").
		First(&analysis)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying latest analysis: %w", result.Error)
	}
	return &analysis, nil
}

func (s *AnalysisStore) List(ctx context.Context, businessID uuid.UUID, page Pagination) (model.AnalysisList, int64, error) {
	tx := s.getDB(ctx).Model(&model.Analysis{}).Where("business_id = ?", businessID)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var analyses model.AnalysisList
	result := page.Apply(tx.Order("created_at DESC, id DESC")).Find(&analyses)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return analyses, total, nil
}

func (s *AnalysisStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
