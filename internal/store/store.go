package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Business() Business
	Review() Review
	Analysis() Analysis
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db       *gorm.DB
	job      Job
	business Business
	review   Review
	analysis Analysis
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:       db,
		job:      NewJobStore(db),
		business: NewBusinessStore(db),
		review:   NewReviewStore(db),
		analysis: NewAnalysisStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Business() Business {
	return s.business
}

func (s *DataStore) Review() Review {
	return s.review
}

func (s *DataStore) Analysis() Analysis {
	return s.analysis
}

// InitialMigration creates the schema when no migration folder is configured.
func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Job{},
		&model.Business{},
		&model.Review{},
		&model.Analysis{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
