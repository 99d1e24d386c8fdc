package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/service/mappers"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/store/model"
)

// AnalysisDefaults are the fallbacks applied when a reanalysis request leaves
// batchers or sizes unset.
type AnalysisDefaults struct {
	Batchers  []string
	BatchSize int
	PoolSize  int
}

// ProgressFunc reports pipeline advancement to whoever is watching the job.
type ProgressFunc func(stage string, message string, data map[string]any)

type BusinessService struct {
	store        store.Store
	scraper      scraper.Scraper
	analyzer     pipeline.Analyzer
	preprocessor *pipeline.Preprocessor
	defaults     AnalysisDefaults
	validator    *validator.Validate
}

func NewBusinessService(store store.Store, scraper scraper.Scraper, analyzer pipeline.Analyzer, defaults AnalysisDefaults) *BusinessService {
	return &BusinessService{
		store:        store,
		scraper:      scraper,
		analyzer:     analyzer,
		preprocessor: pipeline.NewPreprocessor(),
		defaults:     defaults,
		validator:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RunJob executes the scrape-and-analyze pipeline for one claimed job. Stages
// run sequentially; emit is called on every stage boundary. A nil error means
// the returned result is final.
func (s *BusinessService) RunJob(ctx context.Context, job *model.Job, emit ProgressFunc) (*api.JobResult, error) {
	if !job.Force {
		if result := s.cachedResult(ctx, job); result != nil {
			emit(events.StageCacheHit, "Returning cached analysis result.", map[string]any{
				"business_id": result.BusinessID,
				"analysis_id": result.AnalysisID,
			})
			return result, nil
		}
	}

	emit(events.StageScraping, "Scraping business page.", map[string]any{
		"query":    job.Name,
		"strategy": job.Strategy,
	})
	listing, rawReviews, err := s.scraper.Scrape(ctx, job.Name, job.Strategy)
	if err != nil {
		return nil, fmt.Errorf("scraping %q: %w", job.Name, err)
	}

	emit(events.StagePreprocessing, "Preprocessing scraped reviews.", map[string]any{
		"scraped_review_count": len(rawReviews),
	})
	processed := s.preprocessor.Process(rawReviews)
	stats := s.preprocessor.ComputeStats(processed)

	emit(events.StageAnalyzing, "Running LLM analysis.", map[string]any{
		"processed_review_count": len(processed),
	})
	fragment, err := s.analyzer.Analyze(ctx, job.Name, processed, stats)
	if err != nil {
		return nil, fmt.Errorf("analyzing %q: %w", job.Name, err)
	}

	emit(events.StagePersisting, "Persisting results.", nil)
	result, err := s.persistRun(ctx, job, listing, processed, stats, fragment)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// cachedResult resolves the job against an already-analyzed business. Returns
// nil when a fresh pipeline run is needed.
func (s *BusinessService) cachedResult(ctx context.Context, job *model.Job) *api.JobResult {
	business, err := s.store.Business().GetByNormalizedName(ctx, job.NameNormalized)
	if err != nil || business.LatestAnalysisID == nil {
		return nil
	}

	return &api.JobResult{
		BusinessID:           business.ID,
		Cached:               true,
		Strategy:             job.Strategy,
		ReviewCount:          business.ReviewCount,
		ScrapedReviewCount:   business.ScrapedReviewCount,
		ProcessedReviewCount: business.ProcessedReviewCount,
		AnalysisID:           *business.LatestAnalysisID,
	}
}

func (s *BusinessService) persistRun(
	ctx context.Context,
	job *model.Job,
	listing scraper.Listing,
	processed []pipeline.ProcessedReview,
	stats pipeline.Stats,
	fragment pipeline.Fragment,
) (*api.JobResult, error) {
	now := time.Now()

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encoding stats: %w", err)
	}
	categoriesJSON, err := json.Marshal(listing.Categories)
	if err != nil {
		return nil, fmt.Errorf("encoding categories: %w", err)
	}

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	business, err := s.store.Business().Upsert(ctx, model.Business{
		Name:                 job.Name,
		NameNormalized:       job.NameNormalized,
		Source:               "google_maps",
		Address:              listing.Address,
		Phone:                listing.Phone,
		Website:              listing.Website,
		OverallRating:        listing.OverallRating,
		TotalReviews:         listing.TotalReviews,
		Categories:           categoriesJSON,
		Stats:                statsJSON,
		ReviewCount:          len(processed),
		ScrapedReviewCount:   len(processed),
		ProcessedReviewCount: len(processed),
		LastScrapedAt:        &now,
	})
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	reviews := make([]model.Review, 0, len(processed))
	for _, item := range processed {
		reviews = append(reviews, mappers.ReviewFromProcessed(business.ID, item, now))
	}
	if err := s.store.Review().UpsertBatch(ctx, reviews); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	reviewCount, err := s.store.Review().CountByBusiness(ctx, business.ID)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	analysis, err := s.createAnalysis(ctx, business.ID, fragment, nil)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if err := s.store.Business().SetLatestAnalysis(ctx, business.ID, analysis.ID, statsJSON, int(reviewCount)); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}

	zap.S().Named("business_service").Infow("pipeline run persisted",
		"business_id", business.ID, "analysis_id", analysis.ID, "review_count", reviewCount)

	return &api.JobResult{
		BusinessID:           business.ID,
		Cached:               false,
		Strategy:             job.Strategy,
		ReviewCount:          int(reviewCount),
		ScrapedReviewCount:   len(processed),
		ProcessedReviewCount: len(processed),
		AnalysisID:           analysis.ID,
	}, nil
}

func (s *BusinessService) createAnalysis(ctx context.Context, businessID uuid.UUID, fragment pipeline.Fragment, meta *api.AnalysisMeta) (*model.Analysis, error) {
	topicsJSON, _ := json.Marshal(fragment.MainTopics)
	strengthsJSON, _ := json.Marshal(fragment.Strengths)
	weaknessesJSON, _ := json.Marshal(fragment.Weaknesses)

	analysis := model.Analysis{
		BusinessID:          businessID,
		OverallSentiment:    fragment.OverallSentiment,
		MainTopics:          topicsJSON,
		Strengths:           strengthsJSON,
		Weaknesses:          weaknessesJSON,
		SuggestedOwnerReply: fragment.SuggestedOwnerReply,
	}
	if meta != nil {
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encoding analysis meta: %w", err)
		}
		analysis.Meta = metaJSON
	}

	return s.store.Analysis().Create(ctx, analysis)
}

func (s *BusinessService) GetBusiness(ctx context.Context, id uuid.UUID) (*api.Business, error) {
	business, err := s.store.Business().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrBusinessNotFound(id)
		}
		return nil, err
	}

	out := mappers.BusinessToApi(*business)
	return &out, nil
}

// BusinessFilter narrows ListBusinesses. Name matches as a substring of the
// normalized name.
type BusinessFilter struct {
	Name     string
	Page     int
	PageSize int
}

func (s *BusinessService) ListBusinesses(ctx context.Context, filter BusinessFilter) (api.BusinessList, error) {
	storeFilter := store.NewBusinessQueryFilter()
	if filter.Name != "" {
		storeFilter = storeFilter.ByNameLike(mappers.NormalizeName(filter.Name))
	}

	page := store.NewPagination(filter.Page, filter.PageSize)
	businesses, total, err := s.store.Business().List(ctx, storeFilter, page)
	if err != nil {
		return api.BusinessList{}, err
	}

	return mappers.BusinessListToApi(businesses, page.Page, page.PageSize, total), nil
}

func (s *BusinessService) ListReviews(ctx context.Context, businessID uuid.UUID, pageNum, pageSize int) (api.ReviewList, error) {
	if _, err := s.store.Business().Get(ctx, businessID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return api.ReviewList{}, NewErrBusinessNotFound(businessID)
		}
		return api.ReviewList{}, err
	}

	page := store.NewPagination(pageNum, pageSize)
	reviews, total, err := s.store.Review().List(ctx, businessID, page)
	if err != nil {
		return api.ReviewList{}, err
	}

	return mappers.ReviewListToApi(reviews, page.Page, page.PageSize, total), nil
}

func (s *BusinessService) GetAnalysis(ctx context.Context, id uuid.UUID) (*api.Analysis, error) {
	analysis, err := s.store.Analysis().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrAnalysisNotFound(id)
		}
		return nil, err
	}

	out := mappers.AnalysisToApi(*analysis)
	return &out, nil
}

func (s *BusinessService) GetLatestAnalysis(ctx context.Context, businessID uuid.UUID) (*api.Analysis, error) {
	analysis, err := s.store.Analysis().GetLatestByBusiness(ctx, businessID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrBusinessNotFound(businessID)
		}
		return nil, err
	}

	out := mappers.AnalysisToApi(*analysis)
	return &out, nil
}

func (s *BusinessService) ListAnalyses(ctx context.Context, businessID uuid.UUID, pageNum, pageSize int) (api.AnalysisList, error) {
	page := store.NewPagination(pageNum, pageSize)
	analyses, total, err := s.store.Analysis().List(ctx, businessID, page)
	if err != nil {
		return api.AnalysisList{}, err
	}

	return mappers.AnalysisListToApi(analyses, page.Page, page.PageSize, total), nil
}
