package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/service/mappers"
	"github.com/reviewlens/reviewlens/internal/store"
)

type JobService struct {
	store     store.Store
	bus       *events.Bus
	validator *validator.Validate
}

func NewJobService(store store.Store, bus *events.Bus) *JobService {
	return &JobService{
		store:     store,
		bus:       bus,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// JobFilter narrows ListJobs. Zero values mean no filtering.
type JobFilter struct {
	Status   string
	Name     string
	Page     int
	PageSize int
}

// Enqueue validates the request, persists the job in queued state and emits
// the first progress event. The caller gets the job id back immediately; a
// worker picks the job up asynchronously.
func (s *JobService) Enqueue(ctx context.Context, resource api.JobCreate) (*api.Job, error) {
	if err := s.validator.Struct(resource); err != nil {
		return nil, NewErrValidation("invalid job request: %s", err)
	}

	strategy, err := scraper.NormalizeStrategy(resource.Strategy)
	if err != nil {
		return nil, NewErrValidation("%s", err)
	}

	job := mappers.JobFromApi(resource, strategy)
	// the validator checked the raw name; cleaning can shrink it below the
	// same floor
	if len(job.Name) < 3 {
		return nil, NewErrValidation("business name must be at least 3 characters long")
	}

	created, err := s.store.Job().Create(ctx, job)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(created.ID, events.StageQueued, "Job queued.", map[string]any{
		"strategy": created.Strategy,
		"force":    created.Force,
	})

	zap.S().Named("job_service").Infow("job enqueued", "job_id", created.ID, "name", created.Name, "strategy", created.Strategy)

	out := mappers.JobToApi(*created)
	return &out, nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	out := mappers.JobToApi(*job)
	return &out, nil
}

func (s *JobService) List(ctx context.Context, filter JobFilter) (api.JobList, error) {
	storeFilter := store.NewJobQueryFilter()
	if filter.Status != "" {
		storeFilter = storeFilter.ByStatus(filter.Status)
	}
	if filter.Name != "" {
		storeFilter = storeFilter.ByNameNormalized(mappers.NormalizeName(filter.Name))
	}

	page := store.NewPagination(filter.Page, filter.PageSize)
	jobs, total, err := s.store.Job().List(ctx, storeFilter, page)
	if err != nil {
		return api.JobList{}, err
	}

	return mappers.JobListToApi(jobs, page.Page, page.PageSize, total), nil
}
