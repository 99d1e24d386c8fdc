// Package handlers maps the HTTP surface onto the service layer.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/batcher"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/service"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/pkg/requestid"
)

type Handler struct {
	jobs     *service.JobService
	business *service.BusinessService
	bus      *events.Bus
}

func NewHandler(jobs *service.JobService, business *service.BusinessService, bus *events.Bus) *Handler {
	return &Handler{jobs: jobs, business: business, bus: bus}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Get("/{id}/events", h.StreamJobEvents)
	})

	r.Route("/businesses", func(r chi.Router) {
		r.Get("/", h.ListBusinesses)
		r.Get("/{id}", h.GetBusiness)
		r.Get("/{id}/reviews", h.ListReviews)
		r.Get("/{id}/analyses", h.ListAnalyses)
		r.Get("/{id}/analyses/latest", h.GetLatestAnalysis)
		r.Post("/{id}/reanalyze", h.Reanalyze)
	})

	r.Get("/analyses/{id}", h.GetAnalysis)
}

// renderError maps service errors onto HTTP statuses: bad input is 400,
// missing resources 404, coordination conflicts 409, collaborator failures
// 502 and everything else 500.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var validationErr *service.ErrValidation
	var notFoundErr *service.ErrResourceNotFound
	var unknownBatcherErr *batcher.UnknownBatcherError
	var allFailedErr *service.ErrAllBatchesFailed
	switch {
	case errors.As(err, &validationErr), errors.As(err, &unknownBatcherErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &allFailedErr):
		status = http.StatusBadGateway
	case errors.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	}

	render.Status(r, status)
	render.JSON(w, r, api.Error{
		Message:   err.Error(),
		RequestId: requestid.FromContextPtr(r.Context()),
	})
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, pageSize
}
