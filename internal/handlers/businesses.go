package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/service"
)

func (h *Handler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	filter := service.BusinessFilter{
		Name:     r.URL.Query().Get("name"),
		Page:     page,
		PageSize: pageSize,
	}

	businesses, err := h.business.ListBusinesses(r.Context(), filter)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, businesses)
}

func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := h.businessID(w, r)
	if !ok {
		return
	}

	business, err := h.business.GetBusiness(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, business)
}

func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := h.businessID(w, r)
	if !ok {
		return
	}

	page, pageSize := pageParams(r)
	reviews, err := h.business.ListReviews(r.Context(), id, page, pageSize)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, reviews)
}

func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.businessID(w, r)
	if !ok {
		return
	}

	page, pageSize := pageParams(r)
	analyses, err := h.business.ListAnalyses(r.Context(), id, page, pageSize)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, analyses)
}

func (h *Handler) GetLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := h.businessID(w, r)
	if !ok {
		return
	}

	analysis, err := h.business.GetLatestAnalysis(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, analysis)
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, service.NewErrValidation("invalid analysis id: %s", err))
		return
	}

	analysis, err := h.business.GetAnalysis(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, analysis)
}

// Reanalyze runs the multi-batcher engine over the business's stored reviews
// and answers with the merged analysis.
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := h.businessID(w, r)
	if !ok {
		return
	}

	request := api.ReanalyzeRequest{}
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &request); err != nil {
			h.renderError(w, r, service.NewErrValidation("invalid request body: %s", err))
			return
		}
	}

	analysis, err := h.business.Reanalyze(r.Context(), id, request)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, analysis)
}

func (h *Handler) businessID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, service.NewErrValidation("invalid business id: %s", err))
		return uuid.Nil, false
	}
	return id, true
}
