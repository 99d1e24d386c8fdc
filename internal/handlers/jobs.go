package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/service"
)

// CreateJob enqueues a scrape-and-analyze job and answers 202 with the job
// id. The caller follows up via GET /jobs/{id} or the event stream.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var resource api.JobCreate
	if err := render.DecodeJSON(r.Body, &resource); err != nil {
		h.renderError(w, r, service.NewErrValidation("invalid request body: %s", err))
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), resource)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	filter := service.JobFilter{
		Status:   r.URL.Query().Get("status"),
		Name:     r.URL.Query().Get("name"),
		Page:     page,
		PageSize: pageSize,
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, service.NewErrValidation("invalid job id: %s", err))
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, job)
}

// StreamJobEvents serves the job's live progress as server-sent events. The
// from_seq query parameter replays buffered history first; the stream ends
// after a terminal stage or when the client disconnects. Disconnecting never
// cancels the job.
func (h *Handler) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, service.NewErrValidation("invalid job id: %s", err))
		return
	}

	fromSeq := int64(1)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			h.renderError(w, r, service.NewErrValidation("from_seq must be a positive integer"))
			return
		}
		fromSeq = parsed
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	sub := h.bus.Subscribe(id, fromSeq)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The job may already be terminal while the bus no longer holds its
	// terminal event (history purged, or the job finished in another
	// process). Flush whatever replay is buffered and synthesize the outcome
	// instead of waiting on a channel that will never close.
	if terminalStatus(job.Status) && !h.bus.Terminal(id) {
		drainReplay(w, flusher, sub)
		h.writeSyntheticTerminal(w, flusher, r, job)
		return
	}

	sentTerminal := false
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events():
			if !open {
				// The stream ended without a terminal event reaching this
				// subscriber (history already purged, or the job finished in
				// another process). Synthesize one from the job record so the
				// client still sees the outcome.
				if !sentTerminal {
					h.writeSyntheticTerminal(w, flusher, r, job)
				}
				return
			}

			if err := writeEvent(w, event); err != nil {
				zap.S().Named("handlers").Debugw("event stream write failed", "job_id", id, "error", err)
				return
			}
			flusher.Flush()

			if events.IsTerminalStage(event.Stage) {
				sentTerminal = true
				return
			}
		}
	}
}

func terminalStatus(status api.JobStatus) bool {
	return status == api.JobStatusDone || status == api.JobStatusFailed
}

// drainReplay writes the subscription's buffered events without blocking on
// live ones.
func drainReplay(w http.ResponseWriter, flusher http.Flusher, sub *events.Subscription) {
	for {
		select {
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}

func (h *Handler) writeSyntheticTerminal(w http.ResponseWriter, flusher http.Flusher, r *http.Request, job *api.Job) {
	// Re-read the job: it may have reached a terminal state after the
	// subscription was cut.
	if current, err := h.jobs.Get(r.Context(), job.ID); err == nil {
		job = current
	}

	stage := events.StageCompleted
	message := "Job completed."
	if job.Status == api.JobStatusFailed {
		stage = events.StageFailed
		message = "Job failed."
		if job.Error != nil {
			message = *job.Error
		}
	} else if job.Status != api.JobStatusDone {
		return
	}

	timestamp := job.UpdatedAt
	if job.FinishedAt != nil {
		timestamp = *job.FinishedAt
	}

	_ = writeEvent(w, events.ProgressEvent{
		JobID:     job.ID,
		Stage:     stage,
		Message:   message,
		Timestamp: timestamp,
	})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event events.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
