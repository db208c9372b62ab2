package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"genserver/internal/domain"
)

type createJobRequest struct {
	Kind         string `json:"kind"`
	Text         string `json:"text"`
	NegativeText string `json:"negative_text"`
	Model        string `json:"model"`
	AspectRatio  string `json:"aspect_ratio"`
	Quantity     int    `json:"quantity"`
}

type jobView struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Kind        string           `json:"kind"`
	Model       string           `json:"model"`
	Quantity    int              `json:"quantity"`
	AspectRatio string           `json:"aspect_ratio"`
	Cost        int64            `json:"cost"`
	Charged     bool             `json:"charged"`
	Refunded    bool             `json:"refunded"`
	ResultRef   string           `json:"result_ref,omitempty"`
	Error       *domain.JobError `json:"error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func viewOf(job *domain.GenerationJob) jobView {
	return jobView{
		ID:          job.ID.String(),
		Status:      string(job.Status),
		Kind:        string(job.Prompt.Kind),
		Model:       job.Prompt.Model,
		Quantity:    job.Prompt.Quantity,
		AspectRatio: job.Prompt.AspectRatio,
		Cost:        job.Cost,
		Charged:     job.Charged,
		Refunded:    job.Refunded,
		ResultRef:   job.ResultRef,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// CreateJob submits a generation request on behalf of the current owner.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	ownerRef := a.currentOwnerRef(r)
	if ownerRef == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner identity")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	prompt := domain.GenerationPrompt{
		Kind:         domain.OutputKind(req.Kind),
		Text:         req.Text,
		NegativeText: req.NegativeText,
		Model:        req.Model,
		AspectRatio:  req.AspectRatio,
		Quantity:     req.Quantity,
	}
	job, err := a.Jobs.Submit(r.Context(), ownerRef, prompt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPrompt), errors.Is(err, domain.ErrUnsupportedModel):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrInsufficientFunds):
			a.error(w, http.StatusPaymentRequired, "insufficient_funds", "balance too low for this request")
		case errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusUnauthorized, "unauthorized", "unknown owner identity")
		case job != nil:
			// Dispatch failed after the job record was created; the job
			// carries the failure and the hold was released.
			a.json(w, http.StatusBadGateway, map[string]any{
				"error":   "dispatch_failed",
				"message": "provider rejected the request",
				"job":     viewOf(job),
			})
		default:
			a.Logger.Error().Err(err).Msg("jobs: submit failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}
	a.json(w, http.StatusCreated, viewOf(job))
}

// GetJob returns the current state of one job owned by the caller.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerRef := a.currentOwnerRef(r)
	if ownerRef == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner identity")
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Jobs.Get(r.Context(), ownerRef, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("jobs: get failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

// CancelJob flags a job for best-effort cancellation.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	ownerRef := a.currentOwnerRef(r)
	if ownerRef == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner identity")
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	if err := a.Jobs.Cancel(r.Context(), ownerRef, jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, domain.ErrJobFinalized):
			a.error(w, http.StatusConflict, "conflict", "job already finished")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("jobs: cancel failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		}
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// Balance returns the caller's current prepaid balance.
func (a *App) Balance(w http.ResponseWriter, r *http.Request) {
	ownerRef := a.currentOwnerRef(r)
	if ownerRef == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner identity")
		return
	}
	balance, err := a.Jobs.Balance(r.Context(), ownerRef)
	if err != nil {
		a.Logger.Error().Err(err).Msg("jobs: balance read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"owner_ref": ownerRef, "balance": balance})
}
