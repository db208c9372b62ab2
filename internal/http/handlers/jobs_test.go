package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genserver/internal/domain"
	"genserver/internal/middleware"
	"genserver/internal/service"
)

type stubJobs struct {
	submit  func(ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error)
	get     func(ownerRef string, id uuid.UUID) (*domain.GenerationJob, error)
	cancel  func(ownerRef string, id uuid.UUID) error
	balance func(ownerRef string) (int64, error)
}

func (s *stubJobs) Submit(ctx context.Context, ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error) {
	if s.submit == nil {
		return nil, fmt.Errorf("no submit stub")
	}
	return s.submit(ownerRef, prompt)
}

func (s *stubJobs) Get(ctx context.Context, ownerRef string, id uuid.UUID) (*domain.GenerationJob, error) {
	if s.get == nil {
		return nil, domain.ErrNotFound
	}
	return s.get(ownerRef, id)
}

func (s *stubJobs) Cancel(ctx context.Context, ownerRef string, id uuid.UUID) error {
	if s.cancel == nil {
		return domain.ErrNotFound
	}
	return s.cancel(ownerRef, id)
}

func (s *stubJobs) Balance(ctx context.Context, ownerRef string) (int64, error) {
	if s.balance == nil {
		return 0, nil
	}
	return s.balance(ownerRef)
}

type stubNotifications struct {
	receive func(ev service.Event) error
}

func (s *stubNotifications) Receive(ctx context.Context, ev service.Event) error {
	if s.receive == nil {
		return nil
	}
	return s.receive(ev)
}

func newTestApp(jobs *stubJobs, notifications *stubNotifications) *App {
	if jobs == nil {
		jobs = &stubJobs{}
	}
	if notifications == nil {
		notifications = &stubNotifications{}
	}
	return NewApp(jobs, notifications, "hook-secret", zerolog.Nop())
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Owner)
	r.Post("/v1/jobs", app.CreateJob)
	r.Get("/v1/jobs/{job_id}", app.GetJob)
	r.Post("/v1/jobs/{job_id}/cancel", app.CancelJob)
	r.Get("/v1/balance", app.Balance)
	r.Post("/v1/provider/webhook", app.ProviderWebhook)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleJob(owner string) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:       uuid.New(),
		OwnerRef: owner,
		Prompt: domain.GenerationPrompt{
			Kind:        domain.OutputImage,
			Text:        "a cat",
			Model:       "flux-schnell",
			AspectRatio: "1:1",
			Quantity:    1,
		},
		Status: domain.JobStatusDone,
		Cost:   5,
	}
}

func TestCreateJobSuccess(t *testing.T) {
	var gotOwner string
	jobs := &stubJobs{
		submit: func(ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error) {
			gotOwner = ownerRef
			job := sampleJob(ownerRef)
			job.Prompt = prompt
			job.ResultRef = "https://cdn.example/a.png"
			return job, nil
		},
	}
	app := newTestApp(jobs, nil)

	body := map[string]any{"kind": "image", "text": "a cat", "model": "flux-schnell"}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/jobs", body, map[string]string{"X-Account-ID": "42"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotOwner != "acct:42" {
		t.Fatalf("owner ref = %q, want acct:42", gotOwner)
	}
	var view jobView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Status != "DONE" || view.ResultRef != "https://cdn.example/a.png" {
		t.Fatalf("view = %+v", view)
	}
}

func TestCreateJobErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid prompt", domain.ErrInvalidPrompt, http.StatusBadRequest},
		{"unsupported model", domain.ErrUnsupportedModel, http.StatusBadRequest},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"internal", fmt.Errorf("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &stubJobs{
				submit: func(string, domain.GenerationPrompt) (*domain.GenerationJob, error) {
					return nil, tc.err
				},
			}
			app := newTestApp(jobs, nil)
			body := map[string]any{"kind": "image", "text": "a cat", "model": "flux-schnell"}
			rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/jobs", body, map[string]string{"X-Account-ID": "42"})
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
		})
	}
}

func TestCreateJobDispatchFailureReturnsJob(t *testing.T) {
	jobs := &stubJobs{
		submit: func(ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error) {
			job := sampleJob(ownerRef)
			job.Status = domain.JobStatusFailed
			job.Error = &domain.JobError{Code: domain.FailureDispatch, Message: "upstream down"}
			return job, fmt.Errorf("dispatch: upstream down")
		},
	}
	app := newTestApp(jobs, nil)

	body := map[string]any{"kind": "image", "text": "a cat", "model": "flux-schnell"}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/jobs", body, map[string]string{"X-Account-ID": "42"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp struct {
		Error string  `json:"error"`
		Job   jobView `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "dispatch_failed" || resp.Job.Status != "FAILED" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateJobRequiresOwner(t *testing.T) {
	app := newTestApp(nil, nil)
	body := map[string]any{"kind": "image", "text": "a cat", "model": "flux-schnell"}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/jobs", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	job := sampleJob("guest:tok")
	jobs := &stubJobs{
		get: func(ownerRef string, id uuid.UUID) (*domain.GenerationJob, error) {
			if ownerRef != "guest:tok" || id != job.ID {
				return nil, domain.ErrNotFound
			}
			return job, nil
		},
	}
	app := newTestApp(jobs, nil)
	router := testRouter(app)

	rec := doRequest(t, router, http.MethodGet, "/v1/jobs/"+job.ID.String(), nil, map[string]string{"X-Guest-Grant": "tok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil, map[string]string{"X-Guest-Grant": "tok"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign job status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/v1/jobs/not-a-uuid", nil, map[string]string{"X-Guest-Grant": "tok"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	id := uuid.New()
	jobs := &stubJobs{
		cancel: func(ownerRef string, jobID uuid.UUID) error {
			if jobID != id {
				return domain.ErrNotFound
			}
			return nil
		},
	}
	app := newTestApp(jobs, nil)
	router := testRouter(app)

	rec := doRequest(t, router, http.MethodPost, "/v1/jobs/"+id.String()+"/cancel", nil, map[string]string{"X-Account-ID": "42"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	jobs.cancel = func(string, uuid.UUID) error { return domain.ErrJobFinalized }
	rec = doRequest(t, router, http.MethodPost, "/v1/jobs/"+id.String()+"/cancel", nil, map[string]string{"X-Account-ID": "42"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("finalized status = %d, want 409", rec.Code)
	}
}

func TestBalance(t *testing.T) {
	jobs := &stubJobs{
		balance: func(ownerRef string) (int64, error) { return 75, nil },
	}
	app := newTestApp(jobs, nil)

	rec := doRequest(t, testRouter(app), http.MethodGet, "/v1/balance", nil, map[string]string{"X-Account-ID": "42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		OwnerRef string `json:"owner_ref"`
		Balance  int64  `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OwnerRef != "acct:42" || resp.Balance != 75 {
		t.Fatalf("resp = %+v", resp)
	}
}
