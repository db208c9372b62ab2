package handlers

import (
	"net/http"
	"testing"

	"genserver/internal/domain"
	"genserver/internal/service"
)

func TestWebhookAuthenticatedEvent(t *testing.T) {
	var got service.Event
	notifications := &stubNotifications{
		receive: func(ev service.Event) error {
			got = ev
			return nil
		},
	}
	app := newTestApp(nil, notifications)

	body := map[string]any{
		"taskUUID": "task-123",
		"status":   "success",
		"data":     []map[string]any{{"imageURL": "https://cdn.example/a.png"}},
	}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/provider/webhook", body,
		map[string]string{"X-Webhook-Token": "hook-secret"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !got.Authenticated {
		t.Fatal("event should be marked authenticated")
	}
	if got.TaskID != "task-123" || got.ResultRef != "https://cdn.example/a.png" {
		t.Fatalf("event = %+v", got)
	}
}

func TestWebhookTokenViaQueryParam(t *testing.T) {
	var got service.Event
	notifications := &stubNotifications{
		receive: func(ev service.Event) error {
			got = ev
			return nil
		},
	}
	app := newTestApp(nil, notifications)

	body := map[string]any{"taskUUID": "task-123", "status": "error", "errorMessage": "filtered"}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/provider/webhook?token=hook-secret", body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !got.Authenticated || got.Message != "filtered" {
		t.Fatalf("event = %+v", got)
	}
}

func TestWebhookBadTokenRejected(t *testing.T) {
	notifications := &stubNotifications{
		receive: func(ev service.Event) error {
			if ev.Authenticated {
				t.Fatal("event with a wrong token must not be authenticated")
			}
			return domain.ErrUnauthorized
		},
	}
	app := newTestApp(nil, notifications)

	body := map[string]any{"taskUUID": "task-123", "status": "success"}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/provider/webhook", body,
		map[string]string{"X-Webhook-Token": "wrong"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookMultipleArtifacts(t *testing.T) {
	var got service.Event
	notifications := &stubNotifications{
		receive: func(ev service.Event) error {
			got = ev
			return nil
		},
	}
	app := newTestApp(nil, notifications)

	body := map[string]any{
		"taskUUID": "task-123",
		"status":   "success",
		"data": []map[string]any{
			{"imageURL": "https://cdn.example/a.png"},
			{"imageURL": "https://cdn.example/b.png"},
		},
	}
	rec := doRequest(t, testRouter(app), http.MethodPost, "/v1/provider/webhook", body,
		map[string]string{"X-Webhook-Token": "hook-secret"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `["https://cdn.example/a.png","https://cdn.example/b.png"]`
	if got.ResultRef != want {
		t.Fatalf("result ref = %q, want %q", got.ResultRef, want)
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	app := newTestApp(nil, nil)
	req := doRequest(t, testRouter(app), http.MethodPost, "/v1/provider/webhook", nil,
		map[string]string{"X-Webhook-Token": "hook-secret"})
	if req.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 on empty body", req.Code)
	}
}
