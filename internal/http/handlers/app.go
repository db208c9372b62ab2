package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/middleware"
	"genserver/internal/service"
)

// JobService is the submission surface exposed to the web layer.
type JobService interface {
	Submit(ctx context.Context, ownerRef string, prompt domain.GenerationPrompt) (*domain.GenerationJob, error)
	Get(ctx context.Context, ownerRef string, id uuid.UUID) (*domain.GenerationJob, error)
	Cancel(ctx context.Context, ownerRef string, id uuid.UUID) error
	Balance(ctx context.Context, ownerRef string) (int64, error)
}

// NotificationReceiver accepts provider-pushed completion events.
type NotificationReceiver interface {
	Receive(ctx context.Context, ev service.Event) error
}

// App is the handler container wired by the router.
type App struct {
	Jobs          JobService
	Notifications NotificationReceiver
	WebhookToken  string
	Logger        infra.Logger
}

func NewApp(jobs JobService, notifications NotificationReceiver, webhookToken string, logger infra.Logger) *App {
	return &App{
		Jobs:          jobs,
		Notifications: notifications,
		WebhookToken:  webhookToken,
		Logger:        logger,
	}
}

func (a *App) currentOwnerRef(r *http.Request) string {
	return middleware.OwnerRefFromContext(r.Context())
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}
