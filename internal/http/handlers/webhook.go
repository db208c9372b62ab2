package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"genserver/internal/domain"
	"genserver/internal/service"
)

type webhookPayload struct {
	TaskUUID string `json:"taskUUID"`
	Status   string `json:"status"`
	Data     []struct {
		ImageURL string `json:"imageURL"`
		VideoURL string `json:"videoURL"`
	} `json:"data"`
	ErrorMessage string `json:"errorMessage"`
}

// ProviderWebhook accepts completion events pushed by the provider. The
// shared token travels in the X-Webhook-Token header or a token query
// parameter; everything past that check is delegated to the notification
// receiver, which acknowledges duplicates and unknown tasks as no-ops.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	authenticated := a.WebhookToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.WebhookToken)) == 1

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	ev := service.Event{
		TaskID:        payload.TaskUUID,
		Status:        payload.Status,
		ResultRef:     webhookResultRef(payload),
		Message:       payload.ErrorMessage,
		Authenticated: authenticated,
	}
	if err := a.Notifications.Receive(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
			return
		}
		a.Logger.Error().Err(err).Str("task_uuid", payload.TaskUUID).Msg("webhook: receive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process event")
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func webhookResultRef(payload webhookPayload) string {
	urls := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		switch {
		case item.ImageURL != "":
			urls = append(urls, item.ImageURL)
		case item.VideoURL != "":
			urls = append(urls, item.VideoURL)
		}
	}
	switch len(urls) {
	case 0:
		return ""
	case 1:
		return urls[0]
	default:
		encoded, err := json.Marshal(urls)
		if err != nil {
			return urls[0]
		}
		return string(encoded)
	}
}
