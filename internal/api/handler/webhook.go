package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/Rrens/postbot/internal/api/response"
	"github.com/Rrens/postbot/internal/telegram"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes = 1 << 20
)

// UpdateQueue accepts updates for asynchronous handling
type UpdateQueue interface {
	Submit(ctx context.Context, upd telegram.Update) bool
}

// WebhookHandler receives Telegram updates
type WebhookHandler struct {
	secret string
	queue  UpdateQueue
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(secret string, queue UpdateQueue) *WebhookHandler {
	return &WebhookHandler{secret: secret, queue: queue}
}

// Receive accepts one update. The path and the secret header must both carry the secret.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if !h.matches(chi.URLParam(r, "secret")) {
		response.NotFound(w, "not found")
		return
	}
	if !h.matches(r.Header.Get(secretHeader)) {
		response.Unauthorized(w, "invalid secret token")
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&upd); err != nil {
		response.BadRequest(w, "invalid update")
		return
	}

	if !h.queue.Submit(r.Context(), upd) {
		log.Warn().Int("update_id", upd.UpdateID).Msg("Update not queued before request ended")
		response.Error(w, http.StatusServiceUnavailable, "busy")
		return
	}

	response.OK(w, nil)
}

func (h *WebhookHandler) matches(got string) bool {
	return h.secret != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
