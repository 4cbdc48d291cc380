package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/postbot/internal/api/response"
	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/service"
	"github.com/Rrens/postbot/internal/tree"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// CacheFlusher drops every cached session
type CacheFlusher interface {
	FlushAll(ctx context.Context) (int64, error)
}

// AdminHandler serves the operator API
type AdminHandler struct {
	registry   *service.Registry
	maintainer *service.Maintainer
	cache      CacheFlusher
}

// NewAdminHandler creates a new admin handler. cache may be nil.
func NewAdminHandler(registry *service.Registry, maintainer *service.Maintainer, cache CacheFlusher) *AdminHandler {
	return &AdminHandler{registry: registry, maintainer: maintainer, cache: cache}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(w, "invalid user ID")
		return 0, false
	}
	return userID, true
}

// Stats returns aggregate statistics of a user
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	stats, err := h.registry.Store().UserStats(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user stats")
		response.InternalError(w, "failed to load stats")
		return
	}
	response.OK(w, stats)
}

// Sessions lists the stored series of a user
func (h *AdminHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	sessions, err := h.registry.Store().ListByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to list sessions")
		response.InternalError(w, "failed to list sessions")
		return
	}
	response.OK(w, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// Tree returns the post tree of a series, the latest one unless series_id is given
func (h *AdminHandler) Tree(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var (
		s   *domain.Session
		err error
	)
	if seriesID := r.URL.Query().Get("series_id"); seriesID != "" {
		s, err = h.registry.Store().Load(r.Context(), userID, seriesID)
	} else {
		s, err = h.registry.Store().LoadLatest(r.Context(), userID)
	}
	if errors.Is(err, domain.ErrSessionNotFound) {
		response.NotFound(w, "session not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load session")
		response.InternalError(w, "failed to load session")
		return
	}

	response.OK(w, map[string]any{
		"series_id": s.SeriesID,
		"state":     s.State.String(),
		"forest":    tree.Build(s.Posts),
		"rendered":  tree.Render(s.Posts),
		"stats":     tree.Statistics(s.Posts),
	})
}

// DeleteSession removes one series and drops the user's active copy
func (h *AdminHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	seriesID := chi.URLParam(r, "seriesID")

	if err := h.registry.Store().Delete(r.Context(), userID, seriesID); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("series_id", seriesID).Msg("Failed to delete session")
		response.InternalError(w, "failed to delete session")
		return
	}
	h.registry.Evict(r.Context(), userID)

	response.NoContent(w)
}

type cleanupRequest struct {
	// RetentionHours overrides the configured retention; 0 keeps it.
	RetentionHours int `json:"retention_hours" validate:"min=0,max=87600"`
}

// Cleanup deletes sessions older than the retention window
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	report, err := h.maintainer.Cleanup(r.Context(), time.Duration(req.RetentionHours)*time.Hour)
	if err != nil {
		log.Error().Err(err).Msg("Cleanup failed")
		response.InternalError(w, "cleanup failed")
		return
	}
	response.OK(w, report)
}

// Backup writes a snapshot of the session store
func (h *AdminHandler) Backup(w http.ResponseWriter, r *http.Request) {
	path, err := h.maintainer.Backup(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Backup failed")
		response.InternalError(w, "backup failed")
		return
	}
	response.Created(w, map[string]string{"path": path})
}

// FlushCache clears all cached sessions
func (h *AdminHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		response.Error(w, http.StatusNotImplemented, "session cache is disabled")
		return
	}

	deleted, err := h.cache.FlushAll(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to flush cache: "+err.Error())
		return
	}

	response.OK(w, map[string]any{
		"message":      "cache flushed successfully",
		"keys_deleted": deleted,
	})
}
