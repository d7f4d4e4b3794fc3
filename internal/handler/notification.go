package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/repository"
)

type NotificationHandler struct {
	repo     *repository.NotificationRepository
	pageSize int
}

func NewNotificationHandler(repo *repository.NotificationRepository, pageSize int) *NotificationHandler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &NotificationHandler{repo: repo, pageSize: pageSize}
}

// List returns one keyset page of the caller's notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	category := model.Category(r.URL.Query().Get("category"))
	if category != "" && !model.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", h.pageSize)
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 {
		limit = h.pageSize
	}

	page, err := h.repo.List(r.Context(), userID, category, cursor, limit, unreadOnly)
	if err != nil {
		if errors.Is(err, repository.ErrBadCursor) {
			writeError(w, http.StatusBadRequest, "bad cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UnreadCount returns total and per-category unread counts.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	byCategory, err := h.repo.UnreadByCategory(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	total := 0
	for _, n := range byCategory {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       total,
		"by_category": byCategory,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "notificationId")

	if err := h.repo.MarkRead(r.Context(), userID, id, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "notificationId")

	if err := h.repo.MarkUnread(r.Context(), userID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mark unread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead clears the caller's unread set, optionally narrowed to one
// category via ?category=.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	category := model.Category(r.URL.Query().Get("category"))
	if category != "" && !model.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	updated, err := h.repo.MarkAllRead(r.Context(), userID, category, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
