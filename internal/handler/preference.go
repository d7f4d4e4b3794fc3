package handler

import (
	"encoding/json"
	"net/http"

	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/repository"
)

type PreferenceHandler struct {
	repo *repository.PreferenceRepository
}

func NewPreferenceHandler(repo *repository.PreferenceRepository) *PreferenceHandler {
	return &PreferenceHandler{repo: repo}
}

// List returns the caller's saved channel toggles. Categories without a
// saved row follow the org policy default.
func (h *PreferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	byUser, err := h.repo.GetForUsers(r.Context(), []string{userID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	prefs := byUser[userID]
	if prefs == nil {
		prefs = []model.Preference{}
	}
	writeJSON(w, http.StatusOK, prefs)
}

type upsertPreferenceRequest struct {
	Category model.Category `json:"category"`
	Channel  model.Channel  `json:"channel"`
	Enabled  bool           `json:"enabled"`
}

func (h *PreferenceHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req upsertPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !model.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	switch req.Channel {
	case model.ChannelInApp, model.ChannelPush, model.ChannelEmail:
	default:
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}

	p := &model.Preference{UserID: userID, Category: req.Category, Channel: req.Channel, Enabled: req.Enabled}
	if err := h.repo.Upsert(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save preference")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
