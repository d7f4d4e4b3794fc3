package handler

import (
	"encoding/json"
	"net/http"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/push"
	"github.com/lexcomms/internal/storage"
)

// SubscriptionHandler manages the caller's Web Push subscriptions. The raw
// browser subscription JSON is stored as-is and replayed to the push
// endpoint at delivery time.
type SubscriptionHandler struct {
	store storage.DeliveryStore
}

func NewSubscriptionHandler(store storage.DeliveryStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: store}
}

type subscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription (endpoint, keys.p256dh, keys.auth) required")
		return
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscription encode")
		return
	}
	if err := h.store.SaveSubscription(r.Context(), userID, sub.Endpoint, raw); err != nil {
		logger.Errorf("subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.store.RemoveSubscription(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
