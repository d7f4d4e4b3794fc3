package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/notify"
)

// EventsHandler accepts domain events from trusted internal producers
// (billing, intake, admin jobs) and fans them out as notifications.
// Message-category events originate in the chat service, not here.
type EventsHandler struct {
	publisher *notify.Service
}

func NewEventsHandler(publisher *notify.Service) *EventsHandler {
	return &EventsHandler{publisher: publisher}
}

type publishEventRequest struct {
	Category   model.Category    `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Link       string            `json:"link,omitempty"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	ActorID    string            `json:"actor_id,omitempty"`
	Recipients []string          `json:"recipients"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (h *EventsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients required")
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id required")
		return
	}

	ev := notify.Event{
		Category:   req.Category,
		Title:      req.Title,
		Body:       req.Body,
		Link:       req.Link,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ActorID:    req.ActorID,
		Recipients: req.Recipients,
		Metadata:   req.Metadata,
	}
	if err := h.publisher.Publish(r.Context(), ev); err != nil {
		if errors.Is(err, notify.ErrUnknownCategory) {
			writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
