package handler

import (
	"net/http"
	"time"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/stream"
)

type StreamHandler struct {
	hub       *stream.Hub
	heartbeat time.Duration
}

func NewStreamHandler(hub *stream.Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat}
}

// ServeStream holds the SSE connection open and relays notification frames.
// EventSource reconnects on its own, so any failure here just ends the
// response and lets the client come back.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// nginx буферизует ответы по умолчанию; для SSE это ломает доставку.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := stream.NewSubscriber(userID)
	h.hub.Register(sub)
	defer h.hub.Unregister(sub)

	if _, err := w.Write(stream.Heartbeat); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case frame := <-sub.Frames():
			if _, err := w.Write(frame); err != nil {
				logger.Infof("stream write user=%s: %v", userID, err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write(stream.Heartbeat); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
