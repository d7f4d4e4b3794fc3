// Package stream holds per-user server-sent-event connections and pushes
// newly created notifications to them. Delivery is best-effort: a slow or
// gone subscriber drops frames and catches up over REST.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
)

// EventPayload is the wire shape of one notification frame. The payload is
// intentionally small; clients re-fetch the affected category instead of
// patching state from the frame.
type EventPayload struct {
	NotificationID string         `json:"notificationId"`
	Category       model.Category `json:"category"`
	CreatedAt      time.Time      `json:"createdAt"`
	Title          string         `json:"title,omitempty"`
	EntityType     string         `json:"entityType,omitempty"`
	EntityID       string         `json:"entityId,omitempty"`
}

type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*Subscriber]struct{}
	total    int
	maxConns int

	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		subs:       make(map[string]map[*Subscriber]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Subscriber, 64),
		unregister: make(chan *Subscriber, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case sub := <-h.register:
			h.addSubscriber(sub)
		case sub := <-h.unregister:
			h.removeSubscriber(sub)
		}
	}
}

func (h *Hub) Register(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		sub.Close()
	}
}

func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

func (h *Hub) addSubscriber(sub *Subscriber) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("stream connection limit reached (%d), rejecting user=%s", h.maxConns, sub.userID)
		sub.Close()
		return
	}
	if _, ok := h.subs[sub.userID]; !ok {
		h.subs[sub.userID] = make(map[*Subscriber]struct{})
	}
	h.subs[sub.userID][sub] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeSubscriber(sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.subs[sub.userID]
	if ok {
		if _, exists := set[sub]; exists {
			delete(set, sub)
			h.total--
			if len(set) == 0 {
				delete(h.subs, sub.userID)
			}
		}
	}
	h.mu.Unlock()
	sub.Close()
}

func (h *Hub) shutdown() {
	// Collect under the lock, close outside it.
	h.mu.Lock()
	all := make([]*Subscriber, 0, h.total)
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[*Subscriber]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

// Push renders one notification frame and hands it to every live
// connection of userID. A full subscriber buffer drops the frame; that
// client discovers the notification on its next REST load.
func (h *Hub) Push(userID string, n *model.Notification) {
	payload := EventPayload{
		NotificationID: n.ID,
		Category:       n.Category,
		CreatedAt:      n.CreatedAt,
		Title:          n.Title,
		EntityType:     n.EntityType,
		EntityID:       n.EntityID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("stream push marshal user=%s: %v", userID, err)
		return
	}
	frame := Frame("notification", data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		if !sub.offer(frame) {
			logger.Infof("stream buffer full user=%s, frame dropped", userID)
		}
	}
}

// Connections returns the number of live subscribers (diagnostics).
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
