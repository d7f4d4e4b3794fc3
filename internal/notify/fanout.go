package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/storage"
)

// NotificationStore persists in-app rows. *repository.NotificationRepository
// implements it.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// PrefStore loads member channel toggles in bulk.
type PrefStore interface {
	GetForUsers(ctx context.Context, userIDs []string) (map[string][]model.Preference, error)
}

// StreamPusher pushes a created notification to the recipient's live
// stream connections. nil disables the push (REST still serves it).
type StreamPusher interface {
	Push(userID string, n *model.Notification)
}

// Service is the fanout: one Publish call per domain event, one
// notification row per eligible recipient, async jobs for push/email.
// It does not retry queue failures; at-least-once is achieved by the REST
// pull path, not by the queue.
type Service struct {
	store  NotificationStore
	prefs  PrefStore
	stream StreamPusher
	queue  storage.DeliveryStore
	policy Policy
}

func NewService(store NotificationStore, prefs PrefStore, stream StreamPusher, queue storage.DeliveryStore, policy Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{store: store, prefs: prefs, stream: stream, queue: queue, policy: policy}
}

// Publish fans ev out to its recipients. Per-recipient failures are logged
// and skipped so one bad row cannot starve the rest of the fanout; the
// first store error is still reported to the caller.
func (s *Service) Publish(ctx context.Context, ev Event) error {
	defer logger.DeferLogDuration("notify.Publish", time.Now())()
	if !model.ValidCategory(ev.Category) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, ev.Category)
	}
	if ev.EntityType == "" || ev.EntityID == "" {
		return fmt.Errorf("notify.Publish: entity reference required")
	}
	if len(ev.Recipients) == 0 {
		return nil
	}

	prefsByUser, err := s.prefs.GetForUsers(ctx, ev.Recipients)
	if err != nil {
		return fmt.Errorf("notify.Publish prefs: %w", err)
	}

	now := time.Now().UTC()
	var firstErr error
	for _, userID := range ev.Recipients {
		channels := s.policy.Resolve(ev.Category, prefsByUser[userID])
		if channels[model.ChannelInApp] {
			n := &model.Notification{
				ID:         uuid.New().String(),
				UserID:     userID,
				Category:   ev.Category,
				Title:      ev.Title,
				Body:       ev.Body,
				Link:       ev.Link,
				EntityType: ev.EntityType,
				EntityID:   ev.EntityID,
				Metadata:   ev.Metadata,
				CreatedAt:  now,
			}
			if err := s.store.Create(ctx, n); err != nil {
				logger.Errorf("notify fanout create user=%s category=%s: %v", userID, ev.Category, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if s.stream != nil {
				s.stream.Push(userID, n)
			}
			s.enqueue(ctx, userID, n.ID, ev, channels)
		} else {
			// No in-app row, but push/email may still be eligible.
			s.enqueue(ctx, userID, "", ev, channels)
		}
	}
	return firstErr
}

// enqueue hands the async channels to the delivery queue. Queue failures
// are the delivery service's concern to surface; here they are only logged.
func (s *Service) enqueue(ctx context.Context, userID, notificationID string, ev Event, channels map[model.Channel]bool) {
	if s.queue == nil {
		return
	}
	for _, ch := range []model.Channel{model.ChannelPush, model.ChannelEmail} {
		if !channels[ch] {
			continue
		}
		job := storage.Job{
			Channel:        ch,
			UserID:         userID,
			NotificationID: notificationID,
			Category:       ev.Category,
			Title:          ev.Title,
			Body:           ev.Body,
			Link:           ev.Link,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			logger.Errorf("notify enqueue %s user=%s: %v", ch, userID, err)
		}
	}
}
