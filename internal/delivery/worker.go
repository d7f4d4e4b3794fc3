// Package delivery drains the async channel queue: Web Push and email jobs
// enqueued by the fanout. Failures are logged and dropped; the in-app row
// and the REST pull path carry the at-least-once guarantee, not the queue.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/push"
	"github.com/lexcomms/internal/storage"
)

const dequeueTimeout = 5 * time.Second

// EmailSender abstracts the SMTP sender (*email.Sender implements it).
type EmailSender interface {
	Enabled() bool
	SendNotification(ctx context.Context, to, subject, body, link string) error
}

// EmailDirectory resolves a user id to a deliverable address. The auth
// service owns the user directory; delivery only asks.
type EmailDirectory interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

type Worker struct {
	store  storage.DeliveryStore
	pusher *push.Sender
	email  EmailSender
	dir    EmailDirectory
}

func NewWorker(store storage.DeliveryStore, pusher *push.Sender, email EmailSender, dir EmailDirectory) *Worker {
	return &Worker{store: store, pusher: pusher, email: email, dir: dir}
}

// Run consumes jobs until ctx is cancelled, with n concurrent consumers.
func (w *Worker) Run(ctx context.Context, n int) {
	if n <= 0 {
		n = 4
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		job, err := w.store.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("delivery dequeue: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := w.process(ctx, job); err != nil {
			logger.Errorf("delivery %s user=%s notif=%s: %v", job.Channel, job.UserID, job.NotificationID, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	defer logger.DeferLogDuration("delivery.process", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch job.Channel {
	case model.ChannelPush:
		return w.sendPush(ctx, job)
	case model.ChannelEmail:
		return w.sendEmail(ctx, job)
	default:
		return fmt.Errorf("unknown channel %q", job.Channel)
	}
}

func (w *Worker) sendPush(ctx context.Context, job *storage.Job) error {
	if w.pusher == nil || !w.pusher.Enabled() {
		return nil
	}
	subs, err := w.store.ListSubscriptions(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	payload := push.Payload{
		Title: job.Title,
		Body:  job.Body,
		Data: map[string]string{
			"category":        string(job.Category),
			"notification_id": job.NotificationID,
			"link":            job.Link,
		},
	}
	var firstErr error
	for _, raw := range subs {
		gone, err := w.pusher.Send(ctx, raw, payload)
		if gone {
			// Endpoint мёртв — выкидываем подписку, чтобы не долбить его.
			var sub push.Subscription
			if jsonErr := unmarshalSub(raw, &sub); jsonErr == nil && sub.Endpoint != "" {
				if rmErr := w.store.RemoveSubscription(ctx, job.UserID, sub.Endpoint); rmErr != nil {
					logger.Errorf("delivery remove dead subscription user=%s: %v", job.UserID, rmErr)
				}
			}
			continue
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) sendEmail(ctx context.Context, job *storage.Job) error {
	if w.email == nil || !w.email.Enabled() {
		return nil
	}
	to, err := w.dir.EmailFor(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("resolve email: %w", err)
	}
	if to == "" {
		return nil
	}
	subject := job.Title
	if subject == "" {
		subject = "Новое уведомление"
	}
	return w.email.SendNotification(ctx, to, subject, job.Body, job.Link)
}

func unmarshalSub(raw []byte, sub *push.Subscription) error {
	return json.Unmarshal(raw, sub)
}
