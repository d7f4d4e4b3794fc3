package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/storage"
	"github.com/lexcomms/internal/storage/memory"
)

type fakeNotificationStore struct {
	mu      sync.Mutex
	rows    []*model.Notification
	failFor map[string]error
}

func (s *fakeNotificationStore) Create(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[n.UserID]; err != nil {
		return err
	}
	cp := *n
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *fakeNotificationStore) rowsFor(userID string) []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type fakePrefStore struct {
	prefs map[string][]model.Preference
	err   error
}

func (s *fakePrefStore) GetForUsers(ctx context.Context, userIDs []string) (map[string][]model.Preference, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]model.Preference, len(userIDs))
	for _, id := range userIDs {
		out[id] = s.prefs[id]
	}
	return out, nil
}

type fakeStreamPusher struct {
	mu     sync.Mutex
	pushed map[string][]*model.Notification
}

func (p *fakeStreamPusher) Push(userID string, n *model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushed == nil {
		p.pushed = make(map[string][]*model.Notification)
	}
	p.pushed[userID] = append(p.pushed[userID], n)
}

func drainQueue(t *testing.T, q storage.DeliveryStore) []storage.Job {
	t.Helper()
	var out []storage.Job
	for {
		job, err := q.Dequeue(context.Background(), 10*time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if job == nil {
			return out
		}
		out = append(out, *job)
	}
}

func messageEvent(recipients ...string) Event {
	return Event{
		Category:   model.CategoryMessage,
		Title:      "New message",
		Body:       "hello",
		EntityType: EntityConversation,
		EntityID:   "conv1",
		ActorID:    "alice",
		Recipients: recipients,
		Metadata:   map[string]string{"message_id": "m1"},
	}
}

func TestPublishCreatesRowPerRecipient(t *testing.T) {
	store := &fakeNotificationStore{}
	stream := &fakeStreamPusher{}
	queue := memory.New()
	svc := NewService(store, &fakePrefStore{}, stream, queue, DefaultPolicy())

	if err := svc.Publish(context.Background(), messageEvent("bob", "carol")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(store.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(store.rows))
	}
	for _, n := range store.rows {
		if n.EntityType != EntityConversation || n.EntityID != "conv1" {
			t.Fatalf("entity ref lost: %+v", n)
		}
		if n.ID == "" || n.ReadAt != nil {
			t.Fatalf("row must start unread with an id: %+v", n)
		}
	}
	if len(stream.pushed["bob"]) != 1 || len(stream.pushed["carol"]) != 1 {
		t.Fatalf("stream pushes = %v", stream.pushed)
	}

	// Message defaults enable push, so one push job per recipient.
	jobs := drainQueue(t, queue)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.Channel != model.ChannelPush {
			t.Fatalf("unexpected channel %s", job.Channel)
		}
		if job.NotificationID == "" {
			t.Fatal("job must reference the created row")
		}
	}
}

func TestPublishRespectsPrefs(t *testing.T) {
	store := &fakeNotificationStore{}
	prefs := &fakePrefStore{prefs: map[string][]model.Preference{
		"bob": {{UserID: "bob", Category: model.CategoryMessage, Channel: model.ChannelPush, Enabled: false}},
	}}
	queue := memory.New()
	svc := NewService(store, prefs, nil, queue, DefaultPolicy())

	if err := svc.Publish(context.Background(), messageEvent("bob", "carol")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	jobs := drainQueue(t, queue)
	if len(jobs) != 1 || jobs[0].UserID != "carol" {
		t.Fatalf("only carol should get a push job, got %v", jobs)
	}
	// Opting out of push must not suppress the in-app row.
	if len(store.rowsFor("bob")) != 1 {
		t.Fatal("bob must still get the in-app row")
	}
}

func TestPublishValidation(t *testing.T) {
	svc := NewService(&fakeNotificationStore{}, &fakePrefStore{}, nil, nil, nil)

	ev := messageEvent("bob")
	ev.Category = "gossip"
	if err := svc.Publish(context.Background(), ev); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("got %v, want ErrUnknownCategory", err)
	}

	ev = messageEvent("bob")
	ev.EntityID = ""
	if err := svc.Publish(context.Background(), ev); err == nil {
		t.Fatal("missing entity reference must be rejected")
	}

	ev = messageEvent()
	if err := svc.Publish(context.Background(), ev); err != nil {
		t.Fatalf("no recipients is a no-op, got %v", err)
	}
}

func TestPublishIsolatesRecipientFailures(t *testing.T) {
	boom := errors.New("insert failed")
	store := &fakeNotificationStore{failFor: map[string]error{"bob": boom}}
	stream := &fakeStreamPusher{}
	queue := memory.New()
	svc := NewService(store, &fakePrefStore{}, stream, queue, DefaultPolicy())

	err := svc.Publish(context.Background(), messageEvent("bob", "carol"))
	if !errors.Is(err, boom) {
		t.Fatalf("first store error must surface, got %v", err)
	}
	if len(store.rowsFor("carol")) != 1 {
		t.Fatal("carol's row must be created despite bob's failure")
	}
	if len(stream.pushed["bob"]) != 0 {
		t.Fatal("failed row must not be pushed to the stream")
	}
	// No job for bob either: the push job references the row that failed.
	for _, job := range drainQueue(t, queue) {
		if job.UserID == "bob" {
			t.Fatal("no delivery job for a failed row")
		}
	}
}

func TestPublishSystemForcedInApp(t *testing.T) {
	store := &fakeNotificationStore{}
	prefs := &fakePrefStore{prefs: map[string][]model.Preference{
		"bob": {{UserID: "bob", Category: model.CategorySystem, Channel: model.ChannelInApp, Enabled: false}},
	}}
	svc := NewService(store, prefs, nil, nil, DefaultPolicy())

	ev := Event{
		Category:   model.CategorySystem,
		Title:      "Maintenance window",
		EntityType: EntityOrg,
		EntityID:   "org1",
		Recipients: []string{"bob"},
	}
	if err := svc.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(store.rowsFor("bob")) != 1 {
		t.Fatal("system notifications must always land in-app")
	}
}
