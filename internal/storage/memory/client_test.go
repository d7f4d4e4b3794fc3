package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/storage"
)

func TestQueueFIFO(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		job := storage.Job{Channel: model.ChannelPush, UserID: "u", NotificationID: fmt.Sprintf("n%d", i)}
		if err := c.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		job, err := c.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if job == nil || job.NotificationID != fmt.Sprintf("n%d", i) {
			t.Fatalf("job %d = %+v", i, job)
		}
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	c := New()
	job, err := c.Dequeue(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("empty dequeue: %v", err)
	}
	if job != nil {
		t.Fatalf("job = %+v, want nil", job)
	}
}

func TestDequeueHonorsContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Dequeue(ctx, time.Minute); err == nil {
		t.Fatal("cancelled context must interrupt the wait")
	}
}

func TestSubscriptionsPerUser(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SaveSubscription(ctx, "alice", "ep1", []byte(`{"endpoint":"ep1"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.SaveSubscription(ctx, "alice", "ep2", []byte(`{"endpoint":"ep2"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Re-subscribing the same endpoint replaces, not duplicates.
	if err := c.SaveSubscription(ctx, "alice", "ep1", []byte(`{"endpoint":"ep1","v":2}`)); err != nil {
		t.Fatalf("resave: %v", err)
	}

	subs, err := c.ListSubscriptions(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subs = %d, want 2", len(subs))
	}
	if other, _ := c.ListSubscriptions(ctx, "bob"); len(other) != 0 {
		t.Fatal("bob must have no subscriptions")
	}

	if err := c.RemoveSubscription(ctx, "alice", "ep1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, _ = c.ListSubscriptions(ctx, "alice")
	if len(subs) != 1 {
		t.Fatalf("subs after remove = %d, want 1", len(subs))
	}
	// Removing a missing endpoint is a no-op.
	if err := c.RemoveSubscription(ctx, "alice", "missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestSubscriptionLimit(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i := 0; i < maxSubsPerUser; i++ {
		if err := c.SaveSubscription(ctx, "alice", fmt.Sprintf("ep%d", i), []byte("{}")); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if err := c.SaveSubscription(ctx, "alice", "one-too-many", []byte("{}")); err == nil {
		t.Fatal("limit must be enforced")
	}
	// Updating an existing endpoint is still allowed at the limit.
	if err := c.SaveSubscription(ctx, "alice", "ep0", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("update at limit: %v", err)
	}
}
