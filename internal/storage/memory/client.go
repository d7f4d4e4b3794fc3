package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexcomms/internal/storage"
)

const (
	queueCapacity  = 4096
	maxSubsPerUser = 10
)

// Client — in-memory реализация DeliveryStore для -dev и тестов.
// Очередь — буферизованный канал, подписки — map без TTL.
type Client struct {
	mu    sync.RWMutex
	queue chan storage.Job
	subs  map[string]map[string][]byte
}

func New() *Client {
	return &Client{
		queue: make(chan storage.Job, queueCapacity),
		subs:  make(map[string]map[string][]byte),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Enqueue(ctx context.Context, job storage.Job) error {
	select {
	case c.queue <- job:
		return nil
	default:
		return fmt.Errorf("memory queue full (%d)", queueCapacity)
	}
}

func (c *Client) Dequeue(ctx context.Context, timeout time.Duration) (*storage.Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-c.queue:
		return &job, nil
	case <-timer.C:
		return nil, nil
	}
}

func (c *Client) SaveSubscription(ctx context.Context, userID, endpoint string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byEndpoint, ok := c.subs[userID]
	if !ok {
		byEndpoint = make(map[string][]byte)
		c.subs[userID] = byEndpoint
	}
	if _, exists := byEndpoint[endpoint]; !exists && len(byEndpoint) >= maxSubsPerUser {
		return fmt.Errorf("memory subs: limit %d reached for user", maxSubsPerUser)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	byEndpoint[endpoint] = cp
	return nil
}

func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byEndpoint := c.subs[userID]
	out := make([][]byte, 0, len(byEndpoint))
	for _, raw := range byEndpoint {
		out = append(out, raw)
	}
	return out, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byEndpoint, ok := c.subs[userID]; ok {
		delete(byEndpoint, endpoint)
		if len(byEndpoint) == 0 {
			delete(c.subs, userID)
		}
	}
	return nil
}
