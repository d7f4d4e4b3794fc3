package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexcomms/internal/storage"
)

// Очередь доставки: один список, BRPOP на стороне delivery-сервиса.
// Подписки: hash push:subs:{user_id} endpoint -> raw JSON, TTL 30 дней,
// не больше maxSubsPerUser устройств на пользователя.
const (
	queueKey        = "delivery:queue"
	subsKeyPrefix   = "push:subs:"
	subscriptionTTL = 30 * 24 * time.Hour
	maxSubsPerUser  = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Enqueue(ctx context.Context, job storage.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis enqueue marshal: %w", err)
	}
	return c.cli.LPush(ctx, queueKey, raw).Err()
}

// Dequeue забирает задание через BRPOP; по истечении timeout возвращает
// (nil, nil) — воркер просто повторяет вызов.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration) (*storage.Job, error) {
	res, err := c.cli.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis dequeue: unexpected reply %d", len(res))
	}
	var job storage.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("redis dequeue unmarshal: %w", err)
	}
	return &job, nil
}

func (c *Client) SaveSubscription(ctx context.Context, userID, endpoint string, raw []byte) error {
	key := subsKeyPrefix + userID
	n, err := c.cli.HLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis subs hlen: %w", err)
	}
	exists, err := c.cli.HExists(ctx, key, endpoint).Result()
	if err != nil {
		return fmt.Errorf("redis subs hexists: %w", err)
	}
	if !exists && n >= maxSubsPerUser {
		return fmt.Errorf("redis subs: limit %d reached for user", maxSubsPerUser)
	}
	pipe := c.cli.Pipeline()
	pipe.HSet(ctx, key, endpoint, raw)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis subs save: %w", err)
	}
	return nil
}

func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	vals, err := c.cli.HVals(ctx, subsKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subs list: %w", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	return c.cli.HDel(ctx, subsKeyPrefix+userID, endpoint).Err()
}
