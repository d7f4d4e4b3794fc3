package storage

import (
	"context"
	"time"

	"github.com/lexcomms/internal/model"
)

// Job — одно задание на асинхронную доставку (push или email).
// Кладётся в очередь сервисом fanout, забирается сервисом delivery.
type Job struct {
	Channel        model.Channel  `json:"channel"`
	UserID         string         `json:"user_id"`
	NotificationID string         `json:"notification_id"`
	Category       model.Category `json:"category"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Link           string         `json:"link,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DeliveryStore — очередь доставки и push-подписки.
// Реализации: redis.Client, memory.Client (для -dev и тестов без Redis).
type DeliveryStore interface {
	// Enqueue добавляет задание в очередь доставки.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue блокируется до timeout; nil без ошибки — очередь пуста.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// SaveSubscription сохраняет push-подписку браузера (raw JSON) по endpoint.
	SaveSubscription(ctx context.Context, userID, endpoint string, raw []byte) error
	// ListSubscriptions возвращает все подписки пользователя.
	ListSubscriptions(ctx context.Context, userID string) ([][]byte, error)
	// RemoveSubscription удаляет подписку по endpoint (при 404/410 от push-шлюза).
	RemoveSubscription(ctx context.Context, userID, endpoint string) error

	Close() error
}
