package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Subscription — подписка из браузера (формат PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Payload — содержимое пуша, которое разбирает service worker на клиенте.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender отправляет Web Push через VAPID. nil-безопасен: без ключей
// отправка отключена, Send возвращает ErrNotConfigured.
type Sender struct {
	opts *webpush.Options
}

var ErrNotConfigured = fmt.Errorf("push: VAPID keys not configured")

func NewSender(keys *VAPIDKeys, subscriber string) *Sender {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return &Sender{}
	}
	return &Sender{opts: &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}}
}

func (s *Sender) Enabled() bool { return s.opts != nil }

// Send доставляет payload на одну подписку (raw — JSON подписки из браузера).
// gone=true означает, что endpoint мёртв (404/410) и подписку надо удалить.
func (s *Sender) Send(ctx context.Context, raw []byte, payload Payload) (gone bool, err error) {
	if s.opts == nil {
		return false, ErrNotConfigured
	}
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return true, fmt.Errorf("push: bad subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return true, fmt.Errorf("push: subscription without endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, wpSub, s.opts)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("push: endpoint returned %d", resp.StatusCode)
	}
	return false, nil
}
