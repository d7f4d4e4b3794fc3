package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/lexcomms/internal/config"
)

type Sender struct {
	cfg *config.SMTPConfig
}

func NewSender(cfg *config.SMTPConfig) *Sender {
	return &Sender{cfg: cfg}
}

// Enabled — SMTP настроен (есть логин и пароль).
func (s *Sender) Enabled() bool {
	return s.cfg.Username != "" && s.cfg.Password != ""
}

// SendNotification отправляет письмо-уведомление. link добавляется в конец
// текста, если задан.
func (s *Sender) SendNotification(ctx context.Context, to, subject, body, link string) error {
	if !s.Enabled() {
		return fmt.Errorf("email: SMTP не настроен")
	}
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	text := body
	if link != "" {
		text += "\n\n" + link
	}
	var buf bytes.Buffer
	buf.WriteString("From: " + s.cfg.FromName + " <" + from + ">\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(text)
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(addr, auth, from, []string{to}, buf.Bytes()) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// SendTest отправляет тестовое письмо на to для проверки SMTP.
func (s *Sender) SendTest(ctx context.Context, to string) error {
	body := fmt.Sprintf("Проверка SMTP, код TEST-%d.", time.Now().Unix()%10000)
	return s.SendNotification(ctx, to, "Тест уведомлений", body, "")
}
