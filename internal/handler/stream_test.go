package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/stream"
)

func withUser(next http.Handler, userID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TestServeStreamDeliversFrames(t *testing.T) {
	hub := stream.NewHub(10)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	h := NewStreamHandler(hub, time.Hour)
	srv := httptest.NewServer(withUser(http.HandlerFunc(h.ServeStream), "alice"))
	defer srv.Close()

	reqCtx, reqCancel := context.WithCancel(context.Background())
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Fatal("proxy buffering must be disabled")
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Fatalf("first line must be the keepalive comment, got %q", line)
	}

	// Wait for the hub to pick the subscriber up, then push.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}
	hub.Push("alice", &model.Notification{
		ID:        "n1",
		UserID:    "alice",
		Category:  model.CategoryMessage,
		Title:     "New message",
		CreatedAt: time.Now().UTC(),
	})

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" && !strings.HasPrefix(line, ":") {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 || lines[0] != "event: notification" || !strings.Contains(lines[1], `"notificationId":"n1"`) {
		t.Fatalf("frame lines = %v", lines)
	}

	// Dropping the request detaches the subscriber.
	reqCancel()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d after disconnect", hub.Connections())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServeStreamRequiresAuth(t *testing.T) {
	hub := stream.NewHub(10)
	h := NewStreamHandler(hub, time.Second)

	rec := httptest.NewRecorder()
	h.ServeStream(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
