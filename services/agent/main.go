// Headless-агент: держит SSE-подключение к API и ведёт локальную копию
// центра уведомлений (для интеграций и ручной отладки доставки).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexcomms/internal/inbox"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/model"
	"github.com/lexcomms/internal/stream"
	"github.com/lexcomms/internal/streamclient"
)

func main() {
	logger.SetPrefix("agent")
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("LEXCOMMS_TOKEN"), "bearer token")
	reconnect := flag.Duration("reconnect", 5*time.Second, "reconnect delay")
	pageSize := flag.Int("page-size", 20, "notification page size")
	summaryEvery := flag.Duration("summary", time.Minute, "unread summary interval")
	flag.Parse()

	if *token == "" {
		logger.Error("token required (flag -token or env LEXCOMMS_TOKEN)")
		os.Exit(1)
	}

	api := inbox.NewClient(*apiURL, *token)
	rec := inbox.NewReconciler(api, *pageSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Стартовая загрузка всех категорий; ошибки не фатальны, стрим догонит.
	for _, cat := range model.Categories {
		if err := rec.Refresh(ctx, cat); err != nil {
			logger.Errorf("initial refresh %s: %v", cat, err)
		}
	}
	printSummary(rec)

	streamURL := strings.TrimSuffix(*apiURL, "/") + "/api/stream"
	client := streamclient.New(streamURL, *token,
		func(ev stream.EventPayload) {
			logger.Infof("notification %s category=%s title=%q", ev.NotificationID, ev.Category, ev.Title)
			rec.HandleStreamEvent(ev)
		},
		streamclient.WithReconnectDelay(*reconnect),
		streamclient.WithStateFunc(func(s streamclient.State) {
			logger.Infof("stream state: %s", s)
		}),
	)
	client.Start()
	defer client.Stop()

	ticker := time.NewTicker(*summaryEvery)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logger.Info("shutting down")
			return
		case <-ticker.C:
			printSummary(rec)
		}
	}
}

func printSummary(rec *inbox.Reconciler) {
	unread := rec.Unread()
	logger.Infof("unread total=%d", unread.Total)
	for _, cat := range model.Categories {
		if n := unread.ByCategory[cat]; n > 0 {
			logger.Infof("  %s: %d", cat, n)
		}
	}
	convs, err := rec.ConversationUnread(context.Background())
	if err != nil {
		logger.Errorf("conversation unread: %v", err)
		return
	}
	for id, n := range convs {
		logger.Infof("  conversation %s: %d unread message notifications", id, n)
	}
}
