// Сервис доставки: разбирает очередь push/email задач, хранит push-подписки.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lexcomms/internal/config"
	"github.com/lexcomms/internal/delivery"
	"github.com/lexcomms/internal/email"
	"github.com/lexcomms/internal/handler"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/push"
	"github.com/lexcomms/internal/startup"
	"github.com/lexcomms/internal/storage"
	"github.com/lexcomms/internal/storage/memory"
)

func main() {
	logger.SetPrefix("delivery")
	dev := flag.Bool("dev", false, "use in-memory queue instead of Redis")
	genVAPID := flag.Bool("gen-vapid", false, "generate a VAPID key pair and exit")
	workers := flag.Int("workers", 4, "number of queue consumers")
	flag.Parse()

	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		return
	}

	logger.Info("starting delivery service")
	cfg := config.Load()

	var store storage.DeliveryStore
	if *dev {
		store = memory.New()
	} else {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer store.Close()

	keys, err := push.EnsureVAPIDKeys("")
	if err != nil {
		logger.Infof("VAPID: не удалось загрузить/сгенерировать ключи: %v — пуши отключены", err)
	}
	pusher := push.NewSender(keys, "lexcomms-delivery")
	if !pusher.Enabled() {
		logger.Info("push отключены (нет VAPID-ключей); подписки сохраняются, отправка не выполняется")
	}

	emailSender := email.NewSender(&cfg.SMTP)
	if !emailSender.Enabled() {
		logger.Info("SMTP не настроен — email-уведомления отключены")
	}

	dir := delivery.NewAuthDirectory(cfg.AuthServiceURL)
	worker := delivery.NewWorker(store, pusher, emailSender, dir)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workerWg sync.WaitGroup
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		worker.Run(workerCtx, *workers)
	}()

	subH := handler.NewSubscriptionHandler(store)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/vapid-public", func(w http.ResponseWriter, r *http.Request) {
		if cfg.PushVAPIDPublicKey == "" {
			http.Error(w, "push not configured", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cfg.PushVAPIDPublicKey))
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.AuthServiceURL, nil))
		r.Post("/api/push/subscribe", subH.Subscribe)
		r.Delete("/api/push/subscribe", subH.Unsubscribe)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Infof("delivery server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("delivery server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	workerCancel()
	workerWg.Wait()
	logger.Info("delivery service stopped")
}
