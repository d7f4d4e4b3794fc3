package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexcomms/internal/chat"
	"github.com/lexcomms/internal/config"
	"github.com/lexcomms/internal/handler"
	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/middleware"
	"github.com/lexcomms/internal/notify"
	"github.com/lexcomms/internal/repository"
	"github.com/lexcomms/internal/startup"
	"github.com/lexcomms/internal/storage"
	"github.com/lexcomms/internal/storage/memory"
	"github.com/lexcomms/internal/stream"
	"github.com/lexcomms/internal/ws"
	"github.com/lexcomms/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory queue (no external deps)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var queue storage.DeliveryStore
	if *dev {
		queue = memory.New()
	} else {
		queue = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer queue.Close()

	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	readRepo := repository.NewReadStateRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	prefRepo := repository.NewPreferenceRepository(pool)

	policy, err := notify.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logger.Errorf("load notification policy %s: %v", cfg.PolicyPath, err)
		os.Exit(1)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	streamHub := stream.NewHub(cfg.MaxStreamConnections)
	wsHub := ws.NewHub(cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(2)
	go func() {
		defer hubWg.Done()
		streamHub.Run(hubCtx)
	}()
	go func() {
		defer hubWg.Done()
		wsHub.Run(hubCtx)
	}()

	fanout := notify.NewService(notifRepo, prefRepo, streamHub, queue, policy)
	chatSvc := chat.NewService(msgRepo, convRepo, readRepo, fanout, wsHub)

	convH := handler.NewConversationHandler(convRepo, chatSvc)
	notifH := handler.NewNotificationHandler(notifRepo, cfg.NotificationPageSize)
	prefH := handler.NewPreferenceHandler(prefRepo)
	streamH := handler.NewStreamHandler(streamHub, cfg.StreamHeartbeat)
	eventsH := handler.NewEventsHandler(fanout)
	wsH := handler.NewWSHandler(wsHub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket и SSE: upgrade требует http.Hijacker, SSE — поток без Content-Length.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") || req.URL.Path == "/api/stream" {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/stream", configH.GetStreamConfig)

	// Внутренние события (биллинг, интейк, система) — только из приватной сети.
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/events", eventsH.Publish)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.AuthServiceURL, nil))

		r.Post("/api/conversations", convH.Create)
		r.Get("/api/conversations/{conversationId}", convH.Get)
		r.With(middleware.RateLimitIngest).Post("/api/conversations/{conversationId}/messages", convH.PostMessage)
		r.Get("/api/conversations/{conversationId}/messages", convH.GetMessages)
		r.Post("/api/conversations/{conversationId}/read", convH.MarkRead)
		r.Get("/api/conversations/{conversationId}/unread-count", convH.UnreadCount)
		r.Post("/api/conversations/{conversationId}/participants", convH.AddParticipant)
		r.Delete("/api/conversations/{conversationId}/participants/{userId}", convH.RemoveParticipant)
		r.Put("/api/conversations/{conversationId}/notify-mode", convH.SetNotifyMode)

		r.Get("/api/notifications", notifH.List)
		r.Get("/api/notifications/unread-count", notifH.UnreadCount)
		r.Post("/api/notifications/{notificationId}/read", notifH.MarkRead)
		r.Post("/api/notifications/{notificationId}/unread", notifH.MarkUnread)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)

		r.Get("/api/notification-prefs", prefH.List)
		r.Put("/api/notification-prefs", prefH.Upsert)

		r.Get("/api/stream", streamH.ServeStream)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 0, // SSE держит ответ открытым дольше любого таймаута
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hubs stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "lexcomms"
		password = "lexcomms_secret"
		database = "lexcomms"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
