package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promatch/internal/config"
	"github.com/promatch/internal/feed"
	memfeed "github.com/promatch/internal/feed/memory"
	"github.com/promatch/internal/feed/pgnotify"
	feedredis "github.com/promatch/internal/feed/redis"
	"github.com/promatch/internal/handler"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/middleware"
	"github.com/promatch/internal/pending"
	"github.com/promatch/internal/push"
	"github.com/promatch/internal/repository"
	"github.com/promatch/internal/service"
	"github.com/promatch/internal/startup"
	"github.com/promatch/internal/ws"
	"github.com/promatch/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-process feed (no external DB/Redis required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
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
	poolCfg.MinConns = 2

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	pool, err := startup.ConnectDB(rootCtx, poolCfg, 60*time.Second, "")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(rootCtx, pool); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var bgWg sync.WaitGroup

	events, closeFeed, err := openFeed(rootCtx, cfg, *dev)
	if err != nil {
		logger.Errorf("feed: %v", err)
		os.Exit(1)
	}
	defer closeFeed()

	// Уведомления пишут внешние сервисы прямо в БД: ретранслируем их NOTIFY в feed.
	if cfg.Feed.NotifyBridge {
		bridge := pgnotify.NewBridge(cfg.DatabaseURL(), events)
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			if err := bridge.Run(rootCtx); err != nil {
				logger.Errorf("pg notify bridge: %v", err)
			}
		}()
	}

	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	noteRepo := repository.NewNotificationRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)

	retry := service.RetryPolicy{
		Attempts: uint(cfg.Messaging.ReadRetryAttempts),
		Initial:  cfg.Messaging.ReadRetryInitial,
		Max:      cfg.Messaging.ReadRetryMax,
	}
	cfg.EnsurePushKey()
	pushClient := push.NewClient(cfg.PushServiceURL, cfg.InternalSecret)

	directory := service.NewDirectory(convRepo, msgRepo, profileRepo, projectRepo, retry)
	thread := service.NewThread(convRepo, msgRepo, profileRepo, events, pushClient, retry, cfg.Messaging.EraseDeletedContent)
	notifications := service.NewNotificationCenter(noteRepo, cfg.Messaging.NotificationWindow, retry)

	acks := pending.NewQueue(func(ctx context.Context, op pending.Op) error {
		switch op.Kind {
		case pending.KindMarkRead:
			_, err := thread.MarkRead(ctx, op.UserID, op.IDs)
			return err
		}
		return fmt.Errorf("unknown pending op %q", op.Kind)
	}, cfg.Messaging.PendingFlushSpec, cfg.Messaging.PendingMaxAttempts)
	if err := acks.Start(rootCtx); err != nil {
		logger.Errorf("pending queue: %v", err)
		os.Exit(1)
	}

	hubCtx, hubCancel := context.WithCancel(rootCtx)
	hub := ws.NewHub(ws.Deps{
		Feed:          events,
		Directory:     directory,
		Thread:        thread,
		Notifications: notifications,
		Acks:          acks,
	}, cfg.MaxWSConnections, cfg.WSSendBufferSize)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	configH := handler.NewConfigHandler(cfg)
	api := &handler.API{
		Conversations: handler.NewConversationHandler(directory, thread),
		Messages:      handler.NewMessageHandler(thread),
		Notifications: handler.NewNotificationHandler(notifications),
		Push:          handler.NewPushHandler(pushClient),
		Config:        configH,
		WS:            handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id", "X-User-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)

	r.Group(func(r chi.Router) {
		if cfg.AuthServiceURL == "" && *dev {
			logger.Warnf("AUTH_SERVICE_URL не задан: личность берётся из X-User-Id (только -dev)")
			r.Use(middleware.DevIdentity)
		} else {
			r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))
		}
		r.Use(middleware.ResolveRole(profileRepo))
		r.Use(middleware.RateLimitAPI(cfg.RateLimitPerMinute))
		api.Mount(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
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
	logger.Info("hub stopped")
	acks.Stop()
	if n := acks.Len(); n > 0 {
		logger.Warnf("pending queue: %d operations dropped on shutdown", n)
	}
	rootCancel()
	bgWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// openFeed выбирает транспорт событий: в -dev и при FEED_BACKEND=memory внутри процесса,
// иначе Redis pub/sub (несколько экземпляров API видят события друг друга).
func openFeed(ctx context.Context, cfg *config.Config, dev bool) (feed.Feed, func(), error) {
	if dev || cfg.Feed.Backend == config.FeedMemory {
		logger.Info("feed: in-process")
		return memfeed.New(), func() {}, nil
	}
	cli, err := startup.ConnectRedis(ctx, cfg.Redis.URL, 60*time.Second, "")
	if err != nil {
		return nil, nil, err
	}
	logger.Info("feed: redis pub/sub")
	return feedredis.New(cli), func() { _ = cli.Close() }, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := migrations.Names()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	n, err := startup.Migrate(ctx, pool, migrations.Files, names)
	if err != nil {
		return err
	}
	logger.Infof("migrations applied: %d new, %d total", n, len(names))
	return nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "promatch"
		password = "promatch_secret"
		database = "promatch"
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
