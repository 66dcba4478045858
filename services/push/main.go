// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/promatch/internal/config"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/push"
	"github.com/promatch/internal/startup"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
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

	logger.Info("starting push service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	keys := &push.VAPIDKeys{
		PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
	}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		keys, err = push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile)
		if err != nil {
			logger.Warnf("VAPID: не удалось загрузить/сгенерировать ключи (%v), push отключены", err)
			keys = nil
		}
	}
	if keys == nil {
		logger.Info("VAPID keys not set, подписки сохраняются, отправка не выполняется")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	rdb, err := startup.ConnectRedis(rootCtx, cfg.Redis.URL, 60*time.Second, "push: ")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("redis connected")

	store := push.NewSubscriptionStore(rdb)
	sender := push.NewSender(store, keys, cfg.Push.Subscriber)
	publicKey := ""
	if keys != nil {
		publicKey = keys.PublicKey
	}
	if cfg.InternalSecret == "" {
		logger.Warnf("INTERNAL_SECRET не задан: /api/* доступен только из частной сети")
	}

	srv := &http.Server{
		Addr:         cfg.Push.Addr,
		Handler:      push.NewServer(store, sender, publicKey).Routes(cfg.InternalSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("push server listening on %s", cfg.Push.Addr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
