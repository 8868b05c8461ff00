package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/notez/internal/config"
	"github.com/dukerupert/notez/internal/database"
	"github.com/dukerupert/notez/internal/email"
	"github.com/dukerupert/notez/internal/logging"
	"github.com/dukerupert/notez/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting falls back to memory", "addr", cfg.Redis.Addr, "error", err)
		}
		pingCancel()
	}

	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.FromEmail, cfg.BaseURL)
	if !cfg.Email.Enabled() {
		logger.Info("email disabled, welcome mails and reminders are off")
	}

	srv := server.New(cfg, db, emailClient, redisClient, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if scheduler := srv.ReminderScheduler(); scheduler != nil {
		scheduler.Start(bgCtx)
		defer scheduler.Stop()
	}
	if bm := srv.BackupManager(); bm.Enabled() {
		bm.Start(bgCtx)
		defer bm.Stop()
	} else {
		logger.Info("backups disabled, set S3 credentials and NOTEZ_BACKUP_PASSPHRASE to enable")
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Maintain(bgCtx)
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("notez starting", "addr", httpServer.Addr, "auth_mode", cfg.Auth.Mode, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	srv.Welcomer().Wait()
}
