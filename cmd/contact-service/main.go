package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anamnesis-ai/platform/pkg/chat"
	"github.com/anamnesis-ai/platform/pkg/common/config"
	"github.com/anamnesis-ai/platform/pkg/common/database"
	"github.com/anamnesis-ai/platform/pkg/common/kafka"
	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/referral"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres()

	repo := referral.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to run migrations")
	}

	redisClient := database.GetRedis()
	defer database.CloseRedis()

	allowlist := referral.DefaultAllowlist()
	if cfg.AllowlistPath != "" {
		allowlist, err = referral.LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to load referral allowlist")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	allowlist.StartRefresh(ctx, cfg.AllowlistRefresh)

	notifier := referral.NewNotifier(redisClient)

	consumer := kafka.NewConsumer(cfg.KafkaTopic, "contact-service")
	defer consumer.Close()
	go func() {
		if err := consumer.Consume(ctx, notifier.HandleEvent); err != nil && err != context.Canceled {
			logger.Log.WithError(err).Error("Event consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(chat.RecoveryMiddleware, chat.LoggingMiddleware)
	referral.NewHandler(repo, allowlist, notifier).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ContactPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Contact service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down contact service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Graceful shutdown failed")
	}
}
