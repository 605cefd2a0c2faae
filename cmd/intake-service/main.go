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
	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/anamnesis-ai/platform/pkg/oracle"
	"github.com/anamnesis-ai/platform/pkg/referral"
	"github.com/anamnesis-ai/platform/pkg/session"
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

	store := session.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to run migrations")
	}

	contactRepo := referral.NewRepository(db)
	if err := contactRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to run contact migrations")
	}

	redisClient := database.GetRedis()
	defer database.CloseRedis()

	producer := kafka.NewProducer(cfg.KafkaTopic)
	defer producer.Close()

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

	contacts := referral.NewService(contactRepo, store, producer)

	engine := dialogue.NewEngine(dialogue.EngineConfig{
		Store: store,
		Oracle: oracle.NewClient(oracle.Config{
			BaseURL: cfg.OracleBaseURL,
			APIKey:  cfg.OracleAPIKey,
			Model:   cfg.OracleModel,
			Timeout: cfg.OracleTimeout,
		}),
		Contacts:      contacts,
		Allowlist:     allowlist,
		Locker:        dialogue.NewRedisLocker(redisClient, cfg.TurnLockTTL),
		Events:        producer,
		OracleTimeout: cfg.OracleTimeout,
	})

	router := mux.NewRouter()
	router.Use(chat.RecoveryMiddleware, chat.LoggingMiddleware)
	chat.NewHandler(engine, store).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.IntakePort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Intake service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down intake service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Graceful shutdown failed")
	}
}
