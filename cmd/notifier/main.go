// Package main runs the notifier: the event bus, the notification dispatcher
// and the outbox relay on top of Postgres, Redis and ClickHouse.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/study-hub/internal/app"
	"github.com/study-hub/internal/circuitbreaker"
	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/mail"
	"github.com/study-hub/internal/notification"
	"github.com/study-hub/internal/service"
	"github.com/study-hub/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()
	ctx := logging.WithLogger(context.Background(), logger)

	logger.Info("Connecting to databases...")
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	var notifications service.NotificationStore = storage.NewNotificationRepository(postgres)
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, unread counts are served from Postgres")
	} else {
		defer redis.Close()
		notifications = storage.NewUnreadCounter(notifications, redis, cfg.Database.Redis.UnreadTTL)
	}

	var deliveries notification.DeliveryLog = storage.NopDeliveryLog{}
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, delivery log disabled")
		} else {
			defer clickhouse.Close()
			deliveries = storage.NewDeliveryLogRepository(clickhouse)
		}
	}
	logger.Info("Database connections established")

	var sender mail.Sender = mail.LogSender{}
	if cfg.Mail.Host != "" {
		sender = mail.NewGuardedSender(mail.NewSMTPSender(cfg.Mail), circuitbreaker.New(circuitbreaker.Config{
			Name:                "smtp",
			ConsecutiveFailures: cfg.Mail.BreakerFailures,
			Cooldown:            cfg.Mail.BreakerCooldown,
			HalfOpenTrials:      1,
		}))
	}
	sender = mail.NewRateLimitedSender(sender, cfg.Mail.RatePerSecond, cfg.Mail.Burst)

	tags := storage.NewTagRepository(postgres)
	notifier, err := app.New(cfg, app.Stores{
		Tx:            postgres,
		Accounts:      storage.NewAccountRepository(postgres),
		Tags:          tags,
		Studies:       storage.NewStudyRepository(postgres),
		Events:        storage.NewEventRepository(postgres),
		Enrollments:   storage.NewEnrollmentRepository(postgres),
		Notifications: notifications,
		Outbox:        storage.NewOutboxRepository(postgres),
		Deliveries:    deliveries,
	}, sender, time.Now)
	if err != nil {
		logger.Fatalf("Failed to wire notifier: %v", err)
	}

	if err := notifier.Start(ctx); err != nil {
		logger.Fatalf("Failed to start notifier: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, draining notifications...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	notifier.Stop(shutdownCtx)
	logger.Info("Goodbye!")
}
