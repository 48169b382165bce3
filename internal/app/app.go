// Package app wires the study hub services, the notification dispatcher, the
// event bus and the outbox relay on top of one set of stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/study-hub/internal/circuitbreaker"
	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/eventbus"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/mail"
	"github.com/study-hub/internal/notification"
	"github.com/study-hub/internal/retry"
	"github.com/study-hub/internal/service"
	"github.com/study-hub/internal/worker"
)

// TagZoneStore serves both tag and zone lookups
type TagZoneStore interface {
	service.TagStore
	service.ZoneStore
}

// Stores is the persistence the application runs on
type Stores struct {
	Tx            service.TxManager
	Accounts      service.AccountStore
	Tags          TagZoneStore
	Studies       service.StudyStore
	Events        service.EventStore
	Enrollments   service.EnrollmentStore
	Notifications service.NotificationStore
	Outbox        service.OutboxStore
	Deliveries    notification.DeliveryLog
}

// App holds the wired components
type App struct {
	Studies       *service.StudyService
	Events        *service.EventService
	Accounts      *service.AccountService
	Notifications *service.NotificationService

	Bus        *eventbus.Bus
	Dispatcher *notification.Dispatcher
	Relay      *worker.OutboxRelay
}

// New wires every component. now may be nil.
func New(cfg *config.Config, stores Stores, sender mail.Sender, now func() time.Time) (*App, error) {
	if now == nil {
		now = time.Now
	}
	nc := cfg.Notification

	bus := eventbus.New(eventbus.Config{
		Workers:   nc.Workers,
		QueueSize: nc.QueueSize,
		HandlerRetry: retry.Config{
			MaxAttempts:  nc.HandlerMaxAttempts,
			InitialDelay: nc.HandlerRetryDelay,
			MaxDelay:     10 * nc.HandlerRetryDelay,
			Multiplier:   2,
		},
		DeliveredTTL: 2 * nc.OutboxGracePeriod,
	})

	renderer := mail.NewTemplateRenderer()
	dispatcher := notification.NewDispatcher(
		stores.Accounts, stores.Studies, stores.Events, stores.Notifications,
		sender, renderer, stores.Deliveries,
		notification.Config{
			Host:     cfg.App.Host,
			SiteName: cfg.App.SiteName,
			EmailRetry: retry.Config{
				MaxAttempts:  nc.EmailMaxAttempts,
				InitialDelay: nc.EmailRetryDelay,
				MaxDelay:     10 * nc.EmailRetryDelay,
				Multiplier:   2,
				ShouldRetry: func(err error) bool {
					return !errors.Is(err, circuitbreaker.ErrOpen)
				},
			},
			SaveRetry: retry.DefaultConfig(),
		},
		now,
	)
	if err := dispatcher.Register(bus); err != nil {
		return nil, fmt.Errorf("register dispatcher: %w", err)
	}

	relay, err := worker.NewOutboxRelay(&worker.OutboxRelayConfig{
		Outbox:       stores.Outbox,
		Bus:          bus,
		PollInterval: nc.OutboxPollInterval,
		GracePeriod:  nc.OutboxGracePeriod,
		MaxAttempts:  nc.OutboxMaxAttempts,
		BatchSize:    nc.OutboxBatchSize,
		Now:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("create outbox relay: %w", err)
	}
	bus.OnComplete(relay.HandleOutcome)

	emitter := service.NewEmitter(stores.Outbox, bus, now)
	accountMailer := mail.NewAccountMailer(sender, renderer, cfg.App.Host, cfg.App.SiteName)

	return &App{
		Studies: service.NewStudyService(stores.Tx, stores.Studies, stores.Accounts, stores.Tags, stores.Tags,
			emitter, service.NewStudyLifecycle(cfg.Policy.RecruitingCooldown, now), now),
		Events: service.NewEventService(stores.Tx, stores.Studies, stores.Events, stores.Enrollments, stores.Accounts,
			emitter, service.NewEnrollmentEngine(now), now),
		Accounts: service.NewAccountService(stores.Tx, stores.Accounts, stores.Tags, stores.Tags, accountMailer,
			cfg.Policy.EmailResendCooldown, now),
		Notifications: service.NewNotificationService(stores.Notifications),
		Bus:           bus,
		Dispatcher:    dispatcher,
		Relay:         relay,
	}, nil
}

// Start launches the bus workers and the outbox relay
func (a *App) Start(ctx context.Context) error {
	if err := a.Bus.Start(ctx); err != nil {
		return err
	}
	if err := a.Relay.Start(ctx); err != nil {
		a.Bus.Stop()
		return err
	}
	logging.FromContext(ctx).Info("Notifier started")
	return nil
}

// Stop halts the relay, then drains the bus
func (a *App) Stop(ctx context.Context) {
	if err := a.Relay.Stop(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Outbox relay did not stop cleanly")
	}
	a.Bus.Stop()
	logging.FromContext(ctx).Info("Notifier stopped")
}
