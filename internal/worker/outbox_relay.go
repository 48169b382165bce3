// Package worker runs the background loops of the notifier process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/study-hub/internal/eventbus"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
)

// OutboxStore is the part of the outbox the relay drives
type OutboxStore interface {
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	IncrementAttempts(ctx context.Context, id string) error
	ListPending(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.DomainEvent, error)
}

// Publisher enqueues a domain event on the bus
type Publisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// OutboxRelayConfig holds configuration for the outbox relay
type OutboxRelayConfig struct {
	Outbox       OutboxStore
	Bus          Publisher
	PollInterval time.Duration
	// GracePeriod is how long an event may stay undispatched before the
	// relay assumes its after-commit publish was lost
	GracePeriod time.Duration
	MaxAttempts int
	BatchSize   int
	Now         func() time.Time
}

// OutboxRelay re-publishes outbox events whose after-commit delivery never
// completed, e.g. after a crash between commit and dispatch or a full queue.
// Delivery is at least once.
type OutboxRelay struct {
	outbox       OutboxStore
	bus          Publisher
	pollInterval time.Duration
	gracePeriod  time.Duration
	maxAttempts  int
	batchSize    int
	now          func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(cfg *OutboxRelayConfig) (*OutboxRelay, error) {
	if cfg.Outbox == nil {
		return nil, fmt.Errorf("outbox store cannot be nil")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	r := &OutboxRelay{
		outbox:       cfg.Outbox,
		bus:          cfg.Bus,
		pollInterval: cfg.PollInterval,
		gracePeriod:  cfg.GracePeriod,
		maxAttempts:  cfg.MaxAttempts,
		batchSize:    cfg.BatchSize,
		now:          cfg.Now,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 30 * time.Second
	}
	if r.gracePeriod <= 0 {
		r.gracePeriod = time.Minute
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 5
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Start begins polling
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("outbox relay is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"pollInterval": r.pollInterval.String(),
		"gracePeriod":  r.gracePeriod.String(),
		"maxAttempts":  r.maxAttempts,
	}).Info("Starting outbox relay")

	go r.pollLoop(ctx, r.stopCh, r.doneCh)
	return nil
}

// Stop signals the loop and waits for it to finish
func (r *OutboxRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox relay is not running")
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		logging.FromContext(ctx).Info("Outbox relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *OutboxRelay) pollLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	log := logging.FromContext(ctx)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			n, err := r.Poll(ctx)
			if err != nil {
				log.WithError(err).Warn("Outbox poll failed")
				continue
			}
			if n > 0 {
				log.WithField("events", n).Info("Outbox relay re-published events")
			}
		}
	}
}

// Poll re-publishes one batch of overdue events and returns how many were
// enqueued. Events still pending on the bus, or delivered since they were
// listed, are skipped without spending an
// attempt. It stops early when the bus queue is full.
func (r *OutboxRelay) Poll(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPending(ctx, r.now().Add(-r.gracePeriod), r.maxAttempts, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending outbox events: %w", err)
	}

	published := 0
	for _, event := range pending {
		if err := r.bus.Publish(ctx, *event); err != nil {
			if errors.Is(err, eventbus.ErrAlreadyPending) || errors.Is(err, eventbus.ErrRecentlyDelivered) {
				continue
			}
			if errors.Is(err, eventbus.ErrQueueFull) || errors.Is(err, eventbus.ErrStopped) {
				break
			}
			return published, err
		}
		if err := r.outbox.IncrementAttempts(ctx, event.ID); err != nil {
			return published, err
		}
		published++

		if event.Attempts+1 >= r.maxAttempts {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"eventId":   event.ID,
				"eventType": event.Type,
			}).Warn("Outbox event on its last relay attempt")
		}
	}
	return published, nil
}

// HandleOutcome marks an event dispatched once all of its handlers
// succeeded. Register it with the bus's OnComplete.
func (r *OutboxRelay) HandleOutcome(ctx context.Context, outcome eventbus.Outcome) {
	if !outcome.OK() {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"eventId": outcome.Event.ID,
			"failed":  outcome.Failed,
		}).Warn("Event left pending for the outbox relay")
		return
	}
	if err := r.outbox.MarkDispatched(ctx, outcome.Event.ID, r.now()); err != nil {
		logging.FromContext(ctx).WithField("eventId", outcome.Event.ID).
			WithError(err).Error("Failed to mark outbox event dispatched")
	}
}
