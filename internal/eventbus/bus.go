// Package eventbus delivers committed domain events to explicitly registered
// handlers on a bounded worker pool.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/retry"
	"github.com/study-hub/internal/types"
)

var (
	// ErrQueueFull is returned by Publish when the queue has no room
	ErrQueueFull = errors.New("event bus queue is full")
	// ErrStopped is returned by Publish after Stop
	ErrStopped = errors.New("event bus stopped")
	// ErrAlreadyPending is returned by Publish while an event with the same
	// id is queued or being delivered
	ErrAlreadyPending = errors.New("event already pending on the bus")
	// ErrRecentlyDelivered is returned by Publish for an event whose handlers
	// all succeeded within Config.DeliveredTTL
	ErrRecentlyDelivered = errors.New("event recently delivered")
)

// Handler reacts to one domain event. A returned error is retried.
type Handler func(ctx context.Context, event models.DomainEvent) error

// Outcome summarizes the delivery of one event to all of its handlers
type Outcome struct {
	Event    models.DomainEvent
	Handlers int
	Failed   []string
}

// OK reports whether every handler succeeded
func (o Outcome) OK() bool {
	return len(o.Failed) == 0
}

// CompletionFunc is called once per published event after all handlers ran
type CompletionFunc func(ctx context.Context, outcome Outcome)

type subscription struct {
	name    string
	handler Handler
}

// Config configures the worker pool and per-handler retry
type Config struct {
	Workers      int
	QueueSize    int
	HandlerRetry retry.Config
	// DeliveredTTL is how long a successfully delivered id is refused
	DeliveredTTL time.Duration
}

// Bus is an in-process publish/subscribe keyed by domain event type
type Bus struct {
	mu         sync.RWMutex
	handlers   map[types.DomainEventType][]subscription
	onComplete CompletionFunc

	cfg   Config
	queue chan models.DomainEvent
	// pending holds the ids between Publish and the end of delivery
	pending map[string]struct{}
	// delivered holds the completion time of successfully delivered ids
	delivered map[string]time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a bus. Handlers must be subscribed before Start.
func New(cfg Config) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 50
	}
	if cfg.DeliveredTTL <= 0 {
		cfg.DeliveredTTL = 5 * time.Minute
	}
	return &Bus{
		handlers:  make(map[types.DomainEventType][]subscription),
		cfg:       cfg,
		queue:     make(chan models.DomainEvent, cfg.QueueSize),
		pending:   make(map[string]struct{}),
		delivered: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe registers handler for eventType under name
func (b *Bus) Subscribe(eventType types.DomainEventType, name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("cannot subscribe %s to %s after start", name, eventType)
	}
	b.handlers[eventType] = append(b.handlers[eventType], subscription{name: name, handler: handler})
	return nil
}

// OnComplete sets the callback reporting each event's outcome
func (b *Bus) OnComplete(fn CompletionFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = fn
}

// Start launches the workers. ctx is the base context handlers run with.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("event bus already started")
	}
	b.started = true

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.work(ctx, i)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"workers":   b.cfg.Workers,
		"queueSize": b.cfg.QueueSize,
	}).Info("Event bus started")
	return nil
}

// Publish enqueues event without blocking. An event id is accepted at most
// once until its delivery completes, and is refused for DeliveredTTL after a
// successful delivery.
func (b *Bus) Publish(ctx context.Context, event models.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	if _, ok := b.pending[event.ID]; ok {
		return ErrAlreadyPending
	}
	if at, ok := b.delivered[event.ID]; ok {
		if time.Since(at) < b.cfg.DeliveredTTL {
			return ErrRecentlyDelivered
		}
		delete(b.delivered, event.ID)
	}
	select {
	case b.queue <- event:
		b.pending[event.ID] = struct{}{}
		return nil
	default:
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"eventId":   event.ID,
			"eventType": event.Type,
		}).Warn("Event bus queue full")
		return ErrQueueFull
	}
}

// Stop refuses new events, lets the workers drain the queue and waits for them
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) work(ctx context.Context, id int) {
	defer b.wg.Done()
	logger := logging.FromContext(ctx).WithField("worker", id)
	ctx = logging.WithLogger(ctx, logger)

	for {
		select {
		case event := <-b.queue:
			b.deliver(ctx, event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.queue:
					b.deliver(ctx, event)
				default:
					return
				}
			}
		}
	}
}

// deliver runs every handler of the event, each with bounded retry, and
// reports the outcome once.
func (b *Bus) deliver(ctx context.Context, event models.DomainEvent) {
	b.mu.RLock()
	subs := b.handlers[event.Type]
	onComplete := b.onComplete
	b.mu.RUnlock()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"eventId":   event.ID,
		"eventType": event.Type,
	})
	ctx = logging.WithLogger(ctx, logger)

	outcome := Outcome{Event: event, Handlers: len(subs)}
	start := time.Now()
	for _, sub := range subs {
		result := retry.WithExponentialBackoff(ctx, b.cfg.HandlerRetry, func(ctx context.Context, attempt int) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler %s panicked: %v", sub.name, r)
				}
			}()
			return sub.handler(ctx, event)
		})
		if !result.Success {
			outcome.Failed = append(outcome.Failed, sub.name)
			logger.WithField("handler", sub.name).WithError(result.LastError).Error("Handler failed")
		}
	}

	logger.WithFields(map[string]interface{}{
		"handlers": outcome.Handlers,
		"failed":   len(outcome.Failed),
		"duration": time.Since(start).String(),
	}).Debug("Event delivered")

	if onComplete != nil {
		onComplete(ctx, outcome)
	}

	b.mu.Lock()
	delete(b.pending, event.ID)
	if outcome.OK() {
		now := time.Now()
		for id, at := range b.delivered {
			if now.Sub(at) >= b.cfg.DeliveredTTL {
				delete(b.delivered, id)
			}
		}
		b.delivered[event.ID] = now
	}
	b.mu.Unlock()
}

// Pending returns how many events are queued or being delivered
func (b *Bus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}
