package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-hub/internal/eventbus"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/storage/memstore"
)

type recordingBus struct {
	mu        sync.Mutex
	published []models.DomainEvent
	capacity  int
	inFlight  map[string]bool
	delivered map[string]bool
}

func (b *recordingBus) Publish(_ context.Context, event models.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight[event.ID] {
		return eventbus.ErrAlreadyPending
	}
	if b.delivered[event.ID] {
		return eventbus.ErrRecentlyDelivered
	}
	if b.capacity > 0 && len(b.published) >= b.capacity {
		return eventbus.ErrQueueFull
	}
	b.published = append(b.published, event)
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestNewOutboxRelay_Validation(t *testing.T) {
	_, err := NewOutboxRelay(&OutboxRelayConfig{Bus: &recordingBus{}})
	assert.Error(t, err)
	_, err = NewOutboxRelay(&OutboxRelayConfig{Outbox: memstore.New().Outbox()})
	assert.Error(t, err)
}

func TestOutboxRelay_Poll(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	outbox := store.Outbox()
	ctx := context.Background()

	require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: "overdue", OccurredAt: now.Add(-5 * time.Minute)}))
	require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: "recent", OccurredAt: now.Add(-10 * time.Second)}))

	bus := &recordingBus{}
	relay, err := NewOutboxRelay(&OutboxRelayConfig{
		Outbox:      outbox,
		Bus:         bus,
		GracePeriod: time.Minute,
		MaxAttempts: 2,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "overdue", bus.published[0].ID)

	// second failed round exhausts the attempts
	n, err = relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutboxRelay_HandleOutcome(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	outbox := store.Outbox()
	ctx := context.Background()

	require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: "ok", OccurredAt: now.Add(-time.Hour)}))
	require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: "failed", OccurredAt: now.Add(-time.Hour)}))

	relay, err := NewOutboxRelay(&OutboxRelayConfig{Outbox: outbox, Bus: &recordingBus{}, Now: func() time.Time { return now }})
	require.NoError(t, err)

	relay.HandleOutcome(ctx, eventbus.Outcome{Event: models.DomainEvent{ID: "ok"}, Handlers: 1})
	relay.HandleOutcome(ctx, eventbus.Outcome{Event: models.DomainEvent{ID: "failed"}, Handlers: 1, Failed: []string{"notification.study.updated"}})

	pending, err := outbox.ListPending(ctx, now, 5, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "failed", pending[0].ID)
}

func TestOutboxRelay_StopsOnFullQueue(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	outbox := store.Outbox()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: id, OccurredAt: now.Add(-time.Hour)}))
	}

	bus := &recordingBus{capacity: 2}
	relay, err := NewOutboxRelay(&OutboxRelayConfig{Outbox: outbox, Bus: bus, Now: func() time.Time { return now }})
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := outbox.ListPending(ctx, now, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the event that did not fit keeps its attempt budget")
}

func TestOutboxRelay_SkipsEventsPendingOnBus(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	outbox := store.Outbox()
	ctx := context.Background()
	for _, id := range []string{"queued", "lost"} {
		require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: id, OccurredAt: now.Add(-time.Hour)}))
	}

	bus := &recordingBus{inFlight: map[string]bool{"queued": true}}
	relay, err := NewOutboxRelay(&OutboxRelayConfig{Outbox: outbox, Bus: bus, MaxAttempts: 1, Now: func() time.Time { return now }})
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "lost", bus.published[0].ID)

	pending, err := outbox.ListPending(ctx, now, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "queued", pending[0].ID, "a skipped event keeps its attempt budget")
}

func TestOutboxRelay_StartStop(t *testing.T) {
	store := memstore.New()
	bus := &recordingBus{}
	require.NoError(t, store.Outbox().Append(context.Background(), &models.DomainEvent{ID: "x", OccurredAt: time.Now().Add(-time.Hour)}))

	relay, err := NewOutboxRelay(&OutboxRelayConfig{
		Outbox:       store.Outbox(),
		Bus:          bus,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, relay.Start(ctx))
	assert.Error(t, relay.Start(ctx))

	assert.Eventually(t, func() bool { return bus.count() > 0 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(stopCtx))
	assert.Error(t, relay.Stop(stopCtx))
}

func TestOutboxRelay_SkipsEventsDeliveredSinceListing(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	outbox := memstore.New().Outbox()
	ctx := context.Background()
	require.NoError(t, outbox.Append(ctx, &models.DomainEvent{ID: "done", OccurredAt: now.Add(-time.Hour)}))

	// delivery finished after the row was listed but before MarkDispatched was seen
	bus := &recordingBus{delivered: map[string]bool{"done": true}}
	relay, err := NewOutboxRelay(&OutboxRelayConfig{Outbox: outbox, Bus: bus, MaxAttempts: 3, Now: func() time.Time { return now }})
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, bus.count())

	pending, err := outbox.ListPending(ctx, now, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].Attempts)
}
