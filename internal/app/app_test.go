package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/mail"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/service"
	"github.com/study-hub/internal/storage/memstore"
	"github.com/study-hub/internal/types"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(queueSize int) *config.Config {
	return &config.Config{
		App:    config.AppConfig{Host: "http://localhost:8080", SiteName: "StudyHub"},
		Policy: config.PolicyConfig{RecruitingCooldown: time.Hour, EmailResendCooldown: 5 * time.Minute},
		Notification: config.NotificationConfig{
			Workers:            2,
			QueueSize:          queueSize,
			HandlerMaxAttempts: 1,
			HandlerRetryDelay:  time.Millisecond,
			EmailMaxAttempts:   1,
			EmailRetryDelay:    time.Millisecond,
			OutboxPollInterval: time.Hour,
			OutboxGracePeriod:  time.Minute,
			OutboxMaxAttempts:  5,
			OutboxBatchSize:    10,
		},
	}
}

func memStores(store *memstore.Store) Stores {
	return Stores{
		Tx:            store,
		Accounts:      store.Accounts(),
		Tags:          store.Tags(),
		Studies:       store.Studies(),
		Events:        store.Events(),
		Enrollments:   store.Enrollments(),
		Notifications: store.Notifications(),
		Outbox:        store.Outbox(),
		Deliveries:    memstore.NewDeliveryLog(),
	}
}

func seedAccount(t *testing.T, store *memstore.Store, nickname string) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:            uuid.NewString(),
		Email:         nickname + "@example.com",
		Nickname:      nickname,
		EmailVerified: true,
		Notifications: models.DefaultNotificationSettings(),
	}
	require.NoError(t, store.Accounts().Save(context.Background(), a))
	return a
}

func TestApp_EndToEndNotifications(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	a, err := New(testConfig(50), memStores(store), mail.LogSender{}, c.Now)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	manager := seedAccount(t, store, "manager")
	member := seedAccount(t, store, "member")

	_, err = a.Studies.CreateStudy(ctx, manager.ID, service.StudyForm{Path: "go", Title: "Go", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)
	_, err = a.Studies.PublishStudy(ctx, manager.ID, "go")
	require.NoError(t, err)
	_, err = a.Studies.StartRecruit(ctx, manager.ID, "go")
	require.NoError(t, err)
	_, err = a.Studies.AddMember(ctx, "go", member.ID)
	require.NoError(t, err)

	now := c.Now()
	_, err = a.Events.CreateEvent(ctx, manager.ID, "go", service.EventForm{
		Title:              "Kickoff",
		Type:               types.EventFCFS,
		LimitOfEnrollments: 2,
		EndEnrollmentAt:    now.Add(time.Hour),
		StartAt:            now.Add(2 * time.Hour),
		EndAt:              now.Add(3 * time.Hour),
	})
	require.NoError(t, err)

	a.Stop(ctx)

	outbox := store.Outbox().All()
	require.Len(t, outbox, 3, "created, recruiting started, event created")
	for _, e := range outbox {
		assert.NotNil(t, e.DispatchedAt, e.Type)
	}

	list, err := a.Notifications.ListNotifications(ctx, member.ID)
	require.NoError(t, err)
	var messages []string
	for _, n := range list.New {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "'Kickoff' event created")

	count, err := a.Notifications.CountUnread(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestApp_RelayRedeliversDroppedEvents(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	a, err := New(testConfig(1), memStores(store), mail.LogSender{}, c.Now)
	require.NoError(t, err)

	manager := seedAccount(t, store, "manager")
	_, err = a.Studies.CreateStudy(ctx, manager.ID, service.StudyForm{Path: "go", Title: "Go", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)

	// the bus is not consuming yet, so the second event overflows the queue
	_, err = a.Studies.PublishStudy(ctx, manager.ID, "go")
	require.NoError(t, err)
	_, err = a.Studies.StartRecruit(ctx, manager.ID, "go")
	require.NoError(t, err, "a full queue never fails the mutation")

	require.NoError(t, a.Bus.Start(ctx))
	require.Eventually(t, func() bool {
		pending := 0
		for _, e := range store.Outbox().All() {
			if e.DispatchedAt == nil {
				pending++
			}
		}
		return pending == 1
	}, time.Second, 5*time.Millisecond)

	n, err := a.Relay.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the grace period")

	c.Advance(2 * time.Minute)
	n, err = a.Relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a.Bus.Stop()

	for _, e := range store.Outbox().All() {
		assert.NotNil(t, e.DispatchedAt, e.Type)
	}
	count, err := a.Notifications.CountUnread(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "recruiting news reached the manager")
}

func TestApp_RelayDoesNotDuplicateQueuedEvents(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	a, err := New(testConfig(50), memStores(store), mail.LogSender{}, c.Now)
	require.NoError(t, err)

	manager := seedAccount(t, store, "manager")
	_, err = a.Studies.CreateStudy(ctx, manager.ID, service.StudyForm{Path: "go", Title: "Go", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)
	_, err = a.Studies.PublishStudy(ctx, manager.ID, "go")
	require.NoError(t, err)
	_, err = a.Studies.StartRecruit(ctx, manager.ID, "go")
	require.NoError(t, err)
	require.Equal(t, 2, a.Bus.Pending(), "queued while no worker consumes")

	// a backlog older than the grace period
	c.Advance(2 * time.Minute)
	for i := 0; i < 2; i++ {
		n, err := a.Relay.Poll(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "events still queued on the bus are not published again")
	}

	require.NoError(t, a.Bus.Start(ctx))
	a.Bus.Stop()

	for _, e := range store.Outbox().All() {
		assert.NotNil(t, e.DispatchedAt, e.Type)
		assert.Zero(t, e.Attempts, e.Type)
	}
	count, err := a.Notifications.CountUnread(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one recruiting notice for one recruiting event")
}
