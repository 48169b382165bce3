package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/storage/memstore"
	"github.com/study-hub/internal/types"
)

// capturePublisher records what reaches the bus after commit
type capturePublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event models.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) ofType(t types.DomainEventType) []models.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.DomainEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *capturePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) SendVerification(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, account.EmailToken)
	return nil
}

type fixture struct {
	ctx           context.Context
	clock         *testClock
	store         *memstore.Store
	bus           *capturePublisher
	mailer        *fakeMailer
	studies       *StudyService
	events        *EventService
	accounts      *AccountService
	notifications *NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()
	store := memstore.New()
	bus := &capturePublisher{}
	mailer := &fakeMailer{}
	emitter := NewEmitter(store.Outbox(), bus, clock.Now)

	return &fixture{
		ctx:    context.Background(),
		clock:  clock,
		store:  store,
		bus:    bus,
		mailer: mailer,
		studies: NewStudyService(store, store.Studies(), store.Accounts(), store.Tags(), store.Tags(),
			emitter, NewStudyLifecycle(time.Hour, clock.Now), clock.Now),
		events: NewEventService(store, store.Studies(), store.Events(), store.Enrollments(), store.Accounts(),
			emitter, NewEnrollmentEngine(clock.Now), clock.Now),
		accounts: NewAccountService(store, store.Accounts(), store.Tags(), store.Tags(), mailer,
			5*time.Minute, clock.Now),
		notifications: NewNotificationService(store.Notifications()),
	}
}

// account stores a verified account directly
func (f *fixture) account(t *testing.T, nickname string) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:            uuid.NewString(),
		Email:         nickname + "@example.com",
		Nickname:      nickname,
		EmailVerified: true,
		Notifications: models.DefaultNotificationSettings(),
		CreatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.store.Accounts().Save(f.ctx, account))
	return account
}

// recruitingStudy creates, publishes and opens recruiting on a study
func (f *fixture) recruitingStudy(t *testing.T, manager *models.Account, path string) *models.Study {
	t.Helper()
	_, err := f.studies.CreateStudy(f.ctx, manager.ID, StudyForm{
		Path:             path,
		Title:            "Study " + path,
		ShortDescription: "short",
		FullDescription:  "<p>full</p>",
	})
	require.NoError(t, err)
	_, err = f.studies.PublishStudy(f.ctx, manager.ID, path)
	require.NoError(t, err)
	study, err := f.studies.StartRecruit(f.ctx, manager.ID, path)
	require.NoError(t, err)
	return study
}

func (f *fixture) eventForm(eventType types.EventType, limit int) EventForm {
	now := f.clock.Now()
	return EventForm{
		Title:              "Weekly session",
		Description:        "<p>bring a laptop</p><script>alert(1)</script>",
		Type:               eventType,
		LimitOfEnrollments: limit,
		EndEnrollmentAt:    now.Add(24 * time.Hour),
		StartAt:            now.Add(48 * time.Hour),
		EndAt:              now.Add(50 * time.Hour),
	}
}
