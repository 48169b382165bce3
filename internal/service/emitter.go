package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/txn"
	"github.com/study-hub/internal/types"
)

// Publisher hands a committed domain event to its handlers
type Publisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Emitter records domain events in the outbox of the current unit of work
// and publishes them once that unit commits.
type Emitter struct {
	outbox OutboxStore
	bus    Publisher
	now    func() time.Time
}

// NewEmitter creates an emitter. A nil clock means time.Now.
func NewEmitter(outbox OutboxStore, bus Publisher, now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	return &Emitter{outbox: outbox, bus: bus, now: now}
}

// Emit must be called inside TxManager.WithinTx so that a rollback drops the event
func (e *Emitter) Emit(ctx context.Context, event models.DomainEvent) error {
	event.ID = uuid.NewString()
	event.OccurredAt = e.now()

	if err := e.outbox.Append(ctx, &event); err != nil {
		return fmt.Errorf("failed to append %s to outbox: %w", event.Type, err)
	}

	txn.AfterCommit(ctx, func(ctx context.Context) {
		if err := e.bus.Publish(ctx, event); err != nil {
			// the outbox relay picks it up after the grace period
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"eventId":   event.ID,
				"eventType": event.Type,
			}).WithError(err).Warn("Deferred domain event to outbox relay")
		}
	})
	return nil
}

// StudyCreated emits the event for a newly published study
func (e *Emitter) StudyCreated(ctx context.Context, study *models.Study) error {
	return e.Emit(ctx, models.DomainEvent{Type: types.EventStudyCreated, StudyID: study.ID})
}

// StudyUpdated emits a study news item for managers and members
func (e *Emitter) StudyUpdated(ctx context.Context, study *models.Study, message string) error {
	return e.Emit(ctx, models.DomainEvent{Type: types.EventStudyUpdated, StudyID: study.ID, Message: message})
}

// EnrollmentDecided emits a manager's accept or reject for the enrollee
func (e *Emitter) EnrollmentDecided(ctx context.Context, event *models.Event, enrollment *models.Enrollment) error {
	return e.Emit(ctx, models.DomainEvent{
		Type:         types.EventEnrollmentDecided,
		StudyID:      event.StudyID,
		EventID:      event.ID,
		EnrollmentID: enrollment.ID,
		AccountID:    enrollment.AccountID,
		Accepted:     enrollment.Accepted,
	})
}
