package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/htmlsanitize"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
)

// EventService runs event management and enrollment operations. Every
// enrollment change holds the event's lock for its whole unit of work.
type EventService struct {
	tx          TxManager
	studies     StudyStore
	events      EventStore
	enrollments EnrollmentStore
	accounts    AccountDirectory
	emitter     *Emitter
	engine      *EnrollmentEngine
	now         func() time.Time
}

// NewEventService creates a new event service
func NewEventService(
	tx TxManager,
	studies StudyStore,
	events EventStore,
	enrollments EnrollmentStore,
	accounts AccountDirectory,
	emitter *Emitter,
	engine *EnrollmentEngine,
	now func() time.Time,
) *EventService {
	if now == nil {
		now = time.Now
	}
	return &EventService{
		tx:          tx,
		studies:     studies,
		events:      events,
		enrollments: enrollments,
		accounts:    accounts,
		emitter:     emitter,
		engine:      engine,
		now:         now,
	}
}

func notManager(actorID string, study *models.Study) error {
	return apperrors.NewPermissionError(fmt.Sprintf("account %s does not manage study %s", actorID, study.Path))
}

// CreateEvent schedules an event in a study managed by actorID
func (s *EventService) CreateEvent(ctx context.Context, actorID, studyPath string, form EventForm) (*models.Event, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if !form.EndEnrollmentAt.After(s.now()) {
		return nil, apperrors.NewValidationError("endEnrollmentAt", "must be in the future")
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		CreatedBy: actorID,
		CreatedAt: s.now(),
	}
	form.Description = htmlsanitize.Sanitize(form.Description)
	form.ApplyTo(event)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		study, err := s.studies.LoadStudyForUpdate(ctx, studyPath)
		if err != nil {
			return err
		}
		if !study.IsManagedBy(actorID) {
			return notManager(actorID, study)
		}
		if study.Closed {
			return apperrors.NewInvalidStateError("study "+study.Path, "closed studies cannot schedule events")
		}
		event.StudyID = study.ID
		if err := s.events.Save(ctx, event); err != nil {
			return err
		}
		return s.emitter.StudyUpdated(ctx, study, fmt.Sprintf("'%s' event created", event.Title))
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"event": event.ID,
		"study": studyPath,
		"type":  event.Type,
		"limit": event.LimitOfEnrollments,
	}).Info("Event created")
	return event, nil
}

// withManagedEvent locks the event, checks that actorID manages its study and runs fn
func (s *EventService) withManagedEvent(ctx context.Context, actorID, eventID string, fn func(ctx context.Context, study *models.Study, event *models.Event) error) (*models.Event, error) {
	var event *models.Event
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		event, err = s.events.LoadEventWithEnrollmentsForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		study, err := s.studies.FindByID(ctx, event.StudyID)
		if err != nil {
			return err
		}
		if !study.IsManagedBy(actorID) {
			return notManager(actorID, study)
		}
		return fn(ctx, study, event)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// UpdateEvent applies an edit and promotes waiting enrollments into freed capacity
func (s *EventService) UpdateEvent(ctx context.Context, actorID, eventID string, form EventForm) (*models.Event, error) {
	form.Description = htmlsanitize.Sanitize(form.Description)
	return s.withManagedEvent(ctx, actorID, eventID, func(ctx context.Context, study *models.Study, event *models.Event) error {
		promoted, err := s.engine.UpdateFrom(event, form)
		if err != nil {
			return err
		}
		if err := s.events.Save(ctx, event); err != nil {
			return err
		}
		if err := s.saveEnrollments(ctx, promoted); err != nil {
			return err
		}
		if len(promoted) > 0 {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"event":    event.ID,
				"promoted": len(promoted),
			}).Info("Waitlist promoted after event update")
		}
		return s.emitter.StudyUpdated(ctx, study, fmt.Sprintf("'%s' event updated", event.Title))
	})
}

// DeleteEvent cancels an event together with its enrollments
func (s *EventService) DeleteEvent(ctx context.Context, actorID, eventID string) error {
	_, err := s.withManagedEvent(ctx, actorID, eventID, func(ctx context.Context, study *models.Study, event *models.Event) error {
		if err := s.events.Delete(ctx, event.ID); err != nil {
			return err
		}
		return s.emitter.StudyUpdated(ctx, study, fmt.Sprintf("'%s' event cancelled", event.Title))
	})
	return err
}

// Enroll registers accountID for the event. Enrolling twice returns the
// existing enrollment.
func (s *EventService) Enroll(ctx context.Context, accountID, eventID string) (*models.Enrollment, error) {
	var enrollment *models.Enrollment
	var created bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
			return err
		}
		event, err := s.events.LoadEventWithEnrollmentsForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		study, err := s.studies.FindByID(ctx, event.StudyID)
		if err != nil {
			return err
		}
		if !study.Published || study.Closed {
			return apperrors.NewInvalidStateError("study "+study.Path, "enrollment requires a published, open study")
		}
		if !s.engine.IsOpen(event) {
			return apperrors.NewInvalidStateError("event "+event.ID, "enrollment period has ended")
		}
		enrollment, created = s.engine.Enroll(event, accountID, uuid.NewString())
		if !created {
			return nil
		}
		return s.enrollments.Save(ctx, enrollment)
	})
	if err != nil {
		return nil, err
	}

	if created {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"event":    eventID,
			"account":  accountID,
			"accepted": enrollment.Accepted,
		}).Info("Account enrolled")
	}
	return enrollment, nil
}

// Leave withdraws accountID from the event and promotes the waitlist. Leaving
// is refused once the enrollment window has closed. Attended enrollments stay
// untouched.
func (s *EventService) Leave(ctx context.Context, accountID, eventID string) (*models.Event, error) {
	var event *models.Event
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		event, err = s.events.LoadEventWithEnrollmentsForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if s.engine.EnrollmentOf(event, accountID) == nil {
			return apperrors.NewNotFoundError("enrollment", eventID+"/"+accountID)
		}
		if !s.engine.IsOpen(event) {
			return apperrors.NewInvalidStateError("event "+event.ID, "enrollment period has ended")
		}

		removed, promoted, left := s.engine.Leave(event, accountID)
		if !left {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"event":   eventID,
				"account": accountID,
			}).Info("Attended enrollment cannot leave")
			return nil
		}
		if err := s.enrollments.Delete(ctx, removed.ID); err != nil {
			return err
		}
		return s.saveEnrollments(ctx, promoted)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// decision mutates one enrollment and reports whether it changed
type decision func(event *models.Event, enrollment *models.Enrollment) (bool, error)

func infallible(fn func(*models.Event, *models.Enrollment) bool) decision {
	return func(event *models.Event, enrollment *models.Enrollment) (bool, error) {
		return fn(event, enrollment), nil
	}
}

// decide applies fn to one enrollment of an event managed by actorID and
// saves it when fn reports a change.

func (s *EventService) decide(ctx context.Context, actorID, eventID, enrollmentID string, fn decision, notify bool) (*models.Enrollment, error) {
	var enrollment *models.Enrollment
	_, err := s.withManagedEvent(ctx, actorID, eventID, func(ctx context.Context, study *models.Study, event *models.Event) error {
		for _, e := range event.Enrollments {
			if e.ID == enrollmentID {
				enrollment = e
				break
			}
		}
		if enrollment == nil {
			return apperrors.NewNotFoundError("enrollment", enrollmentID)
		}
		changed, err := fn(event, enrollment)
		if err != nil || !changed {
			return err
		}
		if err := s.enrollments.Save(ctx, enrollment); err != nil {
			return err
		}
		if !notify {
			return nil
		}
		return s.emitter.EnrollmentDecided(ctx, event, enrollment)
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// AcceptEnrollment accepts a waiting enrollment of a CONFIRMATIVE event.
// Duplicate accepts and accepts beyond capacity are ignored.
func (s *EventService) AcceptEnrollment(ctx context.Context, actorID, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, eventID, enrollmentID, infallible(s.engine.Accept), true)
}

// RejectEnrollment withdraws the acceptance of an enrollment of a CONFIRMATIVE event
func (s *EventService) RejectEnrollment(ctx context.Context, actorID, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, eventID, enrollmentID, infallible(s.engine.Reject), true)
}

// CheckIn marks the enrollee as attended. Only accepted enrollments can be
// checked in.
func (s *EventService) CheckIn(ctx context.Context, actorID, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, eventID, enrollmentID, func(_ *models.Event, e *models.Enrollment) (bool, error) {
		if e.Attended {
			return false, nil
		}
		if !e.Accepted {
			return false, apperrors.NewInvalidStateError("enrollment "+e.ID, "only accepted enrollments can be checked in")
		}
		s.engine.Attend(e)
		return true, nil
	}, false)
}

// CancelCheckIn clears the attended flag
func (s *EventService) CancelCheckIn(ctx context.Context, actorID, eventID, enrollmentID string) (*models.Enrollment, error) {
	return s.decide(ctx, actorID, eventID, enrollmentID, func(_ *models.Event, e *models.Enrollment) (bool, error) {
		if !e.Attended {
			return false, nil
		}
		s.engine.Unattend(e)
		return true, nil
	}, false)
}

// GetEvent returns the event with its ordered enrollments
func (s *EventService) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	return s.events.LoadEventWithEnrollments(ctx, eventID)
}

// ListEvents returns the events of a study
func (s *EventService) ListEvents(ctx context.Context, studyPath string) ([]*models.Event, error) {
	study, err := s.studies.FindByPath(ctx, studyPath)
	if err != nil {
		return nil, err
	}
	return s.events.ListByStudy(ctx, study.ID)
}

// AcceptedEnrollments lists the account's accepted enrollments, latest first
func (s *EventService) AcceptedEnrollments(ctx context.Context, accountID string) ([]*models.Enrollment, error) {
	return s.enrollments.ListAcceptedByAccount(ctx, accountID)
}

func (s *EventService) saveEnrollments(ctx context.Context, enrollments []*models.Enrollment) error {
	for _, e := range enrollments {
		if err := s.enrollments.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
