package memstore

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// Events is the event table view
type Events struct{ s *Store }

// Events returns the event store
func (s *Store) Events() *Events { return &Events{s: s} }

func eventLock(id string) string { return "event:" + id }

// Save upserts the event's own fields
func (e *Events) Save(ctx context.Context, event *models.Event) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	put(ctx, e.s.events, event.ID, cloneEvent(event))
	return nil
}

// Delete removes the event and its enrollments
func (e *Events) Delete(ctx context.Context, id string) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if !e.s.deleteEventLocked(ctx, id) {
		return apperrors.NewNotFoundError("event", id)
	}
	return nil
}

// deleteEventLocked cascades to enrollments. Caller holds s.mu.
func (s *Store) deleteEventLocked(ctx context.Context, id string) bool {
	if !remove(ctx, s.events, id) {
		return false
	}
	for enrollmentID, enrollment := range s.enrollments {
		if enrollment.EventID == id {
			remove(ctx, s.enrollments, enrollmentID)
		}
	}
	return true
}

// LoadEventWithEnrollments returns the event with enrollments in waitlist order
func (e *Events) LoadEventWithEnrollments(_ context.Context, id string) (*models.Event, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	stored, ok := e.s.events[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("event", id)
	}
	event := cloneEvent(stored)
	for _, enrollment := range e.s.enrollments {
		if enrollment.EventID == id {
			event.Enrollments = append(event.Enrollments, cloneEnrollment(enrollment))
		}
	}
	sort.Slice(event.Enrollments, func(i, j int) bool {
		return event.Enrollments[i].Before(event.Enrollments[j])
	})
	return event, nil
}

// LoadEventWithEnrollmentsForUpdate holds the event lock until the unit of work ends
func (e *Events) LoadEventWithEnrollmentsForUpdate(ctx context.Context, id string) (*models.Event, error) {
	if _, err := e.LoadEventWithEnrollments(ctx, id); err != nil {
		return nil, err
	}
	if err := e.s.lock(ctx, eventLock(id)); err != nil {
		return nil, err
	}
	return e.LoadEventWithEnrollments(ctx, id)
}

// ListByStudy returns the study's events by start time
func (e *Events) ListByStudy(_ context.Context, studyID string) ([]*models.Event, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	var out []*models.Event
	for _, event := range e.s.events {
		if event.StudyID == studyID {
			out = append(out, cloneEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// Enrollments is the enrollment table view
type Enrollments struct{ s *Store }

// Enrollments returns the enrollment store
func (s *Store) Enrollments() *Enrollments { return &Enrollments{s: s} }

// Save upserts an enrollment; one per (event, account)
func (en *Enrollments) Save(ctx context.Context, enrollment *models.Enrollment) error {
	en.s.mu.Lock()
	defer en.s.mu.Unlock()
	if _, ok := en.s.events[enrollment.EventID]; !ok {
		return apperrors.NewNotFoundError("event", enrollment.EventID)
	}
	for id, other := range en.s.enrollments {
		if id != enrollment.ID && other.EventID == enrollment.EventID && other.AccountID == enrollment.AccountID {
			return apperrors.NewConflictError(fmt.Sprintf("account %s is already enrolled in event %s", enrollment.AccountID, enrollment.EventID))
		}
	}
	put(ctx, en.s.enrollments, enrollment.ID, cloneEnrollment(enrollment))
	return nil
}

// Delete removes an enrollment
func (en *Enrollments) Delete(ctx context.Context, id string) error {
	en.s.mu.Lock()
	defer en.s.mu.Unlock()
	if !remove(ctx, en.s.enrollments, id) {
		return apperrors.NewNotFoundError("enrollment", id)
	}
	return nil
}

// FindByID returns a copy of the enrollment
func (en *Enrollments) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	en.s.mu.Lock()
	defer en.s.mu.Unlock()
	enrollment, ok := en.s.enrollments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("enrollment", id)
	}
	return cloneEnrollment(enrollment), nil
}

// FindByEventAndAccount returns the enrollment of accountID in eventID
func (en *Enrollments) FindByEventAndAccount(_ context.Context, eventID, accountID string) (*models.Enrollment, error) {
	en.s.mu.Lock()
	defer en.s.mu.Unlock()
	for _, enrollment := range en.s.enrollments {
		if enrollment.EventID == eventID && enrollment.AccountID == accountID {
			return cloneEnrollment(enrollment), nil
		}
	}
	return nil, apperrors.NewNotFoundError("enrollment", eventID+"/"+accountID)
}

// ExistsByEventAndAccount checks for an enrollment of accountID in eventID
func (en *Enrollments) ExistsByEventAndAccount(ctx context.Context, eventID, accountID string) (bool, error) {
	_, err := en.FindByEventAndAccount(ctx, eventID, accountID)
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ListAcceptedByAccount returns the account's accepted enrollments, latest first
func (en *Enrollments) ListAcceptedByAccount(_ context.Context, accountID string) ([]*models.Enrollment, error) {
	en.s.mu.Lock()
	defer en.s.mu.Unlock()
	var out []*models.Enrollment
	for _, enrollment := range en.s.enrollments {
		if enrollment.AccountID == accountID && enrollment.Accepted {
			out = append(out, cloneEnrollment(enrollment))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out, nil
}
