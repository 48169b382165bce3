package service

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

// EnrollmentEngine holds the enrollment state machine of a single event.
// It mutates the event in memory only; callers persist the enrollments it
// returns and must hold the event's lock while calling it.
type EnrollmentEngine struct {
	now func() time.Time
}

// NewEnrollmentEngine creates an engine. A nil clock means time.Now.
func NewEnrollmentEngine(now func() time.Time) *EnrollmentEngine {
	if now == nil {
		now = time.Now
	}
	return &EnrollmentEngine{now: now}
}

// AcceptedCount counts accepted enrollments
func (g *EnrollmentEngine) AcceptedCount(event *models.Event) int {
	n := 0
	for _, e := range event.Enrollments {
		if e.Accepted {
			n++
		}
	}
	return n
}

// WaitingCount counts enrollments that are not accepted
func (g *EnrollmentEngine) WaitingCount(event *models.Event) int {
	return len(event.Enrollments) - g.AcceptedCount(event)
}

// RemainingSpots is the free capacity, never negative
func (g *EnrollmentEngine) RemainingSpots(event *models.Event) int {
	return max(0, event.LimitOfEnrollments-g.AcceptedCount(event))
}

// IsOpen reports whether the enrollment window is still open
func (g *EnrollmentEngine) IsOpen(event *models.Event) bool {
	return g.now().Before(event.EndEnrollmentAt)
}

// EnrollmentOf returns accountID's enrollment in event, or nil
func (g *EnrollmentEngine) EnrollmentOf(event *models.Event, accountID string) *models.Enrollment {
	for _, e := range event.Enrollments {
		if e.AccountID == accountID {
			return e
		}
	}
	return nil
}

// IsEnrollable reports whether accountID may enroll now
func (g *EnrollmentEngine) IsEnrollable(event *models.Event, accountID string) bool {
	existing := g.EnrollmentOf(event, accountID)
	return g.IsOpen(event) && existing == nil
}

// IsDisenrollable reports whether accountID may leave now
func (g *EnrollmentEngine) IsDisenrollable(event *models.Event, accountID string) bool {
	existing := g.EnrollmentOf(event, accountID)
	return g.IsOpen(event) && existing != nil && !existing.Attended
}

func (g *EnrollmentEngine) isAbleToAutoAccept(event *models.Event) bool {
	return event.Type == types.EventFCFS && g.RemainingSpots(event) > 0
}

// Enroll adds an enrollment for accountID. If one exists it is returned with
// created == false and nothing changes.
func (g *EnrollmentEngine) Enroll(event *models.Event, accountID, enrollmentID string) (enrollment *models.Enrollment, created bool) {
	if existing := g.EnrollmentOf(event, accountID); existing != nil {
		return existing, false
	}

	var seq int64
	for _, e := range event.Enrollments {
		seq = max(seq, e.Seq)
	}

	enrollment = &models.Enrollment{
		ID:         enrollmentID,
		EventID:    event.ID,
		AccountID:  accountID,
		EnrolledAt: g.now(),
		Seq:        seq + 1,
		Accepted:   g.isAbleToAutoAccept(event),
	}
	g.insertOrdered(event, enrollment)
	return enrollment, true
}

// insertOrdered keeps Enrollments sorted by (EnrolledAt, Seq)
func (g *EnrollmentEngine) insertOrdered(event *models.Event, enrollment *models.Enrollment) {
	i := len(event.Enrollments)
	for i > 0 && enrollment.Before(event.Enrollments[i-1]) {
		i--
	}
	event.Enrollments = slices.Insert(event.Enrollments, i, enrollment)
}

// Leave removes accountID's enrollment and promotes the waitlist into the
// freed spot. An attended enrollment stays; left is false in that case.
func (g *EnrollmentEngine) Leave(event *models.Event, accountID string) (removed *models.Enrollment, promoted []*models.Enrollment, left bool) {
	i := slices.IndexFunc(event.Enrollments, func(e *models.Enrollment) bool { return e.AccountID == accountID })
	if i < 0 {
		return nil, nil, false
	}
	removed = event.Enrollments[i]
	if removed.Attended {
		return removed, nil, false
	}

	event.Enrollments = slices.Delete(event.Enrollments, i, i+1)
	removed.EventID = ""
	return removed, g.PromoteWaitlist(event), true
}

// PromoteWaitlist accepts the earliest waiting enrollments of an FCFS event
// while capacity remains. At most RemainingSpots entries are touched, so a
// second call without freed capacity changes nothing.
func (g *EnrollmentEngine) PromoteWaitlist(event *models.Event) []*models.Enrollment {
	if event.Type != types.EventFCFS {
		return nil
	}
	var promoted []*models.Enrollment
	budget := g.RemainingSpots(event)
	for _, e := range event.Enrollments {
		if budget == 0 {
			break
		}
		if e.Accepted {
			continue
		}
		e.Accepted = true
		promoted = append(promoted, e)
		budget--
	}
	return promoted
}

// AcceptWaitlistBatch accepts min(RemainingSpots, WaitingCount) of the
// earliest waiting enrollments. It runs after an event edit, which may have
// raised the limit or switched the event to FCFS.
func (g *EnrollmentEngine) AcceptWaitlistBatch(event *models.Event) []*models.Enrollment {
	if event.Type != types.EventFCFS {
		return nil
	}
	numberToAccept := min(g.RemainingSpots(event), g.WaitingCount(event))
	if numberToAccept == 0 {
		return nil
	}

	waiting := make([]*models.Enrollment, 0, numberToAccept)
	for _, e := range event.Enrollments {
		if !e.Accepted {
			waiting = append(waiting, e)
			if len(waiting) == numberToAccept {
				break
			}
		}
	}
	for _, e := range waiting {
		e.Accepted = true
	}
	return waiting
}

func (g *EnrollmentEngine) belongs(event *models.Event, enrollment *models.Enrollment) bool {
	return slices.ContainsFunc(event.Enrollments, func(e *models.Enrollment) bool { return e.ID == enrollment.ID })
}

// IsAcceptable reports whether a manager may accept enrollment now
func (g *EnrollmentEngine) IsAcceptable(event *models.Event, enrollment *models.Enrollment) bool {
	return event.Type == types.EventConfirmative &&
		g.belongs(event, enrollment) &&
		g.RemainingSpots(event) > 0 &&
		!enrollment.Attended &&
		!enrollment.Accepted
}

// IsRejectable reports whether a manager may reject enrollment now
func (g *EnrollmentEngine) IsRejectable(event *models.Event, enrollment *models.Enrollment) bool {
	return event.Type == types.EventConfirmative &&
		g.belongs(event, enrollment) &&
		!enrollment.Attended &&
		enrollment.Accepted
}

// Accept marks enrollment accepted. Duplicate or over-capacity accepts are
// ignored; changed reports whether anything happened.
func (g *EnrollmentEngine) Accept(event *models.Event, enrollment *models.Enrollment) (changed bool) {
	if !g.IsAcceptable(event, enrollment) {
		return false
	}
	enrollment.Accepted = true
	return true
}

// Reject withdraws an acceptance. Rejecting a waiting enrollment is ignored.
func (g *EnrollmentEngine) Reject(event *models.Event, enrollment *models.Enrollment) (changed bool) {
	if !g.IsRejectable(event, enrollment) {
		return false
	}
	enrollment.Accepted = false
	return true
}

// Attend checks the enrollee in
func (g *EnrollmentEngine) Attend(enrollment *models.Enrollment) {
	enrollment.Attended = true
}

// Unattend cancels a check-in
func (g *EnrollmentEngine) Unattend(enrollment *models.Enrollment) {
	enrollment.Attended = false
}

// EventForm carries the editable fields of an event
type EventForm struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Type               types.EventType `json:"eventType"`
	LimitOfEnrollments int             `json:"limitOfEnrollments"`
	EndEnrollmentAt    time.Time       `json:"endEnrollmentAt"`
	StartAt            time.Time       `json:"startAt"`
	EndAt              time.Time       `json:"endAt"`
}

const maxEventTitleLength = 50

// Validate checks the form on its own
func (f *EventForm) Validate() error {
	title := strings.TrimSpace(f.Title)
	if title == "" {
		return apperrors.NewValidationError("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > maxEventTitleLength {
		return apperrors.NewValidationError("title", "must be at most 50 characters")
	}
	if !f.Type.Valid() {
		return apperrors.NewValidationError("eventType", "must be FCFS or CONFIRMATIVE")
	}
	if f.LimitOfEnrollments < 1 {
		return apperrors.NewValidationError("limitOfEnrollments", "must be at least 1")
	}
	if f.StartAt.Before(f.EndEnrollmentAt) {
		return apperrors.NewValidationError("startAt", "must not be before the end of enrollment")
	}
	if !f.EndAt.After(f.StartAt) {
		return apperrors.NewValidationError("endAt", "must be after the start")
	}
	return nil
}

// ApplyTo copies the form onto a new event
func (f *EventForm) ApplyTo(event *models.Event) {
	event.Title = strings.TrimSpace(f.Title)
	event.Description = f.Description
	event.Type = f.Type
	event.LimitOfEnrollments = f.LimitOfEnrollments
	event.EndEnrollmentAt = f.EndEnrollmentAt
	event.StartAt = f.StartAt
	event.EndAt = f.EndAt
}

// UpdateFrom applies an edit and promotes the waitlist into any capacity it
// freed. The limit may not drop below the number already accepted.
func (g *EnrollmentEngine) UpdateFrom(event *models.Event, form EventForm) ([]*models.Enrollment, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if accepted := g.AcceptedCount(event); form.LimitOfEnrollments < accepted {
		return nil, apperrors.NewValidationError("limitOfEnrollments",
			"must not be below the number of accepted enrollments")
	}
	form.ApplyTo(event)
	return g.AcceptWaitlistBatch(event), nil
}
