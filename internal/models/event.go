package models

import (
	"fmt"
	"time"

	"github.com/study-hub/internal/types"
)

// Event is a scheduled session of a study that accounts enroll in
type Event struct {
	ID                 string          `json:"id" db:"id"`
	StudyID            string          `json:"studyId" db:"study_id"`
	CreatedBy          string          `json:"createdBy" db:"created_by"`
	Title              string          `json:"title" db:"title"`
	Description        string          `json:"description" db:"description"`
	Type               types.EventType `json:"eventType" db:"event_type"`
	LimitOfEnrollments int             `json:"limitOfEnrollments" db:"limit_of_enrollments"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
	EndEnrollmentAt    time.Time       `json:"endEnrollmentAt" db:"end_enrollment_at"`
	StartAt            time.Time       `json:"startAt" db:"start_at"`
	EndAt              time.Time       `json:"endAt" db:"end_at"`
	// Enrollments are kept ordered by (EnrolledAt, Seq); that order is the waitlist priority.
	Enrollments []*Enrollment `json:"enrollments,omitempty"`
}

// Link is the relative URL of the event page
func (e *Event) Link(study *Study) string {
	return fmt.Sprintf("%s/events/%s", study.Link(), e.ID)
}

// Enrollment links one account to one event
type Enrollment struct {
	ID         string    `json:"id" db:"id"`
	EventID    string    `json:"eventId,omitempty" db:"event_id"`
	AccountID  string    `json:"accountId" db:"account_id"`
	EnrolledAt time.Time `json:"enrolledAt" db:"enrolled_at"`
	Seq        int64     `json:"seq" db:"seq"`
	Accepted   bool      `json:"accepted" db:"accepted"`
	Attended   bool      `json:"attended" db:"attended"`
}

// Before reports whether e has waitlist priority over other
func (e *Enrollment) Before(other *Enrollment) bool {
	if !e.EnrolledAt.Equal(other.EnrolledAt) {
		return e.EnrolledAt.Before(other.EnrolledAt)
	}
	return e.Seq < other.Seq
}
