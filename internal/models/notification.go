package models

import (
	"time"

	"github.com/study-hub/internal/types"
)

// Notification is a web notification shown to one account
type Notification struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Link      string                 `json:"link" db:"link"`
	Message   string                 `json:"message" db:"message"`
	Checked   bool                   `json:"checked" db:"checked"`
	AccountID string                 `json:"accountId" db:"account_id"`
	Type      types.NotificationType `json:"notificationType" db:"notification_type"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}

// DomainEvent is a state change other parts of the system react to. It is
// written to the outbox in the same transaction as the change and handed to
// the event bus after commit.
type DomainEvent struct {
	ID           string                `json:"id" db:"id"`
	Type         types.DomainEventType `json:"type" db:"event_type"`
	StudyID      string                `json:"studyId" db:"study_id"`
	EventID      string                `json:"eventId,omitempty" db:"event_id"`
	EnrollmentID string                `json:"enrollmentId,omitempty" db:"enrollment_id"`
	AccountID    string                `json:"accountId,omitempty" db:"account_id"`
	Accepted     bool                  `json:"accepted" db:"accepted"`
	Message      string                `json:"message,omitempty" db:"message"`
	OccurredAt   time.Time             `json:"occurredAt" db:"occurred_at"`
	DispatchedAt *time.Time            `json:"dispatchedAt,omitempty" db:"dispatched_at"`
	Attempts     int                   `json:"attempts" db:"attempts"`
}

// DeliveryRecord is one row of the notification delivery audit log
type DeliveryRecord struct {
	EventID     string                `json:"eventId"`
	EventType   types.DomainEventType `json:"eventType"`
	AccountID   string                `json:"accountId"`
	Channel     types.Channel         `json:"channel"`
	Status      types.DeliveryStatus  `json:"status"`
	Attempts    int                   `json:"attempts"`
	Error       string                `json:"error,omitempty"`
	DeliveredAt time.Time             `json:"deliveredAt"`
}
