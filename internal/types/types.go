// Package types provides common type definitions for the study hub.
package types

import "fmt"

// EventType decides how enrollments in an event are accepted
type EventType string

const (
	// EventFCFS auto-accepts enrollments while capacity remains
	EventFCFS EventType = "FCFS"
	// EventConfirmative requires a manager to accept or reject each enrollment
	EventConfirmative EventType = "CONFIRMATIVE"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	return t == EventFCFS || t == EventConfirmative
}

// ParseEventType parses a stored or submitted event type
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// NotificationType tags a persisted web notification
type NotificationType string

const (
	NotificationStudyCreated    NotificationType = "STUDY_CREATED"
	NotificationStudyUpdated    NotificationType = "STUDY_UPDATED"
	NotificationEventEnrollment NotificationType = "EVENT_ENROLLMENT"
)

// DomainEventType keys handlers on the event bus
type DomainEventType string

const (
	// EventStudyCreated fires when a study is published
	EventStudyCreated DomainEventType = "study.created"
	// EventStudyUpdated fires on any change study members should hear about
	EventStudyUpdated DomainEventType = "study.updated"
	// EventEnrollmentDecided fires when a manager accepts or rejects an enrollment
	EventEnrollmentDecided DomainEventType = "enrollment.decided"
)

// AllDomainEventTypes lists every event type the bus knows about
func AllDomainEventTypes() []DomainEventType {
	return []DomainEventType{EventStudyCreated, EventStudyUpdated, EventEnrollmentDecided}
}

// Channel names a notification delivery channel
type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelEmail Channel = "email"
)

// DeliveryStatus is the outcome of a single delivery attempt sequence
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// StudySort orders study search results
type StudySort string

const (
	SortByPublishedAt StudySort = "publishedAt"
	SortByMemberCount StudySort = "memberCount"
)

// Valid reports whether s is a known sort key
func (s StudySort) Valid() bool {
	return s == SortByPublishedAt || s == SortByMemberCount
}
