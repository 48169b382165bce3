package memstore

import (
	"slices"
	"time"

	"github.com/study-hub/internal/models"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.EmailTokenGeneratedAt = cloneTime(a.EmailTokenGeneratedAt)
	c.JoinedAt = cloneTime(a.JoinedAt)
	c.Tags = slices.Clone(a.Tags)
	c.Zones = slices.Clone(a.Zones)
	return &c
}

func cloneStudy(s *models.Study) *models.Study {
	c := *s
	c.Managers = slices.Clone(s.Managers)
	c.Members = slices.Clone(s.Members)
	c.Tags = slices.Clone(s.Tags)
	c.Zones = slices.Clone(s.Zones)
	c.PublishedAt = cloneTime(s.PublishedAt)
	c.ClosedAt = cloneTime(s.ClosedAt)
	c.RecruitingUpdatedAt = cloneTime(s.RecruitingUpdatedAt)
	return &c
}

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	c.Enrollments = nil
	return &c
}

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	c := *e
	return &c
}

func cloneNotification(n *models.Notification) *models.Notification {
	c := *n
	return &c
}

func cloneDomainEvent(e *models.DomainEvent) *models.DomainEvent {
	c := *e
	c.DispatchedAt = cloneTime(e.DispatchedAt)
	return &c
}
