package service

import (
	"sync"
	"time"

	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

// testClock is a settable clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEvent(clock *testClock, eventType types.EventType, limit int) *models.Event {
	now := clock.Now()
	return &models.Event{
		ID:                 "event-1",
		StudyID:            "study-1",
		Title:              "Kickoff",
		Type:               eventType,
		LimitOfEnrollments: limit,
		CreatedAt:          now,
		EndEnrollmentAt:    now.Add(24 * time.Hour),
		StartAt:            now.Add(48 * time.Hour),
		EndAt:              now.Add(50 * time.Hour),
	}
}

func cloneEventDeep(e *models.Event) *models.Event {
	c := *e
	c.Enrollments = make([]*models.Enrollment, len(e.Enrollments))
	for i, en := range e.Enrollments {
		cp := *en
		c.Enrollments[i] = &cp
	}
	return &c
}

func acceptedIDs(e *models.Event) []string {
	var ids []string
	for _, en := range e.Enrollments {
		if en.Accepted {
			ids = append(ids, en.AccountID)
		}
	}
	return ids
}

func formOf(e *models.Event) EventForm {
	return EventForm{
		Title:              e.Title,
		Description:        e.Description,
		Type:               e.Type,
		LimitOfEnrollments: e.LimitOfEnrollments,
		EndEnrollmentAt:    e.EndEnrollmentAt,
		StartAt:            e.StartAt,
		EndAt:              e.EndAt,
	}
}
