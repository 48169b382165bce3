package service

import (
	"context"
	"time"

	"github.com/study-hub/internal/models"
)

// TxManager runs fn as one unit of work. Nested calls join the outer unit.
// After-commit hooks registered through package txn run only if the
// outermost unit commits.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountDirectory resolves accounts. Lookups of a missing account return a
// NotFoundError.
type AccountDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByIDs(ctx context.Context, ids []string) ([]*models.Account, error)
	FindByEmailOrNickname(ctx context.Context, emailOrNickname string) (*models.Account, error)
	// FindByTagsAndZones returns accounts sharing at least one tag and at least one zone.
	FindByTagsAndZones(ctx context.Context, tags []models.Tag, zones []models.Zone) ([]*models.Account, error)
}

// AccountStore is the writable side of the account directory
type AccountStore interface {
	AccountDirectory
	Save(ctx context.Context, account *models.Account) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)
}

// TagStore looks up and registers tags by title
type TagStore interface {
	FindTagByTitle(ctx context.Context, title string) (*models.Tag, error)
	FindOrCreateTag(ctx context.Context, title string) (*models.Tag, error)
}

// ZoneStore looks up reference zones
type ZoneStore interface {
	FindZone(ctx context.Context, city, province string) (*models.Zone, error)
}

// StudyStore persists study aggregates. Save writes the scalar fields and
// replaces the manager, member, tag and zone sets with the ones on study.
type StudyStore interface {
	Save(ctx context.Context, study *models.Study) error
	Delete(ctx context.Context, id string) error
	ExistsByPath(ctx context.Context, path string) (bool, error)
	FindByPath(ctx context.Context, path string) (*models.Study, error)
	FindByID(ctx context.Context, id string) (*models.Study, error)
	LoadStudyWithManagersAndMembers(ctx context.Context, id string) (*models.Study, error)
	LoadStudyWithTagsAndZones(ctx context.Context, id string) (*models.Study, error)
	// LoadStudyForUpdate returns the full aggregate and holds the study's
	// lock until the unit of work in ctx ends.
	LoadStudyForUpdate(ctx context.Context, path string) (*models.Study, error)

	// SearchStudies matches published studies by title, tag title or zone
	// local name. Results carry their tags and zones.
	SearchStudies(ctx context.Context, search models.StudySearch) (*models.StudyPage, error)
	// ListRecentlyPublished returns open studies, newest published first
	ListRecentlyPublished(ctx context.Context, limit int) ([]*models.Study, error)
	// ListRecommended returns open studies sharing a tag and a zone, newest
	// published first
	ListRecommended(ctx context.Context, tags []models.Tag, zones []models.Zone, limit int) ([]*models.Study, error)
	// ListManagedBy and ListJoinedBy return the account's studies that are
	// not closed, newest published first and drafts last
	ListManagedBy(ctx context.Context, accountID string, limit int) ([]*models.Study, error)
	ListJoinedBy(ctx context.Context, accountID string, limit int) ([]*models.Study, error)
}

// EventStore persists events. Save writes the event's own fields only.
type EventStore interface {
	Save(ctx context.Context, event *models.Event) error
	Delete(ctx context.Context, id string) error
	LoadEventWithEnrollments(ctx context.Context, id string) (*models.Event, error)
	// LoadEventWithEnrollmentsForUpdate serializes enrollment changes of one
	// event: the lock is held until the unit of work in ctx ends.
	LoadEventWithEnrollmentsForUpdate(ctx context.Context, id string) (*models.Event, error)
	ListByStudy(ctx context.Context, studyID string) ([]*models.Event, error)
}

// EnrollmentStore persists enrollments
type EnrollmentStore interface {
	Save(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByEventAndAccount(ctx context.Context, eventID, accountID string) (*models.Enrollment, error)
	ExistsByEventAndAccount(ctx context.Context, eventID, accountID string) (bool, error)
	// ListAcceptedByAccount returns the account's accepted enrollments,
	// latest enrollment first
	ListAcceptedByAccount(ctx context.Context, accountID string) ([]*models.Enrollment, error)
}

// NotificationStore persists web notifications
type NotificationStore interface {
	Save(ctx context.Context, notification *models.Notification) error
	CountUnread(ctx context.Context, accountID string) (int, error)
	ListByAccount(ctx context.Context, accountID string, checked bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, accountID string, ids []string) (int, error)
}

// OutboxStore persists domain events until they are dispatched
type OutboxStore interface {
	Append(ctx context.Context, event *models.DomainEvent) error
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	IncrementAttempts(ctx context.Context, id string) error
	// ListPending returns undispatched events that occurred before olderThan
	// and were attempted fewer than maxAttempts times, oldest first.
	ListPending(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.DomainEvent, error)
}
