package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// EventRepository handles events and loads them with their enrollments
type EventRepository struct {
	db *PostgresDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *PostgresDB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `
	id, study_id, created_by, title, description, event_type, limit_of_enrollments,
	created_at, end_enrollment_at, start_at, end_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ID, &e.StudyID, &e.CreatedBy, &e.Title, &e.Description, &e.Type, &e.LimitOfEnrollments,
		&e.CreatedAt, &e.EndEnrollmentAt, &e.StartAt, &e.EndAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Save upserts the event's own fields; enrollments are saved separately
func (r *EventRepository) Save(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			event_type = EXCLUDED.event_type,
			limit_of_enrollments = EXCLUDED.limit_of_enrollments,
			end_enrollment_at = EXCLUDED.end_enrollment_at,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at
	`
	_, err := r.db.q(ctx).Exec(ctx, query,
		event.ID, event.StudyID, event.CreatedBy, event.Title, event.Description, event.Type, event.LimitOfEnrollments,
		event.CreatedAt, event.EndEnrollmentAt, event.StartAt, event.EndAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("save event", err)
	}
	return nil
}

// Delete removes an event; its enrollments cascade
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete event", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("event", id)
	}
	return nil
}

// LoadEventWithEnrollments retrieves an event with its enrollments in waitlist order
func (r *EventRepository) LoadEventWithEnrollments(ctx context.Context, id string) (*models.Event, error) {
	return r.load(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
}

// LoadEventWithEnrollmentsForUpdate is LoadEventWithEnrollments holding the
// event row lock. Every enrollment change takes this lock first, so it
// serializes them per event.
func (r *EventRepository) LoadEventWithEnrollmentsForUpdate(ctx context.Context, id string) (*models.Event, error) {
	return r.load(ctx, forUpdate(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`), id)
}

func (r *EventRepository) load(ctx context.Context, query, id string) (*models.Event, error) {
	event, err := scanEvent(r.db.q(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("event", id)
		}
		return nil, apperrors.NewDatabaseError("get event", err)
	}

	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE event_id = $1
		ORDER BY enrolled_at, seq
	`, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load enrollments", err)
	}
	event.Enrollments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Enrollment, error) {
		return scanEnrollment(row)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("load enrollments", err)
	}
	return event, nil
}

// ListByStudy returns the events of a study by start time, without enrollments
func (r *EventRepository) ListByStudy(ctx context.Context, studyID string) ([]*models.Event, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE study_id = $1
		ORDER BY start_at
	`, studyID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("list events", err)
	}
	return events, nil
}
