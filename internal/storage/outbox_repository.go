package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// OutboxRepository stores domain events written in the same transaction as
// the change they describe
type OutboxRepository struct {
	db *PostgresDB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *PostgresDB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append inserts a domain event. Optional ids are stored as NULL when empty.
func (r *OutboxRepository) Append(ctx context.Context, e *models.DomainEvent) error {
	query := `
		INSERT INTO outbox_events (
			id, event_type, study_id, event_id, enrollment_id, account_id,
			accepted, message, occurred_at, attempts
		) VALUES (
			$1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid,
			$7, $8, $9, $10
		)
	`
	_, err := r.db.q(ctx).Exec(ctx, query,
		e.ID, e.Type, e.StudyID, e.EventID, e.EnrollmentID, e.AccountID,
		e.Accepted, e.Message, e.OccurredAt, e.Attempts,
	)
	if err != nil {
		return apperrors.NewDatabaseError("append outbox event", err)
	}
	return nil
}

// MarkDispatched records that every handler ran for the event
func (r *OutboxRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`UPDATE outbox_events SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`, id, at)
	if err != nil {
		return apperrors.NewDatabaseError("mark outbox event dispatched", err)
	}
	return nil
}

// IncrementAttempts counts one relay attempt
func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.q(ctx).Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("increment outbox attempts", err)
	}
	return nil
}

// ListPending returns undispatched events older than olderThan, oldest first
func (r *OutboxRepository) ListPending(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.DomainEvent, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT id, event_type, study_id,
			COALESCE(event_id::text, ''), COALESCE(enrollment_id::text, ''), COALESCE(account_id::text, ''),
			accepted, message, occurred_at, dispatched_at, attempts
		FROM outbox_events
		WHERE dispatched_at IS NULL AND occurred_at < $1 AND attempts < $2
		ORDER BY occurred_at
		LIMIT $3
	`, olderThan, maxAttempts, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending outbox events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.DomainEvent, error) {
		var e models.DomainEvent
		err := row.Scan(&e.ID, &e.Type, &e.StudyID, &e.EventID, &e.EnrollmentID, &e.AccountID,
			&e.Accepted, &e.Message, &e.OccurredAt, &e.DispatchedAt, &e.Attempts)
		return &e, err
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending outbox events", err)
	}
	return events, nil
}
