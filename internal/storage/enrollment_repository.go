package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// EnrollmentRepository handles enrollment persistence
type EnrollmentRepository struct {
	db *PostgresDB
}

// NewEnrollmentRepository creates a new enrollment repository
func NewEnrollmentRepository(db *PostgresDB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, event_id, account_id, enrolled_at, seq, accepted, attended`

func scanEnrollment(row pgx.Row) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := row.Scan(&e.ID, &e.EventID, &e.AccountID, &e.EnrolledAt, &e.Seq, &e.Accepted, &e.Attended); err != nil {
		return nil, err
	}
	return &e, nil
}

// Save upserts an enrollment. A second enrollment of the same account in
// the same event is a conflict.
func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (` + enrollmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			accepted = EXCLUDED.accepted,
			attended = EXCLUDED.attended
	`
	_, err := r.db.q(ctx).Exec(ctx, query,
		enrollment.ID, enrollment.EventID, enrollment.AccountID, enrollment.EnrolledAt,
		enrollment.Seq, enrollment.Accepted, enrollment.Attended,
	)
	if err != nil {
		if uniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("account %s is already enrolled in event %s", enrollment.AccountID, enrollment.EventID))
		}
		return apperrors.NewDatabaseError("save enrollment", err)
	}
	return nil
}

// Delete removes an enrollment
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete enrollment", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("enrollment", id)
	}
	return nil
}

// FindByID retrieves an enrollment
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.findOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id, id)
}

// FindByEventAndAccount retrieves the enrollment of accountID in eventID
func (r *EnrollmentRepository) FindByEventAndAccount(ctx context.Context, eventID, accountID string) (*models.Enrollment, error) {
	return r.findOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE event_id = $1 AND account_id = $2`,
		eventID+"/"+accountID, eventID, accountID)
}

func (r *EnrollmentRepository) findOne(ctx context.Context, query, key string, args ...any) (*models.Enrollment, error) {
	enrollment, err := scanEnrollment(r.db.q(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("enrollment", key)
		}
		return nil, apperrors.NewDatabaseError("get enrollment", err)
	}
	return enrollment, nil
}

// ExistsByEventAndAccount checks whether accountID is enrolled in eventID
func (r *EnrollmentRepository) ExistsByEventAndAccount(ctx context.Context, eventID, accountID string) (bool, error) {
	return r.db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM enrollments WHERE event_id = $1 AND account_id = $2)`, eventID, accountID)
}

// ListAcceptedByAccount returns accountID's accepted enrollments, latest first
func (r *EnrollmentRepository) ListAcceptedByAccount(ctx context.Context, accountID string) ([]*models.Enrollment, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE account_id = $1 AND accepted
		ORDER BY enrolled_at DESC, seq DESC
	`, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accepted enrollments", err)
	}
	enrollments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Enrollment, error) {
		return scanEnrollment(row)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accepted enrollments", err)
	}
	return enrollments, nil
}
