package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// AccountRepository handles account persistence together with the account's
// tag and zone sets
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	a.id, a.email, a.nickname, a.password_hash, a.email_verified, a.email_token,
	a.email_token_generated_at, a.joined_at,
	a.bio, a.url, a.job, a.location, a.company, a.profile_image,
	a.study_created_by_email, a.study_created_by_web,
	a.study_registration_result_by_email, a.study_registration_result_by_web,
	a.study_updated_by_email, a.study_updated_by_web,
	a.created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Nickname, &a.PasswordHash, &a.EmailVerified, &a.EmailToken,
		&a.EmailTokenGeneratedAt, &a.JoinedAt,
		&a.Profile.Bio, &a.Profile.URL, &a.Profile.Job, &a.Profile.Location, &a.Profile.Company, &a.Profile.ProfileImage,
		&a.Notifications.StudyCreatedByEmail, &a.Notifications.StudyCreatedByWeb,
		&a.Notifications.StudyRegistrationResultByEmail, &a.Notifications.StudyRegistrationResultByWeb,
		&a.Notifications.StudyUpdatedByEmail, &a.Notifications.StudyUpdatedByWeb,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Save inserts or updates the account and replaces its tags and zones
func (r *AccountRepository) Save(ctx context.Context, account *models.Account) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO accounts (
				id, email, nickname, password_hash, email_verified, email_token,
				email_token_generated_at, joined_at,
				bio, url, job, location, company, profile_image,
				study_created_by_email, study_created_by_web,
				study_registration_result_by_email, study_registration_result_by_web,
				study_updated_by_email, study_updated_by_web, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				nickname = EXCLUDED.nickname,
				password_hash = EXCLUDED.password_hash,
				email_verified = EXCLUDED.email_verified,
				email_token = EXCLUDED.email_token,
				email_token_generated_at = EXCLUDED.email_token_generated_at,
				joined_at = EXCLUDED.joined_at,
				bio = EXCLUDED.bio,
				url = EXCLUDED.url,
				job = EXCLUDED.job,
				location = EXCLUDED.location,
				company = EXCLUDED.company,
				profile_image = EXCLUDED.profile_image,
				study_created_by_email = EXCLUDED.study_created_by_email,
				study_created_by_web = EXCLUDED.study_created_by_web,
				study_registration_result_by_email = EXCLUDED.study_registration_result_by_email,
				study_registration_result_by_web = EXCLUDED.study_registration_result_by_web,
				study_updated_by_email = EXCLUDED.study_updated_by_email,
				study_updated_by_web = EXCLUDED.study_updated_by_web
		`
		p, n := account.Profile, account.Notifications
		_, err := r.db.q(ctx).Exec(ctx, query,
			account.ID, account.Email, account.Nickname, account.PasswordHash, account.EmailVerified, account.EmailToken,
			account.EmailTokenGeneratedAt, account.JoinedAt,
			p.Bio, p.URL, p.Job, p.Location, p.Company, p.ProfileImage,
			n.StudyCreatedByEmail, n.StudyCreatedByWeb,
			n.StudyRegistrationResultByEmail, n.StudyRegistrationResultByWeb,
			n.StudyUpdatedByEmail, n.StudyUpdatedByWeb,
			account.CreatedAt,
		)
		if err != nil {
			if uniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("email or nickname already taken: %s", account.Nickname))
			}
			return apperrors.NewDatabaseError("save account", err)
		}

		if err := r.db.replaceSet(ctx, "account_tags", "account_id", "tag_id", account.ID, tagIDs(account.Tags)); err != nil {
			return err
		}
		return r.db.replaceSet(ctx, "account_zones", "account_id", "zone_id", account.ID, zoneIDs(account.Zones))
	})
}

// FindByID retrieves an account with its tags and zones
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, "a.id = $1", id)
}

// FindByEmailOrNickname retrieves an account by either of its unique handles
func (r *AccountRepository) FindByEmailOrNickname(ctx context.Context, emailOrNickname string) (*models.Account, error) {
	return r.findOne(ctx, "a.email = $1 OR a.nickname = $1", emailOrNickname)
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE ` + where

	account, err := scanAccount(r.db.q(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("account", arg)
		}
		return nil, apperrors.NewDatabaseError("get account", err)
	}

	if err := r.loadInterests(ctx, []*models.Account{account}); err != nil {
		return nil, err
	}
	return account, nil
}

// FindByIDs retrieves the accounts that exist among ids, in no particular order
func (r *AccountRepository) FindByIDs(ctx context.Context, ids []string) ([]*models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE a.id = ANY($1::uuid[])`
	return r.list(ctx, query, ids)
}

// FindByTagsAndZones returns accounts with at least one of the tags and at
// least one of the zones
func (r *AccountRepository) FindByTagsAndZones(ctx context.Context, tags []models.Tag, zones []models.Zone) ([]*models.Account, error) {
	if len(tags) == 0 || len(zones) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		WHERE EXISTS (SELECT 1 FROM account_tags t WHERE t.account_id = a.id AND t.tag_id = ANY($1::uuid[]))
		  AND EXISTS (SELECT 1 FROM account_zones z WHERE z.account_id = a.id AND z.zone_id = ANY($2::uuid[]))
	`
	return r.list(ctx, query, tagIDs(tags), zoneIDs(zones))
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*models.Account, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}

	if err := r.loadInterests(ctx, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// loadInterests fills Tags and Zones of accounts with two queries
func (r *AccountRepository) loadInterests(ctx context.Context, accounts []*models.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	byID := make(map[string]*models.Account, len(accounts))
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT at.account_id, t.id, t.title
		FROM account_tags at JOIN tags t ON t.id = at.tag_id
		WHERE at.account_id = ANY($1::uuid[])
		ORDER BY t.title
	`, ids)
	if err != nil {
		return apperrors.NewDatabaseError("load account tags", err)
	}
	for rows.Next() {
		var owner string
		var tag models.Tag
		if err := rows.Scan(&owner, &tag.ID, &tag.Title); err != nil {
			rows.Close()
			return apperrors.NewDatabaseError("scan account tag", err)
		}
		byID[owner].Tags = append(byID[owner].Tags, tag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.NewDatabaseError("load account tags", err)
	}

	rows, err = r.db.q(ctx).Query(ctx, `
		SELECT az.account_id, z.id, z.city, z.local_name_of_city, z.province
		FROM account_zones az JOIN zones z ON z.id = az.zone_id
		WHERE az.account_id = ANY($1::uuid[])
		ORDER BY z.city
	`, ids)
	if err != nil {
		return apperrors.NewDatabaseError("load account zones", err)
	}
	defer rows.Close()
	for rows.Next() {
		var owner string
		var zone models.Zone
		if err := rows.Scan(&owner, &zone.ID, &zone.City, &zone.LocalNameOfCity, &zone.Province); err != nil {
			return apperrors.NewDatabaseError("scan account zone", err)
		}
		byID[owner].Zones = append(byID[owner].Zones, zone)
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewDatabaseError("load account zones", err)
	}
	return nil
}

// ExistsByEmail checks whether email is registered
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email)
}

// ExistsByNickname checks whether nickname is taken
func (r *AccountRepository) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	return r.db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE nickname = $1)`, nickname)
}

func tagIDs(tags []models.Tag) []string {
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

func zoneIDs(zones []models.Zone) []string {
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return ids
}
