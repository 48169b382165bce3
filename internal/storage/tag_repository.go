package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// TagRepository stores interest tags and the reference zone table
type TagRepository struct {
	db *PostgresDB
}

// NewTagRepository creates a new tag repository
func NewTagRepository(db *PostgresDB) *TagRepository {
	return &TagRepository{db: db}
}

// FindTagByTitle retrieves a tag by its title
func (r *TagRepository) FindTagByTitle(ctx context.Context, title string) (*models.Tag, error) {
	var tag models.Tag
	err := r.db.q(ctx).QueryRow(ctx, `SELECT id, title FROM tags WHERE title = $1`, title).
		Scan(&tag.ID, &tag.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("tag", title)
		}
		return nil, apperrors.NewDatabaseError("get tag", err)
	}
	return &tag, nil
}

// FindOrCreateTag returns the tag titled title, registering it if needed.
// Concurrent creators converge on the same row.
func (r *TagRepository) FindOrCreateTag(ctx context.Context, title string) (*models.Tag, error) {
	query := `
		INSERT INTO tags (id, title) VALUES ($1, $2)
		ON CONFLICT (title) DO UPDATE SET title = EXCLUDED.title
		RETURNING id, title
	`
	var tag models.Tag
	if err := r.db.q(ctx).QueryRow(ctx, query, uuid.NewString(), title).Scan(&tag.ID, &tag.Title); err != nil {
		return nil, apperrors.NewDatabaseError("create tag", err)
	}
	return &tag, nil
}

// FindZone retrieves a reference zone by city and province
func (r *TagRepository) FindZone(ctx context.Context, city, province string) (*models.Zone, error) {
	var zone models.Zone
	err := r.db.q(ctx).QueryRow(ctx, `
		SELECT id, city, local_name_of_city, province
		FROM zones WHERE city = $1 AND province = $2
	`, city, province).Scan(&zone.ID, &zone.City, &zone.LocalNameOfCity, &zone.Province)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("zone", fmt.Sprintf("%s/%s", city, province))
		}
		return nil, apperrors.NewDatabaseError("get zone", err)
	}
	return &zone, nil
}

// SeedZones loads the reference zone table. Existing rows are kept.
func (r *TagRepository) SeedZones(ctx context.Context, zones []models.Zone) error {
	batch := &pgx.Batch{}
	for _, z := range zones {
		id := z.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(`
			INSERT INTO zones (id, city, local_name_of_city, province)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (city, province) DO NOTHING
		`, id, z.City, z.LocalNameOfCity, z.Province)
	}

	br := r.db.q(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for range zones {
		if _, err := br.Exec(); err != nil {
			return apperrors.NewDatabaseError("seed zones", err)
		}
	}
	return nil
}
