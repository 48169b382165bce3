package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

// StudyRepository handles study aggregates: the study row plus its manager,
// member, tag and zone sets
type StudyRepository struct {
	db *PostgresDB
}

// NewStudyRepository creates a new study repository
func NewStudyRepository(db *PostgresDB) *StudyRepository {
	return &StudyRepository{db: db}
}

const studyColumns = `
	id, path, title, short_description, full_description, image, use_banner,
	member_count, published, published_at, closed, closed_at,
	recruiting, recruiting_updated_at, created_at`

func scanStudy(row pgx.Row) (*models.Study, error) {
	var s models.Study
	err := row.Scan(
		&s.ID, &s.Path, &s.Title, &s.ShortDescription, &s.FullDescription, &s.Image, &s.UseBanner,
		&s.MemberCount, &s.Published, &s.PublishedAt, &s.Closed, &s.ClosedAt,
		&s.Recruiting, &s.RecruitingUpdatedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Save upserts the study and replaces its sets. MemberCount is written as
// the size of the member set.
func (r *StudyRepository) Save(ctx context.Context, study *models.Study) error {
	study.MemberCount = len(study.Members)
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO studies (` + studyColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				path = EXCLUDED.path,
				title = EXCLUDED.title,
				short_description = EXCLUDED.short_description,
				full_description = EXCLUDED.full_description,
				image = EXCLUDED.image,
				use_banner = EXCLUDED.use_banner,
				member_count = EXCLUDED.member_count,
				published = EXCLUDED.published,
				published_at = EXCLUDED.published_at,
				closed = EXCLUDED.closed,
				closed_at = EXCLUDED.closed_at,
				recruiting = EXCLUDED.recruiting,
				recruiting_updated_at = EXCLUDED.recruiting_updated_at
		`
		_, err := r.db.q(ctx).Exec(ctx, query,
			study.ID, study.Path, study.Title, study.ShortDescription, study.FullDescription, study.Image, study.UseBanner,
			study.MemberCount, study.Published, study.PublishedAt, study.Closed, study.ClosedAt,
			study.Recruiting, study.RecruitingUpdatedAt, study.CreatedAt,
		)
		if err != nil {
			if uniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("study path already in use: %s", study.Path))
			}
			return apperrors.NewDatabaseError("save study", err)
		}

		sets := []struct {
			table, col string
			ids        []string
		}{
			{"study_managers", "account_id", study.Managers},
			{"study_members", "account_id", study.Members},
			{"study_tags", "tag_id", tagIDs(study.Tags)},
			{"study_zones", "zone_id", zoneIDs(study.Zones)},
		}
		for _, s := range sets {
			if err := r.db.replaceSet(ctx, s.table, "study_id", s.col, study.ID, s.ids); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a study; its sets and events cascade
func (r *StudyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM studies WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete study", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("study", id)
	}
	return nil
}

// ExistsByPath checks whether path is taken
func (r *StudyRepository) ExistsByPath(ctx context.Context, path string) (bool, error) {
	return r.db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM studies WHERE path = $1)`, path)
}

func (r *StudyRepository) findOne(ctx context.Context, query, key string) (*models.Study, error) {
	study, err := scanStudy(r.db.q(ctx).QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("study", key)
		}
		return nil, apperrors.NewDatabaseError("get study", err)
	}
	return study, nil
}

// FindByPath retrieves the full study aggregate, the fetch behind study views
func (r *StudyRepository) FindByPath(ctx context.Context, path string) (*models.Study, error) {
	study, err := r.findOne(ctx, `SELECT `+studyColumns+` FROM studies WHERE path = $1`, path)
	if err != nil {
		return nil, err
	}
	if err := r.loadAggregate(ctx, study); err != nil {
		return nil, err
	}
	return study, nil
}

// FindByID retrieves a study with its managers
func (r *StudyRepository) FindByID(ctx context.Context, id string) (*models.Study, error) {
	study, err := r.findOne(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if study.Managers, err = r.accountSet(ctx, "study_managers", study.ID); err != nil {
		return nil, err
	}
	return study, nil
}

// LoadStudyWithManagersAndMembers is the fetch for StudyUpdated dispatch
func (r *StudyRepository) LoadStudyWithManagersAndMembers(ctx context.Context, id string) (*models.Study, error) {
	study, err := r.findOne(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if study.Managers, err = r.accountSet(ctx, "study_managers", id); err != nil {
		return nil, err
	}
	if study.Members, err = r.accountSet(ctx, "study_members", id); err != nil {
		return nil, err
	}
	return study, nil
}

// LoadStudyWithTagsAndZones is the fetch for StudyCreated dispatch
func (r *StudyRepository) LoadStudyWithTagsAndZones(ctx context.Context, id string) (*models.Study, error) {
	study, err := r.findOne(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadTagsAndZones(ctx, study); err != nil {
		return nil, err
	}
	return study, nil
}

// LoadStudyForUpdate locks the study row and returns the full aggregate
func (r *StudyRepository) LoadStudyForUpdate(ctx context.Context, path string) (*models.Study, error) {
	study, err := r.findOne(ctx, forUpdate(ctx, `SELECT `+studyColumns+` FROM studies WHERE path = $1`), path)
	if err != nil {
		return nil, err
	}
	if err := r.loadAggregate(ctx, study); err != nil {
		return nil, err
	}
	return study, nil
}

func (r *StudyRepository) loadAggregate(ctx context.Context, study *models.Study) error {
	var err error
	if study.Managers, err = r.accountSet(ctx, "study_managers", study.ID); err != nil {
		return err
	}
	if study.Members, err = r.accountSet(ctx, "study_members", study.ID); err != nil {
		return err
	}
	return r.loadTagsAndZones(ctx, study)
}

func (r *StudyRepository) accountSet(ctx context.Context, table, studyID string) ([]string, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		fmt.Sprintf(`SELECT account_id::text FROM %s WHERE study_id = $1 ORDER BY account_id`, table), studyID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load "+table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewDatabaseError("load "+table, err)
	}
	return ids, nil
}

func (r *StudyRepository) loadTagsAndZones(ctx context.Context, study *models.Study) error {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT t.id, t.title
		FROM study_tags st JOIN tags t ON t.id = st.tag_id
		WHERE st.study_id = $1
		ORDER BY t.title
	`, study.ID)
	if err != nil {
		return apperrors.NewDatabaseError("load study tags", err)
	}
	study.Tags, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Tag, error) {
		var t models.Tag
		err := row.Scan(&t.ID, &t.Title)
		return t, err
	})
	if err != nil {
		return apperrors.NewDatabaseError("load study tags", err)
	}

	rows, err = r.db.q(ctx).Query(ctx, `
		SELECT z.id, z.city, z.local_name_of_city, z.province
		FROM study_zones sz JOIN zones z ON z.id = sz.zone_id
		WHERE sz.study_id = $1
		ORDER BY z.city
	`, study.ID)
	if err != nil {
		return apperrors.NewDatabaseError("load study zones", err)
	}
	study.Zones, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Zone, error) {
		var z models.Zone
		err := row.Scan(&z.ID, &z.City, &z.LocalNameOfCity, &z.Province)
		return z, err
	})
	if err != nil {
		return apperrors.NewDatabaseError("load study zones", err)
	}
	return nil
}

// qualified prefixes every study column with the s alias
var qualifiedStudyColumns = func() string {
	cols := strings.Split(studyColumns, ",")
	for i, c := range cols {
		cols[i] = "s." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}()

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const keywordMatch = `
	s.published AND (
		s.title ILIKE $1
		OR EXISTS (SELECT 1 FROM study_tags st JOIN tags t ON t.id = st.tag_id
			WHERE st.study_id = s.id AND t.title ILIKE $1)
		OR EXISTS (SELECT 1 FROM study_zones sz JOIN zones z ON z.id = sz.zone_id
			WHERE sz.study_id = s.id AND z.local_name_of_city ILIKE $1)
	)`

// SearchStudies pages through published studies whose title, tag titles or
// zone city names contain the keyword
func (r *StudyRepository) SearchStudies(ctx context.Context, search models.StudySearch) (*models.StudyPage, error) {
	pattern := "%" + likeEscaper.Replace(search.Keyword) + "%"

	page := &models.StudyPage{Page: search.Page, Size: search.Size}
	if err := r.db.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM studies s WHERE`+keywordMatch, pattern).Scan(&page.Total); err != nil {
		return nil, apperrors.NewDatabaseError("count studies", err)
	}

	order := "s.published_at"
	if search.Sort == types.SortByMemberCount {
		order = "s.member_count"
	}
	if search.Descending {
		order += " DESC"
	}
	query := `SELECT ` + qualifiedStudyColumns + ` FROM studies s WHERE` + keywordMatch +
		` ORDER BY ` + order + `, s.id LIMIT $2 OFFSET $3`

	studies, err := r.list(ctx, "search studies", query, pattern, search.Size, search.Offset())
	if err != nil {
		return nil, err
	}
	page.Studies = studies
	return page, nil
}

// ListRecentlyPublished returns open studies, newest first
func (r *StudyRepository) ListRecentlyPublished(ctx context.Context, limit int) ([]*models.Study, error) {
	return r.list(ctx, "list recent studies", `
		SELECT `+qualifiedStudyColumns+` FROM studies s
		WHERE s.published AND NOT s.closed
		ORDER BY s.published_at DESC, s.id
		LIMIT $1
	`, limit)
}

// ListRecommended returns open studies sharing at least one tag and one zone
// with the given interests, newest first
func (r *StudyRepository) ListRecommended(ctx context.Context, tags []models.Tag, zones []models.Zone, limit int) ([]*models.Study, error) {
	if len(tags) == 0 || len(zones) == 0 {
		return []*models.Study{}, nil
	}
	return r.list(ctx, "list recommended studies", `
		SELECT `+qualifiedStudyColumns+` FROM studies s
		WHERE s.published AND NOT s.closed
			AND EXISTS (SELECT 1 FROM study_tags st WHERE st.study_id = s.id AND st.tag_id = ANY($1::uuid[]))
			AND EXISTS (SELECT 1 FROM study_zones sz WHERE sz.study_id = s.id AND sz.zone_id = ANY($2::uuid[]))
		ORDER BY s.published_at DESC, s.id
		LIMIT $3
	`, tagIDs(tags), zoneIDs(zones), limit)
}

// ListManagedBy returns studies accountID manages that are not closed, drafts last
func (r *StudyRepository) ListManagedBy(ctx context.Context, accountID string, limit int) ([]*models.Study, error) {
	return r.listByAccount(ctx, "study_managers", accountID, limit)
}

// ListJoinedBy returns studies accountID has joined that are not closed, drafts last
func (r *StudyRepository) ListJoinedBy(ctx context.Context, accountID string, limit int) ([]*models.Study, error) {
	return r.listByAccount(ctx, "study_members", accountID, limit)
}

func (r *StudyRepository) listByAccount(ctx context.Context, table, accountID string, limit int) ([]*models.Study, error) {
	return r.list(ctx, "list "+table, fmt.Sprintf(`
		SELECT %s FROM studies s
		JOIN %s a ON a.study_id = s.id
		WHERE a.account_id = $1 AND NOT s.closed
		ORDER BY s.published_at DESC NULLS LAST, s.id
		LIMIT $2
	`, qualifiedStudyColumns, table), accountID, limit)
}

// list runs a study query and attaches tags and zones to every row
func (r *StudyRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.Study, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	studies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Study, error) {
		return scanStudy(row)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	for _, study := range studies {
		if err := r.loadTagsAndZones(ctx, study); err != nil {
			return nil, err
		}
	}
	return studies, nil
}
