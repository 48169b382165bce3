package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/htmlsanitize"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
)

var studyPathPattern = regexp.MustCompile(`^[\p{L}\p{N}_-]{2,20}$`)

const (
	maxStudyTitleLength            = 50
	maxStudyShortDescriptionLength = 100
)

// StudyForm carries the fields of a new study
type StudyForm struct {
	Path             string `json:"path"`
	Title            string `json:"title"`
	ShortDescription string `json:"shortDescription"`
	FullDescription  string `json:"fullDescription"`
}

// StudyDescriptionForm carries an edit of the study descriptions
type StudyDescriptionForm struct {
	ShortDescription string `json:"shortDescription"`
	FullDescription  string `json:"fullDescription"`
}

// StudyService runs study lifecycle and membership operations in units of work
type StudyService struct {
	tx        TxManager
	studies   StudyStore
	accounts  AccountDirectory
	tags      TagStore
	zones     ZoneStore
	emitter   *Emitter
	lifecycle *StudyLifecycle
	now       func() time.Time
}

// NewStudyService creates a new study service
func NewStudyService(
	tx TxManager,
	studies StudyStore,
	accounts AccountDirectory,
	tags TagStore,
	zones ZoneStore,
	emitter *Emitter,
	lifecycle *StudyLifecycle,
	now func() time.Time,
) *StudyService {
	if now == nil {
		now = time.Now
	}
	return &StudyService{
		tx:        tx,
		studies:   studies,
		accounts:  accounts,
		tags:      tags,
		zones:     zones,
		emitter:   emitter,
		lifecycle: lifecycle,
		now:       now,
	}
}

// ValidatePath checks a study path slug
func ValidatePath(path string) error {
	if !studyPathPattern.MatchString(path) {
		return apperrors.NewValidationError("path", "must be 2-20 letters, digits, '_' or '-'")
	}
	return nil
}

// ValidateTitle checks a study title
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.NewValidationError("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > maxStudyTitleLength {
		return apperrors.NewValidationError("title", "must be at most 50 characters")
	}
	return nil
}

func validateDescriptions(short, full string) error {
	if strings.TrimSpace(short) == "" {
		return apperrors.NewValidationError("shortDescription", "must not be empty")
	}
	if utf8.RuneCountInString(short) > maxStudyShortDescriptionLength {
		return apperrors.NewValidationError("shortDescription", "must be at most 100 characters")
	}
	if strings.TrimSpace(full) == "" {
		return apperrors.NewValidationError("fullDescription", "must not be empty")
	}
	return nil
}

// CreateStudy registers a draft study managed by actorID
func (s *StudyService) CreateStudy(ctx context.Context, actorID string, form StudyForm) (*models.Study, error) {
	if err := ValidatePath(form.Path); err != nil {
		return nil, err
	}
	if err := ValidateTitle(form.Title); err != nil {
		return nil, err
	}
	if err := validateDescriptions(form.ShortDescription, form.FullDescription); err != nil {
		return nil, err
	}

	study := &models.Study{
		ID:               uuid.NewString(),
		Path:             form.Path,
		Title:            strings.TrimSpace(form.Title),
		ShortDescription: htmlsanitize.StripAll(form.ShortDescription),
		FullDescription:  htmlsanitize.Sanitize(form.FullDescription),
		Managers:         []string{actorID},
		CreatedAt:        s.now(),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.FindByID(ctx, actorID); err != nil {
			return err
		}
		exists, err := s.studies.ExistsByPath(ctx, form.Path)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.NewConflictError(fmt.Sprintf("study path already in use: %s", form.Path))
		}
		return s.studies.Save(ctx, study)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"study":   study.Path,
		"manager": actorID,
	}).Info("Study created")
	return study, nil
}

// mutateManaged loads the study for update, checks actorID manages it, runs
// fn and saves the result, all in one unit of work.
func (s *StudyService) mutateManaged(ctx context.Context, actorID, path string, fn func(ctx context.Context, study *models.Study) error) (*models.Study, error) {
	var study *models.Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		study, err = s.studies.LoadStudyForUpdate(ctx, path)
		if err != nil {
			return err
		}
		if !study.IsManagedBy(actorID) {
			return apperrors.NewPermissionError(fmt.Sprintf("account %s does not manage study %s", actorID, path))
		}
		if err := fn(ctx, study); err != nil {
			return err
		}
		return s.studies.Save(ctx, study)
	})
	if err != nil {
		return nil, err
	}
	return study, nil
}

// PublishStudy opens a draft study and announces it to interested accounts
func (s *StudyService) PublishStudy(ctx context.Context, actorID, path string) (*models.Study, error) {
	study, err := s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		if err := s.lifecycle.Publish(study); err != nil {
			return err
		}
		return s.emitter.StudyCreated(ctx, study)
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithField("study", path).Info("Study published")
	return study, nil
}

// CloseStudy ends a published study
func (s *StudyService) CloseStudy(ctx context.Context, actorID, path string) (*models.Study, error) {
	study, err := s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		if err := s.lifecycle.Close(study); err != nil {
			return err
		}
		return s.emitter.StudyUpdated(ctx, study, "study closed")
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithField("study", path).Info("Study closed")
	return study, nil
}

// StartRecruit opens recruiting of new members
func (s *StudyService) StartRecruit(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		if err := s.lifecycle.StartRecruit(study); err != nil {
			return err
		}
		return s.emitter.StudyUpdated(ctx, study, "recruiting started")
	})
}

// StopRecruit closes recruiting of new members
func (s *StudyService) StopRecruit(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		if err := s.lifecycle.StopRecruit(study); err != nil {
			return err
		}
		return s.emitter.StudyUpdated(ctx, study, "recruiting stopped")
	})
}

// AddMember joins accountID to the study
func (s *StudyService) AddMember(ctx context.Context, path, accountID string) (*models.Study, error) {
	var study *models.Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
			return err
		}
		var err error
		study, err = s.studies.LoadStudyForUpdate(ctx, path)
		if err != nil {
			return err
		}
		if err := s.lifecycle.AddMember(study, accountID); err != nil {
			return err
		}
		return s.studies.Save(ctx, study)
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"study":   path,
		"account": accountID,
		"members": study.MemberCount,
	}).Info("Member joined study")
	return study, nil
}

// RemoveMember removes accountID from the members. Removing a non-member is a no-op.
func (s *StudyService) RemoveMember(ctx context.Context, path, accountID string) (*models.Study, error) {
	var study *models.Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		study, err = s.studies.LoadStudyForUpdate(ctx, path)
		if err != nil {
			return err
		}
		if !s.lifecycle.RemoveMember(study, accountID) {
			return nil
		}
		return s.studies.Save(ctx, study)
	})
	if err != nil {
		return nil, err
	}
	return study, nil
}

// RemoveStudy deletes a study that was never published
func (s *StudyService) RemoveStudy(ctx context.Context, actorID, path string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		study, err := s.studies.LoadStudyForUpdate(ctx, path)
		if err != nil {
			return err
		}
		if !study.IsManagedBy(actorID) {
			return apperrors.NewPermissionError(fmt.Sprintf("account %s does not manage study %s", actorID, path))
		}
		if err := s.lifecycle.Remove(study); err != nil {
			return err
		}
		return s.studies.Delete(ctx, study.ID)
	})
}

// UpdateStudyDescription replaces both descriptions and notifies the study
func (s *StudyService) UpdateStudyDescription(ctx context.Context, actorID, path string, form StudyDescriptionForm) (*models.Study, error) {
	if err := validateDescriptions(form.ShortDescription, form.FullDescription); err != nil {
		return nil, err
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		study.ShortDescription = htmlsanitize.StripAll(form.ShortDescription)
		study.FullDescription = htmlsanitize.Sanitize(form.FullDescription)
		return s.emitter.StudyUpdated(ctx, study, "study description updated")
	})
}

// UpdateStudyPath moves the study to a new unique path
func (s *StudyService) UpdateStudyPath(ctx context.Context, actorID, path, newPath string) (*models.Study, error) {
	if err := ValidatePath(newPath); err != nil {
		return nil, err
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		if newPath == study.Path {
			return nil
		}
		exists, err := s.studies.ExistsByPath(ctx, newPath)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.NewConflictError(fmt.Sprintf("study path already in use: %s", newPath))
		}
		study.Path = newPath
		return nil
	})
}

// UpdateStudyTitle renames the study
func (s *StudyService) UpdateStudyTitle(ctx context.Context, actorID, path, title string) (*models.Study, error) {
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		study.Title = strings.TrimSpace(title)
		return nil
	})
}

// UpdateBanner sets the banner image
func (s *StudyService) UpdateBanner(ctx context.Context, actorID, path, image string) (*models.Study, error) {
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		study.Image = image
		return nil
	})
}

// EnableBanner shows the banner on the study page
func (s *StudyService) EnableBanner(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.setBanner(ctx, actorID, path, true)
}

// DisableBanner hides the banner
func (s *StudyService) DisableBanner(ctx context.Context, actorID, path string) (*models.Study, error) {
	return s.setBanner(ctx, actorID, path, false)
}

func (s *StudyService) setBanner(ctx context.Context, actorID, path string, use bool) (*models.Study, error) {
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		study.UseBanner = use
		return nil
	})
}

// AddStudyTag tags the study, creating the tag if it is new
func (s *StudyService) AddStudyTag(ctx context.Context, actorID, path, title string) (*models.Study, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("tag", "must not be empty")
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		tag, err := s.tags.FindOrCreateTag(ctx, title)
		if err != nil {
			return err
		}
		if !models.ContainsTag(study.Tags, tag.ID) {
			study.Tags = append(study.Tags, *tag)
		}
		return nil
	})
}

// RemoveStudyTag removes a tag from the study
func (s *StudyService) RemoveStudyTag(ctx context.Context, actorID, path, title string) (*models.Study, error) {
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		tag, err := s.tags.FindTagByTitle(ctx, strings.TrimSpace(title))
		if err != nil {
			return err
		}
		study.Tags = removeTag(study.Tags, tag.ID)
		return nil
	})
}

// AddStudyZone adds a zone given as "City(Local)/Province"
func (s *StudyService) AddStudyZone(ctx context.Context, actorID, path, zoneName string) (*models.Study, error) {
	city, province, err := ParseZoneName(zoneName)
	if err != nil {
		return nil, err
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		zone, err := s.zones.FindZone(ctx, city, province)
		if err != nil {
			return err
		}
		if !models.ContainsZone(study.Zones, zone.ID) {
			study.Zones = append(study.Zones, *zone)
		}
		return nil
	})
}

// RemoveStudyZone removes a zone given as "City(Local)/Province"
func (s *StudyService) RemoveStudyZone(ctx context.Context, actorID, path, zoneName string) (*models.Study, error) {
	city, province, err := ParseZoneName(zoneName)
	if err != nil {
		return nil, err
	}
	return s.mutateManaged(ctx, actorID, path, func(ctx context.Context, study *models.Study) error {
		zone, err := s.zones.FindZone(ctx, city, province)
		if err != nil {
			return err
		}
		study.Zones = removeZone(study.Zones, zone.ID)
		return nil
	})
}

// GetStudy returns the full study aggregate
func (s *StudyService) GetStudy(ctx context.Context, path string) (*models.Study, error) {
	return s.studies.FindByPath(ctx, path)
}

// ParseZoneName splits "City(Local)/Province" into city and province
func ParseZoneName(name string) (city, province string, err error) {
	open := strings.Index(name, "(")
	slash := strings.LastIndex(name, "/")
	if open <= 0 || slash < open || slash == len(name)-1 {
		return "", "", apperrors.NewValidationError("zone", "expected City(Local)/Province")
	}
	return strings.TrimSpace(name[:open]), strings.TrimSpace(name[slash+1:]), nil
}

func removeTag(tags []models.Tag, id string) []models.Tag {
	out := tags[:0]
	for _, t := range tags {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func removeZone(zones []models.Zone, id string) []models.Zone {
	out := zones[:0]
	for _, z := range zones {
		if z.ID != id {
			out = append(out, z)
		}
	}
	return out
}
