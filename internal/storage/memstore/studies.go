package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

// Studies is the study aggregate view
type Studies struct{ s *Store }

// Studies returns the study store
func (s *Store) Studies() *Studies { return &Studies{s: s} }

func studyLock(id string) string { return "study:" + id }

// Save upserts the aggregate; MemberCount follows the member set
func (st *Studies) Save(ctx context.Context, study *models.Study) error {
	study.MemberCount = len(study.Members)
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for id, other := range st.s.studies {
		if id != study.ID && other.Path == study.Path {
			return apperrors.NewConflictError(fmt.Sprintf("study path already in use: %s", study.Path))
		}
	}
	put(ctx, st.s.studies, study.ID, cloneStudy(study))
	return nil
}

// Delete removes the study with its events and their enrollments
func (st *Studies) Delete(ctx context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if !remove(ctx, st.s.studies, id) {
		return apperrors.NewNotFoundError("study", id)
	}
	for eventID, event := range st.s.events {
		if event.StudyID == id {
			st.s.deleteEventLocked(ctx, eventID)
		}
	}
	return nil
}

// ExistsByPath checks whether path is taken
func (st *Studies) ExistsByPath(_ context.Context, path string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, study := range st.s.studies {
		if study.Path == path {
			return true, nil
		}
	}
	return false, nil
}

func (st *Studies) byPath(path string) (*models.Study, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, study := range st.s.studies {
		if study.Path == path {
			return cloneStudy(study), nil
		}
	}
	return nil, apperrors.NewNotFoundError("study", path)
}

func (st *Studies) byID(id string) (*models.Study, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	study, ok := st.s.studies[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("study", id)
	}
	return cloneStudy(study), nil
}

// FindByPath returns a copy of the study
func (st *Studies) FindByPath(_ context.Context, path string) (*models.Study, error) {
	return st.byPath(path)
}

// FindByID returns a copy of the study
func (st *Studies) FindByID(_ context.Context, id string) (*models.Study, error) {
	return st.byID(id)
}

// LoadStudyWithManagersAndMembers returns a copy of the study
func (st *Studies) LoadStudyWithManagersAndMembers(_ context.Context, id string) (*models.Study, error) {
	return st.byID(id)
}

// LoadStudyWithTagsAndZones returns a copy of the study
func (st *Studies) LoadStudyWithTagsAndZones(_ context.Context, id string) (*models.Study, error) {
	return st.byID(id)
}

// LoadStudyForUpdate locks the study for the rest of the unit of work and
// returns a fresh copy read after the lock was taken
func (st *Studies) LoadStudyForUpdate(ctx context.Context, path string) (*models.Study, error) {
	study, err := st.byPath(path)
	if err != nil {
		return nil, err
	}
	if err := st.s.lock(ctx, studyLock(study.ID)); err != nil {
		return nil, err
	}
	// re-read: the path may have changed while waiting
	return st.byID(study.ID)
}

// filter returns copies of the studies keep accepts
func (st *Studies) filter(keep func(*models.Study) bool) []*models.Study {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*models.Study
	for _, study := range st.s.studies {
		if keep(study) {
			out = append(out, cloneStudy(study))
		}
	}
	return out
}

func publishedAt(s *models.Study) time.Time {
	if s.PublishedAt == nil {
		return time.Time{}
	}
	return *s.PublishedAt
}

// newestFirst orders by publication time, drafts last, ids breaking ties
func newestFirst(list []*models.Study) {
	sort.Slice(list, func(i, j int) bool {
		a, b := publishedAt(list[i]), publishedAt(list[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return list[i].ID < list[j].ID
	})
}

func limited(list []*models.Study, limit int) []*models.Study {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

// SearchStudies pages through published studies matching the keyword
func (st *Studies) SearchStudies(_ context.Context, search models.StudySearch) (*models.StudyPage, error) {
	matches := st.filter(func(s *models.Study) bool {
		return s.Published && s.MatchesKeyword(search.Keyword)
	})
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		var cmp int
		if search.Sort == types.SortByMemberCount {
			cmp = a.MemberCount - b.MemberCount
		} else {
			cmp = publishedAt(a).Compare(publishedAt(b))
		}
		if cmp == 0 {
			return a.ID < b.ID
		}
		if search.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	page := &models.StudyPage{Page: search.Page, Size: search.Size, Total: len(matches), Studies: []*models.Study{}}
	if from := search.Offset(); from < len(matches) {
		page.Studies = matches[from:min(from+search.Size, len(matches))]
	}
	return page, nil
}

// ListRecentlyPublished returns open studies, newest first
func (st *Studies) ListRecentlyPublished(_ context.Context, limit int) ([]*models.Study, error) {
	list := st.filter((*models.Study).IsOpen)
	newestFirst(list)
	return limited(list, limit), nil
}

// ListRecommended returns open studies sharing a tag and a zone, newest first
func (st *Studies) ListRecommended(_ context.Context, tags []models.Tag, zones []models.Zone, limit int) ([]*models.Study, error) {
	list := st.filter(func(s *models.Study) bool {
		return s.IsOpen() && s.SharesInterests(tags, zones)
	})
	newestFirst(list)
	return limited(list, limit), nil
}

// ListManagedBy returns the account's managed studies that are not closed
func (st *Studies) ListManagedBy(_ context.Context, accountID string, limit int) ([]*models.Study, error) {
	list := st.filter(func(s *models.Study) bool {
		return !s.Closed && slices.Contains(s.Managers, accountID)
	})
	newestFirst(list)
	return limited(list, limit), nil
}

// ListJoinedBy returns the account's joined studies that are not closed
func (st *Studies) ListJoinedBy(_ context.Context, accountID string, limit int) ([]*models.Study, error) {
	list := st.filter(func(s *models.Study) bool {
		return !s.Closed && slices.Contains(s.Members, accountID)
	})
	newestFirst(list)
	return limited(list, limit), nil
}
