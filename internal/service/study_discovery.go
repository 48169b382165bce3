package service

import (
	"context"

	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

const (
	// SearchPageSize is the number of studies on a search page
	SearchPageSize = 9
	// RecommendedStudyLimit caps the recent and recommended study lists
	RecommendedStudyLimit = 9
	// DashboardStudyLimit caps the managed and joined study lists
	DashboardStudyLimit = 5
)

// SearchStudies finds published studies whose title, tag titles or zone
// city names contain keyword. An empty keyword matches every published
// study. Page is zero-based; a negative page reads as the first. Unknown
// sort keys fall back to publication time.
func (s *StudyService) SearchStudies(ctx context.Context, keyword string, page int, sort types.StudySort, descending bool) (*models.StudyPage, error) {
	if !sort.Valid() {
		sort = types.SortByPublishedAt
	}
	return s.studies.SearchStudies(ctx, models.StudySearch{
		Keyword:    keyword,
		Page:       max(page, 0),
		Size:       SearchPageSize,
		Sort:       sort,
		Descending: descending,
	})
}

// RecentStudies lists the most recently published open studies
func (s *StudyService) RecentStudies(ctx context.Context) ([]*models.Study, error) {
	return s.studies.ListRecentlyPublished(ctx, RecommendedStudyLimit)
}

// RecommendStudies lists open studies matching at least one of the account's
// tags and one of its zones
func (s *StudyService) RecommendStudies(ctx context.Context, accountID string) ([]*models.Study, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.studies.ListRecommended(ctx, account.Tags, account.Zones, RecommendedStudyLimit)
}

// ManagedStudies lists the studies the account manages that are not closed
func (s *StudyService) ManagedStudies(ctx context.Context, accountID string) ([]*models.Study, error) {
	return s.studies.ListManagedBy(ctx, accountID, DashboardStudyLimit)
}

// JoinedStudies lists the studies the account is a member of that are not closed
func (s *StudyService) JoinedStudies(ctx context.Context, accountID string) ([]*models.Study, error) {
	return s.studies.ListJoinedBy(ctx, accountID, DashboardStudyLimit)
}
