package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

func studyPaths(studies []*models.Study) []string {
	paths := make([]string, 0, len(studies))
	for _, s := range studies {
		paths = append(paths, s.Path)
	}
	return paths
}

func (f *fixture) seedZones(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Tags().SeedZones(f.ctx, []models.Zone{
		{City: "Seoul", LocalNameOfCity: "서울특별시", Province: "none"},
		{City: "Busan", LocalNameOfCity: "부산광역시", Province: "none"},
	}))
}

// taggedStudy publishes a recruiting study with one tag and one zone
func (f *fixture) taggedStudy(t *testing.T, manager *models.Account, path, tag, zone string) {
	t.Helper()
	f.recruitingStudy(t, manager, path)
	_, err := f.studies.AddStudyTag(f.ctx, manager.ID, path, tag)
	require.NoError(t, err)
	_, err = f.studies.AddStudyZone(f.ctx, manager.ID, path, zone)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
}

func TestSearchStudies_MatchesTitleTagAndZone(t *testing.T) {
	f := newFixture(t)
	f.seedZones(t)
	manager := f.account(t, "manager")
	f.taggedStudy(t, manager, "go", "golang", "Seoul(서울특별시)/none")
	f.taggedStudy(t, manager, "rust", "systems", "Busan(부산광역시)/none")
	_, err := f.studies.CreateStudy(f.ctx, manager.ID, StudyForm{Path: "draft", Title: "Study draft", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)

	tests := []struct {
		keyword string
		want    []string
	}{
		{"STUDY", []string{"go", "rust"}},
		{"lang", []string{"go"}},
		{"Systems", []string{"rust"}},
		{"부산", []string{"rust"}},
		{"draft", nil},
		{"", []string{"go", "rust"}},
		{"%", nil},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			page, err := f.studies.SearchStudies(f.ctx, tt.keyword, 0, types.SortByPublishedAt, false)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), page.Total)
			if tt.want == nil {
				assert.Empty(t, page.Studies)
				return
			}
			assert.Equal(t, tt.want, studyPaths(page.Studies))
		})
	}
}

func TestSearchStudies_PagesAndSorts(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	for i := 0; i < 10; i++ {
		f.recruitingStudy(t, manager, fmt.Sprintf("p%02d", i))
		f.clock.Advance(time.Minute)
	}
	for _, nickname := range []string{"ann", "ben"} {
		_, err := f.studies.AddMember(f.ctx, "p05", f.account(t, nickname).ID)
		require.NoError(t, err)
	}
	_, err := f.studies.AddMember(f.ctx, "p03", f.account(t, "cat").ID)
	require.NoError(t, err)

	first, err := f.studies.SearchStudies(f.ctx, "", 0, types.SortByPublishedAt, false)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Total)
	assert.Equal(t, 2, first.TotalPages())
	assert.True(t, first.HasNext())
	require.Len(t, first.Studies, SearchPageSize)
	assert.Equal(t, "p00", first.Studies[0].Path)

	second, err := f.studies.SearchStudies(f.ctx, "", 1, types.SortByPublishedAt, false)
	require.NoError(t, err)
	assert.False(t, second.HasNext())
	assert.Equal(t, []string{"p09"}, studyPaths(second.Studies))

	beyond, err := f.studies.SearchStudies(f.ctx, "", 5, types.SortByPublishedAt, false)
	require.NoError(t, err)
	assert.Empty(t, beyond.Studies)
	assert.Equal(t, 10, beyond.Total)

	negative, err := f.studies.SearchStudies(f.ctx, "", -3, "bogus", true)
	require.NoError(t, err)
	assert.Equal(t, 0, negative.Page)
	assert.Equal(t, "p09", negative.Studies[0].Path, "unknown sort falls back to publication time")

	byMembers, err := f.studies.SearchStudies(f.ctx, "", 0, types.SortByMemberCount, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"p05", "p03"}, studyPaths(byMembers.Studies[:2]))
}

func TestRecommendStudies(t *testing.T) {
	f := newFixture(t)
	f.seedZones(t)
	manager := f.account(t, "manager")
	alice := f.account(t, "alice")
	loner := f.account(t, "loner")
	_, err := f.accounts.AddTag(f.ctx, alice.ID, "golang")
	require.NoError(t, err)
	_, err = f.accounts.AddZone(f.ctx, alice.ID, "Seoul(서울특별시)/none")
	require.NoError(t, err)

	f.taggedStudy(t, manager, "go-old", "golang", "Seoul(서울특별시)/none")
	f.taggedStudy(t, manager, "go-new", "golang", "Seoul(서울특별시)/none")
	f.taggedStudy(t, manager, "rust", "systems", "Seoul(서울특별시)/none")
	f.taggedStudy(t, manager, "go-busan", "golang", "Busan(부산광역시)/none")
	f.taggedStudy(t, manager, "go-done", "golang", "Seoul(서울특별시)/none")
	_, err = f.studies.CloseStudy(f.ctx, manager.ID, "go-done")
	require.NoError(t, err)

	recommended, err := f.studies.RecommendStudies(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go-new", "go-old"}, studyPaths(recommended), "needs a shared tag and a shared zone")

	none, err := f.studies.RecommendStudies(f.ctx, loner.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.studies.RecommendStudies(f.ctx, "ghost")
	assert.True(t, apperrors.IsNotFound(err))

	recent, err := f.studies.RecentStudies(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"go-busan", "rust", "go-new", "go-old"}, studyPaths(recent))
}

func TestManagedAndJoinedStudies(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	member := f.account(t, "member")

	_, err := f.studies.CreateStudy(f.ctx, manager.ID, StudyForm{Path: "draft", Title: "Draft", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)
	for _, path := range []string{"one", "two", "done"} {
		f.recruitingStudy(t, manager, path)
		_, err = f.studies.AddMember(f.ctx, path, member.ID)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	_, err = f.studies.CloseStudy(f.ctx, manager.ID, "done")
	require.NoError(t, err)

	managed, err := f.studies.ManagedStudies(f.ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one", "draft"}, studyPaths(managed), "closed studies drop out and drafts sort last")

	joined, err := f.studies.JoinedStudies(f.ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one"}, studyPaths(joined))

	for i := 0; i < DashboardStudyLimit+2; i++ {
		f.recruitingStudy(t, manager, fmt.Sprintf("extra%d", i))
	}
	managed, err = f.studies.ManagedStudies(f.ctx, manager.ID)
	require.NoError(t, err)
	assert.Len(t, managed, DashboardStudyLimit)
}

func TestAcceptedEnrollments(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	alice := f.account(t, "alice")
	bob := f.account(t, "bob")
	f.recruitingStudy(t, manager, "go")

	first, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 1))
	require.NoError(t, err)
	second, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 1))
	require.NoError(t, err)

	_, err = f.events.Enroll(f.ctx, bob.ID, first.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	waiting, err := f.events.Enroll(f.ctx, alice.ID, first.ID)
	require.NoError(t, err)
	require.False(t, waiting.Accepted)
	f.clock.Advance(time.Second)
	accepted, err := f.events.Enroll(f.ctx, alice.ID, second.ID)
	require.NoError(t, err)
	require.True(t, accepted.Accepted)

	list, err := f.events.AcceptedEnrollments(f.ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].EventID)

	_, err = f.events.Leave(f.ctx, bob.ID, first.ID)
	require.NoError(t, err)
	list, err = f.events.AcceptedEnrollments(f.ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2, "promoted from the waitlist")
	assert.Equal(t, second.ID, list[0].EventID, "latest enrollment first")
	assert.Equal(t, first.ID, list[1].EventID)

	empty, err := f.events.AcceptedEnrollments(f.ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
