package models

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/study-hub/internal/types"
)

// Study is a community group with managers, members and scheduled events
type Study struct {
	ID                  string     `json:"id" db:"id"`
	Path                string     `json:"path" db:"path"`
	Title               string     `json:"title" db:"title"`
	ShortDescription    string     `json:"shortDescription" db:"short_description"`
	FullDescription     string     `json:"fullDescription" db:"full_description"`
	Image               string     `json:"image,omitempty" db:"image"`
	UseBanner           bool       `json:"useBanner" db:"use_banner"`
	Managers            []string   `json:"managers"`
	Members             []string   `json:"members"`
	MemberCount         int        `json:"memberCount" db:"member_count"`
	Tags                []Tag      `json:"tags,omitempty"`
	Zones               []Zone     `json:"zones,omitempty"`
	Published           bool       `json:"published" db:"published"`
	PublishedAt         *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	Closed              bool       `json:"closed" db:"closed"`
	ClosedAt            *time.Time `json:"closedAt,omitempty" db:"closed_at"`
	Recruiting          bool       `json:"recruiting" db:"recruiting"`
	RecruitingUpdatedAt *time.Time `json:"recruitingUpdatedAt,omitempty" db:"recruiting_updated_at"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
}

// EncodedPath is the path as it appears in links
func (s *Study) EncodedPath() string {
	return url.PathEscape(s.Path)
}

// Link is the relative URL of the study page
func (s *Study) Link() string {
	return "/study/" + s.EncodedPath()
}

// IsManagedBy reports whether accountID is one of the managers
func (s *Study) IsManagedBy(accountID string) bool {
	return slices.Contains(s.Managers, accountID)
}

// IsMember reports whether accountID is one of the members
func (s *Study) IsMember(accountID string) bool {
	return slices.Contains(s.Members, accountID)
}

// IsJoinable reports whether accountID may become a member right now
func (s *Study) IsJoinable(accountID string) bool {
	return s.Published && !s.Closed && s.Recruiting &&
		!s.IsMember(accountID) && !s.IsManagedBy(accountID)
}

// IsRemovable reports whether the study can still be deleted
func (s *Study) IsRemovable() bool {
	return !s.Published
}

// Audience returns managers and members without duplicates, managers first
func (s *Study) Audience() []string {
	seen := make(map[string]struct{}, len(s.Managers)+len(s.Members))
	out := make([]string, 0, len(s.Managers)+len(s.Members))
	for _, ids := range [][]string{s.Managers, s.Members} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// IsOpen reports whether the study is published and not closed
func (s *Study) IsOpen() bool {
	return s.Published && !s.Closed
}

// MatchesKeyword reports whether keyword occurs, ignoring case, in the title,
// a tag title or a zone's local city name
func (s *Study) MatchesKeyword(keyword string) bool {
	keyword = strings.ToLower(keyword)
	if strings.Contains(strings.ToLower(s.Title), keyword) {
		return true
	}
	for _, t := range s.Tags {
		if strings.Contains(strings.ToLower(t.Title), keyword) {
			return true
		}
	}
	for _, z := range s.Zones {
		if strings.Contains(strings.ToLower(z.LocalNameOfCity), keyword) {
			return true
		}
	}
	return false
}

// SharesInterests reports whether the study has at least one of tags and at
// least one of zones, the predicate behind study recommendations
func (s *Study) SharesInterests(tags []Tag, zones []Zone) bool {
	return intersects(tagIDs(s.Tags), tagIDs(tags)) && intersects(zoneIDs(s.Zones), zoneIDs(zones))
}

// StudySearch is a keyword query over published studies. Page is zero-based.
type StudySearch struct {
	Keyword    string
	Page       int
	Size       int
	Sort       types.StudySort
	Descending bool
}

// Offset is the number of results before the page
func (q StudySearch) Offset() int {
	return q.Page * q.Size
}

// StudyPage is one page of search results
type StudyPage struct {
	Studies []*Study `json:"studies"`
	Page    int      `json:"page"`
	Size    int      `json:"size"`
	Total   int      `json:"total"`
}

// TotalPages is the number of pages of this size
func (p *StudyPage) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

// HasNext reports whether a later page exists
func (p *StudyPage) HasNext() bool {
	return p.Page+1 < p.TotalPages()
}
