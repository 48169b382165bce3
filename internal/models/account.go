// Package models provides data models for the study hub.
package models

import (
	"time"
)

// Account is a registered user
type Account struct {
	ID                    string               `json:"id" db:"id"`
	Email                 string               `json:"email" db:"email"`
	Nickname              string               `json:"nickname" db:"nickname"`
	PasswordHash          string               `json:"-" db:"password_hash"`
	EmailVerified         bool                 `json:"emailVerified" db:"email_verified"`
	EmailToken            string               `json:"-" db:"email_token"`
	EmailTokenGeneratedAt *time.Time           `json:"-" db:"email_token_generated_at"`
	JoinedAt              *time.Time           `json:"joinedAt,omitempty" db:"joined_at"`
	Profile               Profile              `json:"profile"`
	Notifications         NotificationSettings `json:"notifications"`
	Tags                  []Tag                `json:"tags,omitempty"`
	Zones                 []Zone               `json:"zones,omitempty"`
	CreatedAt             time.Time            `json:"createdAt" db:"created_at"`
}

// Profile holds the self-described part of an account
type Profile struct {
	Bio          string `json:"bio,omitempty" db:"bio"`
	URL          string `json:"url,omitempty" db:"url"`
	Job          string `json:"job,omitempty" db:"job"`
	Location     string `json:"location,omitempty" db:"location"`
	Company      string `json:"company,omitempty" db:"company"`
	ProfileImage string `json:"profileImage,omitempty" db:"profile_image"`
}

// NotificationSettings are the six per-account delivery toggles
type NotificationSettings struct {
	StudyCreatedByEmail            bool `json:"studyCreatedByEmail" db:"study_created_by_email"`
	StudyCreatedByWeb              bool `json:"studyCreatedByWeb" db:"study_created_by_web"`
	StudyRegistrationResultByEmail bool `json:"studyRegistrationResultByEmail" db:"study_registration_result_by_email"`
	StudyRegistrationResultByWeb   bool `json:"studyRegistrationResultByWeb" db:"study_registration_result_by_web"`
	StudyUpdatedByEmail            bool `json:"studyUpdatedByEmail" db:"study_updated_by_email"`
	StudyUpdatedByWeb              bool `json:"studyUpdatedByWeb" db:"study_updated_by_web"`
}

// DefaultNotificationSettings enables web delivery only
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		StudyCreatedByWeb:            true,
		StudyRegistrationResultByWeb: true,
		StudyUpdatedByWeb:            true,
	}
}

// HasTagIn reports whether the account shares at least one tag with tags
func (a *Account) HasTagIn(tags []Tag) bool {
	return intersects(tagIDs(a.Tags), tagIDs(tags))
}

// HasZoneIn reports whether the account shares at least one zone with zones
func (a *Account) HasZoneIn(zones []Zone) bool {
	return intersects(zoneIDs(a.Zones), zoneIDs(zones))
}

// MatchesInterests is the audience predicate for newly published studies:
// at least one shared tag and at least one shared zone.
func (a *Account) MatchesInterests(tags []Tag, zones []Zone) bool {
	return a.HasTagIn(tags) && a.HasZoneIn(zones)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
