package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

func TestSignUpAndVerify(t *testing.T) {
	f := newFixture(t)

	account, err := f.accounts.SignUp(f.ctx, SignUpForm{Nickname: "gopher", Email: " Gopher@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "gopher@example.com", account.Email)
	assert.False(t, account.EmailVerified)
	assert.True(t, CheckPassword(account, "correct horse"))
	assert.False(t, CheckPassword(account, "wrong horse"))
	assert.Equal(t, models.DefaultNotificationSettings(), account.Notifications)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, account.EmailToken, f.mailer.sent[0])

	_, err = f.accounts.SignUp(f.ctx, SignUpForm{Nickname: "other", Email: "gopher@example.com", Password: "correct horse"})
	assert.True(t, apperrors.IsConflict(err))
	_, err = f.accounts.SignUp(f.ctx, SignUpForm{Nickname: "gopher", Email: "other@example.com", Password: "correct horse"})
	assert.True(t, apperrors.IsConflict(err))
	assert.Len(t, f.mailer.sent, 1, "failed sign ups send nothing")

	_, err = f.accounts.VerifyEmail(f.ctx, "gopher@example.com", "bad-token")
	assert.True(t, apperrors.IsValidation(err))

	verified, err := f.accounts.VerifyEmail(f.ctx, "gopher@example.com", account.EmailToken)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)
	require.NotNil(t, verified.JoinedAt)

	err = f.accounts.ResendVerification(f.ctx, account.ID)
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestSignUp_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		form SignUpForm
	}{
		{"short nickname", SignUpForm{Nickname: "ab", Email: "a@b.co", Password: "password1"}},
		{"nickname with space", SignUpForm{Nickname: "go pher", Email: "a@b.co", Password: "password1"}},
		{"bad email", SignUpForm{Nickname: "gopher", Email: "not-an-email", Password: "password1"}},
		{"short password", SignUpForm{Nickname: "gopher", Email: "a@b.co", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.accounts.SignUp(f.ctx, tt.form)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestResendVerification_Cooldown(t *testing.T) {
	f := newFixture(t)
	account, err := f.accounts.SignUp(f.ctx, SignUpForm{Nickname: "gopher", Email: "gopher@example.com", Password: "correct horse"})
	require.NoError(t, err)

	err = f.accounts.ResendVerification(f.ctx, account.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsEmailCooldown(err))

	f.clock.Advance(5*time.Minute + time.Second)
	require.NoError(t, f.accounts.ResendVerification(f.ctx, account.ID))
	require.Len(t, f.mailer.sent, 2)
	assert.NotEqual(t, f.mailer.sent[0], f.mailer.sent[1], "fresh token")

	stored, err := f.store.Accounts().FindByID(f.ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, f.mailer.sent[1], stored.EmailToken)
}

func TestAccountSettings(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice")
	f.account(t, "bobby")
	require.NoError(t, f.store.Tags().SeedZones(f.ctx, []models.Zone{{City: "Busan", LocalNameOfCity: "부산광역시", Province: "none"}}))

	updated, err := f.accounts.UpdateProfile(f.ctx, alice.ID, models.Profile{Bio: "hello", Job: "engineer"})
	require.NoError(t, err)
	assert.Equal(t, "engineer", updated.Profile.Job)
	_, err = f.accounts.UpdateProfile(f.ctx, alice.ID, models.Profile{Bio: "this biography is far too long for the field"})
	assert.True(t, apperrors.IsValidation(err))

	settings := models.NotificationSettings{StudyCreatedByWeb: true}
	updated, err = f.accounts.UpdateNotificationSettings(f.ctx, alice.ID, settings)
	require.NoError(t, err)
	assert.Equal(t, settings, updated.Notifications)

	_, err = f.accounts.UpdateNickname(f.ctx, alice.ID, "bobby")
	assert.True(t, apperrors.IsConflict(err))
	updated, err = f.accounts.UpdateNickname(f.ctx, alice.ID, "alicia")
	require.NoError(t, err)
	assert.Equal(t, "alicia", updated.Nickname)

	require.NoError(t, f.accounts.UpdatePassword(f.ctx, alice.ID, "new password"))
	stored, err := f.store.Accounts().FindByID(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, CheckPassword(stored, "new password"))

	updated, err = f.accounts.AddTag(f.ctx, alice.ID, "spring")
	require.NoError(t, err)
	updated, err = f.accounts.AddTag(f.ctx, alice.ID, "spring")
	require.NoError(t, err)
	assert.Len(t, updated.Tags, 1)
	updated, err = f.accounts.AddZone(f.ctx, alice.ID, "Busan(부산광역시)/none")
	require.NoError(t, err)
	assert.Len(t, updated.Zones, 1)

	matches, err := f.store.Accounts().FindByTagsAndZones(f.ctx, updated.Tags, updated.Zones)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, alice.ID, matches[0].ID)

	updated, err = f.accounts.RemoveTag(f.ctx, alice.ID, "spring")
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
	updated, err = f.accounts.RemoveZone(f.ctx, alice.ID, "Busan(부산광역시)/none")
	require.NoError(t, err)
	assert.Empty(t, updated.Zones)
}
