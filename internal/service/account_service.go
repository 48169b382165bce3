package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/txn"
)

// BcryptCost is the work factor for account passwords
const BcryptCost = 12

var (
	nicknamePattern = regexp.MustCompile(`^[\p{L}\p{N}_-]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// VerificationMailer sends the email confirmation link
type VerificationMailer interface {
	SendVerification(ctx context.Context, account *models.Account) error
}

// SignUpForm carries a new account's credentials
type SignUpForm struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the form on its own
func (f *SignUpForm) Validate() error {
	if err := ValidateNickname(f.Nickname); err != nil {
		return err
	}
	if !emailPattern.MatchString(f.Email) {
		return apperrors.NewValidationError("email", "must be a valid email address")
	}
	return ValidatePassword(f.Password)
}

// ValidateNickname checks a nickname
func ValidateNickname(nickname string) error {
	if !nicknamePattern.MatchString(nickname) {
		return apperrors.NewValidationError("nickname", "must be 3-20 letters, digits, '_' or '-'")
	}
	return nil
}

// ValidatePassword checks password length
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < 8 || n > 50 {
		return apperrors.NewValidationError("password", "must be 8-50 characters")
	}
	return nil
}

// AccountService manages accounts, their notification settings and interests
type AccountService struct {
	tx                  TxManager
	accounts            AccountStore
	tags                TagStore
	zones               ZoneStore
	mailer              VerificationMailer
	emailResendCooldown time.Duration
	now                 func() time.Time
}

// NewAccountService creates a new account service
func NewAccountService(
	tx TxManager,
	accounts AccountStore,
	tags TagStore,
	zones ZoneStore,
	mailer VerificationMailer,
	emailResendCooldown time.Duration,
	now func() time.Time,
) *AccountService {
	if now == nil {
		now = time.Now
	}
	return &AccountService{
		tx:                  tx,
		accounts:            accounts,
		tags:                tags,
		zones:               zones,
		mailer:              mailer,
		emailResendCooldown: emailResendCooldown,
		now:                 now,
	}
}

// SignUp creates an unverified account and sends its confirmation email
func (s *AccountService) SignUp(ctx context.Context, form SignUpForm) (*models.Account, error) {
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	if err := form.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), BcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	now := s.now()
	account := &models.Account{
		ID:            uuid.NewString(),
		Email:         form.Email,
		Nickname:      form.Nickname,
		PasswordHash:  string(hash),
		Notifications: models.DefaultNotificationSettings(),
		CreatedAt:     now,
	}
	s.generateToken(account)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.accounts.ExistsByEmail(ctx, account.Email)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewConflictError(fmt.Sprintf("email already registered: %s", account.Email))
		}
		taken, err = s.accounts.ExistsByNickname(ctx, account.Nickname)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewConflictError(fmt.Sprintf("nickname already taken: %s", account.Nickname))
		}
		if err := s.accounts.Save(ctx, account); err != nil {
			return err
		}
		s.sendVerificationAfterCommit(ctx, account)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  account.ID,
		"nickname": account.Nickname,
	}).Info("Account signed up")
	return account, nil
}

func (s *AccountService) generateToken(account *models.Account) {
	now := s.now()
	account.EmailToken = uuid.NewString()
	account.EmailTokenGeneratedAt = &now
}

func (s *AccountService) sendVerificationAfterCommit(ctx context.Context, account *models.Account) {
	snapshot := *account
	txn.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.mailer.SendVerification(ctx, &snapshot); err != nil {
			logging.FromContext(ctx).WithField("account", snapshot.ID).
				WithError(err).Warn("Failed to send verification email")
		}
	})
}

// VerifyEmail confirms the account owning email if token matches
func (s *AccountService) VerifyEmail(ctx context.Context, email, token string) (*models.Account, error) {
	var account *models.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.accounts.FindByEmailOrNickname(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NewValidationError("email", "unknown email")
			}
			return err
		}
		if account.EmailVerified {
			return nil
		}
		if token == "" || account.EmailToken != token {
			return apperrors.NewValidationError("token", "does not match")
		}
		now := s.now()
		account.EmailVerified = true
		account.JoinedAt = &now
		return s.accounts.Save(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// CanSendConfirmEmail reports whether the resend cooldown has passed
func (s *AccountService) CanSendConfirmEmail(account *models.Account) bool {
	return account.EmailTokenGeneratedAt == nil ||
		account.EmailTokenGeneratedAt.Before(s.now().Add(-s.emailResendCooldown))
}

// ResendVerification issues a fresh token and emails it, at most once per cooldown
func (s *AccountService) ResendVerification(ctx context.Context, accountID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := s.accounts.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.EmailVerified {
			return apperrors.NewInvalidStateError("account "+account.Nickname, "email already verified")
		}
		if !s.CanSendConfirmEmail(account) {
			return apperrors.NewEmailCooldownError(account.EmailTokenGeneratedAt.Add(s.emailResendCooldown).Sub(s.now()))
		}
		s.generateToken(account)
		if err := s.accounts.Save(ctx, account); err != nil {
			return err
		}
		s.sendVerificationAfterCommit(ctx, account)
		return nil
	})
}

// mutate loads the account, applies fn and saves it
func (s *AccountService) mutate(ctx context.Context, accountID string, fn func(ctx context.Context, account *models.Account) error) (*models.Account, error) {
	var account *models.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.accounts.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := fn(ctx, account); err != nil {
			return err
		}
		return s.accounts.Save(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateNotificationSettings replaces the six delivery toggles
func (s *AccountService) UpdateNotificationSettings(ctx context.Context, accountID string, settings models.NotificationSettings) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(_ context.Context, account *models.Account) error {
		account.Notifications = settings
		return nil
	})
}

// UpdateProfile replaces the profile
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, profile models.Profile) (*models.Account, error) {
	if utf8.RuneCountInString(profile.Bio) > 35 {
		return nil, apperrors.NewValidationError("bio", "must be at most 35 characters")
	}
	for field, v := range map[string]string{"url": profile.URL, "job": profile.Job, "location": profile.Location, "company": profile.Company} {
		if utf8.RuneCountInString(v) > 50 {
			return nil, apperrors.NewValidationError(field, "must be at most 50 characters")
		}
	}
	return s.mutate(ctx, accountID, func(_ context.Context, account *models.Account) error {
		account.Profile = profile
		return nil
	})
}

// UpdatePassword sets a new password
func (s *AccountService) UpdatePassword(ctx context.Context, accountID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return apperrors.NewInternalError("failed to hash password", err)
	}
	_, err = s.mutate(ctx, accountID, func(_ context.Context, account *models.Account) error {
		account.PasswordHash = string(hash)
		return nil
	})
	return err
}

// UpdateNickname renames the account
func (s *AccountService) UpdateNickname(ctx context.Context, accountID, nickname string) (*models.Account, error) {
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, func(ctx context.Context, account *models.Account) error {
		if account.Nickname == nickname {
			return nil
		}
		taken, err := s.accounts.ExistsByNickname(ctx, nickname)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewConflictError(fmt.Sprintf("nickname already taken: %s", nickname))
		}
		account.Nickname = nickname
		return nil
	})
}

// CheckPassword compares password with the stored hash
func CheckPassword(account *models.Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) == nil
}

// AddTag adds an interest tag, creating it if it is new
func (s *AccountService) AddTag(ctx context.Context, accountID, title string) (*models.Account, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("tag", "must not be empty")
	}
	return s.mutate(ctx, accountID, func(ctx context.Context, account *models.Account) error {
		tag, err := s.tags.FindOrCreateTag(ctx, title)
		if err != nil {
			return err
		}
		if !models.ContainsTag(account.Tags, tag.ID) {
			account.Tags = append(account.Tags, *tag)
		}
		return nil
	})
}

// RemoveTag removes an interest tag
func (s *AccountService) RemoveTag(ctx context.Context, accountID, title string) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(ctx context.Context, account *models.Account) error {
		tag, err := s.tags.FindTagByTitle(ctx, strings.TrimSpace(title))
		if err != nil {
			return err
		}
		account.Tags = removeTag(account.Tags, tag.ID)
		return nil
	})
}

// AddZone adds an activity zone given as "City(Local)/Province"
func (s *AccountService) AddZone(ctx context.Context, accountID, zoneName string) (*models.Account, error) {
	city, province, err := ParseZoneName(zoneName)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, func(ctx context.Context, account *models.Account) error {
		zone, err := s.zones.FindZone(ctx, city, province)
		if err != nil {
			return err
		}
		if !models.ContainsZone(account.Zones, zone.ID) {
			account.Zones = append(account.Zones, *zone)
		}
		return nil
	})
}

// RemoveZone removes an activity zone
func (s *AccountService) RemoveZone(ctx context.Context, accountID, zoneName string) (*models.Account, error) {
	city, province, err := ParseZoneName(zoneName)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, func(ctx context.Context, account *models.Account) error {
		zone, err := s.zones.FindZone(ctx, city, province)
		if err != nil {
			return err
		}
		account.Zones = removeZone(account.Zones, zone.ID)
		return nil
	})
}
