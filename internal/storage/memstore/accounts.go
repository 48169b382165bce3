package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// Accounts is the account table view
type Accounts struct{ s *Store }

// Accounts returns the account store
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Save upserts an account. Email and nickname stay unique.
func (a *Accounts) Save(ctx context.Context, account *models.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for id, other := range a.s.accounts {
		if id == account.ID {
			continue
		}
		if other.Email == account.Email || other.Nickname == account.Nickname {
			return apperrors.NewConflictError(fmt.Sprintf("email or nickname already taken: %s", account.Nickname))
		}
	}
	put(ctx, a.s.accounts, account.ID, cloneAccount(account))
	return nil
}

// FindByID returns a copy of the account
func (a *Accounts) FindByID(_ context.Context, id string) (*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	account, ok := a.s.accounts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	return cloneAccount(account), nil
}

// FindByIDs returns the accounts that exist among ids, in ids order
func (a *Accounts) FindByIDs(_ context.Context, ids []string) ([]*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		if account, ok := a.s.accounts[id]; ok {
			out = append(out, cloneAccount(account))
		}
	}
	return out, nil
}

// FindByEmailOrNickname matches either handle
func (a *Accounts) FindByEmailOrNickname(_ context.Context, emailOrNickname string) (*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, account := range a.s.accounts {
		if account.Email == emailOrNickname || account.Nickname == emailOrNickname {
			return cloneAccount(account), nil
		}
	}
	return nil, apperrors.NewNotFoundError("account", emailOrNickname)
}

// FindByTagsAndZones returns accounts sharing a tag and a zone, by nickname
func (a *Accounts) FindByTagsAndZones(_ context.Context, tags []models.Tag, zones []models.Zone) ([]*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []*models.Account
	for _, account := range a.s.accounts {
		if account.MatchesInterests(tags, zones) {
			out = append(out, cloneAccount(account))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out, nil
}

// ExistsByEmail checks whether email is registered
func (a *Accounts) ExistsByEmail(_ context.Context, email string) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, account := range a.s.accounts {
		if account.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// ExistsByNickname checks whether nickname is taken
func (a *Accounts) ExistsByNickname(_ context.Context, nickname string) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, account := range a.s.accounts {
		if account.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

// Tags is the tag and zone reference view
type Tags struct{ s *Store }

// Tags returns the tag and zone store
func (s *Store) Tags() *Tags { return &Tags{s: s} }

// FindTagByTitle looks a tag up by title
func (t *Tags) FindTagByTitle(_ context.Context, title string) (*models.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tag := range t.s.tags {
		if tag.Title == title {
			c := *tag
			return &c, nil
		}
	}
	return nil, apperrors.NewNotFoundError("tag", title)
}

// FindOrCreateTag returns the tag titled title, registering it if needed
func (t *Tags) FindOrCreateTag(ctx context.Context, title string) (*models.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tag := range t.s.tags {
		if tag.Title == title {
			c := *tag
			return &c, nil
		}
	}
	tag := &models.Tag{ID: uuid.NewString(), Title: title}
	put(ctx, t.s.tags, tag.ID, tag)
	c := *tag
	return &c, nil
}

// FindZone looks a zone up by city and province
func (t *Tags) FindZone(_ context.Context, city, province string) (*models.Zone, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, zone := range t.s.zones {
		if zone.City == city && zone.Province == province {
			c := *zone
			return &c, nil
		}
	}
	return nil, apperrors.NewNotFoundError("zone", city+"/"+province)
}

// SeedZones loads reference zones, keeping existing (city, province) pairs
func (t *Tags) SeedZones(ctx context.Context, zones []models.Zone) error {
	for _, z := range zones {
		if _, err := t.FindZone(ctx, z.City, z.Province); err == nil {
			continue
		}
		zone := z
		if zone.ID == "" {
			zone.ID = uuid.NewString()
		}
		t.s.mu.Lock()
		put(ctx, t.s.zones, zone.ID, &zone)
		t.s.mu.Unlock()
	}
	return nil
}
