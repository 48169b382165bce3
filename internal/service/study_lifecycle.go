package service

import (
	"slices"
	"time"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// StudyLifecycle enforces the Draft -> Published -> Closed state machine and
// the recruiting flag that may only change while published and open.
type StudyLifecycle struct {
	recruitingCooldown time.Duration
	now                func() time.Time
}

// NewStudyLifecycle creates a lifecycle with the given recruiting cooldown.
// A nil clock means time.Now.
func NewStudyLifecycle(recruitingCooldown time.Duration, now func() time.Time) *StudyLifecycle {
	if now == nil {
		now = time.Now
	}
	return &StudyLifecycle{recruitingCooldown: recruitingCooldown, now: now}
}

// Publish opens a draft study
func (l *StudyLifecycle) Publish(study *models.Study) error {
	if study.Closed {
		return apperrors.NewInvalidStateError("study "+study.Path, "already closed")
	}
	if study.Published {
		return apperrors.NewInvalidStateError("study "+study.Path, "already published")
	}
	now := l.now()
	study.Published = true
	study.PublishedAt = &now
	return nil
}

// Close ends a published study. Recruiting stops with it.
func (l *StudyLifecycle) Close(study *models.Study) error {
	if !study.Published {
		return apperrors.NewInvalidStateError("study "+study.Path, "not published")
	}
	if study.Closed {
		return apperrors.NewInvalidStateError("study "+study.Path, "already closed")
	}
	now := l.now()
	study.Closed = true
	study.ClosedAt = &now
	study.Recruiting = false
	return nil
}

// IsEligibleToChangeRecruiting reports whether the recruiting flag may flip now
func (l *StudyLifecycle) IsEligibleToChangeRecruiting(study *models.Study) bool {
	if !study.Published {
		return false
	}
	return study.RecruitingUpdatedAt == nil ||
		study.RecruitingUpdatedAt.Before(l.now().Add(-l.recruitingCooldown))
}

// StartRecruit turns recruiting on
func (l *StudyLifecycle) StartRecruit(study *models.Study) error {
	return l.setRecruiting(study, true)
}

// StopRecruit turns recruiting off
func (l *StudyLifecycle) StopRecruit(study *models.Study) error {
	return l.setRecruiting(study, false)
}

func (l *StudyLifecycle) setRecruiting(study *models.Study, recruiting bool) error {
	if !study.Published || study.Closed {
		return apperrors.NewInvalidStateError("study "+study.Path, "recruiting can only change while published and open")
	}
	if study.Recruiting == recruiting {
		state := "not recruiting"
		if recruiting {
			state = "already recruiting"
		}
		return apperrors.NewInvalidStateError("study "+study.Path, state)
	}
	if !l.IsEligibleToChangeRecruiting(study) {
		retryAfter := study.RecruitingUpdatedAt.Add(l.recruitingCooldown).Sub(l.now())
		return apperrors.NewRecruitingCooldownError(study.Path, retryAfter)
	}
	now := l.now()
	study.Recruiting = recruiting
	study.RecruitingUpdatedAt = &now
	return nil
}

// AddMember joins accountID to the study and recomputes the member count
func (l *StudyLifecycle) AddMember(study *models.Study, accountID string) error {
	if !study.IsJoinable(accountID) {
		switch {
		case study.IsMember(accountID) || study.IsManagedBy(accountID):
			return apperrors.NewInvalidStateError("study "+study.Path, "account already belongs to the study")
		default:
			return apperrors.NewInvalidStateError("study "+study.Path, "not recruiting")
		}
	}
	study.Members = append(study.Members, accountID)
	study.MemberCount = len(study.Members)
	return nil
}

// RemoveMember drops accountID from the members and reports whether it was one
func (l *StudyLifecycle) RemoveMember(study *models.Study, accountID string) bool {
	i := slices.Index(study.Members, accountID)
	if i < 0 {
		return false
	}
	study.Members = slices.Delete(study.Members, i, i+1)
	study.MemberCount = len(study.Members)
	return true
}

// Remove checks that the study can be deleted
func (l *StudyLifecycle) Remove(study *models.Study) error {
	if !study.IsRemovable() {
		return apperrors.NewInvalidStateError("study "+study.Path, "published studies cannot be removed")
	}
	return nil
}
