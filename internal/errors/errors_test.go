package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidationError("path", "too short"), IsValidation},
		{"invalid state", NewInvalidStateError("study", "already published"), IsInvalidState},
		{"recruiting cooldown", NewRecruitingCooldownError("go", time.Minute), IsRecruitingCooldown},
		{"cooldown is an invalid state", NewRecruitingCooldownError("go", time.Minute), IsInvalidState},
		{"email cooldown", NewEmailCooldownError(time.Minute), IsEmailCooldown},
		{"not found", NewNotFoundError("event", "7"), IsNotFound},
		{"permission", NewPermissionError("not a manager"), IsPermission},
		{"conflict", NewConflictError("path taken"), IsConflict},
		{"dispatch", NewDispatchFailure("email", "a@b.c", stderrors.New("smtp down")), IsDispatchFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestCategorize(t *testing.T) {
	assert.Nil(t, Categorize(nil))

	plain := stderrors.New("boom")
	cat := Categorize(plain)
	assert.Equal(t, CategorySystem, cat.Category)
	assert.ErrorIs(t, cat, plain)

	nf := NewNotFoundError("study", "go")
	assert.Same(t, nf, Categorize(fmt.Errorf("ctx: %w", nf)))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewDatabaseError("save", stderrors.New("conn reset"))))
	assert.True(t, IsRetryable(NewDispatchFailure("email", "x", nil)))
	assert.False(t, IsRetryable(NewValidationError("title", "empty")))
	assert.False(t, IsRetryable(NewInternalError("bug", nil)))
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, GetHTTPStatusCode(NewPermissionError("no")))
	assert.Equal(t, http.StatusConflict, GetHTTPStatusCode(NewInvalidStateError("study", "closed")))
	assert.True(t, IsUserError(NewNotFoundError("tag", "go")))
	assert.False(t, IsUserError(NewDatabaseError("load", nil)))
}

func TestErrorMessage(t *testing.T) {
	err := NewDatabaseError("save event", stderrors.New("timeout"))
	assert.Equal(t, "DATABASE_ERROR: database error during save event (caused by: timeout)", err.Error())
}
