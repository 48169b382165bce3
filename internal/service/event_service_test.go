package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

func lastStudyUpdate(t *testing.T, f *fixture) string {
	t.Helper()
	updates := f.bus.ofType(types.EventStudyUpdated)
	require.NotEmpty(t, updates)
	return updates[len(updates)-1].Message
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	stranger := f.account(t, "stranger")
	f.recruitingStudy(t, manager, "go")

	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 2))
	require.NoError(t, err)
	assert.Equal(t, "<p>bring a laptop</p>", event.Description)
	assert.Equal(t, manager.ID, event.CreatedBy)
	assert.Equal(t, "'Weekly session' event created", lastStudyUpdate(t, f))

	_, err = f.events.CreateEvent(f.ctx, stranger.ID, "go", f.eventForm(types.EventFCFS, 2))
	assert.True(t, apperrors.IsPermission(err))

	_, err = f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 0))
	assert.True(t, apperrors.IsValidation(err))

	past := f.eventForm(types.EventFCFS, 2)
	past.EndEnrollmentAt = f.clock.Now().Add(-time.Minute)
	_, err = f.events.CreateEvent(f.ctx, manager.ID, "go", past)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.studies.CloseStudy(f.ctx, manager.ID, "go")
	require.NoError(t, err)
	_, err = f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 2))
	assert.True(t, apperrors.IsInvalidState(err))

	events, err := f.events.ListEvents(f.ctx, "go")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEnroll_FCFSWaitlistAndLeave(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 2))
	require.NoError(t, err)

	a, b, c := f.account(t, "alice"), f.account(t, "bob"), f.account(t, "carol")
	ea, err := f.events.Enroll(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.events.Enroll(f.ctx, b.ID, event.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	ec, err := f.events.Enroll(f.ctx, c.ID, event.ID)
	require.NoError(t, err)
	assert.True(t, ea.Accepted)
	assert.False(t, ec.Accepted, "third enrollment waits")

	again, err := f.events.Enroll(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, ea.ID, again.ID, "enrolling twice is a no-op")

	updated, err := f.events.Leave(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, acceptedIDs(updated))

	stored, err := f.events.GetEvent(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, acceptedIDs(stored), "promotion persisted")

	_, err = f.events.Leave(f.ctx, a.ID, event.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEnroll_Gating(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	member := f.account(t, "member")

	_, err := f.studies.CreateStudy(f.ctx, manager.ID, StudyForm{Path: "draft", Title: "Draft", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)
	draftEvent, err := f.events.CreateEvent(f.ctx, manager.ID, "draft", f.eventForm(types.EventFCFS, 2))
	require.NoError(t, err)
	_, err = f.events.Enroll(f.ctx, member.ID, draftEvent.ID)
	assert.True(t, apperrors.IsInvalidState(err), "draft studies take no enrollments")

	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 2))
	require.NoError(t, err)

	_, err = f.events.Enroll(f.ctx, "ghost", event.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.events.Enroll(f.ctx, member.ID, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.events.Enroll(f.ctx, member.ID, event.ID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = f.events.Enroll(f.ctx, f.account(t, "late").ID, event.ID)
	assert.True(t, apperrors.IsInvalidState(err), "window closed")
	_, err = f.events.Leave(f.ctx, member.ID, event.ID)
	assert.True(t, apperrors.IsInvalidState(err), "cannot leave once the window closed")

	got, err := f.events.GetEvent(f.ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, got.Enrollments, 1, "the enrollment survives the refused leave")
}

func TestEnroll_ConcurrentRespectsCapacity(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 5))
	require.NoError(t, err)

	accounts := make([]*models.Account, 20)
	for i := range accounts {
		accounts[i] = f.account(t, fmt.Sprintf("user%02d", i))
	}

	var wg sync.WaitGroup
	for _, a := range accounts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.events.Enroll(f.ctx, id, event.ID)
			assert.NoError(t, err)
		}(a.ID)
	}
	wg.Wait()

	stored, err := f.events.GetEvent(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Enrollments, 20)
	assert.Len(t, acceptedIDs(stored), 5)
	for i, e := range stored.Enrollments {
		assert.Equal(t, i < 5, e.Accepted, "accepted set is the earliest prefix")
	}
}

func TestAcceptReject_Confirmative(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	stranger := f.account(t, "stranger")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventConfirmative, 1))
	require.NoError(t, err)

	a, b := f.account(t, "alice"), f.account(t, "bob")
	ea, err := f.events.Enroll(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	eb, err := f.events.Enroll(f.ctx, b.ID, event.ID)
	require.NoError(t, err)
	assert.False(t, ea.Accepted)

	_, err = f.events.AcceptEnrollment(f.ctx, stranger.ID, event.ID, ea.ID)
	assert.True(t, apperrors.IsPermission(err))

	got, err := f.events.AcceptEnrollment(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	decided := f.bus.ofType(types.EventEnrollmentDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, a.ID, decided[0].AccountID)
	assert.True(t, decided[0].Accepted)

	_, err = f.events.AcceptEnrollment(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	got, err = f.events.AcceptEnrollment(f.ctx, manager.ID, event.ID, eb.ID)
	require.NoError(t, err)
	assert.False(t, got.Accepted, "no capacity left")
	assert.Len(t, f.bus.ofType(types.EventEnrollmentDecided), 1, "no-op decisions emit nothing")

	got, err = f.events.RejectEnrollment(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.False(t, got.Accepted)
	decided = f.bus.ofType(types.EventEnrollmentDecided)
	require.Len(t, decided, 2)
	assert.False(t, decided[1].Accepted)

	_, err = f.events.AcceptEnrollment(f.ctx, manager.ID, event.ID, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCheckIn_BlocksLeave(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 1))
	require.NoError(t, err)
	a, b := f.account(t, "alice"), f.account(t, "bob")
	ea, err := f.events.Enroll(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	_, err = f.events.Enroll(f.ctx, b.ID, event.ID)
	require.NoError(t, err)

	got, err := f.events.CheckIn(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.True(t, got.Attended)

	updated, err := f.events.Leave(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, acceptedIDs(updated), "attended enrollment stays")

	got, err = f.events.CancelCheckIn(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.False(t, got.Attended)

	updated, err = f.events.Leave(f.ctx, a.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, acceptedIDs(updated))
}

func TestCheckIn_RefusesWaitingEnrollment(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventConfirmative, 1))
	require.NoError(t, err)
	alice := f.account(t, "alice")
	ea, err := f.events.Enroll(f.ctx, alice.ID, event.ID)
	require.NoError(t, err)
	require.False(t, ea.Accepted)

	_, err = f.events.CheckIn(f.ctx, manager.ID, event.ID, ea.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	got, err := f.events.AcceptEnrollment(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.True(t, got.Accepted, "the refused check-in left the enrollment acceptable")
	assert.False(t, got.Attended)

	got, err = f.events.CheckIn(f.ctx, manager.ID, event.ID, ea.ID)
	require.NoError(t, err)
	assert.True(t, got.Attended)
}

func TestUpdateEvent_PromotesIntoNewCapacity(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 1))
	require.NoError(t, err)

	var ids []string
	for _, name := range []string{"alice", "bob", "carol"} {
		a := f.account(t, name)
		_, err := f.events.Enroll(f.ctx, a.ID, event.ID)
		require.NoError(t, err)
		ids = append(ids, a.ID)
		f.clock.Advance(time.Second)
	}

	form := f.eventForm(types.EventFCFS, 3)
	form.Title = "Longer session"
	updated, err := f.events.UpdateEvent(f.ctx, manager.ID, event.ID, form)
	require.NoError(t, err)
	assert.Equal(t, ids, acceptedIDs(updated))
	assert.Equal(t, "'Longer session' event updated", lastStudyUpdate(t, f))

	stored, err := f.events.GetEvent(f.ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, acceptedIDs(stored))

	_, err = f.events.UpdateEvent(f.ctx, manager.ID, event.ID, f.eventForm(types.EventFCFS, 2))
	assert.True(t, apperrors.IsValidation(err), "limit below accepted count")
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t)
	manager := f.account(t, "manager")
	f.recruitingStudy(t, manager, "go")
	event, err := f.events.CreateEvent(f.ctx, manager.ID, "go", f.eventForm(types.EventFCFS, 2))
	require.NoError(t, err)
	alice := f.account(t, "alice")
	enrollment, err := f.events.Enroll(f.ctx, alice.ID, event.ID)
	require.NoError(t, err)

	require.NoError(t, f.events.DeleteEvent(f.ctx, manager.ID, event.ID))
	assert.Equal(t, "'Weekly session' event cancelled", lastStudyUpdate(t, f))

	_, err = f.events.GetEvent(f.ctx, event.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.store.Enrollments().FindByID(f.ctx, enrollment.ID)
	assert.True(t, apperrors.IsNotFound(err))
}
