package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-hub/internal/circuitbreaker"
	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/models"
)

type recordingSender struct {
	mu     sync.Mutex
	emails []Email
	err    error
}

func (r *recordingSender) Send(_ context.Context, email Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.emails = append(r.emails, email)
	return nil
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "mail.local", Port: 2525, From: "hub@example.com"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.Nil(t, a)
		return nil
	}

	err := s.Send(context.Background(), Email{To: "kim@example.com", Subject: "Hi", TextBody: "plain", HTMLBody: "<p>rich</p>"})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "hub@example.com", gotFrom)
	assert.Equal(t, []string{"kim@example.com"}, gotTo)
	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: Hi\r\n")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "<p>rich</p>")
}

func TestSMTPSender_WrapsError(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "mail.local", Port: 25, User: "u", Password: "p"})
	boom := errors.New("connection refused")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	err := s.Send(context.Background(), Email{To: "x@example.com"})
	assert.ErrorIs(t, err, boom)
}

func TestRateLimitedSender(t *testing.T) {
	rec := &recordingSender{}
	limited := NewRateLimitedSender(rec, 1000, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, limited.Send(context.Background(), Email{To: "a@example.com"}))
	}
	assert.Len(t, rec.emails, 3)
}

func TestRateLimitedSender_ContextCancelled(t *testing.T) {
	rec := &recordingSender{}
	limited := NewRateLimitedSender(rec, 0.001, 1)
	require.NoError(t, limited.Send(context.Background(), Email{To: "a@example.com"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limited.Send(ctx, Email{To: "a@example.com"}))
	assert.Len(t, rec.emails, 1)
}

func TestTemplateRenderer_SimpleLink(t *testing.T) {
	r := NewTemplateRenderer()
	text, html, err := r.Render(SimpleLink, LinkData{
		SiteName: "StudyHub",
		Nickname: "kim",
		Message:  "'<b>Intro</b>' event created",
		Host:     "https://hub.example.com",
		Link:     "/study/go",
		LinkName: "Go study",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "Hello kim")
	assert.Contains(t, text, "https://hub.example.com/study/go")
	assert.Contains(t, html, `href="https://hub.example.com/study/go"`)
	assert.NotContains(t, html, "<b>Intro</b>", "message must be escaped")

	_, _, err = r.Render("missing", LinkData{})
	assert.Error(t, err)
}

func TestAccountMailer_SendVerification(t *testing.T) {
	rec := &recordingSender{}
	m := NewAccountMailer(rec, NewTemplateRenderer(), "https://hub.example.com", "StudyHub")

	err := m.SendVerification(context.Background(), &models.Account{
		Email: "kim+go@example.com", Nickname: "kim", EmailToken: "tok-1",
	})
	require.NoError(t, err)
	require.Len(t, rec.emails, 1)

	email := rec.emails[0]
	assert.Equal(t, "kim+go@example.com", email.To)
	assert.True(t, strings.HasPrefix(email.Subject, "[StudyHub]"))
	assert.Contains(t, email.TextBody, "token=tok-1")
	assert.Contains(t, email.TextBody, "email=kim%2Bgo%40example.com")
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, LogSender{}.Send(context.Background(), Email{To: "a@example.com", TextBody: "hi"}))
}

func TestGuardedSender_FailsFastWhileOpen(t *testing.T) {
	rec := &recordingSender{err: errors.New("connection refused")}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                "smtp",
		ConsecutiveFailures: 2,
		Cooldown:            time.Minute,
		Now:                 func() time.Time { return now },
	})
	guarded := NewGuardedSender(rec, breaker)
	email := Email{To: "a@example.com"}

	assert.EqualError(t, guarded.Send(context.Background(), email), "connection refused")
	assert.EqualError(t, guarded.Send(context.Background(), email), "connection refused")
	assert.ErrorIs(t, guarded.Send(context.Background(), email), circuitbreaker.ErrOpen)

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	now = now.Add(2 * time.Minute)

	require.NoError(t, guarded.Send(context.Background(), email))
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Len(t, rec.emails, 1)
}
